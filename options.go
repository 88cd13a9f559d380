package serial

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Option names understood by Config.SetOption and Config.Option.
const (
	OptionBaudRate      = "baudRate"
	OptionDataBits      = "dataBits"
	OptionParityBit     = "parityBit"
	OptionStopBits      = "stopBits"
	OptionRTS           = "rts"
	OptionDTR           = "dtr"
	OptionSettlingDelay = "settlingDelayMillis"
	OptionReadTimeout   = "readTimeoutMillis"
)

var optionNames = []string{
	OptionBaudRate,
	OptionDataBits,
	OptionParityBit,
	OptionStopBits,
	OptionRTS,
	OptionDTR,
	OptionSettlingDelay,
	OptionReadTimeout,
}

// SetOption sets a configuration value by name. It accepts the typed values
// of the setters as well as the loosely typed values a decoded YAML or JSON
// document produces: integers of any width, integral floats, and strings
// such as "even", "1.5" or "250ms". Timing options given as plain numbers
// are milliseconds.
func (c *Config) SetOption(name string, value any) error {
	switch name {
	case OptionBaudRate:
		n, err := optionInt(name, value)
		if err != nil {
			return err
		}
		c.SetBaudRate(n)
	case OptionDataBits:
		switch v := value.(type) {
		case DataBits:
			c.SetDataBits(v)
		case string:
			d, err := ParseDataBits(v)
			if err != nil {
				return err
			}
			c.SetDataBits(d)
		default:
			n, err := optionInt(name, value)
			if err != nil {
				return err
			}
			if !DataBits(n).valid() {
				return invalidOption(name, value)
			}
			c.SetDataBits(DataBits(n))
		}
	case OptionParityBit:
		switch v := value.(type) {
		case Parity:
			c.SetParity(v)
		case string:
			p, err := ParseParity(v)
			if err != nil {
				return err
			}
			c.SetParity(p)
		default:
			return invalidOption(name, value)
		}
	case OptionStopBits:
		switch v := value.(type) {
		case StopBits:
			c.SetStopBits(v)
		case string:
			s, err := ParseStopBits(v)
			if err != nil {
				return err
			}
			c.SetStopBits(s)
		case float32, float64:
			s, err := ParseStopBits(strconv.FormatFloat(toFloat(v), 'f', -1, 64))
			if err != nil {
				return err
			}
			c.SetStopBits(s)
		default:
			n, err := optionInt(name, value)
			if err != nil {
				return err
			}
			s, err := ParseStopBits(strconv.Itoa(n))
			if err != nil {
				return err
			}
			c.SetStopBits(s)
		}
	case OptionRTS, OptionDTR:
		b, err := optionBool(name, value)
		if err != nil {
			return err
		}
		if name == OptionRTS {
			c.SetRTS(b)
		} else {
			c.SetDTR(b)
		}
	case OptionSettlingDelay:
		d, err := optionDuration(name, value)
		if err != nil {
			return err
		}
		return c.SetSettlingDelay(d)
	case OptionReadTimeout:
		d, err := optionDuration(name, value)
		if err != nil {
			return err
		}
		return c.SetReadTimeout(d)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	return nil
}

// Option returns the value of a named option. Timing options are reported
// in milliseconds.
func (c *Config) Option(name string) (any, error) {
	switch name {
	case OptionBaudRate:
		return c.BaudRate(), nil
	case OptionDataBits:
		return c.DataBits(), nil
	case OptionParityBit:
		return c.Parity(), nil
	case OptionStopBits:
		return c.StopBits(), nil
	case OptionRTS:
		return c.RTS(), nil
	case OptionDTR:
		return c.DTR(), nil
	case OptionSettlingDelay:
		return int(c.SettlingDelay().Milliseconds()), nil
	case OptionReadTimeout:
		return int(c.ReadTimeout().Milliseconds()), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOption, name)
}

// Options returns every named option and its current value.
func (c *Config) Options() map[string]any {
	ret := make(map[string]any, len(optionNames))
	for _, name := range optionNames {
		v, _ := c.Option(name)
		ret[name] = v
	}
	return ret
}

func invalidOption(name string, value any) error {
	return fmt.Errorf("%w: option %s: unsupported value %v (%T)", ErrInvalidConfig, name, value, value)
}

func toFloat(v any) float64 {
	switch f := v.(type) {
	case float32:
		return float64(f)
	case float64:
		return f
	}
	return math.NaN()
}

func optionInt(name string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint:
		return int(v), nil
	case uint8:
		return int(v), nil
	case uint16:
		return int(v), nil
	case uint32:
		return int(v), nil
	case uint64:
		if v > math.MaxInt32 {
			return 0, invalidOption(name, value)
		}
		return int(v), nil
	case float32, float64:
		f := toFloat(v)
		if f != math.Trunc(f) {
			return 0, invalidOption(name, value)
		}
		return int(f), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, invalidOption(name, value)
		}
		return n, nil
	}
	return 0, invalidOption(name, value)
}

func optionBool(name string, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, invalidOption(name, value)
		}
		return b, nil
	}
	return false, invalidOption(name, value)
}

func optionDuration(name string, value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, invalidOption(name, value)
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	n, err := optionInt(name, value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}
