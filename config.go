package serial

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Defaults applied by NewConfig.
const (
	DefaultBaudRate    = 115200
	DefaultDataBits    = DataBits8
	DefaultParity      = NoParity
	DefaultStopBits    = OneStopBit
	DefaultReadTimeout = 1000 * time.Millisecond
)

// DataBits is the number of data bits per character frame.
type DataBits int

const (
	DataBits5 DataBits = 5
	DataBits6 DataBits = 6
	DataBits7 DataBits = 7
	DataBits8 DataBits = 8
)

func (d DataBits) valid() bool { return d >= DataBits5 && d <= DataBits8 }

func (d DataBits) String() string { return strconv.Itoa(int(d)) }

// ParseDataBits parses "5" through "8".
func ParseDataBits(s string) (DataBits, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !DataBits(n).valid() {
		return 0, fmt.Errorf("%w: data bits %q", ErrInvalidConfig, s)
	}
	return DataBits(n), nil
}

// Parity is the parity bit mode.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
	MarkParity
	SpaceParity
)

var parityNames = []string{"none", "odd", "even", "mark", "space"}

func (p Parity) valid() bool { return p >= NoParity && p <= SpaceParity }

func (p Parity) String() string {
	if !p.valid() {
		return fmt.Sprintf("Parity(%d)", int(p))
	}
	return parityNames[p]
}

// ParseParity parses one of none, odd, even, mark or space (case insensitive).
func ParseParity(s string) (Parity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range parityNames {
		if s == name {
			return Parity(i), nil
		}
	}
	return 0, fmt.Errorf("%w: parity %q", ErrInvalidConfig, s)
}

// StopBits is the number of stop bits.
type StopBits int

const (
	OneStopBit StopBits = iota
	OnePointFiveStopBits
	TwoStopBits
)

func (s StopBits) valid() bool { return s >= OneStopBit && s <= TwoStopBits }

func (s StopBits) String() string {
	switch s {
	case OneStopBit:
		return "1"
	case OnePointFiveStopBits:
		return "1.5"
	case TwoStopBits:
		return "2"
	}
	return fmt.Sprintf("StopBits(%d)", int(s))
}

// ParseStopBits parses "1", "1.5" or "2".
func ParseStopBits(s string) (StopBits, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return OneStopBit, nil
	case "1.5":
		return OnePointFiveStopBits, nil
	case "2":
		return TwoStopBits, nil
	}
	return 0, fmt.Errorf("%w: stop bits %q", ErrInvalidConfig, s)
}

// Settings is an immutable snapshot of a Config. A channel takes one when
// Connect is called and opens the device with it.
type Settings struct {
	BaudRate      int
	DataBits      DataBits
	Parity        Parity
	StopBits      StopBits
	RTS           bool
	DTR           bool
	SettlingDelay time.Duration
	// ReadTimeout is advisory. The channel's poll loop never enforces it;
	// a request/response layer above the channel should apply its own deadline.
	ReadTimeout time.Duration
}

// Validate checks that every line parameter can be resolved to a native
// device setting.
func (s Settings) Validate() error {
	switch {
	case s.BaudRate <= 0:
		return fmt.Errorf("%w: baud rate %d", ErrUnsupportedLineConfig, s.BaudRate)
	case !s.DataBits.valid():
		return fmt.Errorf("%w: data bits %d", ErrUnsupportedLineConfig, s.DataBits)
	case !s.Parity.valid():
		return fmt.Errorf("%w: %v", ErrUnsupportedLineConfig, s.Parity)
	case !s.StopBits.valid():
		return fmt.Errorf("%w: %v", ErrUnsupportedLineConfig, s.StopBits)
	}
	return nil
}

func (s Settings) String() string {
	return fmt.Sprintf("%d %v%c%v", s.BaudRate, s.DataBits, strings.ToUpper(s.Parity.String())[0], s.StopBits)
}

// Config holds the line parameters and channel options of a serial channel.
// Setters store values immediately and are visible to every goroutine, but
// concurrent writers must serialize among themselves. Changes made after
// Connect only affect later connect attempts.
type Config struct {
	mu            sync.RWMutex
	baudRate      int
	dataBits      DataBits
	parity        Parity
	stopBits      StopBits
	rts           bool
	dtr           bool
	settlingDelay time.Duration
	readTimeout   time.Duration
}

// NewConfig returns a Config with 115200 8N1, RTS and DTR off, no settling
// delay and a one second read timeout.
func NewConfig() *Config {
	return &Config{
		baudRate:    DefaultBaudRate,
		dataBits:    DefaultDataBits,
		parity:      DefaultParity,
		stopBits:    DefaultStopBits,
		readTimeout: DefaultReadTimeout,
	}
}

// SetBaudRate sets the line speed in bits per second.
func (c *Config) SetBaudRate(baud int) *Config {
	c.mu.Lock()
	c.baudRate = baud
	c.mu.Unlock()
	return c
}

// SetDataBits sets the number of data bits per frame.
func (c *Config) SetDataBits(d DataBits) *Config {
	c.mu.Lock()
	c.dataBits = d
	c.mu.Unlock()
	return c
}

// SetParity sets the parity mode.
func (c *Config) SetParity(p Parity) *Config {
	c.mu.Lock()
	c.parity = p
	c.mu.Unlock()
	return c
}

// SetStopBits sets the number of stop bits.
func (c *Config) SetStopBits(s StopBits) *Config {
	c.mu.Lock()
	c.stopBits = s
	c.mu.Unlock()
	return c
}

// SetRTS sets the RTS line state applied when the device is opened.
func (c *Config) SetRTS(rts bool) *Config {
	c.mu.Lock()
	c.rts = rts
	c.mu.Unlock()
	return c
}

// SetDTR sets the DTR line state applied when the device is opened.
func (c *Config) SetDTR(dtr bool) *Config {
	c.mu.Lock()
	c.dtr = dtr
	c.mu.Unlock()
	return c
}

// SetSettlingDelay sets the pause between Connect and the device open that
// activates the channel. Negative values are rejected and the previous
// value is kept.
func (c *Config) SetSettlingDelay(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: settling delay must be >= 0, got %v", ErrInvalidConfig, d)
	}
	c.mu.Lock()
	c.settlingDelay = d
	c.mu.Unlock()
	return nil
}

// SetReadTimeout sets the advisory read timeout. Negative values are
// rejected and the previous value is kept.
func (c *Config) SetReadTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: read timeout must be >= 0, got %v", ErrInvalidConfig, d)
	}
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
	return nil
}

func (c *Config) BaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baudRate
}

func (c *Config) DataBits() DataBits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataBits
}

func (c *Config) Parity() Parity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.parity
}

func (c *Config) StopBits() StopBits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopBits
}

func (c *Config) RTS() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rts
}

func (c *Config) DTR() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dtr
}

func (c *Config) SettlingDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settlingDelay
}

func (c *Config) ReadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readTimeout
}

// Snapshot returns the current values as one consistent Settings.
func (c *Config) Snapshot() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Settings{
		BaudRate:      c.baudRate,
		DataBits:      c.dataBits,
		Parity:        c.parity,
		StopBits:      c.stopBits,
		RTS:           c.rts,
		DTR:           c.dtr,
		SettlingDelay: c.settlingDelay,
		ReadTimeout:   c.readTimeout,
	}
}
