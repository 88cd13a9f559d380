package serial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_SetOption(t *testing.T) {
	cfg := NewConfig()

	// values as a YAML or JSON decoder hands them over
	require.NoError(t, cfg.SetOption(OptionBaudRate, uint64(19200)))
	require.NoError(t, cfg.SetOption(OptionDataBits, 7))
	require.NoError(t, cfg.SetOption(OptionParityBit, "mark"))
	require.NoError(t, cfg.SetOption(OptionStopBits, 1.5))
	require.NoError(t, cfg.SetOption(OptionRTS, true))
	require.NoError(t, cfg.SetOption(OptionDTR, "true"))
	require.NoError(t, cfg.SetOption(OptionSettlingDelay, float64(250)))
	require.NoError(t, cfg.SetOption(OptionReadTimeout, "2s"))

	require.Equal(t, Settings{
		BaudRate:      19200,
		DataBits:      DataBits7,
		Parity:        MarkParity,
		StopBits:      OnePointFiveStopBits,
		RTS:           true,
		DTR:           true,
		SettlingDelay: 250 * time.Millisecond,
		ReadTimeout:   2 * time.Second,
	}, cfg.Snapshot())

	require.NoError(t, cfg.SetOption(OptionParityBit, SpaceParity))
	require.NoError(t, cfg.SetOption(OptionStopBits, "2"))
	require.NoError(t, cfg.SetOption(OptionReadTimeout, 30*time.Second))
	require.Equal(t, SpaceParity, cfg.Parity())
	require.Equal(t, TwoStopBits, cfg.StopBits())
	require.Equal(t, 30*time.Second, cfg.ReadTimeout())
}

func TestConfig_SetOptionErrors(t *testing.T) {
	cfg := NewConfig()

	require.ErrorIs(t, cfg.SetOption("flowControl", true), ErrUnknownOption)
	require.ErrorIs(t, cfg.SetOption(OptionBaudRate, "fast"), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionBaudRate, 9600.5), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionDataBits, 9), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionDataBits, "9"), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionDataBits, float64(4)), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionParityBit, 2), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionStopBits, 3), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionRTS, "maybe"), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionSettlingDelay, -5), ErrInvalidConfig)
	require.ErrorIs(t, cfg.SetOption(OptionReadTimeout, "-1s"), ErrInvalidConfig)

	require.Equal(t, NewConfig().Snapshot(), cfg.Snapshot())
}

func TestConfig_Options(t *testing.T) {
	cfg := NewConfig().SetBaudRate(4800)
	require.NoError(t, cfg.SetSettlingDelay(1500*time.Millisecond))

	opts := cfg.Options()
	require.Len(t, opts, 8)
	require.Equal(t, 4800, opts[OptionBaudRate])
	require.Equal(t, 1500, opts[OptionSettlingDelay])
	require.Equal(t, 1000, opts[OptionReadTimeout])
	require.Equal(t, NoParity, opts[OptionParityBit])

	_, err := cfg.Option("nope")
	require.ErrorIs(t, err, ErrUnknownOption)
}
