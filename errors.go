package serial

import "errors"

// Error kinds reported by the channel, its configuration and its streams.
// Callers match them with errors.Is; most are returned wrapped with context.
var (
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrUnknownOption         = errors.New("unknown option")
	ErrInvalidAddress        = errors.New("invalid device address")
	ErrAlreadyConnecting     = errors.New("connect already in progress")
	ErrAlreadyConnected      = errors.New("channel already connected")
	ErrNotConnected          = errors.New("channel not connected")
	ErrChannelClosed         = errors.New("channel closed")
	ErrUnsupportedLineConfig = errors.New("unsupported line configuration")
	ErrOpenFailed            = errors.New("device open failed")
	ErrStreamClosed          = errors.New("stream closed")
	ErrUnsupportedOperation  = errors.New("unsupported operation")
)
