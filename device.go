package serial

import "io"

// Device opens serial endpoints. Implementations must resolve every field of
// s to a native setting or fail with an error wrapping
// ErrUnsupportedLineConfig, and must not leak a partially opened handle.
type Device interface {
	Open(path string, s Settings) (Port, error)
}

// Port is an opened device handle.
//
// The input's Read must return (0, nil) when no byte is currently available
// rather than blocking indefinitely; InputStream supplies the waiting. An
// input may also implement Available() (int, error), and an output
// Flush() error. Closing the input or output does not release the device;
// Port.Close does.
type Port interface {
	InputStream() io.ReadCloser
	OutputStream() io.WriteCloser
	Close() error
}
