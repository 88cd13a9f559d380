package serial

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// BackoffInterval is how long InputStream sleeps after the device reports
// that no data is available before it polls again.
const BackoffInterval = 10 * time.Millisecond

// InputStream turns a device input that returns (0, nil) when it has no data
// into a reader that waits for data instead of reporting end of stream.
// Serial devices do not signal EOF the way sockets do, so "no data" only
// means "not yet".
//
// A read in progress ends with io.EOF, not an error, when the stream is
// closed or its context is canceled. Reads started after Close fail with
// ErrStreamClosed.
type InputStream struct {
	src       io.ReadCloser
	stop      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewInputStream wraps src.
func NewInputStream(src io.ReadCloser) *InputStream {
	return &InputStream{
		src:  src,
		stop: make(chan struct{}),
	}
}

// ReadByte blocks until a byte arrives or the stream is closed.
func (s *InputStream) ReadByte() (byte, error) {
	return s.ReadByteContext(context.Background())
}

// ReadByteContext blocks until a byte arrives, the stream is closed or ctx
// is done. Both stop conditions return io.EOF.
func (s *InputStream) ReadByteContext(ctx context.Context) (byte, error) {
	if s.closed.Load() {
		return 0, ErrStreamClosed
	}

	var b [1]byte
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-s.stop:
			return 0, io.EOF
		case <-ctx.Done():
			return 0, io.EOF
		default:
		}

		n, err := s.src.Read(b[:])
		if n > 0 {
			return b[0], nil
		}
		if err != nil {
			if s.closed.Load() {
				return 0, io.EOF
			}
			return 0, err
		}

		if timer == nil {
			timer = time.NewTimer(BackoffInterval)
		} else {
			timer.Reset(BackoffInterval)
		}
		select {
		case <-s.stop:
			return 0, io.EOF
		case <-ctx.Done():
			return 0, io.EOF
		case <-timer.C:
		}
	}
}

// Read implements io.Reader.
func (s *InputStream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext waits for the first byte like ReadByteContext, then fills p
// with whatever else is already available without waiting again.
func (s *InputStream) ReadContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := s.ReadByteContext(ctx)
	if err != nil {
		return 0, err
	}
	p[0] = b
	n := 1

	more := s.Available()
	if more > len(p)-1 {
		more = len(p) - 1
	}
	for more > 0 {
		c, err := s.src.Read(p[n : n+more])
		if c <= 0 || err != nil {
			break
		}
		n += c
		more -= c
	}
	return n, nil
}

// Available returns how many bytes can be read without waiting. Sources
// that cannot tell report 0.
func (s *InputStream) Available() int {
	if s.closed.Load() {
		return 0
	}
	a, ok := s.src.(interface{ Available() (int, error) })
	if !ok {
		return 0
	}
	n, err := a.Available()
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Close wakes any pending read and releases the source. Only the first call
// closes the source; later calls return the same result.
func (s *InputStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.closeErr = s.src.Close()
	})
	return s.closeErr
}

// OutputStream forwards writes to the device output and refuses them once
// closed.
type OutputStream struct {
	dst       io.WriteCloser
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewOutputStream wraps dst.
func NewOutputStream(dst io.WriteCloser) *OutputStream {
	return &OutputStream{dst: dst}
}

func (s *OutputStream) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrStreamClosed
	}
	return s.dst.Write(p)
}

func (s *OutputStream) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// Flush waits for buffered output to be transmitted when the device output
// supports it.
func (s *OutputStream) Flush() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if f, ok := s.dst.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Close releases the device output once.
func (s *OutputStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.dst.Close()
	})
	return s.closeErr
}
