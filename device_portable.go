package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	bugst "go.bug.st/serial"
)

// portableReadTimeout bounds each device read so that an idle port reports
// "no data" instead of blocking.
const portableReadTimeout = time.Millisecond

// PortableDevice opens serial ports through go.bug.st/serial and works on
// every platform that library supports.
type PortableDevice struct{}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}

// Open opens path and applies s.
func (PortableDevice) Open(path string, s Settings) (Port, error) {
	mode, err := portableMode(s)
	if err != nil {
		return nil, err
	}

	p, err := bugst.Open(path, mode)
	if err != nil {
		return nil, portableError(path, err)
	}

	if err := p.SetReadTimeout(portableReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: %s: set read timeout: %w", ErrOpenFailed, path, err)
	}

	return &portablePort{port: p}, nil
}

func portableMode(s Settings) (*bugst.Mode, error) {
	mode := &bugst.Mode{
		BaudRate: s.BaudRate,
		DataBits: int(s.DataBits),
		InitialStatusBits: &bugst.ModemOutputBits{
			RTS: s.RTS,
			DTR: s.DTR,
		},
	}

	switch s.Parity {
	case NoParity:
		mode.Parity = bugst.NoParity
	case OddParity:
		mode.Parity = bugst.OddParity
	case EvenParity:
		mode.Parity = bugst.EvenParity
	case MarkParity:
		mode.Parity = bugst.MarkParity
	case SpaceParity:
		mode.Parity = bugst.SpaceParity
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLineConfig, s.Parity)
	}

	switch s.StopBits {
	case OneStopBit:
		mode.StopBits = bugst.OneStopBit
	case OnePointFiveStopBits:
		mode.StopBits = bugst.OnePointFiveStopBits
	case TwoStopBits:
		mode.StopBits = bugst.TwoStopBits
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedLineConfig, s.StopBits)
	}
	return mode, nil
}

// portableError sorts library errors into line configuration rejections and
// other open failures.
func portableError(path string, err error) error {
	var perr *bugst.PortError
	if errors.As(err, &perr) {
		switch perr.Code() {
		case bugst.InvalidSpeed, bugst.InvalidDataBits, bugst.InvalidParity, bugst.InvalidStopBits:
			return fmt.Errorf("%w: %s: %w", ErrUnsupportedLineConfig, path, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
}

type portablePort struct {
	port   bugst.Port
	closed atomic.Bool
}

func (p *portablePort) InputStream() io.ReadCloser   { return &portableInput{p: p} }
func (p *portablePort) OutputStream() io.WriteCloser { return &portableOutput{p: p} }

func (p *portablePort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.port.Close()
}

type portableInput struct {
	p      *portablePort
	closed atomic.Bool
}

// Read returns (0, nil) when the read timeout expires with nothing received.
func (in *portableInput) Read(b []byte) (int, error) {
	if in.closed.Load() || in.p.closed.Load() {
		return 0, ErrStreamClosed
	}
	return in.p.port.Read(b)
}

func (in *portableInput) Close() error {
	in.closed.Store(true)
	return nil
}

type portableOutput struct {
	p      *portablePort
	closed atomic.Bool
}

func (out *portableOutput) Write(b []byte) (int, error) {
	if out.closed.Load() || out.p.closed.Load() {
		return 0, ErrStreamClosed
	}
	return out.p.port.Write(b)
}

// Flush waits for the port to transmit everything written so far.
func (out *portableOutput) Flush() error {
	if out.p.closed.Load() {
		return ErrStreamClosed
	}
	return out.p.port.Drain()
}

func (out *portableOutput) Close() error {
	out.closed.Store(true)
	return nil
}
