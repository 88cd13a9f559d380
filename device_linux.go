//go:build linux

package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// NativeDevice opens Linux tty devices directly with termios, in raw mode
// and without any buffering between the kernel and the channel.
type NativeDevice struct{}

var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

var dataBitsFlags = map[DataBits]uint32{
	DataBits5: unix.CS5,
	DataBits6: unix.CS6,
	DataBits7: unix.CS7,
	DataBits8: unix.CS8,
}

// Open opens path and applies s. The descriptor is non-blocking; reads
// report (0, nil) when the kernel has nothing buffered.
func (NativeDevice) Open(path string, s Settings) (Port, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	if err := configure(fd, s); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &nativePort{fd: fd, path: path}, nil
}

func configure(fd int, s Settings) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("%w: get termios: %w", ErrOpenFailed, err)
	}

	if err := setLine(termios, s); err != nil {
		return err
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CRTSCTS
	termios.Cflag |= unix.CREAD | unix.CLOCAL

	// Reads return whatever is buffered, possibly nothing.
	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("%w: set termios: %w", ErrOpenFailed, err)
	}

	if err := setModemLine(fd, unix.TIOCM_RTS, s.RTS); err != nil {
		return fmt.Errorf("%w: set RTS: %w", ErrOpenFailed, err)
	}
	if err := setModemLine(fd, unix.TIOCM_DTR, s.DTR); err != nil {
		return fmt.Errorf("%w: set DTR: %w", ErrOpenFailed, err)
	}
	return nil
}

func setLine(termios *unix.Termios, s Settings) error {
	baud, ok := baudRates[s.BaudRate]
	if !ok {
		return fmt.Errorf("%w: baud rate %d", ErrUnsupportedLineConfig, s.BaudRate)
	}
	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	size, ok := dataBitsFlags[s.DataBits]
	if !ok {
		return fmt.Errorf("%w: data bits %d", ErrUnsupportedLineConfig, s.DataBits)
	}
	termios.Cflag &^= unix.CSIZE
	termios.Cflag |= size

	termios.Cflag &^= unix.PARENB | unix.PARODD | unix.CMSPAR
	termios.Iflag &^= unix.INPCK
	switch s.Parity {
	case NoParity:
	case OddParity:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case EvenParity:
		termios.Cflag |= unix.PARENB
	case MarkParity:
		termios.Cflag |= unix.PARENB | unix.PARODD | unix.CMSPAR
	case SpaceParity:
		termios.Cflag |= unix.PARENB | unix.CMSPAR
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedLineConfig, s.Parity)
	}
	if s.Parity != NoParity {
		termios.Iflag |= unix.INPCK
	}

	switch s.StopBits {
	case OneStopBit:
		termios.Cflag &^= unix.CSTOPB
	case TwoStopBits:
		termios.Cflag |= unix.CSTOPB
	default:
		// termios has no 1.5 stop bit setting
		return fmt.Errorf("%w: %v stop bits", ErrUnsupportedLineConfig, s.StopBits)
	}
	return nil
}

// setModemLine raises or lowers one modem control line. Devices without
// modem lines, such as pseudo terminals, reject the ioctl; that is not an
// error for them.
func setModemLine(fd int, line int, on bool) error {
	req := uint(unix.TIOCMBIC)
	if on {
		req = unix.TIOCMBIS
	}
	err := unix.IoctlSetPointerInt(fd, req, line)
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		return nil
	}
	return err
}

type nativePort struct {
	fd     int
	path   string
	closed atomic.Bool
}

func (p *nativePort) InputStream() io.ReadCloser   { return &nativeInput{port: p} }
func (p *nativePort) OutputStream() io.WriteCloser { return &nativeOutput{port: p} }

func (p *nativePort) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Close(p.fd); err != nil {
		return fmt.Errorf("close %s: %w", p.path, err)
	}
	return nil
}

type nativeInput struct {
	port   *nativePort
	closed atomic.Bool
}

func (in *nativeInput) Read(b []byte) (int, error) {
	if in.closed.Load() || in.port.closed.Load() {
		return 0, ErrStreamClosed
	}
	n, err := unix.Read(in.port.fd, b)
	switch {
	case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read %s: %w", in.port.path, err)
	case n <= 0:
		// An idle line and a hung up one both read as zero bytes.
		if hungUp(in.port.fd) {
			return 0, fmt.Errorf("read %s: hangup: %w", in.port.path, io.ErrUnexpectedEOF)
		}
		return 0, nil
	}
	return n, nil
}

// hungUp polls fd without waiting and reports whether the other end is gone.
func hungUp(fd int) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(fds, 0); err != nil {
		return false
	}
	return fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
}

// Available reports the bytes waiting in the kernel input queue.
func (in *nativeInput) Available() (int, error) {
	return unix.IoctlGetInt(in.port.fd, unix.TIOCINQ)
}

func (in *nativeInput) Close() error {
	in.closed.Store(true)
	return nil
}

type nativeOutput struct {
	port   *nativePort
	closed atomic.Bool
}

func (out *nativeOutput) Write(b []byte) (int, error) {
	written := 0
	for written < len(b) {
		if out.closed.Load() || out.port.closed.Load() {
			return written, ErrStreamClosed
		}
		n, err := unix.Write(out.port.fd, b[written:])
		if n > 0 {
			written += n
		}
		switch {
		case errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR):
			time.Sleep(BackoffInterval)
		case err != nil:
			return written, fmt.Errorf("write %s: %w", out.port.path, err)
		}
	}
	return written, nil
}

// Flush waits until all output has been transmitted (tcdrain).
func (out *nativeOutput) Flush() error {
	if out.port.closed.Load() {
		return ErrStreamClosed
	}
	err := unix.IoctlSetInt(out.port.fd, unix.TCSBRK, 1)
	if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
		return nil
	}
	return err
}

func (out *nativeOutput) Close() error {
	out.closed.Store(true)
	return nil
}
