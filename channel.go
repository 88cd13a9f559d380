package serial

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const readBufSize = 4096

// State is a Channel's connection state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateSettlingDelay
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSettlingDelay:
		return "settling"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// ChannelOption customizes a Channel.
type ChannelOption func(*Channel)

// WithConfig makes the channel use cfg instead of a fresh NewConfig.
func WithConfig(cfg *Config) ChannelOption {
	return func(c *Channel) {
		if cfg != nil {
			c.config = cfg
		}
	}
}

// WithLogger sets the channel's logger. Channels are silent by default.
func WithLogger(l zerolog.Logger) ChannelOption {
	return func(c *Channel) {
		c.log = l
	}
}

// Channel adapts a blocking serial device to the connect/read/write/close
// lifecycle of an event driven pipeline.
//
// Device I/O (open, polling reads, writes) runs on goroutines owned by the
// channel. State transitions that the pipeline observes and the settling
// delay timer run on the EventLoop, so a slow device never blocks it.
//
// A Channel is connected at most once successfully; after Close it is
// terminal.
type Channel struct {
	device   Device
	loop     EventLoop
	pipeline Pipeline
	config   *Config
	log      zerolog.Logger

	open atomic.Bool

	mu        sync.Mutex
	state     State
	remote    DeviceAddress
	hasRemote bool
	port      Port
	in        *InputStream
	out       *OutputStream
	writes    *writeQueue
	stopIO    chan struct{}
	active    bool
	inactive  bool

	ioWG        sync.WaitGroup
	closeFuture *Future
}

type connectAttempt struct {
	addr      DeviceAddress
	settings  Settings
	promise   *Future
	wasActive bool
}

type writeRequest struct {
	data    []byte
	promise *Future
}

// writeQueue hands writes to the writer goroutine. push never blocks, so
// pipeline handlers may write from the event loop however slow the device.
type writeQueue struct {
	mu     sync.Mutex
	reqs   []writeRequest
	closed bool
	wake   chan struct{}
}

func newWriteQueue() *writeQueue {
	return &writeQueue{wake: make(chan struct{}, 1)}
}

// push queues req and reports false once the queue is closed.
func (q *writeQueue) push(req writeRequest) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.reqs = append(q.reqs, req)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *writeQueue) take() []writeRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	reqs := q.reqs
	q.reqs = nil
	return reqs
}

// close refuses further writes and fails the ones still queued.
func (q *writeQueue) close() {
	q.mu.Lock()
	q.closed = true
	reqs := q.reqs
	q.reqs = nil
	q.mu.Unlock()

	for _, req := range reqs {
		req.promise.complete(ErrChannelClosed)
	}
}

// NewChannel returns an idle channel that opens devices through dev, runs
// its transitions on loop and reports to p.
func NewChannel(dev Device, loop EventLoop, p Pipeline, opts ...ChannelOption) *Channel {
	if p == nil {
		p = PipelineFuncs{}
	}
	c := &Channel{
		device:      dev,
		loop:        loop,
		pipeline:    p,
		config:      NewConfig(),
		log:         zerolog.Nop(),
		closeFuture: newFuture(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the channel's configuration.
func (c *Channel) Config() *Config { return c.config }

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether the device is open. It becomes true as soon as the
// device is opened, possibly before the pipeline has seen FireActive, and
// false as soon as Close is called.
func (c *Channel) IsOpen() bool { return c.open.Load() }

// IsActive reports whether the channel completed its connect and has not
// begun closing.
func (c *Channel) IsActive() bool { return c.State() == StateOpen }

// IsInputShutdown reports whether the input side has stopped, which for a
// serial channel is whenever the device is not open.
func (c *Channel) IsInputShutdown() bool { return !c.IsOpen() }

// LocalAddress always returns the LocalAddress sentinel.
func (c *Channel) LocalAddress() DeviceAddress { return LocalAddress }

// RemoteAddress returns the address of the last connect attempt that passed
// validation. ok is false before any.
func (c *Channel) RemoteAddress() (addr DeviceAddress, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote, c.hasRemote
}

// CloseFuture completes once the channel is fully closed: device released
// and FireInactive delivered.
func (c *Channel) CloseFuture() *Future { return c.closeFuture }

// Bind is not supported by serial channels.
func (c *Channel) Bind(DeviceAddress) error {
	return fmt.Errorf("%w: bind", ErrUnsupportedOperation)
}

// ShutdownInput is not supported; serial links cannot half close.
func (c *Channel) ShutdownInput() *Future {
	return failedFuture(fmt.Errorf("%w: shutdown input", ErrUnsupportedOperation))
}

// Connect opens the device at addr with a snapshot of the channel's
// configuration taken now. The returned future resolves once the device is
// open and the pipeline has been told the channel is active, or with the
// reason the attempt failed. With a settling delay configured the open
// happens on the event loop timer after that delay.
//
// A failed attempt leaves the channel idle so Connect may be called again.
func (c *Channel) Connect(addr DeviceAddress) *Future {
	c.mu.Lock()
	switch c.state {
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return failedFuture(ErrChannelClosed)
	case StateConnecting, StateSettlingDelay:
		c.mu.Unlock()
		return failedFuture(ErrAlreadyConnecting)
	case StateOpen:
		c.mu.Unlock()
		return failedFuture(ErrAlreadyConnected)
	}
	if addr.Path() == "" {
		c.mu.Unlock()
		return failedFuture(fmt.Errorf("%w: empty device path", ErrInvalidAddress))
	}

	a := &connectAttempt{
		addr:      addr,
		settings:  c.config.Snapshot(),
		promise:   newFuture(),
		wasActive: c.active,
	}
	c.remote, c.hasRemote = addr, true
	delay := a.settings.SettlingDelay
	if delay > 0 {
		c.state = StateSettlingDelay
	} else {
		c.state = StateConnecting
	}
	c.mu.Unlock()

	c.log.Debug().Str("device", addr.Path()).Stringer("line", a.settings).
		Dur("settlingDelay", delay).Msg("connecting")

	if delay > 0 {
		c.loop.Schedule(delay, func() { c.startOpen(a) })
	} else {
		c.startOpen(a)
	}
	return a.promise
}

// Disconnect is the same as Close.
func (c *Channel) Disconnect() *Future { return c.Close() }

// Close stops the channel. IsOpen reports false immediately; the device is
// released in the background and the returned future, the same one
// CloseFuture returns, completes afterwards with any errors met on the way.
// Every cleanup step is attempted even if an earlier one fails.
func (c *Channel) Close() *Future {
	c.mu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.mu.Unlock()
		return c.closeFuture
	}
	c.open.Store(false)
	prev := c.state
	c.state = StateClosing
	port, in, out := c.port, c.in, c.out
	c.port, c.in, c.out = nil, nil, nil
	writes := c.writes
	if c.stopIO != nil {
		close(c.stopIO)
	}
	fireInactive := c.active
	c.mu.Unlock()

	c.log.Debug().Stringer("from", prev).Msg("closing")
	go c.teardown(port, in, out, writes, fireInactive)
	return c.closeFuture
}

// Write queues p for the device. The future completes once p has been
// written and flushed.
func (c *Channel) Write(p []byte) *Future {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
	case StateClosing, StateClosed:
		c.mu.Unlock()
		return failedFuture(ErrChannelClosed)
	default:
		c.mu.Unlock()
		return failedFuture(ErrNotConnected)
	}
	writes := c.writes
	c.mu.Unlock()

	req := writeRequest{data: append([]byte(nil), p...), promise: newFuture()}
	if !writes.push(req) {
		req.promise.complete(ErrChannelClosed)
	}
	return req.promise
}

func (c *Channel) startOpen(a *connectAttempt) {
	c.mu.Lock()
	if c.state != StateConnecting && c.state != StateSettlingDelay {
		c.mu.Unlock()
		a.promise.complete(ErrChannelClosed)
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	go c.openDevice(a)
}

// openDevice runs on its own goroutine since Device.Open may block.
func (c *Channel) openDevice(a *connectAttempt) {
	path := a.addr.Path()
	if err := a.settings.Validate(); err != nil {
		c.loop.Execute(func() { c.failConnect(a, err) })
		return
	}

	port, err := c.device.Open(path, a.settings)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedLineConfig) && !errors.Is(err, ErrOpenFailed) {
			err = fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
		}
		c.loop.Execute(func() { c.failConnect(a, err) })
		return
	}

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		if err := port.Close(); err != nil {
			c.log.Warn().Err(err).Str("device", path).Msg("release device opened after close")
		}
		c.loop.Execute(func() { a.promise.complete(ErrChannelClosed) })
		return
	}
	c.port = port
	c.in = NewInputStream(port.InputStream())
	c.out = NewOutputStream(port.OutputStream())
	c.open.Store(true)
	c.mu.Unlock()

	c.loop.Execute(func() { c.activate(a) })
}

func (c *Channel) failConnect(a *connectAttempt, err error) {
	c.mu.Lock()
	if c.state == StateConnecting {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.log.Warn().Err(err).Str("device", a.addr.Path()).Msg("connect failed")
	a.promise.complete(err)
}

func (c *Channel) activate(a *connectAttempt) {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		a.promise.complete(ErrChannelClosed)
		return
	}
	c.state = StateOpen
	fire := !a.wasActive && !c.active
	c.active = true
	in, out := c.in, c.out
	c.writes = newWriteQueue()
	c.stopIO = make(chan struct{})
	writes, stop := c.writes, c.stopIO
	c.ioWG.Add(2)
	c.mu.Unlock()

	c.log.Info().Str("device", a.addr.Path()).Stringer("line", a.settings).Msg("channel active")
	if fire {
		c.pipeline.FireActive()
	}
	a.promise.complete(nil)

	go c.readLoop(in)
	go c.writeLoop(out, writes, stop)
}

func (c *Channel) readLoop(in *InputStream) {
	defer c.ioWG.Done()

	buf := make([]byte, readBufSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			c.loop.Execute(func() { c.deliver(data) })
		}
		if err != nil {
			if !c.IsOpen() {
				return
			}
			c.log.Error().Err(err).Msg("device read failed, closing channel")
			c.Close()
			return
		}
	}
}

func (c *Channel) deliver(b []byte) {
	c.mu.Lock()
	ok := c.active && !c.inactive
	c.mu.Unlock()
	if ok {
		c.pipeline.FireRead(b)
	}
}

func (c *Channel) writeLoop(out *OutputStream, writes *writeQueue, stop <-chan struct{}) {
	defer c.ioWG.Done()
	for {
		select {
		case <-stop:
			writes.close()
			return
		case <-writes.wake:
		}
		for _, req := range writes.take() {
			select {
			case <-stop:
				req.promise.complete(ErrChannelClosed)
				continue
			default:
			}
			_, err := out.Write(req.data)
			if err == nil {
				err = out.Flush()
			}
			req.promise.complete(err)
		}
	}
}

func (c *Channel) teardown(port Port, in *InputStream, out *OutputStream, writes *writeQueue, fireInactive bool) {
	var errs []error
	if in != nil {
		if err := in.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close input: %w", err))
		}
	}
	if out != nil {
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	c.ioWG.Wait()
	if writes != nil {
		writes.close()
	}
	if port != nil {
		if err := port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release device: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		c.log.Warn().Err(err).Msg("close")
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()

	c.loop.Execute(func() {
		if fireInactive {
			c.mu.Lock()
			c.inactive = true
			c.mu.Unlock()
			c.pipeline.FireInactive()
		}
		c.log.Debug().Msg("channel closed")
		c.closeFuture.complete(err)
	})
}
