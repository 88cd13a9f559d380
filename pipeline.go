package serial

import "time"

// EventLoop runs channel state transitions and pipeline notifications.
// Tasks must run one at a time, in submission order, and never on the
// caller's goroutine when that goroutine is doing device I/O.
//
// The loop must outlive its channels. A channel whose activation, settling
// timer or teardown is dropped by a stopped loop never completes the
// matching future and stays in its current State.
type EventLoop interface {
	// Execute queues task to run on the loop.
	Execute(task func())
	// Schedule queues task to run once delay has elapsed.
	Schedule(delay time.Duration, task func())
}

// Pipeline receives a channel's lifecycle and inbound data. A channel
// delivers at most one FireActive, then any number of FireRead calls, then
// at most one FireInactive, all on its EventLoop.
type Pipeline interface {
	FireActive()
	FireRead(b []byte)
	FireInactive()
}

// PipelineFuncs adapts plain functions to Pipeline. Nil fields are skipped.
type PipelineFuncs struct {
	OnActive   func()
	OnRead     func(b []byte)
	OnInactive func()
}

func (p PipelineFuncs) FireActive() {
	if p.OnActive != nil {
		p.OnActive()
	}
}

func (p PipelineFuncs) FireRead(b []byte) {
	if p.OnRead != nil {
		p.OnRead(b)
	}
}

func (p PipelineFuncs) FireInactive() {
	if p.OnInactive != nil {
		p.OnInactive()
	}
}
