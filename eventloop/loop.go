// Package eventloop provides a single goroutine task executor with one-shot
// timers. It satisfies serial.EventLoop and can be shared by many channels.
package eventloop

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Loop runs queued tasks one at a time in submission order. Tasks may be
// queued before Run is called; they run once it starts.
type Loop struct {
	log zerolog.Logger

	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	timers  map[*time.Timer]struct{}
	stopped bool

	stop     chan struct{}
	stopOnce sync.Once
}

// New returns a loop that logs recovered task panics to log.
func New(log zerolog.Logger) *Loop {
	return &Loop{
		log:    log,
		wake:   make(chan struct{}, 1),
		timers: make(map[*time.Timer]struct{}),
		stop:   make(chan struct{}),
	}
}

// Execute queues task. It never blocks; tasks queued after Stop are dropped.
// A channel whose teardown lands after Stop never completes its close
// future, so close channels before stopping the loop that serves them.
func (l *Loop) Execute(task func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Schedule queues task after delay. The timer cannot be canceled except by
// stopping the loop.
func (l *Loop) Schedule(delay time.Duration, task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		l.mu.Lock()
		delete(l.timers, t)
		l.mu.Unlock()
		l.Execute(task)
	})
	l.timers[t] = struct{}{}
}

// Run executes tasks until ctx is done or Stop is called. After Stop it
// still runs the tasks queued before Stop, then returns.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range batch {
			l.run(task)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-l.wake:
		case <-l.stop:
			if l.pending() {
				continue
			}
			return nil
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		}
	}
}

func (l *Loop) pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) > 0
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("event loop task panicked")
		}
	}()
	task()
}

// Stop ends Run once the tasks already queued have run, and cancels
// pending timers.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopped = true
		for t := range l.timers {
			t.Stop()
		}
		l.timers = nil
		l.mu.Unlock()
		close(l.stop)
	})
}
