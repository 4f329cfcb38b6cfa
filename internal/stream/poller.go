package stream

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Poller drains one channel on a dedicated goroutine, calling handle for each
// item in arrival order. Two items from the same channel are never handled
// concurrently.
type Poller[T any] struct {
	name   string
	in     <-chan T
	handle func(T)
	logger *slog.Logger

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewPoller creates a poller. Call Start to begin draining.
func NewPoller[T any](name string, in <-chan T, handle func(T), logger *slog.Logger) *Poller[T] {
	return &Poller[T]{
		name:   name,
		in:     in,
		handle: handle,
		logger: logger.With(slog.String("component", "poller"), slog.String("poller", name)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (p *Poller[T]) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go p.run()
}

// Stop signals the worker and waits up to timeout for the current handler to
// return. It reports whether the worker exited in time.
func (p *Poller[T]) Stop(timeout time.Duration) bool {
	p.stopOnce.Do(func() { close(p.stop) })
	if !p.started.Load() {
		return true
	}
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		p.logger.Warn("poller: handler still running after stop", slog.Duration("timeout", timeout))
		return false
	}
}

func (p *Poller[T]) run() {
	defer close(p.done)

	for {
		// Stop wins over a backlog.
		select {
		case <-p.stop:
			return
		default:
		}

		select {
		case <-p.stop:
			return
		case item, ok := <-p.in:
			if !ok {
				return
			}
			p.dispatch(item)
		}
	}
}

func (p *Poller[T]) dispatch(item T) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("poller: handler panicked",
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	p.handle(item)
}
