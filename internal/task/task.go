// Package task runs work after the response has been written.
package task

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Scheduler accepts deferred work. Implementations must not run fn on the
// caller's goroutine.
type Scheduler interface {
	Go(name string, fn func(ctx context.Context)) error
}

var ErrClosed = errors.New("task: runner is closed")

// Runner starts one goroutine per task and tracks them until Drain.
type Runner struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(log logrus.FieldLogger) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{log: log, ctx: ctx, cancel: cancel}
}

// Go schedules fn. The context passed to fn is detached from any request and
// is cancelled only when Drain's deadline expires; fn must return once it is.
func (r *Runner) Go(name string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if v := recover(); v != nil {
				r.log.WithField("task", name).Errorf("task panicked: %v", v)
			}
		}()
		fn(r.ctx)
	}()
	return nil
}

// Drain stops accepting tasks and waits for running ones. When ctx ends
// first, running tasks are cancelled and ctx.Err() is returned.
func (r *Runner) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}
