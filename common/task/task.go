// Package task runs background jobs on a fixed schedule.
package task

import (
	"context"
	"sync"
	"time"
)

// StopFn stops a repeating task and waits until it has returned.
type StopFn func()

// ticker is an interface which allows us to test RunTaskRepeateadly without
// needing to rely on actual timing which is not perfectly accurate and thus
// makes tests flakey.
type ticker interface {
	stop()
	tickChan() <-chan time.Time
}

func NewDefaultTicker(period time.Duration) *DefaultTicker {
	return &DefaultTicker{time.NewTicker(period)}
}

// DefaultTicker is an implementation of ticker which simply delegates to
// time.Ticker.
type DefaultTicker struct {
	t *time.Ticker
}

func (d *DefaultTicker) tickChan() <-chan time.Time {
	return d.t.C
}
func (d *DefaultTicker) stop() {
	d.t.Stop()
}

// RunTaskRepeateadly runs task on every tick until the returned StopFn is
// called or ctx is cancelled. The context handed to task is cancelled when
// the task is stopped.
func RunTaskRepeateadly(ctx context.Context, task func(context.Context), t ticker) StopFn {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer t.stop()
		for {
			select {
			case <-t.tickChan():
				task(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
