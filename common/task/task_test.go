package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type manualTicker struct {
	c       chan time.Time
	stopped int32
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time)}
}

func (m *manualTicker) tickChan() <-chan time.Time { return m.c }
func (m *manualTicker) stop()                      { atomic.StoreInt32(&m.stopped, 1) }

func TestRunTaskRepeateadly(t *testing.T) {
	t.Parallel()

	var (
		counter int32
		ticker  = newManualTicker()
		ping    = func(context.Context) { atomic.AddInt32(&counter, 1) }
	)
	stopTask := RunTaskRepeateadly(context.Background(), ping, ticker)
	for i := 0; i < 3; i++ {
		ticker.c <- time.Now()
	}
	stopTask()
	stopTask()

	if n := atomic.LoadInt32(&counter); n != 3 {
		t.Errorf("Expect task to run 3 times but got %d", n)
	}
	if atomic.LoadInt32(&ticker.stopped) != 1 {
		t.Error("Expect ticker to be stopped")
	}
}

func TestRunTaskRepeateadlyCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ticker := newManualTicker()
	stopTask := RunTaskRepeateadly(ctx, func(context.Context) {}, ticker)
	cancel()
	stopTask()

	if atomic.LoadInt32(&ticker.stopped) != 1 {
		t.Error("Expect ticker to be stopped after cancellation")
	}
}
