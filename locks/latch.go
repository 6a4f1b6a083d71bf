package locks

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

const MaxTimeOut = 60 * 60 * 1000 * time.Millisecond

func getTimeOut(t time.Duration) time.Duration {
	if t >= 0 {
		return t
	} else {
		return MaxTimeOut
	}
}

// WaitLatch parks exactly one goroutine until another goroutine releases it.
// It holds at most one pending permit, so a Release that races ahead of the
// wait is not lost and repeated Releases collapse into one.
//
// Only one goroutine may call TryAcquire at a time; the owning lock client
// is the only waiter on its latch.
type WaitLatch struct {
	permit  chan struct{}
	waiting int32
	spin    int
	timer   *time.Timer
}

func NewWaitLatch(spinIterations int) *WaitLatch {
	return &WaitLatch{
		permit: make(chan struct{}, 1),
		spin:   spinIterations,
	}
}

// Release opens the latch, waking the waiter if there is one.
func (c *WaitLatch) Release() {
	select {
	case c.permit <- struct{}{}:
	default:
	}
}

// Drain discards a pending permit left over by a late Release.
func (c *WaitLatch) Drain() {
	select {
	case <-c.permit:
	default:
	}
}

// TryAcquire waits up to timeout for the latch to be released and reports
// whether it was. A negative timeout waits up to MaxTimeOut, zero only polls.
func (c *WaitLatch) TryAcquire(timeout time.Duration) bool {
	return c.TryAcquireContext(context.Background(), timeout)
}

// TryAcquireContext is TryAcquire that also gives up when ctx is done.
func (c *WaitLatch) TryAcquireContext(ctx context.Context, timeout time.Duration) bool {
	if !atomic.CompareAndSwapInt32(&c.waiting, 0, 1) {
		panic(errors.AssertionFailedf("concurrent waiters on a single waiter latch"))
	}
	defer atomic.StoreInt32(&c.waiting, 0)

	for i := 0; i < c.spin; i++ {
		select {
		case <-c.permit:
			return true
		default:
		}
		runtime.Gosched()
	}
	timeout = getTimeOut(timeout)
	if timeout == 0 {
		select {
		case <-c.permit:
			return true
		default:
			return false
		}
	}

	if c.timer == nil {
		c.timer = time.NewTimer(timeout)
	} else {
		c.timer.Reset(timeout)
	}
	select {
	case <-c.permit:
		c.stopTimer()
		return true
	case <-ctx.Done():
		c.stopTimer()
		// a release may have won the race with cancellation
		select {
		case <-c.permit:
			return true
		default:
			return false
		}
	case <-c.timer.C:
		return false
	}
}

func (c *WaitLatch) stopTimer() {
	if !c.timer.Stop() {
		select {
		case <-c.timer.C:
		default:
		}
	}
}
