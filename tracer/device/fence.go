package device

import "sync"

// Fence is the single cross-thread ordering primitive of a device: a
// monotonic completion counter the device signals as submissions retire.
// Waiting for a fence value is the only way to observe the results of a
// submission; the signal carries the happens-before edge for every buffer
// the submission wrote.
type Fence struct {
	mu        sync.Mutex
	cond      *sync.Cond
	completed uint64
	err       error
}

func newFence() *Fence {
	f := &Fence{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Get the highest completed fence value.
func (f *Fence) Completed() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// Block until the fence reaches value. Waiting on an already completed value
// returns immediately. If the device is lost the wait unblocks with the
// device error even when the value was never signaled.
func (f *Fence) Wait(value uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.completed < value && f.err == nil {
		f.cond.Wait()
	}
	if f.completed >= value {
		return nil
	}
	return f.err
}

// Advance the completion counter. Called by the device worker only; values
// arrive in strictly increasing order.
func (f *Fence) signal(value uint64) {
	f.mu.Lock()
	if value > f.completed {
		f.completed = value
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Poison the fence with a device loss, unblocking every waiter.
func (f *Fence) fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.cond.Broadcast()
}
