package sched

import (
	"maystorm/kernel/sync"
)

// WaitKind discriminates the wait object variants. Wake logic is a single
// switch on the kind; there is no dynamic dispatch.
type WaitKind uint8

const (
	// WaitSemaphore wakes up to n waiters per Release, where n is the
	// number of released permits; Signal releases one permit.
	WaitSemaphore = WaitKind(iota + 1)

	// WaitSignal drains all waiters on Signal.
	WaitSignal

	// WaitSleep names the deadline discipline. No WaitObject of this kind
	// is created: sleeping threads and timed waits are tracked by the
	// sleep list in sleep.go.
	WaitSleep

	// WaitJoin wakes every thread joined on the target when it dies.
	WaitJoin
)

// WaitResult reports how a wait ended.
type WaitResult uint8

const (
	// WaitOK means the thread was woken by a signal.
	WaitOK = WaitResult(iota)

	// WaitTimedOut means the deadline expired before a signal arrived.
	// It is a distinguished outcome, not an error.
	WaitTimedOut
)

// NoDeadline disables the timeout of a wait.
const NoDeadline = uint64(0)

// WaitObject parks threads until a matching wake-up. Each object holds an
// ordered queue of waiting threads (FIFO within a priority level). A thread
// appears in at most one wait object's queue.
type WaitObject struct {
	kind WaitKind

	lock sync.IRQSpinlock

	// count holds the available permits for semaphores.
	count int32

	// signaled latches a Signal delivered while no thread was waiting on
	// a WaitSignal object.
	signaled bool

	// target is the thread a WaitJoin object is attached to.
	target ThreadID

	// waiters holds one FIFO per priority class so higher-priority
	// waiters are woken first, FIFO within the class.
	waiters [numPriorities]threadQueue
}

// NewSemaphore creates a semaphore wait object with the supplied initial
// permit count.
func NewSemaphore(permits int32) *WaitObject {
	return &WaitObject{kind: WaitSemaphore, count: permits}
}

// NewSignal creates an event wait object that wakes every waiter when
// signaled.
func NewSignal() *WaitObject {
	return &WaitObject{kind: WaitSignal}
}

// Kind returns the wait object's discipline.
func (w *WaitObject) Kind() WaitKind { return w.kind }

// enqueueWaiter parks the thread on this object. Caller holds w.lock.
func (w *WaitObject) enqueueWaiter(t *Thread) {
	t.waitObj = w
	w.waiters[t.priority].push(t)
}

// dequeueWaiter removes and returns the best-priority waiter, or nil when
// none is parked. Caller holds w.lock.
func (w *WaitObject) dequeueWaiter() *Thread {
	for prio := int(numPriorities) - 1; prio >= 0; prio-- {
		if t := w.waiters[prio].pop(); t != nil {
			t.waitObj = nil
			return t
		}
	}
	return nil
}

// removeWaiter unlinks a specific thread, used by the timeout path. Caller
// holds w.lock.
func (w *WaitObject) removeWaiter(t *Thread) bool {
	if w.waiters[t.priority].remove(t) {
		t.waitObj = nil
		return true
	}
	return false
}

// tryConsume attempts to satisfy a wait without blocking. Caller holds
// w.lock.
func (w *WaitObject) tryConsume() bool {
	switch w.kind {
	case WaitSemaphore:
		if w.count > 0 {
			w.count--
			return true
		}
	case WaitSignal:
		if w.signaled {
			w.signaled = false
			return true
		}
	case WaitJoin:
		if t := lookupThread(w.target); t == nil || t.getState() == StateDead {
			return true
		}
	}
	return false
}
