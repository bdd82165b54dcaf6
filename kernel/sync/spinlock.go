// Package sync provides the synchronization primitives used by the kernel:
// spinlocks, interrupt-masking spinlocks and a reader-dominant lock for
// mostly-read data such as the thread registry.
package sync

import (
	"sync/atomic"

	"maystorm/kernel/cpu"
)

var (
	// The cpu hooks are variables so tests can substitute them.
	pauseFn      = cpu.Pause
	irqSaveFn    = cpu.SaveDisableInterrupts
	irqRestoreFn = cpu.RestoreInterrupts
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for !atomic.CompareAndSwapUint32(&l.state, 0, 1) {
		for atomic.LoadUint32(&l.state) != 0 {
			pauseFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// IRQSpinlock is a spinlock that additionally masks interrupts on the local
// CPU while it is held. It protects data that is also touched by interrupt
// handlers (run queues, wait queues). The lock must be held only for short
// critical sections and never across a context switch.
type IRQSpinlock struct {
	lock  Spinlock
	flags uint64
}

// AcquireIRQSave disables local interrupt handling and acquires the lock.
func (l *IRQSpinlock) AcquireIRQSave() {
	flags := irqSaveFn()
	l.lock.Acquire()
	l.flags = flags
}

// ReleaseIRQRestore releases the lock and restores the interrupt-enable state
// captured by the matching AcquireIRQSave call.
func (l *IRQSpinlock) ReleaseIRQRestore() {
	flags := l.flags
	l.lock.Release()
	irqRestoreFn(flags)
}

// RWSpinlock implements a reader-dominant lock. Multiple readers may hold the
// lock concurrently; writers get exclusive access. Readers busy-wait while a
// writer is active which keeps the uncontended read path to a single atomic
// add.
type RWSpinlock struct {
	state int32
}

const rwWriterBias = -1 << 30

// AcquireRead blocks until no writer holds the lock.
func (l *RWSpinlock) AcquireRead() {
	for {
		if atomic.AddInt32(&l.state, 1) > 0 {
			return
		}
		atomic.AddInt32(&l.state, -1)
		for atomic.LoadInt32(&l.state) < 0 {
			pauseFn()
		}
	}
}

// ReleaseRead drops a read hold on the lock.
func (l *RWSpinlock) ReleaseRead() {
	atomic.AddInt32(&l.state, -1)
}

// AcquireWrite blocks until the lock can be held exclusively.
func (l *RWSpinlock) AcquireWrite() {
	for !atomic.CompareAndSwapInt32(&l.state, 0, rwWriterBias) {
		pauseFn()
	}
}

// ReleaseWrite drops an exclusive hold on the lock.
func (l *RWSpinlock) ReleaseWrite() {
	atomic.AddInt32(&l.state, -rwWriterBias)
}
