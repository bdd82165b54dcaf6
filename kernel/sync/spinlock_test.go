package sync

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestSpinlock(t *testing.T) {
	// Substitute the pauseFn with runtime.Gosched to avoid deadlocks while testing
	defer func(origPauseFn func()) { pauseFn = origPauseFn }(pauseFn)
	pauseFn = runtime.Gosched

	var (
		sl         Spinlock
		wg         sync.WaitGroup
		numWorkers = 10
	)

	sl.Acquire()

	if sl.TryToAcquire() != false {
		t.Error("expected TryToAcquire to return false when lock is held")
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func(worker int) {
			sl.Acquire()
			sl.Release()
			wg.Done()
		}(i)
	}

	<-time.After(100 * time.Millisecond)
	sl.Release()
	wg.Wait()
}

func TestIRQSpinlock(t *testing.T) {
	defer func(origSave func() uint64, origRestore func(uint64)) {
		irqSaveFn = origSave
		irqRestoreFn = origRestore
	}(irqSaveFn, irqRestoreFn)

	var (
		savedFlags    = uint64(0x202)
		restoredFlags uint64
		l             IRQSpinlock
	)

	irqSaveFn = func() uint64 { return savedFlags }
	irqRestoreFn = func(flags uint64) { restoredFlags = flags }

	l.AcquireIRQSave()
	if l.lock.TryToAcquire() {
		t.Error("expected inner lock to be held after AcquireIRQSave")
	}
	l.ReleaseIRQRestore()

	if restoredFlags != savedFlags {
		t.Errorf("expected ReleaseIRQRestore to restore flags %x; got %x", savedFlags, restoredFlags)
	}
}

func TestRWSpinlock(t *testing.T) {
	defer func(origPauseFn func()) { pauseFn = origPauseFn }(pauseFn)
	pauseFn = runtime.Gosched

	var (
		l       RWSpinlock
		wg      sync.WaitGroup
		counter int
	)

	// Multiple concurrent readers must not block each other.
	l.AcquireRead()
	l.AcquireRead()
	l.ReleaseRead()
	l.ReleaseRead()

	numWriters := 8
	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func() {
			l.AcquireWrite()
			counter++
			l.ReleaseWrite()
			wg.Done()
		}()
	}
	wg.Wait()

	if counter != numWriters {
		t.Errorf("expected counter to be %d; got %d", numWriters, counter)
	}
}
