package sched

import (
	"sync/atomic"

	"maystorm/kernel"
	"maystorm/kernel/mm"
	"maystorm/kernel/sync"
)

// ThreadID uniquely identifies a live thread. IDs encode a registry slot
// plus a generation counter so stale handles can be detected after a slot
// is reused.
type ThreadID uint32

// NilThread is the zero ThreadID; it never refers to a live thread.
const NilThread = ThreadID(0)

// State describes the scheduling state of a thread. A thread is in exactly
// one state at any time.
type State uint32

const (
	// StateRunnable threads appear in exactly one run queue.
	StateRunnable = State(iota + 1)

	// StateRunning threads are the current thread of exactly one CPU and
	// appear in no queue.
	StateRunning

	// StateWaiting threads are parked on exactly one wait object or on
	// the sleep queue.
	StateWaiting

	// StateDead threads have returned from their entry function and wait
	// for the reaper to release their stack.
	StateDead
)

// Priority assigns a thread to one of the five scheduling classes.
type Priority uint8

const (
	// PriorityIdle is reserved for the per-CPU idle threads. Spawning at
	// this priority is rejected.
	PriorityIdle = Priority(iota)

	PriorityLow
	PriorityNormal
	PriorityHigh

	// PriorityRealtime threads have an infinite quantum and are never
	// preempted by the timer tick.
	PriorityRealtime

	numPriorities
)

// defaultQuantum returns the tick budget granted to a thread of this
// priority each time it is enqueued with an exhausted quantum.
func (p Priority) defaultQuantum() uint8 {
	switch p {
	case PriorityHigh:
		return 25
	case PriorityNormal:
		return 10
	case PriorityLow:
		return 5
	default:
		return 1
	}
}

// preemptible returns true when the timer tick may preempt threads of this
// priority.
func (p Priority) preemptible() bool {
	return p != PriorityRealtime && p != PriorityIdle
}

// EntryFn is a thread entry function. A thread terminates by returning
// from it.
type EntryFn func(arg uintptr)

// ThreadNameLength is the capacity of a thread's diagnostic name.
const ThreadNameLength = 32

// stackPages is the number of pages backing each thread stack (64 KiB).
const stackPages = uintptr(16)

// Thread is the unit of scheduling.
type Thread struct {
	// context is the saved CPU context. It is only touched by the
	// context-switch trampoline and by archMakeNewContext.
	context Context

	id       ThreadID
	priority Priority

	// state is updated with atomic operations; transitions are listed in
	// the State constants.
	state uint32

	// quantum is the remaining tick budget. Only the owning CPU touches
	// it.
	quantum uint8

	entry EntryFn
	arg   uintptr

	// stackBase is the lowest address of the thread's stack block, or 0
	// for threads running on a borrowed stack (idle threads, the
	// bootstrap thread).
	stackBase uintptr

	// homeCPU is the index of the CPU this thread runs on. Assigned on
	// spawn and never changed: threads do not migrate.
	homeCPU int32

	// next links the thread into its current run, wait or reap queue. A
	// thread is in at most one queue at any time.
	next ThreadID

	// sleepNext links the thread into the sleep list; membership there is
	// independent of the queue membership above (a timed wait is on
	// both).
	sleepNext   ThreadID
	onSleepList bool

	// wakeAt is the adjusted-TSC deadline for sleeping threads and timed
	// waits; 0 means no deadline.
	wakeAt uint64

	// timedOut records whether the last wait ended by deadline expiry.
	timedOut bool

	// waitObj is the wait object this thread is parked on while in
	// StateWaiting, if any.
	waitObj *WaitObject

	// joinObj is signaled when the thread dies.
	joinObj WaitObject

	// Scheduling statistics.
	runCount  uint64
	tickCount uint64

	name    [ThreadNameLength]byte
	nameLen uint8
}

// ID returns the thread's identity.
func (t *Thread) ID() ThreadID { return t.id }

// Priority returns the thread's scheduling class.
func (t *Thread) Priority() Priority { return t.priority }

// Name returns the thread's diagnostic name.
func (t *Thread) Name() string { return string(t.name[:t.nameLen]) }

func (t *Thread) setName(name string) {
	n := copy(t.name[:], name)
	t.nameLen = uint8(n)
}

// getState returns the thread's current scheduling state.
func (t *Thread) getState() State {
	return State(atomic.LoadUint32(&t.state))
}

func (t *Thread) setState(s State) {
	atomic.StoreUint32(&t.state, uint32(s))
}

// refillQuantum resets the thread's tick budget to its class default.
func (t *Thread) refillQuantum() {
	t.quantum = t.priority.defaultQuantum()
}

// maxThreads bounds the number of live threads. The registry is a fixed
// arena so thread lookups never allocate.
const maxThreads = 4096

var (
	errTooManyThreads = &kernel.Error{Module: "sched", Message: "thread registry full"}
	errUnknownThread  = &kernel.Error{Module: "sched", Message: "unknown thread ID"}

	// registry is the process-wide thread arena. Queues store ThreadIDs
	// which are resolved through it.
	registry struct {
		lock    sync.RWSpinlock
		slots   [maxThreads]*Thread
		gens    [maxThreads]uint32
		numLive int
	}
)

// makeID composes a ThreadID from a slot index and its generation. Slot 0
// is never used so that NilThread stays invalid.
func makeID(slot int, gen uint32) ThreadID {
	return ThreadID(uint32(slot) + gen*maxThreads)
}

func slotOf(id ThreadID) int {
	return int(uint32(id) % maxThreads)
}

// registerThread assigns the thread an identity and publishes it in the
// registry.
func registerThread(t *Thread) *kernel.Error {
	registry.lock.AcquireWrite()
	defer registry.lock.ReleaseWrite()

	for slot := 1; slot < maxThreads; slot++ {
		if registry.slots[slot] == nil {
			registry.gens[slot]++
			t.id = makeID(slot, registry.gens[slot])
			registry.slots[slot] = t
			registry.numLive++
			return nil
		}
	}
	return errTooManyThreads
}

// unregisterThread removes a dead thread from the registry. Its ID becomes
// stale and will no longer resolve.
func unregisterThread(t *Thread) {
	registry.lock.AcquireWrite()
	defer registry.lock.ReleaseWrite()

	slot := slotOf(t.id)
	if registry.slots[slot] == t {
		registry.slots[slot] = nil
		registry.numLive--
	}
}

// lookupThread resolves a ThreadID to a live thread or nil if the ID is
// stale or invalid.
func lookupThread(id ThreadID) *Thread {
	if id == NilThread {
		return nil
	}

	registry.lock.AcquireRead()
	defer registry.lock.ReleaseRead()

	t := registry.slots[slotOf(id)]
	if t == nil || t.id != id {
		return nil
	}
	return t
}

// NumThreads returns the number of live threads in the registry.
func NumThreads() int {
	registry.lock.AcquireRead()
	defer registry.lock.ReleaseRead()
	return registry.numLive
}

// allocStack reserves the fixed-size stack block for a new thread and
// returns its base address.
func allocStack() (uintptr, *kernel.Error) {
	return mm.AllocBlock(stackPages)
}

// freeStack releases a dead thread's stack block back to the memory
// manager.
func freeStack(t *Thread) {
	if t.stackBase != 0 {
		mm.FreeBlock(t.stackBase, stackPages)
		t.stackBase = 0
	}
}
