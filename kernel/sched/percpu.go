package sched

import (
	"sync/atomic"
	"unsafe"

	"maystorm/kernel/cpu"
	"maystorm/kernel/sync"
)

// MaxCPU is the maximum number of logical processors the scheduler
// supports.
const MaxCPU = 64

// CPU is the per-processor scheduler state. Slots are created by the BSP
// before any SIPI is broadcast, filled in by each AP as it registers and
// never destroyed.
type CPU struct {
	// current is the thread executing on this CPU. It is written only by
	// the dispatcher running on this CPU and read lock-free everywhere
	// through the GS segment base.
	current *Thread

	// idle is this CPU's idle thread. It is never enqueued and runs only
	// when no other Runnable thread exists on the CPU.
	idle *Thread

	// index is the logical CPU number, assigned after the bring-up sort
	// so it is monotonic in APIC ID order.
	index int32

	// apicID is the physical local-APIC ID, recorded during bring-up.
	apicID uint8

	// needResched is set when the dispatcher should run at the next safe
	// point. It persists until the switch happens.
	needResched uint32

	// active is set once the processor has installed itself into the
	// slot and entered the scheduler.
	active uint32

	// inInterrupt is non-zero while this CPU executes an interrupt
	// handler. Blocking primitives assert against it.
	inInterrupt uint32

	// tscBase is the processor's TSC value recorded at the post-rendezvous
	// synchronization point. TSC readings are interpreted as deltas from
	// it.
	tscBase uint64

	// tickCount counts timer ticks taken on this CPU.
	tickCount uint64

	// queueLock guards the run queues below. It is held only for short
	// sections with local interrupts masked and never across a context
	// switch.
	queueLock sync.IRQSpinlock

	// queues holds one FIFO per non-idle priority class, indexed by
	// Priority.
	queues [numPriorities]threadQueue

	// retired is the thread switched away from; the incoming thread
	// re-enqueues it right after the context switch completes.
	retired *Thread

	// retireMode records how retired must be re-enqueued.
	retireMode retireMode
}

type retireMode uint8

const (
	// retireNone drops the outgoing thread (it blocked or died and was
	// queued elsewhere already).
	retireNone = retireMode(iota)

	// retirePreempt re-enqueues at the head of the class queue while the
	// thread still has quantum, otherwise at the tail with a refill.
	retirePreempt

	// retireYield re-enqueues at the tail of the class queue.
	retireYield
)

var (
	// cpus is the fixed array of per-CPU slots; slot 0 is the BSP.
	cpus [MaxCPU]CPU

	// numCPUs is the number of reserved slots (the declared maximum).
	numCPUs int32

	// numActiveCPUs counts the processors that have registered.
	numActiveCPUs int32

	// currentCPUFn resolves the CPU slot of the calling processor. The
	// default implementation reads the GS segment base installed by
	// installCPU; tests substitute it.
	currentCPUFn = archCurrentCPU
)

// archCurrentCPU returns the CPU slot the calling processor installed into
// its GS base register.
func archCurrentCPU() *CPU {
	return (*CPU)(unsafe.Pointer(cpu.GSBase()))
}

// installCPU publishes the slot as the calling processor's per-CPU block.
func installCPU(c *CPU) {
	cpu.SetGSBase(uintptr(unsafe.Pointer(c)))
}

// currentCPU returns the calling processor's CPU slot.
func currentCPU() *CPU {
	return currentCPUFn()
}

// Index returns the CPU's logical index.
func (c *CPU) Index() int { return int(c.index) }

// APICID returns the CPU's physical local-APIC ID.
func (c *CPU) APICID() uint8 { return c.apicID }

// Current returns the thread currently executing on this CPU.
func (c *CPU) Current() *Thread { return c.current }

// TickCount returns the number of timer ticks taken on this CPU.
func (c *CPU) TickCount() uint64 {
	return atomic.LoadUint64(&c.tickCount)
}

// isActive returns true once the processor has registered itself.
func (c *CPU) isActive() bool {
	return atomic.LoadUint32(&c.active) != 0
}

// setNeedResched marks that the dispatcher must run at the next safe point.
func (c *CPU) setNeedResched() {
	atomic.StoreUint32(&c.needResched, 1)
}

// takeNeedResched atomically consumes the reschedule-pending flag.
func (c *CPU) takeNeedResched() bool {
	return atomic.SwapUint32(&c.needResched, 0) != 0
}

// pushRunnable inserts the thread into the appropriate priority queue of
// this CPU. When the thread outranks the CPU's current thread the
// reschedule-pending flag is set; the caller decides whether an IPI is also
// required. The queue lock must not be held.
func (c *CPU) pushRunnable(t *Thread) {
	t.setState(StateRunnable)

	c.queueLock.AcquireIRQSave()
	c.queues[t.priority].push(t)
	c.queueLock.ReleaseIRQRestore()

	if cur := c.current; cur == nil || t.priority > cur.priority {
		c.setNeedResched()
	}
}

// popHighestRunnable removes and returns the highest-priority Runnable
// thread on this CPU, breaking ties FIFO within the class. If no thread is
// queued it returns the idle thread. The caller must have interrupts
// masked.
func (c *CPU) popHighestRunnable() *Thread {
	c.queueLock.AcquireIRQSave()
	for prio := numPriorities - 1; prio > PriorityIdle; prio-- {
		if t := c.queues[prio].pop(); t != nil {
			c.queueLock.ReleaseIRQRestore()
			return t
		}
	}
	c.queueLock.ReleaseIRQRestore()
	return c.idle
}

// accountTick charges one timer tick to the running thread. Real-time and
// idle threads are never charged. When the quantum reaches zero the
// reschedule-pending flag is set; the refill happens on re-enqueue.
func (c *CPU) accountTick() {
	atomic.AddUint64(&c.tickCount, 1)

	t := c.current
	if t == nil || !t.priority.preemptible() {
		return
	}

	t.tickCount++
	if t.quantum > 0 {
		t.quantum--
	}
	if t.quantum == 0 {
		c.setNeedResched()
	}
}

// finishRetire re-enqueues the thread this CPU most recently switched away
// from. It runs on the incoming thread, either at the end of switchTo or,
// for freshly constructed threads, from SetupNewThread.
func (c *CPU) finishRetire() {
	t := c.retired
	if t == nil {
		return
	}
	c.retired = nil

	switch c.retireMode {
	case retirePreempt:
		if t.quantum > 0 {
			t.setState(StateRunnable)
			c.queueLock.AcquireIRQSave()
			c.queues[t.priority].pushFront(t)
			c.queueLock.ReleaseIRQRestore()
		} else {
			t.refillQuantum()
			c.pushRunnable(t)
		}
	case retireYield:
		c.pushRunnable(t)
	}
}
