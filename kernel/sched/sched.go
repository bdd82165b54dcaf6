// Package sched implements the kernel's priority-based preemptive thread
// scheduler. Five priority classes are dispatched strictly highest-first
// with FIFO order inside each class; High, Normal and Low threads run on a
// tick quantum, Realtime threads only yield voluntarily and the per-CPU
// idle threads soak up the rest. Threads are pinned to their home CPU when
// they are spawned; cross-CPU activity is limited to wake-ups, which push
// the thread onto its home CPU's queue and nudge that CPU with an IPI when
// it is running something of lower priority.
package sched

import (
	"sync/atomic"

	"maystorm/kernel"
	"maystorm/kernel/cpu"
	"maystorm/kernel/kfmt"
	"maystorm/kernel/mm"
	"maystorm/kernel/sync"
)

var (
	errIdleSpawn       = &kernel.Error{Module: "sched", Message: "cannot spawn at idle priority"}
	errNoCPUs          = &kernel.Error{Module: "sched", Message: "no CPU slots reserved"}
	errWaitInInterrupt = &kernel.Error{Module: "sched", Message: "blocking call inside interrupt context"}
	errExitReturned    = &kernel.Error{Module: "sched", Message: "dispatch returned into a dead thread"}
	errStackExhausted  = &kernel.Error{Module: "sched", Message: "no stack available for new thread"}
	errSlotOutOfRange  = &kernel.Error{Module: "sched", Message: "CPU registration beyond reserved slots"}
)

var (
	// schedEnabled gates preemption and the public blocking operations.
	// It flips on once in Start, after the bootstrap thread is queued.
	schedEnabled uint32

	// frozen parks every CPU in its idle thread at the next safe point.
	// The panic path sets it so the dump is not preempted.
	frozen uint32

	// The cpu hooks are variables so tests can substitute them.
	readTSCFn    = cpu.ReadTSC
	irqSaveFn    = cpu.SaveDisableInterrupts
	irqRestoreFn = cpu.RestoreInterrupts
	irqOffFn     = cpu.DisableInterrupts
	irqOnFn      = cpu.EnableInterrupts
	idleHaltFn   = cpu.Halt

	// tscPerTick converts scheduler ticks to TSC increments. The platform
	// init code sets it from the APIC timer calibration.
	tscPerTick uint64 = 1

	// sendRescheduleIPIFn delivers a reschedule IPI to a remote CPU. The
	// platform init code wires it to the APIC driver.
	sendRescheduleIPIFn func(apicID uint8)

	// kfmtPanicFn is substituted by tests exercising invariant
	// violations.
	kfmtPanicFn = kfmt.Panic

	// registration serializes CPU slot registration during bring-up.
	registration sync.Spinlock

	// byIndex maps logical CPU indices to slots; rebuilt by the bring-up
	// sort.
	byIndex [MaxCPU]*CPU

	// spawnNextCPU round-robins unpinned spawns across the active CPUs.
	spawnNextCPU uint32

	// reapQueue holds dead threads whose stacks await release.
	reapQueue struct {
		lock sync.IRQSpinlock
		q    threadQueue
	}
)

// Enabled returns true once Start has armed preemption.
func Enabled() bool {
	return atomic.LoadUint32(&schedEnabled) != 0
}

// SetTickPeriod tells the scheduler how many TSC increments one timer tick
// spans. Must be called before Start.
func SetTickPeriod(tscTicks uint64) {
	if tscTicks == 0 {
		tscTicks = 1
	}
	tscPerTick = tscTicks
}

// SetRescheduleIPI wires the function used to nudge a remote CPU whose
// queue just received a higher-priority thread.
func SetRescheduleIPI(fn func(apicID uint8)) {
	sendRescheduleIPIFn = fn
}

// now returns the CPU-local monotonic time: the TSC delta from the base
// recorded at the bring-up rendezvous. Deltas are comparable across CPUs
// only after the rendezvous, up to a small skew.
func now(c *CPU) uint64 {
	return readTSCFn() - c.tscBase
}

// ReserveCPUs sizes the CPU slot table for the declared processor count.
// It must run before any AP is started.
func ReserveCPUs(count int) *kernel.Error {
	if count < 1 || count > MaxCPU {
		return errNoCPUs
	}

	numCPUs = int32(count)
	for i := 0; i < count; i++ {
		cpus[i].index = int32(i)
		byIndex[i] = &cpus[i]
	}
	return nil
}

// NumCPUs returns the number of reserved CPU slots.
func NumCPUs() int {
	return int(atomic.LoadInt32(&numCPUs))
}

// NumActiveCPUs returns the number of processors that have registered.
func NumActiveCPUs() int {
	return int(atomic.LoadInt32(&numActiveCPUs))
}

// CPUByIndex returns the slot with the supplied logical index.
func CPUByIndex(index int) *CPU {
	if index < 0 || index >= NumCPUs() {
		return nil
	}
	return byIndex[index]
}

// RegisterCPU installs the calling processor into the next free slot: it
// records the physical APIC ID, creates the slot's idle thread, publishes
// the slot through the GS base and marks it active. The BSP registers
// first; each AP registers from its startup path.
func RegisterCPU(apicID uint8) (*CPU, *kernel.Error) {
	registration.Acquire()
	defer registration.Release()

	idx := int(atomic.LoadInt32(&numActiveCPUs))
	if idx >= NumCPUs() {
		return nil, errSlotOutOfRange
	}

	c := &cpus[idx]
	c.apicID = apicID

	idle := &Thread{
		priority: PriorityIdle,
		homeCPU:  c.index,
		quantum:  1,
	}
	idle.setName("idle")
	idle.setState(StateRunning)
	if err := registerThread(idle); err != nil {
		return nil, err
	}

	c.idle = idle
	c.current = idle
	installCPU(c)

	atomic.AddInt32(&numActiveCPUs, 1)
	atomic.StoreUint32(&c.active, 1)
	return c, nil
}

// SortCPUsByAPICID reorders the logical CPU indices so they are monotonic
// in physical APIC ID. The bring-up code runs it once after all processors
// have registered; slots themselves do not move, so the GS pointers each
// processor installed stay valid.
func SortCPUsByAPICID() {
	n := NumActiveCPUs()
	for i := 0; i < n; i++ {
		byIndex[i] = &cpus[i]
	}

	// Insertion sort: n is at most MaxCPU and this runs once at boot.
	for i := 1; i < n; i++ {
		c := byIndex[i]
		j := i - 1
		for j >= 0 && byIndex[j].apicID > c.apicID {
			byIndex[j+1] = byIndex[j]
			j--
		}
		byIndex[j+1] = c
	}

	for i := 0; i < n; i++ {
		byIndex[i].index = int32(i)
		if idle := byIndex[i].idle; idle != nil {
			idle.homeCPU = int32(i)
		}
	}
}

// SetTSCBase records the calling processor's TSC synchronization base.
func (c *CPU) SetTSCBase(v uint64) {
	atomic.StoreUint64(&c.tscBase, v)
}

// TSCBase returns the processor's TSC synchronization base.
func (c *CPU) TSCBase() uint64 {
	return atomic.LoadUint64(&c.tscBase)
}

// SpawnOption controls thread creation.
type SpawnOption struct {
	// Priority selects the scheduling class; PriorityIdle is rejected.
	Priority Priority

	// CPU pins the thread to a logical CPU index, or PickCPU to let the
	// scheduler choose.
	CPU int32

	// Name is the thread's diagnostic name.
	Name string
}

// PickCPU lets Spawn choose the home CPU round-robin.
const PickCPU = int32(-1)

// Spawn creates a thread that starts in entry with the supplied argument
// and queues it as Runnable on its home CPU. Resource exhaustion is
// returned to the caller; the kernel does not panic on a failed spawn.
func Spawn(entry EntryFn, arg uintptr, opts SpawnOption) (ThreadID, *kernel.Error) {
	if opts.Priority == PriorityIdle || opts.Priority >= numPriorities {
		return NilThread, errIdleSpawn
	}

	home := opts.CPU
	if home == PickCPU {
		n := uint32(NumActiveCPUs())
		if n == 0 {
			return NilThread, errNoCPUs
		}
		home = int32(atomic.AddUint32(&spawnNextCPU, 1) % n)
	}
	if home < 0 || int(home) >= NumActiveCPUs() {
		return NilThread, errNoCPUs
	}

	stackBase, err := allocStack()
	if err != nil {
		return NilThread, errStackExhausted
	}

	t := &Thread{
		priority:  opts.Priority,
		entry:     entry,
		arg:       arg,
		stackBase: stackBase,
		homeCPU:   home,
	}
	t.refillQuantum()
	t.setName(opts.Name)
	t.joinObj.kind = WaitJoin

	if err := registerThread(t); err != nil {
		freeStack(t)
		return NilThread, err
	}
	t.joinObj.target = t.id

	makeContextFn(&t.context, stackBase+stackPages*mm.PageSize, t.id)

	wakeOn(byIndex[home], t, false)
	return t.id, nil
}

// wakeOn queues the thread as Runnable on the supplied CPU and, when the
// CPU is remote and running something of strictly lower priority, sends it
// a reschedule IPI.
func wakeOn(c *CPU, t *Thread, timedOut bool) {
	t.timedOut = timedOut
	t.wakeAt = 0

	c.pushRunnable(t)

	if c == currentCPU() {
		return
	}
	if cur := c.current; cur != nil && cur.priority >= t.priority {
		return
	}
	if sendRescheduleIPIFn != nil {
		sendRescheduleIPIFn(c.apicID)
	}
}

// wake transitions a Waiting thread back to Runnable on its home CPU.
func wake(t *Thread, timedOut bool) {
	wakeOn(byIndex[t.homeCPU], t, timedOut)
}

// Current returns the thread executing on the calling CPU.
func Current() *Thread {
	return currentCPU().current
}

// switchTo hands the calling CPU over to next. The outgoing thread is
// recorded in the slot's retire fields and re-enqueued by the incoming
// thread right after the switch, so no run-queue entry ever points at a
// context that is still being saved. Interrupts must be masked.
func switchTo(c *CPU, next *Thread, mode retireMode) {
	cur := c.current
	if next == cur {
		// A wake-up raced the block: the thread was popped right back.
		cur.setState(StateRunning)
		return
	}
	if next == c.idle && cur != c.idle && mode != retireNone {
		// Nothing better to run; keep the current thread going.
		return
	}

	if cur == c.idle {
		mode = retireNone
	}
	c.retired = cur
	c.retireMode = mode
	c.current = next
	next.setState(StateRunning)
	next.runCount++

	switchContextFn(&cur.context, &next.context)

	// Execution resumes here when cur is switched back in, possibly much
	// later. Threads do not migrate, so the slot is the same one.
	currentCPU().finishRetire()
}

// dispatch selects the best Runnable thread and switches to it. Interrupts
// must be masked.
func dispatch(c *CPU, mode retireMode) {
	switchTo(c, c.popHighestRunnable(), mode)
}

// Start queues the supplied function as the first schedulable thread, arms
// preemption and turns the calling (bootstrap) processor into its idle
// thread. It never returns.
func Start(entry EntryFn, arg uintptr) {
	if _, err := Spawn(entry, arg, SpawnOption{
		Priority: PriorityHigh,
		CPU:      0,
		Name:     "main",
	}); err != nil {
		kfmtPanicFn(err)
	}

	atomic.StoreUint32(&schedEnabled, 1)
	IdleLoop()
}

// IdleLoop is the body of every idle thread: halt until the next interrupt,
// forever. Preemption happens on the interrupt return path.
func IdleLoop() {
	for {
		irqOnFn()
		idleHaltFn()
	}
}

// Yield moves the current thread to the tail of its class queue and invokes
// the dispatcher.
func Yield() {
	if !Enabled() {
		return
	}

	flags := irqSaveFn()
	c := currentCPU()
	assertNotInterrupt(c)
	dispatch(c, retireYield)
	irqRestoreFn(flags)
}

// Sleep blocks the current thread for at least the supplied number of
// scheduler ticks.
func Sleep(ticks uint64) {
	if !Enabled() {
		return
	}

	flags := irqSaveFn()
	c := currentCPU()
	assertNotInterrupt(c)

	t := c.current
	t.setState(StateWaiting)
	sleepEnqueue(t, now(c)+ticks*tscPerTick)
	dispatch(c, retireNone)

	irqRestoreFn(flags)
}

// Wait parks the current thread on the supplied wait object until it is
// signaled or, when deadlineTicks is not NoDeadline, until the deadline
// expires. The distinguished WaitTimedOut result reports expiry.
func Wait(w *WaitObject, deadlineTicks uint64) WaitResult {
	if !Enabled() {
		return WaitOK
	}

	flags := irqSaveFn()
	c := currentCPU()
	assertNotInterrupt(c)

	t := c.current

	w.lock.AcquireIRQSave()
	if w.tryConsume() {
		w.lock.ReleaseIRQRestore()
		irqRestoreFn(flags)
		return WaitOK
	}

	t.timedOut = false
	t.setState(StateWaiting)
	w.enqueueWaiter(t)
	if deadlineTicks != NoDeadline {
		sleepEnqueue(t, now(c)+deadlineTicks*tscPerTick)
	}
	w.lock.ReleaseIRQRestore()

	dispatch(c, retireNone)

	irqRestoreFn(flags)
	if t.timedOut {
		return WaitTimedOut
	}
	return WaitOK
}

// Signal wakes waiters of the object per its discipline: a semaphore
// releases one permit, an event drains every waiter.
func (w *WaitObject) Signal() {
	switch w.kind {
	case WaitSemaphore:
		w.Release(1)
	case WaitSignal:
		var woken threadQueue

		w.lock.AcquireIRQSave()
		for {
			t := w.dequeueWaiter()
			if t == nil {
				break
			}
			woken.push(t)
		}
		if woken.empty() {
			w.signaled = true
		}
		w.lock.ReleaseIRQRestore()

		wakeQueued(&woken)
	}
}

// Release returns n permits to a semaphore, waking up to n waiters.
func (w *WaitObject) Release(n int32) {
	if w.kind != WaitSemaphore || n <= 0 {
		return
	}

	var woken threadQueue

	w.lock.AcquireIRQSave()
	for n > 0 {
		t := w.dequeueWaiter()
		if t == nil {
			w.count += n
			break
		}
		n--
		woken.push(t)
	}
	w.lock.ReleaseIRQRestore()

	wakeQueued(&woken)
}

// wakeQueued wakes the collected threads in FIFO order, cancelling any
// pending wait timeouts. It runs with no locks held.
func wakeQueued(q *threadQueue) {
	for {
		t := q.pop()
		if t == nil {
			return
		}
		if t.onSleepList {
			sleepRemove(t)
		}
		wake(t, false)
	}
}

// Join blocks until the identified thread dies. A stale or unknown ID
// returns immediately: the thread is already gone.
func Join(id ThreadID, deadlineTicks uint64) WaitResult {
	t := lookupThread(id)
	if t == nil || t.getState() == StateDead {
		return WaitOK
	}
	return Wait(&t.joinObj, deadlineTicks)
}

// threadExit is the common exit path: the thread enters StateDead, its
// joiners are woken and the CPU dispatches away for good. The reaper frees
// the stack on a later tick.
func threadExit() {
	irqOffFn()
	c := currentCPU()
	t := c.current

	t.setState(StateDead)
	t.joinObj.signalJoiners()

	reapQueue.lock.AcquireIRQSave()
	reapQueue.q.push(t)
	reapQueue.lock.ReleaseIRQRestore()

	dispatch(c, retireNone)
	kfmtPanicFn(errExitReturned)
}

// signalJoiners wakes every thread joined on the target. It is invoked
// exactly once, from the target's exit path.
func (w *WaitObject) signalJoiners() {
	if w.kind != WaitJoin {
		return
	}

	var woken threadQueue

	w.lock.AcquireIRQSave()
	for {
		t := w.dequeueWaiter()
		if t == nil {
			break
		}
		woken.push(t)
	}
	w.lock.ReleaseIRQRestore()

	wakeQueued(&woken)
}

// Tick is invoked by the APIC driver on every preemption timer expiry, in
// interrupt context. It performs quantum accounting, expires sleep
// deadlines and reaps dead threads; the context switch itself happens on
// the interrupt return path via PreemptCheck.
func Tick() {
	if !Enabled() {
		return
	}

	c := currentCPU()
	atomic.AddUint32(&c.inInterrupt, 1)

	c.accountTick()

	expired := sleepCollectExpired(now(c))
	for expired != nil {
		next := lookupThread(expired.sleepNext)
		expired.sleepNext = NilThread

		timedOut := false
		if w := expired.waitObj; w != nil {
			w.lock.AcquireIRQSave()
			stillParked := w.removeWaiter(expired)
			w.lock.ReleaseIRQRestore()
			if !stillParked {
				// A signal raced the timeout and owns the wake.
				expired = next
				continue
			}
			timedOut = true
		}
		wake(expired, timedOut)
		expired = next
	}

	reapDead(c)

	atomic.AddUint32(&c.inInterrupt, ^uint32(0))
}

// reapDead releases the resources of threads that died since the last
// tick.
func reapDead(c *CPU) {
	for {
		reapQueue.lock.AcquireIRQSave()
		t := reapQueue.q.pop()
		reapQueue.lock.ReleaseIRQRestore()
		if t == nil {
			return
		}

		if t == c.current || c.retired == t {
			// The thread is still switching away on this CPU; retry on
			// the next tick.
			reapQueue.lock.AcquireIRQSave()
			reapQueue.q.push(t)
			reapQueue.lock.ReleaseIRQRestore()
			return
		}

		unregisterThread(t)
		freeStack(t)
	}
}

// PreemptCheck runs on the outermost interrupt return path with interrupts
// masked. When the reschedule-pending flag is set and the interrupted
// context had interrupts enabled, it dispatches; otherwise the flag
// persists until the next safe point.
//
//go:redirect-from sched_preempt_check
func PreemptCheck() {
	if !Enabled() {
		return
	}

	c := currentCPU()
	if atomic.LoadUint32(&c.inInterrupt) != 0 {
		return
	}

	if atomic.LoadUint32(&frozen) != 0 {
		if c.current != c.idle {
			switchTo(c, c.idle, retireNone)
		}
		return
	}

	if !c.takeNeedResched() {
		return
	}
	dispatch(c, retirePreempt)
}

// Freeze parks every CPU in its idle thread at the next safe point. The
// panic path uses it so the diagnostic dump is not preempted mid-write.
func Freeze() {
	atomic.StoreUint32(&frozen, 1)
}

// assertNotInterrupt panics when a blocking primitive is invoked from
// interrupt context; waiting there would suspend an arbitrary victim
// thread.
func assertNotInterrupt(c *CPU) {
	if atomic.LoadUint32(&c.inInterrupt) != 0 {
		kfmtPanicFn(errWaitInInterrupt)
	}
}
