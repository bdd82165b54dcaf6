package sched

// fpuSaveSize is the size of the FXSAVE image. The trampoline aligns the
// save address to 16 bytes inside the padded buffer.
const fpuSaveSize = 512

// Context is the saved execution context of a thread. Its layout is shared
// with the context-switch trampoline in arch/x86_64/asm/sched_context.asm
// and must not be reordered.
//
// Switching from thread A to thread B: the trampoline stores A's stack
// pointer, callee-saved registers, segment selectors and FXSAVE image into
// A's Context; swaps the per-CPU TSS RSP0 and the two GDT descriptor images
// holding B's user CS/DS so B observes its own user-mode descriptors;
// restores B's FXSAVE image, selectors and stack pointer; zeroes the
// caller-saved registers so no values leak between threads; and returns to
// the address saved on B's stack. The scheduler masks interrupts around the
// whole operation.
type Context struct {
	RSP uint64
	RBP uint64
	RBX uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	DS uint16
	ES uint16
	FS uint16
	GS uint16

	// UserCS and UserDS are the GDT descriptor images swapped into the
	// user code/data slots while the thread runs. Zero for pure kernel
	// threads.
	UserCS uint64
	UserDS uint64

	// TSSRSP0 is the ring-0 stack pointer swapped into the TSS while the
	// thread runs.
	TSSRSP0 uint64

	// FPU is the FXSAVE area plus the slack needed for 16-byte
	// alignment.
	FPU [fpuSaveSize + 16]byte
}

// archSwitchContext atomically saves the current execution state into
// current and resumes next. It returns when the current thread is switched
// back in. Interrupts must be masked by the caller.
func archSwitchContext(current, next *Context)

// archMakeNewContext lays out a freshly allocated stack so the first switch
// into ctx resumes in the bootstrap shim. The shim initializes the FPU to a
// known state, clears the SSE registers, calls sched_setup_new_thread to
// release the scheduler's retire bookkeeping, enables interrupts, pops the
// thread ID and calls sched_thread_start with it.
func archMakeNewContext(ctx *Context, stackTop uintptr, id ThreadID)

var (
	switchContextFn = archSwitchContext
	makeContextFn   = archMakeNewContext
)

// SetupNewThread runs on the stack of a freshly constructed thread before
// its entry function. It completes the half-finished context switch that
// started the thread: re-enqueueing the switched-away thread and dropping
// any dispatcher bookkeeping. The bootstrap shim invokes it with interrupts
// still masked.
//
//go:redirect-from sched_setup_new_thread
func SetupNewThread() {
	currentCPU().finishRetire()
}

// threadStart is the first Go code a new thread executes. The bootstrap
// shim calls it with the thread ID after enabling interrupts.
//
//go:redirect-from sched_thread_start
func threadStart(id ThreadID) {
	t := lookupThread(id)
	if t == nil {
		kfmtPanicFn(errUnknownThread)
		return
	}

	t.entry(t.arg)
	threadExit()
}
