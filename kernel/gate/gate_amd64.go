// Package gate manages the interrupt descriptor table and the dispatch of
// exceptions, hardware interrupts and IPIs to Go handlers. The assembly
// trampolines behind the entry points save the full register file plus the
// data segment selectors and CR2, align the stack to 16 bytes and invoke the
// registered handler with a pointer to the saved frame.
package gate

import (
	"io"

	"maystorm/kernel/kfmt"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs.
type Registers struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RSI uint64
	RDI uint64
	RBP uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	R12 uint64
	R13 uint64
	R14 uint64
	R15 uint64

	// Data segment selectors at the time of the exception.
	DS uint64
	ES uint64
	FS uint64
	GS uint64

	// CR2 holds the faulting address for page faults; its value is
	// undefined for other exceptions.
	CR2 uint64

	// Info contains the interrupt vector number.
	Info uint64

	// ErrCode holds the CPU-pushed exception error code, or 0 for
	// vectors that do not produce one.
	ErrCode uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "DS  = %16x ES  = %16x\n", r.DS, r.ES)
	kfmt.Fprintf(w, "FS  = %16x GS  = %16x\n", r.FS, r.GS)
	kfmt.Fprintf(w, "CR2 = %16x ERR = %16x\n", r.CR2, r.ErrCode)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0x00)

	// Breakpoint occurs when the CPU executes an INT3 instruction.
	Breakpoint = InterruptNumber(0x03)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(0x06)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(0x07)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(0x08)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(0x0D)

	// PageFaultException occurs when a page directory table entry is not
	// present or when a privilege and/or RW protection check fails.
	PageFaultException = InterruptNumber(0x0E)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1.
	SIMDFloatingPointException = InterruptNumber(0x13)

	// LegacySVC is the software interrupt vector reserved for the legacy
	// system-call personality.
	LegacySVC = InterruptNumber(0x40)

	// IRQBase is the vector that GSI 0 maps to. GSIs up to MaxIRQ are
	// assigned consecutive vectors starting here.
	IRQBase = InterruptNumber(0x20)

	// RescheduleIPI is the vector used for cross-CPU reschedule requests.
	// Its handler only acknowledges the interrupt; the reschedule-pending
	// check on the outermost interrupt return path does the actual work.
	RescheduleIPI = InterruptNumber(0xFC)
)

// MaxIRQ is the number of GSI slots for which the gate package generates IRQ
// trampolines.
const MaxIRQ = 24

var (
	// irqDispatchFn routes a hardware interrupt to the interrupt
	// controller driver. It is registered by the APIC driver during its
	// initialization.
	irqDispatchFn func(irq uint8)

	// exceptionHandlers tracks the Go handlers attached to exception
	// vectors via HandleInterrupt.
	exceptionHandlers [256]func(*Registers)

	errUnhandledException = "gate: unhandled exception"
)

// Init runs the appropriate CPU-specific initialization code for enabling
// support for interrupt handling.
func Init() {
	installIDT()

	for _, vec := range []InterruptNumber{
		DivideByZero,
		Breakpoint,
		InvalidOpcode,
		DeviceNotAvailable,
		DoubleFault,
		GPFException,
		PageFaultException,
		SIMDFloatingPointException,
	} {
		HandleInterrupt(vec, 0, defaultExceptionHandler)
	}
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The value of the istOffset argument
// specifies the offset in the interrupt stack table (if 0 then IST is not
// used).
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	exceptionHandlers[intNumber] = handler
	enableGateEntry(intNumber, istOffset)
}

// SetIRQDispatcher registers the function that receives hardware interrupts
// for GSIs below MaxIRQ. The APIC driver installs apic.HandleIRQ here.
func SetIRQDispatcher(fn func(irq uint8)) {
	irqDispatchFn = fn
}

// cpuDefaultException is the C-callable entry point invoked by the exception
// trampolines with a pointer to the saved frame.
//
//go:redirect-from cpu_default_exception
func cpuDefaultException(frame *Registers) {
	handler := exceptionHandlers[uint8(frame.Info)]
	if handler == nil {
		handler = defaultExceptionHandler
	}
	handler(frame)
}

// cpuInt40Handler is the C-callable entry point for the legacy SVC vector.
//
//go:redirect-from cpu_int40_handler
func cpuInt40Handler(frame *Registers) {
	handler := exceptionHandlers[LegacySVC]
	if handler != nil {
		handler(frame)
	}
}

// dispatchIRQ is the C-callable entry point invoked by the IRQ trampolines
// after saving the caller-saved register set.
//
//go:redirect-from apic_handle_irq_entry
func dispatchIRQ(irq uint64) {
	if irqDispatchFn != nil {
		irqDispatchFn(uint8(irq))
	}
}

func defaultExceptionHandler(frame *Registers) {
	kfmt.Printf("\nexception %x raised at RIP %16x\n\n", frame.Info, frame.RIP)
	frame.DumpTo(kfmt.GetOutputSink())
	kfmt.Panic(errUnhandledException)
}

// installIDT populates idtDescriptor with the address of IDT and loads it to
// the CPU. All gate entries are initially marked as non-present and must be
// explicitly enabled via a call to enableGateEntry.
func installIDT()

// enableGateEntry marks the IDT entry for the supplied vector as present,
// pointing it at the generated trampoline and selecting an interrupt stack
// table entry when istOffset is non-zero.
func enableGateEntry(intNumber InterruptNumber, istOffset uint8)
