package smp

import (
	"sync/atomic"

	"maystorm/kernel"
	"maystorm/kernel/cpu"
	"maystorm/kernel/kfmt"
	"maystorm/kernel/mm"
	"maystorm/kernel/sched"
)

const (
	// apStackPages is the per-AP bring-up stack size (16 KiB).
	apStackPages = uintptr(4)

	// activationTimeoutMS bounds how long the BSP waits for the APs to
	// report in before declaring the bring-up failed.
	activationTimeoutMS = 200

	// activationPollMS is the nap between rendezvous polls.
	activationPollMS = 5
)

var (
	errAPTimeout   = &kernel.Error{Module: "smp", Message: "application processor failed to activate"}
	errBadConfig   = &kernel.Error{Module: "smp", Message: "incomplete bring-up configuration"}
	errNoTrampPage = &kernel.Error{Module: "smp", Message: "no real-mode page for the trampoline"}

	// apStalled holds the APs between self-registration and TSC-base
	// recording. The BSP records its own base first, then clears the
	// flag; each AP records its base immediately on observing the clear,
	// which keeps the cross-CPU TSC skew to the propagation delay of one
	// store.
	apStalled uint32

	// cfg is the bring-up configuration captured by Start for use by the
	// AP startup path.
	cfg Config

	// Mocked by tests.
	readCR3Fn         = cpu.ReadCR3
	readCR4Fn         = cpu.ReadCR4
	readMSRFn         = cpu.ReadMSR
	readTSCFn         = cpu.ReadTSC
	storeIDTFn        = cpu.StoreIDT
	haltFn            = cpu.Halt
	memcopyFn         = kernel.Memcopy
	smpInfoFn         = smpInfoAt
	idleLoopFn        = sched.IdleLoop
	trampolineStartFn = trampolineStart
	trampolineSizeFn  = trampolineSize
	start64OffsetFn   = start64Offset
	apStartupAddrFn   = apStartupAddr
)

// Config carries the collaborators the bring-up protocol drives. The local
// APIC operations are injected by the platform init code so this package
// stays independent of the driver's probe lifecycle.
type Config struct {
	// MaxCPUs is the enabled processor count from the MADT, clamped to
	// the scheduler's capacity by the caller.
	MaxCPUs int

	// BroadcastInit sends INIT to all-excluding-self.
	BroadcastInit func()

	// BroadcastStartup sends a Startup IPI with the supplied vector to
	// all-excluding-self.
	BroadcastStartup func(vector uint8)

	// CurrentAPICID reads the calling CPU's physical APIC ID.
	CurrentAPICID func() uint8

	// InitAPLAPIC software-enables the calling AP's local APIC and
	// starts its preemption timer.
	InitAPLAPIC func()

	// BusyWait delays the caller for at least the supplied number of
	// microseconds without relying on interrupts.
	BusyWait func(us uint64)
}

func (c *Config) valid() bool {
	return c.MaxCPUs >= 1 &&
		c.BroadcastInit != nil &&
		c.BroadcastStartup != nil &&
		c.CurrentAPICID != nil &&
		c.InitAPLAPIC != nil &&
		c.BusyWait != nil
}

// Start executes the SMP bring-up protocol on the BSP. On return every
// reserved CPU slot is active, logical indices are sorted by physical APIC
// ID, the BSP's TSC base is recorded and the APs have been released to
// record their own. A processor that fails to activate
// within the timeout is fatal: the kernel does not run degraded.
func Start(c Config) *kernel.Error {
	if !c.valid() {
		return errBadConfig
	}
	cfg = c

	if err := sched.ReserveCPUs(c.MaxCPUs); err != nil {
		return err
	}
	bsp, err := sched.RegisterCPU(c.CurrentAPICID())
	if err != nil {
		return err
	}

	atomic.StoreUint32(&apStalled, 1)

	vector, err := prepare(c)
	if err != nil {
		return err
	}

	// Double SIPI is required for conformance with older hardware; the
	// duplicate is idempotent because the APs have left real mode by the
	// time it arrives.
	c.BroadcastInit()
	c.BusyWait(10_000)
	c.BroadcastStartup(vector)
	c.BusyWait(200)
	c.BroadcastStartup(vector)

	if err := rendezvous(c); err != nil {
		return err
	}

	sched.SortCPUsByAPICID()

	// TSC synchronization point: BSP base first, then release the APs.
	bsp.SetTSCBase(readTSCFn())
	atomic.StoreUint32(&apStalled, 0)

	kfmt.Printf("[smp] %d processor(s) online\n", sched.NumActiveCPUs())
	return nil
}

// prepare publishes the SMPINFO block, copies the real-mode payload to a
// page below 1 MiB and allocates the per-AP bring-up stacks. It returns the
// SIPI vector identifying the trampoline page.
func prepare(c Config) (uint8, *kernel.Error) {
	trampPage, err := mm.AllocLowBlock()
	if err != nil {
		return 0, err
	}
	if trampPage >= 1<<20 || trampPage&(mm.PageSize-1) != 0 {
		return 0, errNoTrampPage
	}

	stackBase, err := mm.AllocBlock(apStackPages * uintptr(c.MaxCPUs))
	if err != nil {
		return 0, err
	}

	info := smpInfoFn(SMPInfoAddr)
	info.NextCore = 1
	info.MaxCPU = uint16(c.MaxCPUs)
	info.StackChunkSize = uint32(apStackPages * mm.PageSize)
	info.StackBase = uint64(stackBase)
	info.CR3 = readCR3Fn()
	info.CR4 = readCR4Fn()
	info.EFER = readMSRFn(cpu.MSREFER) &^ cpu.EFERLMA
	storeIDTFn(SMPInfoAddr + info.idtrOffset())
	info.gdtrInit(SMPInfoAddr)
	info.Start64Offset = uint32(trampPage + start64OffsetFn())
	info.Start64Selector = selCode64
	info.APStartup = uint64(apStartupAddrFn())

	memcopyFn(trampPage, trampolineStartFn(), trampolineSizeFn())

	return uint8(trampPage >> mm.PageShift), nil
}

// rendezvous polls the activation count until every AP has registered or
// the timeout expires.
func rendezvous(c Config) *kernel.Error {
	for waited := 0; ; waited += activationPollMS {
		if sched.NumActiveCPUs() == c.MaxCPUs {
			return nil
		}
		if waited >= activationTimeoutMS {
			kfmt.Printf("[smp] %d of %d processors responded\n",
				sched.NumActiveCPUs(), c.MaxCPUs)
			return errAPTimeout
		}
		c.BusyWait(activationPollMS * 1000)
	}
}

// APMain is the first Go code an application processor runs. The AP
// trampoline has switched the processor to long mode, loaded the IDT and
// moved onto this AP's bring-up stack before calling it.
//
//go:redirect-from smp_ap_main
func APMain() {
	c, err := sched.RegisterCPU(cfg.CurrentAPICID())
	if err != nil {
		// Late or surplus processor: park it. The bring-up either timed
		// out already or never handed this CPU a slot.
		for {
			haltFn()
		}
	}

	cfg.InitAPLAPIC()

	for atomic.LoadUint32(&apStalled) != 0 {
		cpu.Pause()
	}
	c.SetTSCBase(readTSCFn())

	idleLoopFn()
}

// trampolineStart returns the link-time address of the real-mode payload in
// arch/x86_64/asm/rt0_smp_trampoline.asm.
func trampolineStart() uintptr

// trampolineSize returns the payload size in bytes. It is always below one
// page.
func trampolineSize() uintptr

// start64Offset returns the offset of the START64 shim inside the payload.
func start64Offset() uintptr

// apStartupAddr returns the address of the AP_STARTUP assembly entry that
// sets up the bring-up stack and calls APMain.
func apStartupAddr() uintptr
