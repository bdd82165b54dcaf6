package kmain

import (
	"maystorm/device/acpi/madt"
	"maystorm/device/apic"
	_ "maystorm/device/uart"
	"maystorm/kernel"
	"maystorm/kernel/bootinfo"
	"maystorm/kernel/gate"
	"maystorm/kernel/hal"
	"maystorm/kernel/kfmt"
	"maystorm/kernel/mm"
	"maystorm/kernel/sched"
	"maystorm/kernel/smp"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoResolver    = &kernel.Error{Module: "kmain", Message: "no ACPI table resolver registered"}
	errNoAllocators  = &kernel.Error{Module: "kmain", Message: "memory manager not registered"}

	inventory madt.Inventory
)

// Kmain is the only Go symbol that is visible (exported) from the entry
// stub. The UEFI boot loader has already switched the machine to long mode
// with identity paging and a compact GDT/IDT; the stub forwards the
// physical address of the boot-info block.
//
// Kmain is not expected to return. If it does, the entry stub halts the
// CPU.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	bootinfo.SetInfoPtr(bootInfoPtr)

	gate.Init()
	hal.InitConsole()

	// The paged/slab memory manager and the ACPI table subsystem live
	// outside this core; both register themselves from their package
	// init before Kmain runs.
	if !mm.Ready() {
		panic(errNoAllocators)
	}
	resolver := hal.TableResolver()
	if resolver == nil {
		panic(errNoResolver)
	}
	if err := madt.Enumerate(resolver, &inventory); err != nil {
		panic(err)
	}
	apic.SetInventory(&inventory)

	hal.DetectHardware()

	// One scheduler tick per millisecond of calibrated TSC time.
	sched.SetTickPeriod(apic.TSCTicksPerUS() * 1000)
	sched.SetRescheduleIPI(func(apicID uint8) {
		apic.SendIPI(apicID, uint8(gate.RescheduleIPI))
	})
	apic.SetTickHandler(sched.Tick)
	sched.InstallPanicHook()

	maxCPUs := len(inventory.Processors())
	if maxCPUs > sched.MaxCPU {
		maxCPUs = sched.MaxCPU
	}
	if err := smp.Start(smp.Config{
		MaxCPUs:          maxCPUs,
		BroadcastInit:    apic.BroadcastInit,
		BroadcastStartup: apic.BroadcastStartup,
		CurrentAPICID:    apic.CurrentAPICID,
		InitAPLAPIC:      apic.InitAP,
		BusyWait:         apic.BusyWait,
	}); err != nil {
		panic(err)
	}

	apic.StartTimer()
	sched.Start(kernelMain, 0)

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// kernelMain is the first schedulable thread. Later initialization (window
// system, HID, file system, user personalities) hangs off it; the core
// just reports that the machine is up.
func kernelMain(_ uintptr) {
	kfmt.Printf("[kmain] scheduler online, %d CPU(s), %d thread(s)\n",
		sched.NumActiveCPUs(), sched.NumThreads())
}
