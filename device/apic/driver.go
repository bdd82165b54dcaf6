package apic

import (
	"io"

	"maystorm/device"
	"maystorm/device/acpi/madt"
	"maystorm/kernel"
	"maystorm/kernel/gate"
	"maystorm/kernel/kfmt"
)

// timerVector is the interrupt vector the preemption timer is delivered on.
// GSI 0 is owned by the local APIC timer on every CPU; chipset devices
// start at GSI 1.
const timerVector = uint8(gate.IRQBase)

// IRQHandler is a function invoked to service a hardware interrupt.
type IRQHandler func(irq uint8)

var (
	// inventory is the MADT-derived hardware description the driver
	// consumes. It is registered by the platform init code before the
	// HAL probes drivers.
	inventory *madt.Inventory

	ioapics    [4]ioapic
	numIOAPICs int

	irqHandlers [gate.MaxIRQ]IRQHandler

	// tickHandlerFn receives one call per local APIC timer expiry on the
	// CPU that took the interrupt. The scheduler installs its tick
	// accounting here.
	tickHandlerFn func()

	errUnhandledIRQ = &kernel.Error{Module: "apic", Message: "IRQ raised without a registered handler"}
)

// SetInventory hands the MADT processor and IO-APIC inventory to the driver.
// It must be called before the HAL runs the driver probes.
func SetInventory(inv *madt.Inventory) {
	inventory = inv
}

// SetTickHandler installs the function invoked on every preemption timer
// expiry.
func SetTickHandler(fn func()) {
	tickHandlerFn = fn
}

// Driver implements the device.Driver interface for the APIC pair.
type Driver struct {
	inv *madt.Inventory
}

// DriverName returns the name of the driver.
func (d *Driver) DriverName() string { return "apic" }

// DriverVersion returns the driver version.
func (d *Driver) DriverVersion() (uint16, uint16, uint16) { return 1, 0, 0 }

// DriverInit initializes the local APIC of the BSP, masks the legacy PICs,
// sets up the IO-APIC redirection tables and calibrates the preemption
// timer. The timer itself is started per-CPU: on the BSP by StartTimer, on
// each AP by InitAP.
func (d *Driver) DriverInit(w io.Writer) *kernel.Error {
	if d.inv.HasLegacyPICs {
		// Mask the dual 8259s; the IO-APICs take over delivery.
		portWriteByteFn(0xa1, 0xff)
		portWriteByteFn(0x21, 0xff)
	}

	initLAPIC(d.inv.LocalAPICAddr)

	numIOAPICs = 0
	for _, desc := range d.inv.IOAPICs() {
		if numIOAPICs == len(ioapics) {
			break
		}
		ioapics[numIOAPICs].init(desc)
		numIOAPICs++
	}

	calibrateTimers()

	gate.SetIRQDispatcher(HandleIRQ)
	gate.HandleInterrupt(gate.RescheduleIPI, 0, rescheduleIPIHandler)

	kfmt.Fprintf(w, "local APIC at %x, %d IO-APIC(s)\n", d.inv.LocalAPICAddr, numIOAPICs)
	kfmt.Fprintf(w, "timer: %d counts/tick, TSC: %d ticks/us\n", timerInitialCount, tscTicksPerUS)
	return nil
}

// StartTimer begins periodic preemption tick delivery on the calling CPU.
func StartTimer() {
	SetTimer(TimerPeriodic, timerVector, timerInitialCount)
}

// RegisterIRQ attaches a handler to the supplied GSI and unmasks it. GSI 0
// is reserved for the preemption timer.
func RegisterIRQ(irq uint8, handler IRQHandler) *kernel.Error {
	if irq == 0 || int(irq) >= gate.MaxIRQ {
		return errGSIOutOfRange
	}
	if irqHandlers[irq] != nil {
		return errGSIInUse
	}

	for i := 0; i < numIOAPICs; i++ {
		if io := &ioapics[i]; io.serves(uint32(irq)) {
			irqHandlers[irq] = handler
			io.route(uint32(irq), CurrentAPICID())
			return nil
		}
	}
	return errGSIOutOfRange
}

// MaskIRQ disables delivery of the supplied GSI.
func MaskIRQ(irq uint8) {
	for i := 0; i < numIOAPICs; i++ {
		if io := &ioapics[i]; io.serves(uint32(irq)) {
			io.mask(uint32(irq))
			return
		}
	}
}

// HandleIRQ routes a hardware interrupt to its registered handler. It is
// installed as the gate package's IRQ dispatcher. GSI 0 is the preemption
// timer: it is acknowledged first so the tick handler can trigger a context
// switch on its return path.
func HandleIRQ(irq uint8) {
	if irq == 0 {
		EOI()
		if tickHandlerFn != nil {
			tickHandlerFn()
		}
		return
	}

	if int(irq) < gate.MaxIRQ {
		if handler := irqHandlers[irq]; handler != nil {
			handler(irq)
			EOI()
			return
		}
	}

	MaskIRQ(irq)
	kfmt.Panic(errUnhandledIRQ)
}

// rescheduleIPIHandler acknowledges a cross-CPU reschedule request. The
// sender has already pushed the woken thread and set the reschedule-pending
// flag; the outermost interrupt return path performs the switch.
func rescheduleIPIHandler(_ *gate.Registers) {
	EOI()
}

func probeForAPIC() device.Driver {
	if inventory == nil || inventory.LocalAPICAddr == 0 {
		return nil
	}
	return &Driver{inv: inventory}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForAPIC,
	})
}
