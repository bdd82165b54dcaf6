// Package madt extracts the processor inventory from the ACPI Multiple APIC
// Description Table. The rest of the kernel consumes only the ordered list
// of local-APIC entries produced here; full ACPI table management lives
// outside this core and hands us the MADT through a table.Resolver.
package madt

import (
	"unsafe"

	"maystorm/device/acpi/table"
	"maystorm/kernel"
)

// MaxProcessors bounds the number of local-APIC entries the kernel honors;
// additional entries are ignored.
const MaxProcessors = 64

const (
	entryTypeLocalAPIC     = 0
	entryTypeIOAPIC        = 1
	entryTypeOverride      = 2
	localAPICFlagEnabled   = 1 << 0
	localAPICFlagOnlineCap = 1 << 1
)

var errMissingMADT = &kernel.Error{Module: "acpi_madt", Message: "MADT (APIC) table not present"}

// header is the MADT-specific header that follows the standard SDT header.
type header struct {
	table.SDTHeader
	LocalAPICAddr uint32
	Flags         uint32
}

// entryHeader prefixes every interrupt controller structure in the MADT.
type entryHeader struct {
	Type   uint8
	Length uint8
}

// localAPICEntry describes one processor's local APIC (structure type 0).
type localAPICEntry struct {
	entryHeader
	ACPIProcessorID uint8
	APICID          uint8
	Flags           uint32
}

// ioAPICEntry describes one IO-APIC (structure type 1).
type ioAPICEntry struct {
	entryHeader
	ID      uint8
	_       uint8
	Addr    uint32
	GSIBase uint32
}

// Processor describes one logical processor reported by the MADT.
type Processor struct {
	// ACPIID is the processor's ACPI UID.
	ACPIID uint8

	// APICID is the processor's physical local-APIC ID.
	APICID uint8
}

// IOAPIC describes one IO-APIC reported by the MADT.
type IOAPIC struct {
	// Addr is the physical base address of the IO-APIC register window.
	Addr uintptr

	// GSIBase is the first global system interrupt this IO-APIC serves.
	GSIBase uint32
}

// maxIOAPICs bounds the number of IO-APIC entries the kernel honors.
const maxIOAPICs = 4

// Inventory is the processor and interrupt-controller list handed to the
// APIC driver and the SMP bring-up code.
type Inventory struct {
	// LocalAPICAddr is the physical base address of each CPU's local APIC.
	LocalAPICAddr uintptr

	// HasLegacyPICs is true when the platform also wires the dual-8259
	// PICs which must be masked before the IO-APICs take over.
	HasLegacyPICs bool

	procs    [MaxProcessors]Processor
	numProcs int

	ioapics    [maxIOAPICs]IOAPIC
	numIOAPICs int
}

// Processors returns the enabled processors in MADT declaration order. The
// first entry is the bootstrap processor.
func (inv *Inventory) Processors() []Processor {
	return inv.procs[:inv.numProcs]
}

// IOAPICs returns the IO-APICs in MADT declaration order.
func (inv *Inventory) IOAPICs() []IOAPIC {
	return inv.ioapics[:inv.numIOAPICs]
}

// Enumerate locates the MADT through the supplied resolver and collects the
// enabled processor entries. Entries flagged disabled and entries beyond
// MaxProcessors are skipped.
func Enumerate(resolver table.Resolver, inv *Inventory) *kernel.Error {
	sdt := resolver.LookupTable("APIC")
	if sdt == nil {
		return errMissingMADT
	}

	madt := (*header)(unsafe.Pointer(sdt))
	inv.LocalAPICAddr = uintptr(madt.LocalAPICAddr)
	inv.HasLegacyPICs = madt.Flags&1 != 0
	inv.numProcs = 0

	cur := uintptr(unsafe.Pointer(sdt)) + unsafe.Sizeof(header{})
	end := uintptr(unsafe.Pointer(sdt)) + uintptr(sdt.Length)
	for cur < end {
		eh := (*entryHeader)(unsafe.Pointer(cur))
		if eh.Length == 0 {
			break
		}

		switch {
		case eh.Type == entryTypeLocalAPIC && inv.numProcs < MaxProcessors:
			lapic := (*localAPICEntry)(unsafe.Pointer(cur))
			if lapic.Flags&(localAPICFlagEnabled|localAPICFlagOnlineCap) != 0 {
				inv.procs[inv.numProcs] = Processor{
					ACPIID: lapic.ACPIProcessorID,
					APICID: lapic.APICID,
				}
				inv.numProcs++
			}
		case eh.Type == entryTypeIOAPIC && inv.numIOAPICs < maxIOAPICs:
			ioapic := (*ioAPICEntry)(unsafe.Pointer(cur))
			inv.ioapics[inv.numIOAPICs] = IOAPIC{
				Addr:    uintptr(ioapic.Addr),
				GSIBase: ioapic.GSIBase,
			}
			inv.numIOAPICs++
		}

		cur += uintptr(eh.Length)
	}

	return nil
}
