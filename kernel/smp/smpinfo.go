// Package smp brings the application processors online: it publishes the
// SMPINFO hand-off block in low memory, copies the real-mode trampoline
// below 1 MiB, drives the INIT/SIPI sequence through the local APIC,
// collects the self-registering APs, orders them by physical APIC ID and
// aligns their TSC bases before every processor drops into its idle thread.
package smp

import "unsafe"

// SMPInfoAddr is the well-known physical address of the SMPINFO block. It
// must stay below 1 MiB and within the first 64 KiB so the 16-bit payload
// can reach it with a zero segment base.
const SMPInfoAddr = uintptr(0x0800)

// Selectors into the minimal GDT carried inside SMPINFO. The layout is
// shared with the real-mode payload.
const (
	selCode32 = uint16(0x08)
	selData   = uint16(0x10)
	selCode64 = uint16(0x18)
)

// Minimal GDT descriptor images: flat 4 GiB 32-bit code, flat data and
// 64-bit code.
const (
	gdtCode32 = uint64(0x00cf9a000000ffff)
	gdtData   = uint64(0x00cf92000000ffff)
	gdtCode64 = uint64(0x00af9a000000ffff)
)

// SMPInfo is the control block handed from the BSP to the waking APs. Its
// layout is shared with the 16-bit payload in
// arch/x86_64/asm/rt0_smp_trampoline.asm and must not be reordered. Fields
// are read-only to the APs with the single exception of NextCore, which
// each AP bumps with a locked fetch-and-add to claim its logical ID.
type SMPInfo struct {
	// NextCore is the atomic logical-ID counter. The BSP initializes it
	// to 1: it occupies slot 0 itself.
	NextCore uint16

	// MaxCPU is the number of reserved CPU slots. An AP that draws an ID
	// at or beyond it parks itself in a halt loop.
	MaxCPU uint16

	// StackChunkSize is the per-AP bring-up stack size in bytes.
	StackChunkSize uint32

	// StackBase is the bottom of the AP stack area. AP n's stack top is
	// StackBase + n*StackChunkSize.
	StackBase uint64

	// CR3 is the BSP's page table root, entered by each AP before it
	// re-enables paging.
	CR3 uint64

	// CR4 is the BSP's CR4 image (PAE and friends).
	CR4 uint64

	// EFER is the BSP's EFER with the LMA bit cleared; the CPU sets LMA
	// again when paging re-activates long mode.
	EFER uint64

	// IDTLimit and IDTBase form the IDTR descriptor each AP loads once it
	// reaches 64-bit mode. IDTLimit must immediately precede IDTBase.
	IDTPad   [6]byte
	IDTLimit uint16
	IDTBase  uint64

	// Start64 is the 48-bit far pointer through which the trampoline
	// jumps into the BSP's 64-bit code segment.
	Start64Offset   uint32
	Start64Selector uint16
	_               uint16

	// APStartup is the 64-bit entry the START64 shim jumps to.
	APStartup uint64

	// GDTLimit and GDTBase form the GDTR descriptor for the minimal GDT
	// below. GDTLimit must immediately precede GDTBase.
	GDTPad   [6]byte
	GDTLimit uint16
	GDTBase  uint64

	// GDT is the minimal descriptor table: null, code32, data, code64.
	GDT [4]uint64
}

// smpInfoAt overlays the SMPInfo structure on the supplied physical
// address. Identity paging makes the physical address directly
// addressable.
func smpInfoAt(addr uintptr) *SMPInfo {
	return (*SMPInfo)(unsafe.Pointer(addr))
}

// idtrOffset returns the offset of the packed IDTR descriptor inside the
// block, used with cpu.StoreIDT.
func (info *SMPInfo) idtrOffset() uintptr {
	return unsafe.Offsetof(info.IDTLimit)
}

// gdtrInit points the GDTR descriptor at the embedded GDT and fills the
// descriptor table.
func (info *SMPInfo) gdtrInit(base uintptr) {
	info.GDT[0] = 0
	info.GDT[selCode32>>3] = gdtCode32
	info.GDT[selData>>3] = gdtData
	info.GDT[selCode64>>3] = gdtCode64
	info.GDTLimit = uint16(unsafe.Sizeof(info.GDT) - 1)
	info.GDTBase = uint64(base + unsafe.Offsetof(info.GDT))
}
