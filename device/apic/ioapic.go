package apic

import (
	"unsafe"

	"maystorm/device/acpi/madt"
	"maystorm/kernel"
	"maystorm/kernel/gate"
	"maystorm/kernel/sync"
)

// IO-APIC indirect register access: the index register selects one of the
// 32-bit registers which is then read or written through the data window.
const (
	ioapicIndexOff = uintptr(0x00)
	ioapicDataOff  = uintptr(0x10)

	ioapicRegVersion   = uint8(0x01)
	ioapicRegRedirBase = uint8(0x10)

	redirMasked = uint32(1 << 16)
)

var (
	ioapicReadFn  = ioapicRead
	ioapicWriteFn = ioapicWrite

	errGSIOutOfRange = &kernel.Error{Module: "apic", Message: "GSI out of range"}
	errGSIInUse      = &kernel.Error{Module: "apic", Message: "GSI already has a handler"}
)

// ioapic describes one discovered IO-APIC.
type ioapic struct {
	base    uintptr
	gsiBase uint32
	entries uint32
	lock    sync.Spinlock
}

func ioapicRead(base uintptr, index uint8) uint32 {
	*(*uint32)(unsafe.Pointer(base + ioapicIndexOff)) = uint32(index)
	return *(*uint32)(unsafe.Pointer(base + ioapicDataOff))
}

func ioapicWrite(base uintptr, index uint8, val uint32) {
	*(*uint32)(unsafe.Pointer(base + ioapicIndexOff)) = uint32(index)
	*(*uint32)(unsafe.Pointer(base + ioapicDataOff)) = val
}

func (io *ioapic) read(index uint8) uint32 {
	io.lock.Acquire()
	val := ioapicReadFn(io.base, index)
	io.lock.Release()
	return val
}

func (io *ioapic) write(index uint8, val uint32) {
	io.lock.Acquire()
	ioapicWriteFn(io.base, index, val)
	io.lock.Release()
}

func redirIndexLow(entry uint32) uint8  { return ioapicRegRedirBase + uint8(entry)*2 }
func redirIndexHigh(entry uint32) uint8 { return ioapicRegRedirBase + uint8(entry)*2 + 1 }

// init discovers the redirection entry count of one IO-APIC and masks
// every entry.
func (io *ioapic) init(desc madt.IOAPIC) {
	io.base = desc.Addr
	io.gsiBase = desc.GSIBase
	io.entries = (io.read(ioapicRegVersion)>>16)&0xff + 1

	for entry := uint32(0); entry < io.entries; entry++ {
		io.write(redirIndexLow(entry), redirMasked)
	}
}

// route programs the redirection entry for the supplied GSI to deliver the
// matching vector to the supplied destination APIC ID and unmasks it.
func (io *ioapic) route(gsi uint32, destAPICID uint8) {
	entry := gsi - io.gsiBase
	io.write(redirIndexHigh(entry), uint32(destAPICID)<<24)
	io.write(redirIndexLow(entry), uint32(gate.IRQBase)+gsi)
}

// mask disables delivery for the supplied GSI.
func (io *ioapic) mask(gsi uint32) {
	entry := gsi - io.gsiBase
	io.write(redirIndexLow(entry), redirMasked)
}

// serves returns true when the supplied GSI falls within this IO-APIC's
// redirection window.
func (io *ioapic) serves(gsi uint32) bool {
	return gsi >= io.gsiBase && gsi < io.gsiBase+io.entries
}
