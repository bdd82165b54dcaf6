package madt

import (
	"testing"
	"unsafe"

	"maystorm/device/acpi/table"
)

type fakeResolver struct {
	tableAddr *table.SDTHeader
}

func (r *fakeResolver) LookupTable(name string) *table.SDTHeader {
	if name != "APIC" || r.tableAddr == nil {
		return nil
	}
	return r.tableAddr
}

// buildMADT assembles a fake MADT holding the supplied local-APIC entries.
func buildMADT(buf []byte, entries []localAPICEntry) *table.SDTHeader {
	hdrLen := int(unsafe.Sizeof(header{}))
	total := hdrLen + len(entries)*int(unsafe.Sizeof(localAPICEntry{}))

	hdr := (*header)(unsafe.Pointer(&buf[0]))
	copy(hdr.Signature[:], "APIC")
	hdr.Length = uint32(total)
	hdr.LocalAPICAddr = 0xfee00000
	hdr.Flags = 1

	cur := uintptr(unsafe.Pointer(&buf[0])) + uintptr(hdrLen)
	for _, e := range entries {
		e.Type = entryTypeLocalAPIC
		e.Length = uint8(unsafe.Sizeof(localAPICEntry{}))
		*(*localAPICEntry)(unsafe.Pointer(cur)) = e
		cur += unsafe.Sizeof(localAPICEntry{})
	}

	return &hdr.SDTHeader
}

func TestEnumerate(t *testing.T) {
	buf := make([]byte, 512)
	sdt := buildMADT(buf, []localAPICEntry{
		{ACPIProcessorID: 0, APICID: 0, Flags: localAPICFlagEnabled},
		{ACPIProcessorID: 1, APICID: 2, Flags: localAPICFlagEnabled},
		// disabled entry must be skipped
		{ACPIProcessorID: 2, APICID: 4, Flags: 0},
		// online-capable counts as usable
		{ACPIProcessorID: 3, APICID: 6, Flags: localAPICFlagOnlineCap},
	})

	var inv Inventory
	if err := Enumerate(&fakeResolver{tableAddr: sdt}, &inv); err != nil {
		t.Fatalf("Enumerate returned error: %v", err)
	}

	if inv.LocalAPICAddr != 0xfee00000 {
		t.Errorf("expected local APIC address fee00000; got %x", inv.LocalAPICAddr)
	}
	if !inv.HasLegacyPICs {
		t.Error("expected legacy PIC flag to be set")
	}

	procs := inv.Processors()
	if len(procs) != 3 {
		t.Fatalf("expected 3 enabled processors; got %d", len(procs))
	}
	expAPICIDs := []uint8{0, 2, 6}
	for i, exp := range expAPICIDs {
		if procs[i].APICID != exp {
			t.Errorf("expected processor %d to have APIC ID %d; got %d", i, exp, procs[i].APICID)
		}
	}
}

func TestEnumerateIOAPIC(t *testing.T) {
	buf := make([]byte, 512)

	hdrLen := unsafe.Sizeof(header{})
	hdr := (*header)(unsafe.Pointer(&buf[0]))
	copy(hdr.Signature[:], "APIC")
	hdr.LocalAPICAddr = 0xfee00000

	entry := (*ioAPICEntry)(unsafe.Pointer(uintptr(unsafe.Pointer(&buf[0])) + hdrLen))
	entry.Type = entryTypeIOAPIC
	entry.Length = uint8(unsafe.Sizeof(ioAPICEntry{}))
	entry.ID = 1
	entry.Addr = 0xfec00000
	entry.GSIBase = 0
	hdr.Length = uint32(hdrLen + unsafe.Sizeof(ioAPICEntry{}))

	var inv Inventory
	if err := Enumerate(&fakeResolver{tableAddr: &hdr.SDTHeader}, &inv); err != nil {
		t.Fatalf("Enumerate returned error: %v", err)
	}

	ioapics := inv.IOAPICs()
	if len(ioapics) != 1 {
		t.Fatalf("expected 1 IO-APIC; got %d", len(ioapics))
	}
	if ioapics[0].Addr != 0xfec00000 || ioapics[0].GSIBase != 0 {
		t.Errorf("unexpected IO-APIC entry: %+v", ioapics[0])
	}
}

func TestEnumerateMissingTable(t *testing.T) {
	var inv Inventory
	if err := Enumerate(&fakeResolver{}, &inv); err != errMissingMADT {
		t.Fatalf("expected errMissingMADT; got %v", err)
	}
}
