package smp

import (
	"testing"
	"unsafe"
)

// The 16-bit payload in arch/x86_64/asm/rt0_smp_trampoline.asm hard-codes
// these offsets.
func TestSMPInfoLayoutMatchesPayload(t *testing.T) {
	var info SMPInfo

	specs := []struct {
		name string
		got  uintptr
		exp  uintptr
	}{
		{"NextCore", unsafe.Offsetof(info.NextCore), 0},
		{"MaxCPU", unsafe.Offsetof(info.MaxCPU), 2},
		{"StackChunkSize", unsafe.Offsetof(info.StackChunkSize), 4},
		{"StackBase", unsafe.Offsetof(info.StackBase), 8},
		{"CR3", unsafe.Offsetof(info.CR3), 16},
		{"CR4", unsafe.Offsetof(info.CR4), 24},
		{"EFER", unsafe.Offsetof(info.EFER), 32},
		{"IDTLimit", unsafe.Offsetof(info.IDTLimit), 46},
		{"IDTBase", unsafe.Offsetof(info.IDTBase), 48},
		{"Start64Offset", unsafe.Offsetof(info.Start64Offset), 56},
		{"Start64Selector", unsafe.Offsetof(info.Start64Selector), 60},
		{"APStartup", unsafe.Offsetof(info.APStartup), 64},
		{"GDTLimit", unsafe.Offsetof(info.GDTLimit), 78},
		{"GDTBase", unsafe.Offsetof(info.GDTBase), 80},
		{"GDT", unsafe.Offsetof(info.GDT), 88},
	}

	for _, spec := range specs {
		if spec.got != spec.exp {
			t.Errorf("SMPInfo.%s at offset %d; the payload expects %d", spec.name, spec.got, spec.exp)
		}
	}

	// The IDTR and GDTR descriptors must be contiguous limit+base pairs.
	if unsafe.Offsetof(info.IDTBase)-unsafe.Offsetof(info.IDTLimit) != 2 {
		t.Error("IDTLimit must immediately precede IDTBase")
	}
	if unsafe.Offsetof(info.GDTBase)-unsafe.Offsetof(info.GDTLimit) != 2 {
		t.Error("GDTLimit must immediately precede GDTBase")
	}
}

func TestGDTInit(t *testing.T) {
	var info SMPInfo
	info.gdtrInit(SMPInfoAddr)

	if info.GDT[0] != 0 {
		t.Error("expected a null descriptor in slot 0")
	}
	if info.GDT[selCode64>>3] != gdtCode64 {
		t.Errorf("expected the 64-bit code descriptor in slot %d", selCode64>>3)
	}
	if info.GDT[selData>>3] != gdtData {
		t.Errorf("expected the data descriptor in slot %d", selData>>3)
	}
	if info.GDTLimit != uint16(unsafe.Sizeof(info.GDT)-1) {
		t.Errorf("unexpected GDT limit %d", info.GDTLimit)
	}
	if exp := uint64(SMPInfoAddr + unsafe.Offsetof(info.GDT)); info.GDTBase != exp {
		t.Errorf("expected GDT base %x; got %x", exp, info.GDTBase)
	}
}
