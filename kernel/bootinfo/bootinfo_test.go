package bootinfo

import (
	"testing"
	"unsafe"
)

func TestBootInfoAccess(t *testing.T) {
	defer SetInfoPtr(0)

	if Get() != nil {
		t.Fatal("expected Get to return nil before SetInfoPtr")
	}

	regions := [2]MemoryRegion{
		{PhysAddr: 0x0, Length: 0x9f000, Kind: MemoryAvailable},
		{PhysAddr: 0x100000, Length: 0x3ff00000, Kind: MemoryAvailable},
	}

	bi := BootInfo{
		MemoryMapAddr:  uint64(uintptr(unsafe.Pointer(&regions[0]))),
		MemoryMapCount: 2,
		ACPIRSDPAddr:   0xe0000,
		FB: Framebuffer{
			PhysAddr: 0x80000000,
			Width:    1280,
			Height:   720,
			Stride:   1280,
		},
	}
	SetInfoPtr(uintptr(unsafe.Pointer(&bi)))

	got := Get()
	if got == nil {
		t.Fatal("expected Get to return the boot info block")
	}
	if got.ACPIRSDPAddr != 0xe0000 {
		t.Errorf("expected RSDP address e0000; got %x", got.ACPIRSDPAddr)
	}

	mm := got.MemoryMap()
	if len(mm) != 2 {
		t.Fatalf("expected 2 memory regions; got %d", len(mm))
	}
	if mm[1].PhysAddr != 0x100000 || mm[1].Kind != MemoryAvailable {
		t.Errorf("unexpected second region: %+v", mm[1])
	}
}
