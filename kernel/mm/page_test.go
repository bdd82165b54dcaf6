package mm

import (
	"testing"

	"maystorm/kernel"
)

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		addr uintptr
		exp  Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4097, Frame(1)},
		{0x100000, Frame(0x100)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.addr); got != spec.exp {
			t.Errorf("[spec %d] expected frame %d; got %d", specIndex, spec.exp, got)
		}
	}

	if InvalidFrame.Valid() {
		t.Error("expected InvalidFrame to be invalid")
	}
	if !Frame(1).Valid() {
		t.Error("expected frame 1 to be valid")
	}
	if got := Frame(2).Address(); got != 2*PageSize {
		t.Errorf("expected address %x; got %x", 2*PageSize, got)
	}
}

func TestAllocatorRegistration(t *testing.T) {
	defer func() {
		blockAllocator = nil
		blockFreer = nil
		lowBlockAllocator = nil
	}()

	if _, err := AllocBlock(1); err != errNoAllocator {
		t.Errorf("expected errNoAllocator; got %v", err)
	}
	if _, err := AllocLowBlock(); err != errNoAllocator {
		t.Errorf("expected errNoAllocator; got %v", err)
	}

	var (
		freedAddr, freedCount uintptr
		backing               [8 << PageShift]byte
	)
	base := uintptr(0x200000)
	_ = backing

	SetBlockAllocator(
		func(pageCount uintptr) (uintptr, *kernel.Error) { return base, nil },
		func(addr, pageCount uintptr) { freedAddr, freedCount = addr, pageCount },
	)
	SetLowBlockAllocator(func() (uintptr, *kernel.Error) { return 0x1000, nil })

	addr, err := AllocBlock(4)
	if err != nil || addr != base {
		t.Fatalf("expected AllocBlock to return %x with nil error; got %x, %v", base, addr, err)
	}
	FreeBlock(addr, 4)
	if freedAddr != base || freedCount != 4 {
		t.Errorf("expected FreeBlock(%x, 4); got FreeBlock(%x, %d)", base, freedAddr, freedCount)
	}

	lowAddr, err := AllocLowBlock()
	if err != nil || lowAddr != 0x1000 {
		t.Fatalf("expected AllocLowBlock to return 0x1000 with nil error; got %x, %v", lowAddr, err)
	}
}
