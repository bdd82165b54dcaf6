// Package mm defines the narrow interface through which the scheduler and
// the SMP bring-up code consume the kernel's memory manager. The actual
// paged large-block and slab allocators live outside this core; they attach
// themselves here at boot via the Set*Allocator registration calls.
package mm

import (
	"math"

	"maystorm/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

var (
	errNoAllocator = &kernel.Error{Module: "mm", Message: "no allocator registered"}

	// blockAllocator points to an allocator function registered using
	// SetBlockAllocator. It reserves a run of physically contiguous,
	// identity-mapped pages and returns the address of the first one.
	blockAllocator BlockAllocatorFn

	// blockFreer releases a block previously handed out by the block
	// allocator.
	blockFreer BlockFreeFn

	// lowBlockAllocator reserves a single page-aligned page below 1 MiB.
	// The SMP bring-up code uses it for the real-mode trampoline page.
	lowBlockAllocator LowBlockAllocatorFn
)

// BlockAllocatorFn is a function that can allocate a run of pageCount
// physically contiguous, zeroed pages.
type BlockAllocatorFn func(pageCount uintptr) (uintptr, *kernel.Error)

// BlockFreeFn is a function that releases a page run allocated by a
// BlockAllocatorFn.
type BlockFreeFn func(addr, pageCount uintptr)

// LowBlockAllocatorFn is a function that can allocate a single zeroed,
// 4 KiB-aligned page below the 1 MiB physical boundary.
type LowBlockAllocatorFn func() (uintptr, *kernel.Error)

// SetBlockAllocator registers the allocator pair used for page-run
// allocations (thread stacks, per-AP stack chunks).
func SetBlockAllocator(allocFn BlockAllocatorFn, freeFn BlockFreeFn) {
	blockAllocator = allocFn
	blockFreer = freeFn
}

// SetLowBlockAllocator registers the allocator used for real-mode reachable
// pages.
func SetLowBlockAllocator(allocFn LowBlockAllocatorFn) {
	lowBlockAllocator = allocFn
}

// Ready returns true once both allocators have been registered. Boot code
// checks it before any component that needs memory runs.
func Ready() bool {
	return blockAllocator != nil && lowBlockAllocator != nil
}

// AllocBlock reserves a run of pageCount physically contiguous zeroed pages
// using the registered block allocator and returns its address.
func AllocBlock(pageCount uintptr) (uintptr, *kernel.Error) {
	if blockAllocator == nil {
		return 0, errNoAllocator
	}
	return blockAllocator(pageCount)
}

// FreeBlock releases a page run previously returned by AllocBlock.
func FreeBlock(addr, pageCount uintptr) {
	if blockFreer != nil {
		blockFreer(addr, pageCount)
	}
}

// AllocLowBlock reserves a single zeroed page below 1 MiB.
func AllocLowBlock() (uintptr, *kernel.Error) {
	if lowBlockAllocator == nil {
		return 0, errNoAllocator
	}
	return lowBlockAllocator()
}
