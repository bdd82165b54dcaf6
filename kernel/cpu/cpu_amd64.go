package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// SaveDisableInterrupts returns the current RFLAGS value and disables
// interrupt handling. The returned value must be passed to a matching
// RestoreInterrupts call.
func SaveDisableInterrupts() uint64

// RestoreInterrupts restores the interrupt-enable state captured by a
// previous call to SaveDisableInterrupts.
func RestoreInterrupts(flags uint64)

// InterruptsEnabled returns true if the IF bit is set in RFLAGS.
func InterruptsEnabled() bool

// Halt stops instruction execution until the next interrupt arrives.
func Halt()

// Pause emits a spin-loop hint to the CPU.
func Pause()

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ReadCR3 returns the value stored in the CR3 register.
func ReadCR3() uint64

// ReadCR4 returns the value stored in the CR4 register.
func ReadCR4() uint64

// ReadTSC returns the current value of the time-stamp counter.
func ReadTSC() uint64

// ReadMSR returns the value of the requested model-specific register.
func ReadMSR(reg uint32) uint64

// WriteMSR updates the requested model-specific register.
func WriteMSR(reg uint32, val uint64)

// StoreIDT writes the 10-byte IDTR descriptor to the supplied address.
func StoreIDT(addr uintptr)

// LoadIDT loads the IDTR descriptor from the supplied address.
func LoadIDT(addr uintptr)

// SetGSBase points the GS segment base register at a per-CPU data block.
// The kernel reserves GS for lock-free access to the current CPU slot.
func SetGSBase(addr uintptr)

// GSBase returns the current GS segment base.
func GSBase() uintptr

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// Model-specific registers consumed by the SMP bring-up code.
const (
	MSRAPICBase = uint32(0x1b)
	MSREFER     = uint32(0xc0000080)
	MSRGSBase   = uint32(0xc0000101)
	MSRTSCAux   = uint32(0xc0000103)
)

// EFERLMA is the long-mode-active bit of the EFER register. It must be
// cleared in the EFER image handed to an application processor; the CPU
// sets it again when paging re-enables long mode.
const EFERLMA = uint64(1 << 10)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// PortWriteByte writes a uint8 value to the requested port.
func PortWriteByte(port uint16, val uint8)

// PortWriteWord writes a uint16 value to the requested port.
func PortWriteWord(port uint16, val uint16)

// PortWriteDword writes a uint32 value to the requested port.
func PortWriteDword(port uint16, val uint32)

// PortReadByte reads a uint8 value from the requested port.
func PortReadByte(port uint16) uint8

// PortReadWord reads a uint16 value from the requested port.
func PortReadWord(port uint16) uint16

// PortReadDword reads a uint32 value from the requested port.
func PortReadDword(port uint16) uint32
