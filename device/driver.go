package device

import (
	"io"

	"maystorm/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. If the driver init code
	// needs to log some output, it can use the supplied io.Writer in
	// conjunction with a call to kfmt.Fprintf.
	DriverInit(io.Writer) *kernel.Error
}

// ProbeFn is a function that scans for the presence of a particular
// piece of hardware and returns a driver for it.
type ProbeFn func() Driver

// DetectOrder specifies when each driver's probe function will be invoked
// by the hardware detection code.
type DetectOrder int

const (
	// DetectOrderEarly drivers are probed before anything else. The debug
	// console belongs here so later probes can log their progress.
	DetectOrderEarly DetectOrder = -100

	// DetectOrderBeforeACPI drivers are probed before the ACPI tables are
	// consulted.
	DetectOrderBeforeACPI DetectOrder = -50

	// DetectOrderACPI drivers depend on parsed ACPI table contents.
	DetectOrderACPI DetectOrder = 0

	// DetectOrderLast drivers are probed at the end of the detection
	// sequence.
	DetectOrderLast DetectOrder = 100
)

// DriverInfo describes a driver registered with the hardware detection code.
type DriverInfo struct {
	// Order defines when the driver's probe function is invoked.
	Order DetectOrder

	// Probe checks for the presence of the device handled by this driver.
	Probe ProbeFn
}

// DriverInfoList is a list of registered drivers that implements
// sort.Interface.
type DriverInfoList []*DriverInfo

// Len returns the number of driver entries.
func (l DriverInfoList) Len() int { return len(l) }

// Swap exchanges 2 entries in the list.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

// Less reports whether entry i must be probed before entry j.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

var registeredDrivers DriverInfoList

// RegisterDriver adds a driver to the list of drivers probed by the hardware
// detection code. Each driver package registers itself via an init function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
