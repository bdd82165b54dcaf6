package hal

import (
	"bytes"
	"io"
	"sort"

	"maystorm/device"
	"maystorm/device/acpi/table"
	"maystorm/kernel/kfmt"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// activeConsole is the io.Writer that kfmt output is routed to.
	activeConsole io.Writer

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer

	// tableResolver is the ACPI table lookup service registered by the
	// platform's ACPI subsystem, which lives outside this core.
	tableResolver table.Resolver
)

// SetTableResolver registers the ACPI table lookup service.
func SetTableResolver(r table.Resolver) {
	tableResolver = r
}

// TableResolver returns the registered ACPI table lookup service or nil if
// the platform has not provided one.
func TableResolver() table.Resolver {
	return tableResolver
}

// ActiveConsole returns the io.Writer serving as the kernel console.
func ActiveConsole() io.Writer {
	return devices.activeConsole
}

// InitConsole probes only the early drivers so diagnostic output becomes
// visible before the rest of hardware detection runs. The first
// successfully initialized driver that implements io.Writer becomes the
// kfmt output sink.
func InitConsole() {
	drivers := device.DriverList()
	sort.Sort(drivers)

	var early device.DriverInfoList
	for _, info := range drivers {
		if info.Order <= device.DetectOrderEarly {
			early = append(early, info)
		}
	}
	probe(early)
}

// DetectHardware probes for hardware devices and initializes the
// appropriate drivers. Drivers already initialized by InitConsole are not
// probed again.
func DetectHardware() {
	drivers := device.DriverList()
	sort.Sort(drivers)

	var remaining device.DriverInfoList
	for _, info := range drivers {
		if info.Order > device.DetectOrderEarly {
			remaining = append(remaining, info)
		}
	}
	probe(remaining)
}

// probe executes the probe function for each driver and initializes every
// driver that reports its hardware present.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		if cons, ok := drv.(io.Writer); ok && devices.activeConsole == nil {
			devices.activeConsole = cons
			kfmt.SetOutputSink(cons)
			w.Sink = cons
		}

		kfmt.Fprintf(&w, "initialized\n")
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}
