package hal

import (
	"io"
	"testing"

	"maystorm/device"
	"maystorm/kernel"
	"maystorm/kernel/kfmt"
)

type testDriver struct {
	name        string
	initCalled  bool
	initErr     *kernel.Error
	isConsole   bool
	consoleData []byte
}

func (d *testDriver) DriverName() string                 { return d.name }
func (d *testDriver) DriverVersion() (a, b, c uint16)    { return 0, 0, 1 }
func (d *testDriver) DriverInit(io.Writer) *kernel.Error { d.initCalled = true; return d.initErr }

type testConsole struct {
	testDriver
}

func (d *testConsole) Write(p []byte) (int, error) {
	d.consoleData = append(d.consoleData, p...)
	return len(p), nil
}

func resetHALState() {
	devices = managedDevices{}
	tableResolver = nil
	kfmt.SetOutputSink(nil)
}

func TestProbeOrderAndConsoleAttachment(t *testing.T) {
	defer resetHALState()
	resetHALState()

	cons := &testConsole{testDriver{name: "console", isConsole: true}}
	late := &testDriver{name: "late"}
	missing := false

	list := device.DriverInfoList{
		{Order: device.DetectOrderACPI, Probe: func() device.Driver { return late }},
		{Order: device.DetectOrderEarly, Probe: func() device.Driver { return cons }},
		{Order: device.DetectOrderLast, Probe: func() device.Driver {
			missing = true
			return nil
		}},
	}

	probe(list)

	if !cons.initCalled || !late.initCalled {
		t.Fatal("expected every present driver to be initialized")
	}
	if !missing {
		t.Fatal("expected the absent driver's probe to run")
	}
	if ActiveConsole() != io.Writer(cons) {
		t.Fatal("expected the console driver to become the active console")
	}

	// Output flows to the attached console, with the driver prefix on
	// init lines.
	kfmt.Printf("hello\n")
	if got := string(cons.consoleData); got == "" {
		t.Fatal("expected console output after attachment")
	}
}

func TestProbeSkipsFailedDrivers(t *testing.T) {
	defer resetHALState()
	resetHALState()

	bad := &testDriver{
		name:    "bad",
		initErr: &kernel.Error{Module: "bad", Message: "no such hardware"},
	}

	probe(device.DriverInfoList{
		{Order: device.DetectOrderEarly, Probe: func() device.Driver { return bad }},
	})

	if len(devices.activeDrivers) != 0 {
		t.Fatal("expected a failed driver to stay inactive")
	}
}

func TestTableResolverRegistration(t *testing.T) {
	defer resetHALState()
	resetHALState()

	if TableResolver() != nil {
		t.Fatal("expected no resolver before registration")
	}
	SetTableResolver(nil)
}
