package uart

import "testing"

// fakePort emulates enough of a 16550 for the driver to talk to.
type fakePort struct {
	regs [8]uint8
	sent []uint8
}

func (f *fakePort) install() {
	portWriteByteFn = func(port uint16, val uint8) {
		reg := port - com1IOBase
		if reg == regData && f.regs[regLineCtrl]&0x80 == 0 {
			f.sent = append(f.sent, val)
			return
		}
		f.regs[reg] = val
	}
	portReadByteFn = func(port uint16) uint8 {
		reg := port - com1IOBase
		if reg == regLineStatus {
			return lineStatusTxEmpty
		}
		return f.regs[reg]
	}
}

func restorePortFns() {
	portWriteByteFn = origPortWrite
	portReadByteFn = origPortRead
}

var (
	origPortWrite = portWriteByteFn
	origPortRead  = portReadByteFn
)

func TestProbe(t *testing.T) {
	defer restorePortFns()

	var f fakePort
	f.install()

	drv := probeForComPort()
	if drv == nil {
		t.Fatal("expected probe to detect the fake COM port")
	}

	// A port that does not retain the scratch value must not be detected.
	portReadByteFn = func(port uint16) uint8 { return 0 }
	if probeForComPort() != nil {
		t.Fatal("expected probe to fail when the scratch register does not stick")
	}
}

func TestDriverInit(t *testing.T) {
	defer restorePortFns()

	var f fakePort
	f.install()

	c := &ComPort{ioBase: com1IOBase}
	if err := c.DriverInit(nil); err != nil {
		t.Fatalf("DriverInit returned error: %v", err)
	}

	if f.regs[regLineCtrl] != 0x03 {
		t.Errorf("expected 8N1 line control; got %x", f.regs[regLineCtrl])
	}
	if f.regs[regFIFOCtrl] != 0xc7 {
		t.Errorf("expected FIFOs enabled; got %x", f.regs[regFIFOCtrl])
	}
}

func TestWriteTranslatesNewlines(t *testing.T) {
	defer restorePortFns()

	var f fakePort
	f.install()

	c := &ComPort{ioBase: com1IOBase}
	n, err := c.Write([]byte("ab\nc"))
	if n != 4 || err != nil {
		t.Fatalf("expected Write to report 4 bytes with nil error; got %d, %v", n, err)
	}

	if exp, got := "ab\r\nc", string(f.sent); got != exp {
		t.Errorf("expected the port to send %q; got %q", exp, got)
	}
}
