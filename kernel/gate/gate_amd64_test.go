package gate

import (
	"bytes"
	"strings"
	"testing"
)

func TestRegisterDump(t *testing.T) {
	var buf bytes.Buffer

	regs := Registers{
		RAX: 0x1,
		R15: 0xf,
		CR2: 0xdeadbeef,
		RIP: 0xfeed,
		CS:  0x8,
	}
	regs.DumpTo(&buf)

	out := buf.String()
	for _, exp := range []string{
		"RAX =                1",
		"R15 =                f",
		"CR2 =         deadbeef",
		"RIP =             feed",
	} {
		if !strings.Contains(out, exp) {
			t.Errorf("expected dump to contain %q; got:\n%s", exp, out)
		}
	}
}

func TestCPUDefaultExceptionRouting(t *testing.T) {
	defer func() {
		exceptionHandlers = [256]func(*Registers){}
	}()

	var gotFrame *Registers
	exceptionHandlers[GPFException] = func(frame *Registers) { gotFrame = frame }

	frame := &Registers{Info: uint64(GPFException)}
	cpuDefaultException(frame)

	if gotFrame != frame {
		t.Fatal("expected the registered handler to receive the saved frame")
	}
}

func TestIRQDispatch(t *testing.T) {
	defer SetIRQDispatcher(nil)

	var gotIRQ uint8 = 0xff
	SetIRQDispatcher(func(irq uint8) { gotIRQ = irq })

	dispatchIRQ(7)
	if gotIRQ != 7 {
		t.Fatalf("expected IRQ 7 to be dispatched; got %d", gotIRQ)
	}

	// A missing dispatcher must not crash.
	SetIRQDispatcher(nil)
	dispatchIRQ(3)
}

func TestInt40Routing(t *testing.T) {
	defer func() {
		exceptionHandlers = [256]func(*Registers){}
	}()

	called := false
	exceptionHandlers[LegacySVC] = func(frame *Registers) { called = true }

	cpuInt40Handler(&Registers{Info: uint64(LegacySVC)})
	if !called {
		t.Fatal("expected the SVC handler to be invoked")
	}
}
