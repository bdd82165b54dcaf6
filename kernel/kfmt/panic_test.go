package kfmt

import (
	"bytes"
	"strings"
	"testing"

	"maystorm/kernel"
)

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = origHalt
		onPanicFn = nil
		outputSink = nil
		earlyBuffer = ringBuffer{}
	}()

	var (
		buf        bytes.Buffer
		halted     bool
		hookCalled bool
	)
	cpuHaltFn = func() { halted = true }
	SetOutputSink(&buf)
	SetPanicHook(func() { hookCalled = true })

	err := &kernel.Error{Module: "test", Message: "everything is on fire"}
	Panic(err)

	if !halted {
		t.Error("expected Panic to halt the CPU")
	}
	if !hookCalled {
		t.Error("expected Panic to invoke the registered panic hook")
	}
	out := buf.String()
	if !strings.Contains(out, "[test] unrecoverable error: everything is on fire") {
		t.Errorf("expected panic banner to contain the error; got %q", out)
	}
	if !strings.Contains(out, "kernel panic: system halted") {
		t.Errorf("expected panic banner; got %q", out)
	}
}

func TestPanicString(t *testing.T) {
	defer func() {
		cpuHaltFn = origHalt
		outputSink = nil
		earlyBuffer = ringBuffer{}
	}()

	var buf bytes.Buffer
	cpuHaltFn = func() {}
	SetOutputSink(&buf)

	Panic("runtime says no")

	if !strings.Contains(buf.String(), "[rt] unrecoverable error: runtime says no") {
		t.Errorf("expected rt panic banner; got %q", buf.String())
	}
}

var origHalt = cpuHaltFn
