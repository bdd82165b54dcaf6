package kfmt

import (
	"bytes"
	"testing"
)

func TestFprintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no args", nil, "no args"},
		{"literal %%", nil, "literal %"},
		{"%s and %s", []interface{}{"foo", []byte("bar")}, "foo and bar"},
		{"%5s|", []interface{}{"ab"}, "   ab|"},
		{"%d", []interface{}{42}, "42"},
		{"%d", []interface{}{-42}, "-42"},
		{"%5d|", []interface{}{123}, "  123|"},
		{"%5d|", []interface{}{-123}, " -123|"},
		{"%x", []interface{}{uint32(0xbadf00d)}, "badf00d"},
		{"%8x", []interface{}{uint16(0xff)}, "000000ff"},
		{"%o", []interface{}{uint8(0o777 & 0xff)}, "377"},
		{"%t %t", []interface{}{true, false}, "true false"},
		{"%d", []interface{}{uint64(18446744073709551615)}, "18446744073709551615"},
		{"%d", []interface{}{"nan"}, "%!(WRONGTYPE)"},
		{"%d", nil, "(MISSING)"},
		{"%q", []interface{}{1}, "%!(NOVERB)%!(EXTRA)"},
		{"done", []interface{}{1}, "done%!(EXTRA)"},
	}

	var buf bytes.Buffer
	for specIndex, spec := range specs {
		buf.Reset()
		Fprintf(&buf, spec.format, spec.args...)
		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPrintfBeforeAndAfterSinkRegistration(t *testing.T) {
	defer func() {
		outputSink = nil
		earlyBuffer = ringBuffer{}
	}()
	outputSink = nil
	earlyBuffer = ringBuffer{}

	Printf("early %d\n", 1)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	Printf("late %d\n", 2)

	if exp, got := "early 1\nlate 2\n", buf.String(); got != exp {
		t.Errorf("expected %q; got %q", exp, got)
	}
}
