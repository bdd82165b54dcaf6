package sched

import (
	"io"

	"maystorm/kernel/kfmt"
)

// ThreadStats is a point-in-time snapshot of one thread's accounting.
type ThreadStats struct {
	ID        ThreadID
	Priority  Priority
	State     State
	HomeCPU   int32
	RunCount  uint64
	TickCount uint64
	Name      string
}

// Stats fills buf with snapshots of the live threads and returns the
// number of entries written.
func Stats(buf []ThreadStats) int {
	registry.lock.AcquireRead()
	defer registry.lock.ReleaseRead()

	n := 0
	for slot := 1; slot < maxThreads && n < len(buf); slot++ {
		t := registry.slots[slot]
		if t == nil {
			continue
		}
		buf[n] = ThreadStats{
			ID:        t.id,
			Priority:  t.priority,
			State:     t.getState(),
			HomeCPU:   t.homeCPU,
			RunCount:  t.runCount,
			TickCount: t.tickCount,
			Name:      t.Name(),
		}
		n++
	}
	return n
}

// DumpTo writes a human-readable scheduler state summary to w: one line per
// CPU slot followed by one line per live thread. The panic path invokes it
// through the kfmt panic hook after freezing the scheduler.
func DumpTo(w io.Writer) {
	for i := 0; i < NumActiveCPUs(); i++ {
		c := byIndex[i]
		cur := c.current
		curID := NilThread
		if cur != nil {
			curID = cur.id
		}
		kfmt.Fprintf(w, "cpu%d: apic=%d ticks=%d current=%d\n",
			i, c.apicID, c.TickCount(), uint32(curID))
	}

	registry.lock.AcquireRead()
	defer registry.lock.ReleaseRead()

	for slot := 1; slot < maxThreads; slot++ {
		t := registry.slots[slot]
		if t == nil {
			continue
		}
		kfmt.Fprintf(w, "thread %4d pri=%d state=%d cpu=%d runs=%d ticks=%d %s\n",
			uint32(t.id), uint8(t.priority), uint32(t.getState()),
			t.homeCPU, t.runCount, t.tickCount, t.Name())
	}
}

// InstallPanicHook freezes the scheduler and dumps its state into the
// panic banner.
func InstallPanicHook() {
	kfmt.SetPanicHook(func() {
		Freeze()
		DumpTo(kfmt.GetOutputSink())
	})
}
