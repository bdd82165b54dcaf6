package sched

import "testing"

func newTestThread(t *testing.T, prio Priority) *Thread {
	t.Helper()

	thr := &Thread{priority: prio}
	thr.refillQuantum()
	if err := registerThread(thr); err != nil {
		t.Fatalf("registerThread returned error: %v", err)
	}
	return thr
}

func drainIDs(q *threadQueue) []ThreadID {
	var ids []ThreadID
	for {
		t := q.pop()
		if t == nil {
			return ids
		}
		ids = append(ids, t.id)
	}
}

func TestThreadQueueFIFO(t *testing.T) {
	defer resetSchedState()
	resetSchedState()

	var q threadQueue
	a := newTestThread(t, PriorityNormal)
	b := newTestThread(t, PriorityNormal)
	c := newTestThread(t, PriorityNormal)

	q.push(a)
	q.push(b)
	q.push(c)

	ids := drainIDs(&q)
	if len(ids) != 3 || ids[0] != a.id || ids[1] != b.id || ids[2] != c.id {
		t.Fatalf("expected FIFO order [%d %d %d]; got %v", a.id, b.id, c.id, ids)
	}
	if !q.empty() {
		t.Error("expected queue to be empty after draining")
	}
}

func TestThreadQueuePushFront(t *testing.T) {
	defer resetSchedState()
	resetSchedState()

	var q threadQueue
	a := newTestThread(t, PriorityNormal)
	b := newTestThread(t, PriorityNormal)

	q.push(a)
	q.pushFront(b)

	ids := drainIDs(&q)
	if len(ids) != 2 || ids[0] != b.id || ids[1] != a.id {
		t.Fatalf("expected head insertion order [%d %d]; got %v", b.id, a.id, ids)
	}
}

func TestThreadQueueRemove(t *testing.T) {
	defer resetSchedState()
	resetSchedState()

	var q threadQueue
	a := newTestThread(t, PriorityNormal)
	b := newTestThread(t, PriorityNormal)
	c := newTestThread(t, PriorityNormal)

	q.push(a)
	q.push(b)
	q.push(c)

	if !q.remove(b) {
		t.Fatal("expected remove to find the middle thread")
	}
	if q.remove(b) {
		t.Fatal("expected a second remove to fail")
	}

	// Removing the tail must keep the queue usable for further pushes.
	if !q.remove(c) {
		t.Fatal("expected remove to find the tail thread")
	}
	q.push(b)

	ids := drainIDs(&q)
	if len(ids) != 2 || ids[0] != a.id || ids[1] != b.id {
		t.Fatalf("expected [%d %d]; got %v", a.id, b.id, ids)
	}
}

func TestRegistryLookupAndGenerations(t *testing.T) {
	defer resetSchedState()
	resetSchedState()

	a := newTestThread(t, PriorityNormal)
	id := a.id

	if got := lookupThread(id); got != a {
		t.Fatal("expected lookup to resolve a live thread")
	}

	unregisterThread(a)
	if got := lookupThread(id); got != nil {
		t.Fatal("expected a stale ID to resolve to nil")
	}

	// The slot is reused with a new generation; the old ID stays stale.
	b := newTestThread(t, PriorityNormal)
	if b.id == id {
		t.Fatal("expected the reused slot to carry a fresh generation")
	}
	if got := lookupThread(id); got != nil {
		t.Fatal("expected the stale ID to remain unresolvable after reuse")
	}
}
