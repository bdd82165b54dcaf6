package sched

import "maystorm/kernel/sync"

// sleepList tracks threads with a pending wake deadline: pure sleeps as
// well as timed waits. Threads link through their own sleepNext field so
// membership is independent of the wait-object queues. The timer tick scans
// the list; entries are not kept sorted because the list stays short and
// the scan runs with the lock held for only a few loads per entry.
var sleepList struct {
	lock sync.IRQSpinlock
	head ThreadID
}

// sleepEnqueue adds the thread to the sleep list with the supplied
// adjusted-TSC deadline. A thread already on the list only has its deadline
// updated, so the list never holds duplicate entries.
func sleepEnqueue(t *Thread, wakeAt uint64) {
	sleepList.lock.AcquireIRQSave()
	t.wakeAt = wakeAt
	if !t.onSleepList {
		t.sleepNext = sleepList.head
		sleepList.head = t.id
		t.onSleepList = true
	}
	sleepList.lock.ReleaseIRQRestore()
}

// sleepRemove unlinks the thread from the sleep list if present. The signal
// path uses it to cancel the timeout of a woken waiter.
func sleepRemove(t *Thread) {
	sleepList.lock.AcquireIRQSave()
	defer sleepList.lock.ReleaseIRQRestore()

	if !t.onSleepList {
		return
	}

	var prev *Thread
	for id := sleepList.head; id != NilThread; {
		cur := lookupThread(id)
		if cur == nil {
			break
		}
		if cur == t {
			if prev == nil {
				sleepList.head = cur.sleepNext
			} else {
				prev.sleepNext = cur.sleepNext
			}
			cur.sleepNext = NilThread
			cur.onSleepList = false
			return
		}
		prev = cur
		id = cur.sleepNext
	}
}

// sleepCollectExpired unlinks every thread whose deadline has passed and
// returns them as a chain linked through sleepNext. The caller wakes the
// chain after dropping the list lock so that wait-object locks are never
// taken under it.
func sleepCollectExpired(now uint64) *Thread {
	sleepList.lock.AcquireIRQSave()
	defer sleepList.lock.ReleaseIRQRestore()

	var (
		expired *Thread
		prev    *Thread
	)
	for id := sleepList.head; id != NilThread; {
		cur := lookupThread(id)
		if cur == nil {
			break
		}
		next := cur.sleepNext

		if cur.wakeAt <= now {
			if prev == nil {
				sleepList.head = next
			} else {
				prev.sleepNext = next
			}
			cur.onSleepList = false
			cur.sleepNext = NilThread
			if expired != nil {
				cur.sleepNext = expired.id
			}
			expired = cur
		} else {
			prev = cur
		}
		id = next
	}

	return expired
}
