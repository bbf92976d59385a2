package mpih

import (
	"testing"
	"time"
)

func TestTimerQueueOrder(t *testing.T) {
	var tq timerQueue
	var fired []int
	now := time.Now()

	tq.schedule(3*time.Millisecond, func() { fired = append(fired, 3) })
	tq.schedule(1*time.Millisecond, func() { fired = append(fired, 1) })
	tq.schedule(2*time.Millisecond, func() { fired = append(fired, 2) })

	tq.fire(now.Add(10 * time.Millisecond))
	if len(fired) != 3 || fired[0] != 1 || fired[1] != 2 || fired[2] != 3 {
		t.Fatalf("fire: except [1 2 3], got %v", fired)
	}
	if tq.Len() != 0 {
		t.Fatalf("fire: except empty queue, got %d", tq.Len())
	}
}

func TestTimerQueueStopped(t *testing.T) {
	var tq timerQueue
	var fired int
	item := tq.schedule(time.Millisecond, func() { fired++ })
	item.stopped = true
	tq.schedule(2*time.Millisecond, func() { fired += 10 })

	if _, ok := tq.next(); !ok {
		t.Fatalf("next: except a live deadline")
	}
	tq.fire(time.Now().Add(time.Second))
	if fired != 10 {
		t.Fatalf("fire: except stopped timer skipped, got %d", fired)
	}
}

func TestTimerQueueNotDueYet(t *testing.T) {
	var tq timerQueue
	var fired int
	tq.schedule(time.Hour, func() { fired++ })
	tq.fire(time.Now())
	if fired != 0 {
		t.Fatalf("fire: except nothing due, got %d", fired)
	}
	deadline, ok := tq.next()
	if !ok || !deadline.After(time.Now()) {
		t.Fatalf("next: except future deadline, got %v ok=%v", deadline, ok)
	}
}
