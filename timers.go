package mpih

import (
	"container/heap"
	"time"
)

// A timerItem is a one-shot callback scheduled on the event loop.
type timerItem struct {
	deadline time.Time
	fn       func()
	stopped  bool
	// The index is maintained by the heap.Interface methods.
	index int
}

// A timerQueue implements heap.Interface ordered by deadline.
type timerQueue []*timerItem

func (tq timerQueue) Len() int { return len(tq) }

func (tq timerQueue) Less(i, j int) bool {
	return tq[i].deadline.Before(tq[j].deadline)
}

func (tq timerQueue) Swap(i, j int) {
	tq[i], tq[j] = tq[j], tq[i]
	tq[i].index = i
	tq[j].index = j
}

func (tq *timerQueue) Push(x interface{}) {
	n := len(*tq)
	item := x.(*timerItem)
	item.index = n
	*tq = append(*tq, item)
}

func (tq *timerQueue) Pop() interface{} {
	old := *tq
	n := len(old)
	item := old[n-1]
	item.index = -1 // for safety
	*tq = old[0 : n-1]
	return item
}

// schedule adds a one-shot callback after d.
func (tq *timerQueue) schedule(d time.Duration, fn func()) *timerItem {
	item := &timerItem{
		deadline: time.Now().Add(d),
		fn:       fn,
	}
	heap.Push(tq, item)
	return item
}

// next returns the earliest live deadline, discarding stopped items.
func (tq *timerQueue) next() (time.Time, bool) {
	for tq.Len() > 0 {
		head := (*tq)[0]
		if head.stopped {
			heap.Pop(tq)
			continue
		}
		return head.deadline, true
	}
	return time.Time{}, false
}

// fire pops and runs every callback due at now.
func (tq *timerQueue) fire(now time.Time) {
	for tq.Len() > 0 {
		head := (*tq)[0]
		if head.stopped {
			heap.Pop(tq)
			continue
		}
		if head.deadline.After(now) {
			return
		}
		heap.Pop(tq)
		head.fn()
	}
}
