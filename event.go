package glitch

import (
	"container/heap"
	"time"
)

// Events fire in strict (time, seq) order. seq is assigned at push time and
// is globally unique and monotonically increasing, so two events scheduled
// for the same instant fire in the order they were scheduled.
//
// Verbose union, but an event can't be a tick and a delivery at the same
// time, which keeps dispatch easy to reason about.
type simEvent interface {
	isSimEvent()
}

type tickEvent struct{}

type deliverEvent[M ProtocolMessage] struct {
	msg   M
	msgID int
	// Generation of the destination node when the delivery was scheduled.
	// A crash bumps the generation, so in-flight deliveries to a crashed
	// node are discarded on pop without purging the heap. Zero-valued
	// (and ignored) for client destinations.
	dstGen uint64
}

type linkTransitionEvent struct {
	key linkKey
	gen uint64
	up  bool
	// Forced transitions come from a fault script. They cancel any pending
	// sampled transition by bumping the link generation at fire time.
	forced   bool
	duration time.Duration // forced down only: time until forced recovery
}

type nodeTransitionEvent struct {
	node     int
	gen      uint64
	up       bool
	forced   bool
	duration time.Duration // forced down only
}

type partitionTransitionEvent struct {
	gen      uint64
	activate bool
	forced   bool
	groups   []int         // forced activation only: node index -> group
	duration time.Duration // forced activation only
}

func (tickEvent) isSimEvent()                {}
func (deliverEvent[M]) isSimEvent()          {}
func (linkTransitionEvent) isSimEvent()      {}
func (nodeTransitionEvent) isSimEvent()      {}
func (partitionTransitionEvent) isSimEvent() {}

type queueItem struct {
	time time.Time
	seq  uint64
	ev   simEvent
}

type eventHeap []*queueItem

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if !h[i].time.Equal(h[j].time) {
		return h[i].time.Before(h[j].time)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(*queueItem)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// eventQueue is a min-heap of pending events keyed by (time, seq). Events
// are never mutated in place; stale transitions are cancelled lazily via
// generation counters and discarded on pop.
type eventQueue struct {
	h   eventHeap
	seq uint64
}

func newEventQueue() *eventQueue {
	return &eventQueue{}
}

func (q *eventQueue) push(at time.Time, ev simEvent) {
	q.seq++
	heap.Push(&q.h, &queueItem{time: at, seq: q.seq, ev: ev})
}

func (q *eventQueue) pop() *queueItem {
	return heap.Pop(&q.h).(*queueItem)
}

func (q *eventQueue) peekTime() (time.Time, bool) {
	if len(q.h) == 0 {
		return time.Time{}, false
	}
	return q.h[0].time, true
}

func (q *eventQueue) len() int { return len(q.h) }
