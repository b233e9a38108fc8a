package glitch

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// TraceKind labels one record in the run trace.
type TraceKind uint8

const (
	KindTick TraceKind = iota
	KindSend
	KindDeliver
	KindDrop
	KindHold
	KindLinkDown
	KindLinkUp
	KindNodeDown
	KindNodeUp
	KindPartitionStart
	KindPartitionEnd
)

var kindNames = [...]string{
	"tick", "send", "deliver", "drop", "hold",
	"link-down", "link-up", "node-down", "node-up",
	"partition-start", "partition-end",
}

func (k TraceKind) String() string { return kindNames[k] }

// TraceRecord is one observable step of a run. Times are virtual elapsed
// durations since the simulation start, so traces are independent of the
// wall-clock anchor.
type TraceRecord struct {
	Elapsed time.Duration
	Kind    TraceKind
	From    Endpoint
	To      Endpoint
	MsgID   int
}

// Trace is the in-memory event log of a run. Two runs with the same seed
// and configuration produce identical traces; Hash gives a compact witness
// for that.
type Trace struct {
	records []TraceRecord
}

func (t *Trace) add(elapsed time.Duration, kind TraceKind, from, to Endpoint, msgID int) {
	t.records = append(t.records, TraceRecord{
		Elapsed: elapsed, Kind: kind, From: from, To: to, MsgID: msgID,
	})
}

// Records returns the full trace in firing order.
func (t *Trace) Records() []TraceRecord { return t.records }

func (t *Trace) Len() int { return len(t.records) }

// Count returns the number of records of one kind.
func (t *Trace) Count(kind TraceKind) int {
	n := 0
	for _, r := range t.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

// DeliveriesOf returns how many times the message with the given id was
// delivered; more than one means the transport duplicated it.
func (t *Trace) DeliveriesOf(msgID int) int {
	n := 0
	for _, r := range t.records {
		if r.Kind == KindDeliver && r.MsgID == msgID {
			n++
		}
	}
	return n
}

// Hash returns a digest of the full trace, byte-identical across runs with
// the same seed and configuration.
func (t *Trace) Hash() [sha256.Size]byte {
	h := sha256.New()
	for _, r := range t.records {
		fmt.Fprintf(h, "%d|%s|%s|%s|%d\n", r.Elapsed, r.Kind, r.From, r.To, r.MsgID)
	}
	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
