// Package glitch is a deterministic simulation harness for testing
// distributed protocol implementations under adversarial network and node
// conditions. It schedules a set of protocol nodes and clients on a virtual
// clock, injects faults (message loss, delay, duplication, link outages,
// network partitions, node crashes and recoveries), and checks user-supplied
// safety invariants until either the workload finishes or the simulation
// time budget runs out. Given the same seed and configuration, every run is
// bit-identical.
package glitch

import (
	"fmt"
	"time"
)

// Endpoint identifies a participant in the simulation. Server nodes and
// clients live in disjoint id spaces; both are dense indexes starting at 0.
type Endpoint struct {
	kind endpointKind
	idx  int
}

type endpointKind uint8

const (
	kindNode endpointKind = iota
	kindClient
)

// Node returns the endpoint of the server node with the given index.
func Node(idx int) Endpoint {
	return Endpoint{kind: kindNode, idx: idx}
}

// Client returns the endpoint of the client with the given index.
func Client(idx int) Endpoint {
	return Endpoint{kind: kindClient, idx: idx}
}

func (e Endpoint) IsNode() bool   { return e.kind == kindNode }
func (e Endpoint) IsClient() bool { return e.kind == kindClient }

// Index returns the position within the endpoint's id space.
func (e Endpoint) Index() int { return e.idx }

func (e Endpoint) String() string {
	if e.kind == kindNode {
		return fmt.Sprintf("Node(%d)", e.idx)
	}
	return fmt.Sprintf("Client(%d)", e.idx)
}

// ProtocolMessage is implemented by the user's wire messages. Messages must
// be value-copyable: duplication schedules a second delivery of the same
// value. The simulator never inspects the payload, only the endpoints.
type ProtocolMessage interface {
	Source() Endpoint
	Destination() Endpoint
}

// DeterministicNode is a server node under test. All methods are called from
// the simulator's single goroutine and must return promptly; virtual time
// never advances during a call.
type DeterministicNode[M ProtocolMessage] interface {
	ID() Endpoint
	// Tick fires at every global tick while the node is up.
	Tick(now time.Time) []M
	// ProcessMessage handles one delivered message and returns any outbound
	// messages, in the order they should be sent.
	ProcessMessage(msg M, now time.Time) []M
	// Recover rebuilds the node from its durable representation after a
	// crash. The node decides what survives; nonce is a fresh value drawn
	// from the simulation's RNG stream.
	Recover(now time.Time, nonce uint64, replicaCount int)
	// Recovering reports whether the node is still rebuilding state after
	// Recover. A recovering node counts as down for the quorum rule.
	Recovering() bool
}

// DeterministicClient drives workload and observes responses. Clients are
// never crashed and never partitioned; model a faulty client as a node.
type DeterministicClient[M ProtocolMessage] interface {
	ID() Endpoint
	Tick(now time.Time) []M
	ProcessMessage(msg M, now time.Time) []M
	// Finished reports whether this client's workload is complete. The run
	// succeeds once every client is finished.
	Finished() bool
}

// InvariantChecker verifies safety properties over a read-only snapshot of
// the whole system. It runs after every tick (and optionally every N
// events). A non-nil error aborts the run; the error is surfaced together
// with the seed so the failure can be replayed.
type InvariantChecker[M ProtocolMessage, N DeterministicNode[M], C DeterministicClient[M]] interface {
	CheckInvariants(seed uint64, nodes []*NodeRecord[M, N], clients []C, now time.Time) error
}

// CheckFunc adapts a function to the InvariantChecker interface.
type CheckFunc[M ProtocolMessage, N DeterministicNode[M], C DeterministicClient[M]] func(seed uint64, nodes []*NodeRecord[M, N], clients []C, now time.Time) error

func (f CheckFunc[M, N, C]) CheckInvariants(seed uint64, nodes []*NodeRecord[M, N], clients []C, now time.Time) error {
	return f(seed, nodes, clients, now)
}
