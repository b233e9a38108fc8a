package raft

import (
	"slices"
	"time"

	"github.com/codekitchen/glitch"
)

// Node adapts a Raft state machine to the simulator's node contract. The
// persisted state snapshot plays the role of the disk: it is written before
// any RPC response leaves the node, and it is all that survives a crash.
type Node struct {
	id          glitch.Endpoint
	clusterSize int
	raft        *Raft
	persisted   *PersistentState
}

func NewNode(idx, clusterSize int) *Node {
	return &Node{
		id:          glitch.Node(idx),
		clusterSize: clusterSize,
		raft:        New(nodeConfig(idx, clusterSize, nil)),
	}
}

// Election timeouts are staggered by node id; with identical timeouts the
// cluster can livelock on split votes, and the simulator gives every node
// the same tick cadence.
func nodeConfig(idx, clusterSize int, restore *PersistentState) Config {
	return Config{
		ID:                  idx,
		ClusterSize:         clusterSize,
		HeartBeatTick:       1,
		ElectionTimeoutTick: uint(8 + 3*idx),
		Restore:             restore,
	}
}

func (n *Node) ID() glitch.Endpoint { return n.id }

// Raft exposes the wrapped state machine for invariant checkers.
func (n *Node) Raft() *Raft { return n.raft }

func (n *Node) Tick(now time.Time) []Message {
	return n.absorb(n.raft.HandleTick())
}

func (n *Node) ProcessMessage(msg Message, now time.Time) []Message {
	return n.absorb(n.raft.HandleMessage(msg))
}

func (n *Node) absorb(updates Updates) []Message {
	if updates.Persist != nil {
		// Deep-copy the log: the live state machine keeps appending to
		// (and truncating) its own slice.
		n.persisted = &PersistentState{
			CurrentTerm: updates.Persist.CurrentTerm,
			Log:         slices.Clone(updates.Persist.Log),
			VotedFor:    updates.Persist.VotedFor,
		}
	}
	out := updates.Outgoing
	// Only the leader acknowledges committed commands; a duplicate ack
	// after a leader change is harmless, a missing one is covered by the
	// client's retry.
	if n.raft.IsLeader() {
		for _, entry := range updates.Apply {
			if entry.Client.IsClient() {
				out = append(out, Message{
					From:     n.id,
					To:       entry.Client,
					Term:     n.raft.Term(),
					Contents: &Reply{Seq: entry.Seq},
				})
			}
		}
	}
	return out
}

// Recover rebuilds the node from its persisted snapshot, losing all
// volatile state, exactly as a restarted process would.
func (n *Node) Recover(now time.Time, nonce uint64, replicaCount int) {
	n.raft = New(nodeConfig(n.id.Index(), n.clusterSize, n.persisted))
}

func (n *Node) Recovering() bool { return false }
