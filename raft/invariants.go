package raft

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/codekitchen/glitch"
)

// Checker verifies the classic Raft safety properties over the whole
// cluster, crashed nodes included: a crashed node's frozen state was valid
// when it stopped, so the properties must still hold for it.
type Checker struct{}

func (Checker) CheckInvariants(seed uint64, nodes []*glitch.NodeRecord[Message, *Node], clients []*Client, now time.Time) error {
	rafts := make([]*Raft, len(nodes))
	for i, n := range nodes {
		rafts[i] = n.Node().Raft()
	}
	checks := []func([]*Raft) error{
		leaderInvariant,
		logInvariant,
		logPrefixInvariant,
		electionSafetyInvariant,
		quorumLogInvariant,
		moreUpToDateInvariant,
		leaderCompletenessInvariant,
	}
	for _, check := range checks {
		if err := check(rafts); err != nil {
			return err
		}
	}
	return nil
}

// There should not be more than one leader for the same term at the same
// time.
func leaderInvariant(rafts []*Raft) error {
	leaderCounts := make(map[Term]int)
	for _, r := range rafts {
		if r.role == Leader {
			leaderCounts[r.currentTerm]++
		}
	}
	for term, count := range leaderCounts {
		if count > 1 {
			return fmt.Errorf("expected at most 1 leader for term %d, got %d", term, count)
		}
	}
	return nil
}

// Committed log entries should never conflict between servers.
func logInvariant(rafts []*Raft) error {
	for i, r1 := range rafts {
		log1 := r1.CommittedLog()
		for _, r2 := range rafts[i+1:] {
			log2 := r2.CommittedLog()
			checkLen := min(len(log1), len(log2))
			if !slices.EqualFunc(log1[:checkLen], log2[:checkLen], entryEq) {
				return fmt.Errorf("committed log conflict between node %d and node %d", r1.id, r2.id)
			}
		}
	}
	return nil
}

// Every (index, term) pair determines a log prefix: if two servers have an
// entry with the same term at the same index, all previous entries match.
func logPrefixInvariant(rafts []*Raft) error {
	for i, r1 := range rafts {
		log1 := r1.log
		for _, r2 := range rafts[i+1:] {
			log2 := r2.log
			// find the latest entry with matching term in both logs
			for idx := min(len(log1), len(log2)) - 1; idx >= 0; idx-- {
				if log1[idx].Term == log2[idx].Term {
					if !slices.EqualFunc(log1[:idx], log2[:idx], entryEq) {
						return fmt.Errorf("log prefixes do not match between node %d and node %d at index %d", r1.id, r2.id, idx)
					}
					break
				}
			}
		}
	}
	return nil
}

// A leader always has the greatest index for its current term.
func electionSafetyInvariant(rafts []*Raft) error {
	for _, r := range rafts {
		if r.role != Leader {
			continue
		}
		term := r.currentTerm
		lidx := maxIndexForTerm(r.log, term)
		for _, r2 := range rafts {
			if maxIndexForTerm(r2.log, term) > lidx {
				return fmt.Errorf("leader %d does not have greatest index for term %d", r.id, term)
			}
		}
	}
	return nil
}

// All committed entries are contained in the log of at least one server in
// every possible quorum.
func quorumLogInvariant(rafts []*Raft) error {
	for _, r := range rafts {
		committed := r.CommittedLog()
		count := 1
		for _, r2 := range rafts {
			if r == r2 {
				continue
			}
			if logIsPrefix(committed, r2.log) {
				count++
			}
		}
		if count < quorumSize(len(rafts)) {
			return fmt.Errorf("committed log of node %d is not on a majority of nodes", r.id)
		}
	}
	return nil
}

// The up-to-date check performed before granting a vote implies that i
// receives a vote from j only if i has all of j's committed entries.
func moreUpToDateInvariant(rafts []*Raft) error {
	for i, r1 := range rafts {
		log1 := r1.log
		for _, r2 := range rafts[i+1:] {
			log2 := r2.log
			if lastTerm(log1) > lastTerm(log2) || (lastTerm(log1) == lastTerm(log2) && len(log1) >= len(log2)) {
				if !logIsPrefix(r2.CommittedLog(), log1) {
					return fmt.Errorf("committed log on node %d isn't a prefix of node %d's log", r2.id, r1.id)
				}
			}
		}
	}
	return nil
}

// A committed entry is present in the logs of the leaders of all
// higher-numbered terms.
func leaderCompletenessInvariant(rafts []*Raft) error {
	for _, r := range rafts {
		committed := r.CommittedLog()
		if len(committed) == 0 {
			continue
		}
		lastIdx := len(committed) - 1
		for _, r2 := range rafts {
			if r == r2 || r2.role != Leader {
				continue
			}
			if r2.currentTerm > committed[lastIdx].Term {
				if lastIdx >= len(r2.log) || !entryEq(r2.log[lastIdx], committed[lastIdx]) {
					return fmt.Errorf("committed log on node %d is missing from leader %d", r.id, r2.id)
				}
			}
		}
	}
	return nil
}

func lastTerm(log []Entry) Term {
	if len(log) == 0 {
		return 0
	}
	return log[len(log)-1].Term
}

func maxIndexForTerm(log []Entry, term Term) int {
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Term == term {
			return i
		}
	}
	return 0
}

func logIsPrefix(log1, log2 []Entry) bool {
	return len(log1) <= len(log2) && slices.EqualFunc(log1, log2[:len(log1)], entryEq)
}

func entryEq(e1, e2 Entry) bool {
	return e1.Term == e2.Term && e1.Seq == e2.Seq && e1.Client == e2.Client && bytes.Equal(e1.Cmd, e2.Cmd)
}
