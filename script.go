package glitch

import (
	"fmt"
	"time"
)

// Fault scripts stage deterministic fault windows at known virtual times,
// on top of (or instead of) the sampled fault machines. A forced transition
// bumps the entity's generation when it fires, cancelling any pending
// sampled transition; when the window closes the entity rejoins the sampled
// schedule. Scripts must be installed before Run.

// ForcePartition splits the nodes into the given groups from start+at for
// the given duration. Every node index must appear in exactly one group,
// and there must be at least two non-empty groups.
func (s *Simulator[M, N, C]) ForcePartition(at, duration time.Duration, groups [][]int) error {
	if err := s.scriptable(at, duration); err != nil {
		return err
	}
	if len(groups) < 2 {
		return fmt.Errorf("%w: a partition needs at least two groups", ErrInvalidConfiguration)
	}
	groupOf := make([]int, len(s.nodes))
	seen := make([]bool, len(s.nodes))
	for g, members := range groups {
		if len(members) == 0 {
			return fmt.Errorf("%w: partition group %d is empty", ErrInvalidConfiguration, g)
		}
		for _, n := range members {
			if n < 0 || n >= len(s.nodes) {
				return fmt.Errorf("%w: partition group %d names unknown node %d", ErrInvalidConfiguration, g, n)
			}
			if seen[n] {
				return fmt.Errorf("%w: node %d appears in two partition groups", ErrInvalidConfiguration, n)
			}
			seen[n] = true
			groupOf[n] = g
		}
	}
	for n, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: node %d missing from partition groups", ErrInvalidConfiguration, n)
		}
	}
	s.queue.push(s.start.Add(at), partitionTransitionEvent{
		activate: true, forced: true, groups: groupOf, duration: duration,
	})
	return nil
}

// ForceLinkDown drops all traffic between two endpoints from start+at for
// the given duration.
func (s *Simulator[M, N, C]) ForceLinkDown(at, duration time.Duration, a, b Endpoint) error {
	if err := s.scriptable(at, duration); err != nil {
		return err
	}
	if a == b || !s.knownEndpoint(a) || !s.knownEndpoint(b) {
		return fmt.Errorf("%w: no link between %s and %s", ErrInvalidConfiguration, a, b)
	}
	s.queue.push(s.start.Add(at), linkTransitionEvent{
		key: newLinkKey(a, b), up: false, forced: true, duration: duration,
	})
	return nil
}

func (s *Simulator[M, N, C]) knownEndpoint(e Endpoint) bool {
	if e.IsNode() {
		return e.Index() >= 0 && e.Index() < len(s.nodes)
	}
	return e.Index() >= 0 && e.Index() < len(s.clients)
}

// ForceCrash crashes a node from start+at for the given duration. The
// quorum rule still applies at fire time: a scripted crash that would take
// down half or more of the nodes is rejected.
func (s *Simulator[M, N, C]) ForceCrash(at, duration time.Duration, node int) error {
	if err := s.scriptable(at, duration); err != nil {
		return err
	}
	if node < 0 || node >= len(s.nodes) {
		return fmt.Errorf("%w: unknown node %d", ErrInvalidConfiguration, node)
	}
	s.queue.push(s.start.Add(at), nodeTransitionEvent{
		node: node, up: false, forced: true, duration: duration,
	})
	return nil
}

func (s *Simulator[M, N, C]) scriptable(at, duration time.Duration) error {
	if s.running {
		return fmt.Errorf("%w: fault scripts must be installed before Run", ErrInvalidConfiguration)
	}
	if at < 0 || duration <= 0 {
		return fmt.Errorf("%w: fault window must start at non-negative time with positive duration", ErrInvalidConfiguration)
	}
	return nil
}
