package glitch

import "time"

// The partition state machine is global: at most one partition is active at
// a time, splitting the server nodes into two or more groups. A message is
// partitioned iff both endpoints are nodes in different groups; clients are
// never partitioned.
type partitionState struct {
	gen     uint64
	active  bool
	groupOf []int // node index -> group, valid while active
}

func (p *partitionState) isPartitioned(from, to Endpoint) bool {
	if !p.active || !from.IsNode() || !to.IsNode() {
		return false
	}
	return p.groupOf[from.Index()] != p.groupOf[to.Index()]
}

// handlePartitionTransition applies a scheduled partition change.
//
// Sampled activation draws: group assignment (see Stream.SplitGroups), then
// recovery time. Clear draws: next activation time, if partitions are
// enabled.
func (s *Simulator[M, N, C]) handlePartitionTransition(now time.Time, ev partitionTransitionEvent) {
	p := &s.partition
	if ev.forced {
		p.gen++
	} else if ev.gen != p.gen {
		return
	}

	if ev.activate {
		var recovery time.Duration
		if ev.forced {
			p.groupOf = ev.groups
			recovery = ev.duration
		} else {
			p.groupOf = s.rng.SplitGroups(len(s.nodes))
			recovery = s.rng.Exponential(s.cfg.Network.MeanPartitionRecoveryTime)
		}
		p.active = true
		s.logger.Info("network partition started", "time", s.elapsed, "groups", p.groupOf)
		s.trace.add(s.elapsed, KindPartitionStart, Endpoint{}, Endpoint{}, 0)
		s.queue.push(now.Add(recovery), partitionTransitionEvent{gen: p.gen, activate: false})
		return
	}

	p.active = false
	p.groupOf = nil
	s.logger.Info("network partition ended", "time", s.elapsed)
	s.trace.add(s.elapsed, KindPartitionEnd, Endpoint{}, Endpoint{}, 0)
	if mtbp := s.cfg.Network.MeanTimeBetweenPartitions; mtbp != nil && len(s.nodes) >= 2 {
		s.queue.push(now.Add(s.rng.Exponential(*mtbp)),
			partitionTransitionEvent{gen: p.gen, activate: true})
	}
}
