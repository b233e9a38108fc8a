package glitch

import "time"

// NodeRecord owns a user node together with its fault state. Invariant
// checkers receive the records read-only via Node and Up.
type NodeRecord[M ProtocolMessage, N DeterministicNode[M]] struct {
	node N
	down bool
	// gen is bumped on every crash. Deliveries carry the generation that
	// was current when they were scheduled, so anything in flight across a
	// crash is discarded on pop.
	gen uint64
}

// Node returns the wrapped user node for inspection.
func (r *NodeRecord[M, N]) Node() N { return r.node }

// Up reports whether the node can currently process messages and ticks. A
// node that is rebuilding state after a crash counts as down.
func (r *NodeRecord[M, N]) Up() bool {
	return !r.down && !r.node.Recovering()
}

// downCount is the number of nodes currently unable to make progress.
func (s *Simulator[M, N, C]) downCount() int {
	count := 0
	for _, rec := range s.nodes {
		if !rec.Up() {
			count++
		}
	}
	return count
}

// canAdmitFailure applies the quorum-safety rule: a crash is admitted only
// while the resulting number of concurrently down nodes stays a strict
// minority (< ceil(N/2)). The check runs at fire time, never at sample
// time, so the RNG trajectory is stable under unrelated configuration
// changes.
func (s *Simulator[M, N, C]) canAdmitFailure() bool {
	return s.downCount() < (len(s.nodes)+1)/2-1
}

// handleNodeTransition applies a scheduled node crash or recovery.
//
// Admitted crash draws: recovery time. Rejected crash draws: a fresh
// failure time. Recovery draws: next failure time (if node failures are
// enabled), then the recovery nonce (two draws).
func (s *Simulator[M, N, C]) handleNodeTransition(now time.Time, ev nodeTransitionEvent) {
	rec := s.nodes[ev.node]
	if !ev.forced && ev.gen != rec.gen {
		return
	}

	if ev.up {
		rec.down = false
		s.logger.Info("node restarted", "time", s.elapsed, "node", Node(ev.node))
		s.trace.add(s.elapsed, KindNodeUp, Node(ev.node), Endpoint{}, 0)
		if mtbf := s.cfg.Failure.MeanTimeBetweenFailures; mtbf != nil {
			s.queue.push(now.Add(s.rng.Exponential(*mtbf)),
				nodeTransitionEvent{node: ev.node, gen: rec.gen, up: false})
		}
		nonce := s.rng.Uint64()
		s.dispatching = Node(ev.node)
		rec.node.Recover(now, nonce, len(s.nodes))
		return
	}

	if rec.down {
		return // already down; a scripted crash overlapped a sampled one
	}
	if !s.canAdmitFailure() {
		// Quorum rule: convert to a no-op and resample, keeping a strict
		// minority of nodes failed.
		if !ev.forced {
			if mtbf := s.cfg.Failure.MeanTimeBetweenFailures; mtbf != nil {
				s.queue.push(now.Add(s.rng.Exponential(*mtbf)),
					nodeTransitionEvent{node: ev.node, gen: rec.gen, up: false})
			}
		} else {
			s.logger.Warn("scripted crash rejected by quorum rule",
				"time", s.elapsed, "node", Node(ev.node))
		}
		return
	}

	rec.gen++
	rec.down = true
	s.logger.Info("node crashed", "time", s.elapsed, "node", Node(ev.node))
	s.trace.add(s.elapsed, KindNodeDown, Node(ev.node), Endpoint{}, 0)
	var recovery time.Duration
	if ev.forced {
		recovery = ev.duration
	} else {
		recovery = s.rng.Exponential(s.cfg.Failure.MeanTimeToRecover)
	}
	s.queue.push(now.Add(recovery), nodeTransitionEvent{node: ev.node, gen: rec.gen, up: true})
}

// deliver routes a popped delivery to its destination. Messages to a down
// node, or scheduled before the destination's latest crash, are dropped
// silently; dropped deliveries are normal simulation outcomes.
func (s *Simulator[M, N, C]) deliver(now time.Time, ev deliverEvent[M]) []M {
	dst := ev.msg.Destination()
	if dst.IsClient() {
		s.trace.add(s.elapsed, KindDeliver, ev.msg.Source(), dst, ev.msgID)
		s.dispatching = dst
		return s.clients[dst.Index()].ProcessMessage(ev.msg, now)
	}
	rec := s.nodes[dst.Index()]
	if ev.dstGen != rec.gen || !rec.Up() {
		s.trace.add(s.elapsed, KindDrop, ev.msg.Source(), dst, ev.msgID)
		return nil
	}
	s.trace.add(s.elapsed, KindDeliver, ev.msg.Source(), dst, ev.msgID)
	s.dispatching = dst
	return rec.node.ProcessMessage(ev.msg, now)
}

// tickAll visits nodes in ascending id order, then clients, collecting
// outbound messages in emission order.
func (s *Simulator[M, N, C]) tickAll(now time.Time) []M {
	var out []M
	for i, rec := range s.nodes {
		if !rec.Up() {
			continue
		}
		s.dispatching = Node(i)
		out = append(out, rec.node.Tick(now)...)
	}
	for i, c := range s.clients {
		s.dispatching = Client(i)
		out = append(out, c.Tick(now)...)
	}
	return out
}
