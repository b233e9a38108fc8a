package glitch

import "time"

// sendMessage applies the transport policy to one outbound message.
// Decision order, per message:
//
//  1. source or destination node down -> drop
//  2. link {src,dst} down -> drop, holding -> queue on the link
//  3. partition active and src, dst in different groups -> drop
//  4. sample delay uniform in [min,max], schedule delivery
//  5. one duplicate coin; on success, sample a second delay and schedule a
//     second delivery of the same message
//
// Self-messages bypass the link and partition checks but still respect node
// state, latency, and duplication. The duplicate decision is final at send
// time; the copy is not filtered again. Link faults apply to client links
// too; partitions only ever separate server nodes.
func (s *Simulator[M, N, C]) sendMessage(msg M, now time.Time) {
	s.messageCount++
	id := s.messageCount
	src, dst := msg.Source(), msg.Destination()
	s.logger.Debug("sending message", "time", s.elapsed, "from", src, "to", dst, "id", id)

	if src.IsNode() && !s.nodes[src.Index()].Up() {
		s.trace.add(s.elapsed, KindDrop, src, dst, id)
		return
	}
	if dst.IsNode() && !s.nodes[dst.Index()].Up() {
		s.trace.add(s.elapsed, KindDrop, src, dst, id)
		return
	}

	if src != dst {
		lk := s.linkFor(src, dst, now)
		switch lk.status {
		case linkDown:
			s.trace.add(s.elapsed, KindDrop, src, dst, id)
			return
		case linkHolding:
			lk.held = append(lk.held, heldMessage[M]{msg: msg, msgID: id})
			s.trace.add(s.elapsed, KindHold, src, dst, id)
			return
		}
		if s.partition.isPartitioned(src, dst) {
			s.trace.add(s.elapsed, KindDrop, src, dst, id)
			return
		}
	}

	s.trace.add(s.elapsed, KindSend, src, dst, id)
	delay := s.rng.UniformDuration(s.cfg.Network.MinMessageLatency, s.cfg.Network.MaxMessageLatency)
	s.scheduleDelivery(msg, id, now.Add(delay))
	if s.rng.Bernoulli(s.cfg.Network.DuplicateProbability) {
		dupDelay := s.rng.UniformDuration(s.cfg.Network.MinMessageLatency, s.cfg.Network.MaxMessageLatency)
		s.scheduleDelivery(msg, id, now.Add(dupDelay))
	}
}

// linkFor returns the link between two endpoints, bringing its state
// machine to life on first use: creation draws the link's first failure
// time, before the triggering message's latency sample.
func (s *Simulator[M, N, C]) linkFor(a, b Endpoint, now time.Time) *link[M] {
	key := newLinkKey(a, b)
	lk := s.links[key]
	if lk == nil {
		lk = &link[M]{key: key}
		s.links[key] = lk
		if mtbf := s.cfg.Network.MeanTimeBetweenLinkFailures; mtbf != nil {
			s.queue.push(now.Add(s.rng.Exponential(*mtbf)),
				linkTransitionEvent{key: key, up: false})
		}
	}
	return lk
}

// scheduleDelivery enqueues a delivery, pinning the destination node's
// current generation so the message dies with a crash.
func (s *Simulator[M, N, C]) scheduleDelivery(msg M, id int, at time.Time) {
	var dstGen uint64
	if dst := msg.Destination(); dst.IsNode() {
		dstGen = s.nodes[dst.Index()].gen
	}
	s.queue.push(at, deliverEvent[M]{msg: msg, msgID: id, dstGen: dstGen})
}
