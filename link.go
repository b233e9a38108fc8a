package glitch

import "time"

// Links are undirected channels between pairs of endpoints, client links
// included. A link's state machine comes alive the first time a message
// crosses it: creation samples the first failure time, and every recovery
// samples the next one.
type linkKey struct {
	a, b Endpoint // a <= b in (kind, index) order
}

func newLinkKey(x, y Endpoint) linkKey {
	if y.kind < x.kind || (y.kind == x.kind && y.idx < x.idx) {
		x, y = y, x
	}
	return linkKey{a: x, b: y}
}

type linkStatus uint8

const (
	linkUp linkStatus = iota
	linkDown
	linkHolding
)

type link[M ProtocolMessage] struct {
	key    linkKey
	status linkStatus
	gen    uint64
	// Messages queued while the link holds traffic, in send order.
	held []heldMessage[M]
}

type heldMessage[M ProtocolMessage] struct {
	msg   M
	msgID int
}

// handleLinkTransition applies a scheduled link state change.
//
// Down fire draws: hold coin, then recovery time.
// Up fire draws: next failure time (if link failures are enabled), then one
// latency sample per held message in send order.
func (s *Simulator[M, N, C]) handleLinkTransition(now time.Time, ev linkTransitionEvent) {
	lk := s.links[ev.key]
	if lk == nil {
		if !ev.forced {
			return
		}
		// A scripted outage can target a link nothing has crossed yet.
		lk = &link[M]{key: ev.key}
		s.links[ev.key] = lk
	}
	if ev.forced {
		lk.gen++
	} else if ev.gen != lk.gen {
		return // stale: a forced transition superseded this one
	}

	if ev.up {
		held := lk.held
		lk.held = nil
		lk.status = linkUp
		s.logger.Info("link recovered",
			"time", s.elapsed, "a", ev.key.a, "b", ev.key.b, "released", len(held))
		s.trace.add(s.elapsed, KindLinkUp, ev.key.a, ev.key.b, 0)
		if mtbf := s.cfg.Network.MeanTimeBetweenLinkFailures; mtbf != nil {
			s.queue.push(now.Add(s.rng.Exponential(*mtbf)),
				linkTransitionEvent{key: ev.key, gen: lk.gen, up: false})
		}
		for _, h := range held {
			delay := s.rng.UniformDuration(s.cfg.Network.MinMessageLatency, s.cfg.Network.MaxMessageLatency)
			s.scheduleDelivery(h.msg, h.msgID, now.Add(delay))
		}
		return
	}

	if ev.forced {
		// Scripted outage: always a hard drop for exactly the scripted
		// window, no draws. Anything held so far is lost with the link.
		lk.status = linkDown
		lk.held = nil
		s.logger.Info("link failed",
			"time", s.elapsed, "a", ev.key.a, "b", ev.key.b, "forced", true)
		s.trace.add(s.elapsed, KindLinkDown, ev.key.a, ev.key.b, 0)
		s.queue.push(now.Add(ev.duration), linkTransitionEvent{key: ev.key, gen: lk.gen, up: true})
		return
	}

	holding := s.rng.Bernoulli(s.cfg.Network.HoldProbability)
	if holding {
		lk.status = linkHolding
	} else {
		lk.status = linkDown
	}
	s.logger.Info("link failed",
		"time", s.elapsed, "a", ev.key.a, "b", ev.key.b, "holding", holding)
	s.trace.add(s.elapsed, KindLinkDown, ev.key.a, ev.key.b, 0)

	at := now.Add(s.rng.Exponential(s.cfg.Network.MeanLinkRecoveryTime))
	s.queue.push(at, linkTransitionEvent{key: ev.key, gen: lk.gen, up: true})
}
