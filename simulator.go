package glitch

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Simulator is the deterministic event-driven driver. It owns all mutable
// state: the node records, clients, event queue, fault state, and the RNG
// stream. Everything runs on one goroutine over a virtual clock; no user
// call may block, and time never advances during a call.
type Simulator[M ProtocolMessage, N DeterministicNode[M], C DeterministicClient[M]] struct {
	cfg     Configuration
	rng     *Stream
	queue   *eventQueue
	nodes   []*NodeRecord[M, N]
	clients []C
	checker InvariantChecker[M, N, C]
	logger  *slog.Logger
	trace   *Trace

	links     map[linkKey]*link[M]
	partition partitionState

	start   time.Time
	now     time.Time
	elapsed time.Duration

	runID        uuid.UUID
	eventCount   int
	messageCount int

	// endpoint currently being driven, for panic attribution
	dispatching Endpoint
	running     bool
}

// Result describes a finished run. Success means every client finished
// before MaxSimTime with all invariants holding throughout; otherwise Err
// carries the failure, always together with the seed so the run can be
// replayed.
type Result struct {
	Success  bool
	Seed     uint64
	RunID    uuid.UUID
	Elapsed  time.Duration
	Events   int
	Messages int
	Err      error
	Trace    *Trace
}

// NewSimulator wires up a run. Node ids must be sequential from 0 in slice
// order, likewise client ids. The construction draw order is fixed: run id
// first, then per-node initial failure times in id order, then the initial
// partition time. Disabled fault classes skip their draws; link machines
// draw lazily on first use.
func NewSimulator[M ProtocolMessage, N DeterministicNode[M], C DeterministicClient[M]](
	start time.Time,
	nodes []N,
	clients []C,
	cfg Configuration,
	checker InvariantChecker[M, N, C],
) (*Simulator[M, N, C], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for i, n := range nodes {
		if n.ID() != Node(i) {
			return nil, fmt.Errorf("%w: node ids must be sequential from 0, got %s at position %d",
				ErrInvalidConfiguration, n.ID(), i)
		}
	}
	for i, c := range clients {
		if c.ID() != Client(i) {
			return nil, fmt.Errorf("%w: client ids must be sequential from 0, got %s at position %d",
				ErrInvalidConfiguration, c.ID(), i)
		}
	}

	s := &Simulator[M, N, C]{
		cfg:     cfg,
		rng:     newStream(cfg.Seed),
		queue:   newEventQueue(),
		clients: clients,
		checker: checker,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		trace:   &Trace{},
		links:   make(map[linkKey]*link[M]),
		start:   start,
		now:     start,
	}
	for _, n := range nodes {
		s.nodes = append(s.nodes, &NodeRecord[M, N]{node: n})
	}

	// The run id consumes the stream's first sixteen draws, so it doubles
	// as a fingerprint of the seed.
	s.runID, _ = uuid.NewRandomFromReader(rngReader{s.rng})

	s.queue.push(start, tickEvent{})

	if mtbf := cfg.Failure.MeanTimeBetweenFailures; mtbf != nil {
		for i := range s.nodes {
			s.queue.push(start.Add(s.rng.Exponential(*mtbf)),
				nodeTransitionEvent{node: i, up: false})
		}
	}
	if mtbp := cfg.Network.MeanTimeBetweenPartitions; mtbp != nil && len(s.nodes) >= 2 {
		s.queue.push(start.Add(s.rng.Exponential(*mtbp)),
			partitionTransitionEvent{activate: true})
	}

	return s, nil
}

// SetLogger installs a structured logger for the run. The default discards
// everything; per-event fields mirror the trace records.
func (s *Simulator[M, N, C]) SetLogger(l *slog.Logger) { s.logger = l }

// RunID is derived from the seed; identical seeds yield identical ids.
func (s *Simulator[M, N, C]) RunID() uuid.UUID { return s.runID }

// Nodes exposes the node records, read-only by convention, for checkers
// and tests.
func (s *Simulator[M, N, C]) Nodes() []*NodeRecord[M, N] { return s.nodes }

// Clients exposes the client set.
func (s *Simulator[M, N, C]) Clients() []C { return s.clients }

// Elapsed is the virtual time consumed so far.
func (s *Simulator[M, N, C]) Elapsed() time.Duration { return s.elapsed }

// Trace is the event log recorded so far.
func (s *Simulator[M, N, C]) Trace() *Trace { return s.trace }

// Run executes the main loop until every client finishes, an invariant
// fails, user code panics, or the simulation time budget is exhausted.
func (s *Simulator[M, N, C]) Run() (result Result) {
	s.running = true
	defer func() { s.running = false }()
	result = Result{Seed: s.cfg.Seed, RunID: s.runID, Trace: s.trace}

	defer func() {
		if v := recover(); v != nil {
			result.Success = false
			result.Elapsed = s.elapsed
			result.Events = s.eventCount
			result.Messages = s.messageCount
			result.Err = &UserPanicError{
				Seed: s.cfg.Seed, Elapsed: s.elapsed, Endpoint: s.dispatching, Value: v,
			}
		}
	}()

	for {
		next, ok := s.queue.peekTime()
		if !ok {
			// Queue drained: with tick self-rescheduling this only happens
			// when the tick chain itself ran past the budget.
			break
		}
		if next.Sub(s.start) > s.cfg.MaxSimTime {
			break
		}

		item := s.queue.pop()
		if item.time.Before(s.now) {
			panic(fmt.Sprintf("virtual clock went backwards: %s -> %s", s.now, item.time))
		}
		s.now = item.time
		s.elapsed = item.time.Sub(s.start)
		s.eventCount++

		outbound, isTick := s.dispatch(item)
		for _, msg := range outbound {
			s.sendMessage(msg, s.now)
		}

		if n := s.cfg.CheckEveryNEvents; n > 0 && s.eventCount%n == 0 && !isTick {
			if err := s.checkInvariants(); err != nil {
				return s.failure(err)
			}
		}
		if isTick {
			if err := s.checkInvariants(); err != nil {
				return s.failure(err)
			}
			if s.allFinished() {
				result.Success = true
				result.Elapsed = s.elapsed
				result.Events = s.eventCount
				result.Messages = s.messageCount
				s.logger.Info("workload finished", "time", s.elapsed, "events", s.eventCount)
				return result
			}
		}
	}

	// Liveness failure: budget exhausted before the workload finished.
	s.elapsed = s.cfg.MaxSimTime
	return s.failure(&LivenessError{Seed: s.cfg.Seed, Elapsed: s.cfg.MaxSimTime})
}

func (s *Simulator[M, N, C]) failure(err error) Result {
	s.logger.Error("run failed", "time", s.elapsed, "seed", s.cfg.Seed, "err", err)
	return Result{
		Success:  false,
		Seed:     s.cfg.Seed,
		RunID:    s.runID,
		Elapsed:  s.elapsed,
		Events:   s.eventCount,
		Messages: s.messageCount,
		Err:      err,
		Trace:    s.trace,
	}
}

func (s *Simulator[M, N, C]) dispatch(item *queueItem) (outbound []M, isTick bool) {
	switch ev := item.ev.(type) {
	case tickEvent:
		s.logger.Debug("tick", "time", s.elapsed)
		s.trace.add(s.elapsed, KindTick, Endpoint{}, Endpoint{}, 0)
		outbound = s.tickAll(s.now)
		s.queue.push(s.now.Add(s.cfg.TickInterval), tickEvent{})
		return outbound, true
	case deliverEvent[M]:
		return s.deliver(s.now, ev), false
	case linkTransitionEvent:
		s.handleLinkTransition(s.now, ev)
		return nil, false
	case nodeTransitionEvent:
		s.handleNodeTransition(s.now, ev)
		return nil, false
	case partitionTransitionEvent:
		s.handlePartitionTransition(s.now, ev)
		return nil, false
	default:
		panic(fmt.Sprintf("invalid event type %#v", item.ev))
	}
}

func (s *Simulator[M, N, C]) allFinished() bool {
	for _, c := range s.clients {
		if !c.Finished() {
			return false
		}
	}
	return true
}

func (s *Simulator[M, N, C]) checkInvariants() (err error) {
	defer func() {
		// An assertion-style panic inside a checker is an invariant
		// violation, not a simulator bug.
		if v := recover(); v != nil {
			err = &InvariantViolationError{
				Seed: s.cfg.Seed, Elapsed: s.elapsed, Err: fmt.Errorf("checker panic: %v", v),
			}
		}
	}()
	if s.checker == nil {
		return nil
	}
	if cerr := s.checker.CheckInvariants(s.cfg.Seed, s.nodes, s.clients, s.now); cerr != nil {
		return &InvariantViolationError{Seed: s.cfg.Seed, Elapsed: s.elapsed, Err: cerr}
	}
	return nil
}
