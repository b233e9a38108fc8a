package glitch

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfiguration is wrapped by all configuration validation errors.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// InvariantViolationError reports a failed invariant check. The seed and
// virtual time identify the exact run and moment for replay.
type InvariantViolationError struct {
	Seed    uint64
	Elapsed time.Duration
	Err     error
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated at %s (seed %d): %v", e.Elapsed, e.Seed, e.Err)
}

func (e *InvariantViolationError) Unwrap() error { return e.Err }

// LivenessError reports that the simulation time budget was exhausted
// before every client finished its workload.
type LivenessError struct {
	Seed    uint64
	Elapsed time.Duration
}

func (e *LivenessError) Error() string {
	return fmt.Sprintf("workload did not finish within %s (seed %d)", e.Elapsed, e.Seed)
}

// UserPanicError wraps a panic raised by user node or client code during
// ProcessMessage, Tick, or Recover. A panic inside an invariant checker is
// reported as an InvariantViolationError instead.
type UserPanicError struct {
	Seed     uint64
	Elapsed  time.Duration
	Endpoint Endpoint
	Value    any
}

func (e *UserPanicError) Error() string {
	return fmt.Sprintf("%s panicked at %s (seed %d): %v", e.Endpoint, e.Elapsed, e.Seed, e.Value)
}
