package glitch

import (
	"math"
	"time"

	"github.com/iti/rngstream"
)

// Stream is the sole source of randomness in a simulation. It wraps a
// single L'Ecuyer RngStream generator (MRG32k3a), which is platform
// independent and fully determined by the seed, so a run can be replayed
// bit-for-bit anywhere.
//
// Every sampling site in the simulator draws in a documented, fixed order.
// Changing a configuration option never reorders the draws of unrelated
// sites; options that disable a fault class simply skip that class's draws.
type Stream struct {
	src *rngstream.RngStream
}

func newStream(seed uint64) *Stream {
	rngstream.SetRngStreamMasterSeed(seed)
	return &Stream{src: rngstream.New("glitch")}
}

// Float64 draws a uniform value in (0, 1). One draw.
func (s *Stream) Float64() float64 {
	return s.src.RandU01()
}

// Intn draws a uniform integer in [0, n). One draw. n must be >= 1; Intn
// still consumes a draw when n == 1 so conditional call sites keep the
// stream aligned.
func (s *Stream) Intn(n int) int {
	return s.src.RandInt(0, n-1)
}

// Bernoulli reports true with probability p. One draw, also for p of 0 or 1.
func (s *Stream) Bernoulli(p float64) bool {
	return s.Float64() < p
}

// UniformDuration draws a duration uniformly from [lo, hi]. One draw.
func (s *Stream) UniformDuration(lo, hi time.Duration) time.Duration {
	return lo + time.Duration(float64(hi-lo)*s.Float64())
}

// Exponential draws from an exponential distribution with the given mean,
// used for all "mean time between X" sampling. One draw.
func (s *Stream) Exponential(mean time.Duration) time.Duration {
	return time.Duration(-math.Log(s.Float64()) * float64(mean))
}

// Uint64 draws a 62-bit value (two draws of 31 bits each). Used for
// recovery nonces, where a dense range matters more than full width.
func (s *Stream) Uint64() uint64 {
	hi := uint64(s.src.RandInt(0, math.MaxInt32))
	lo := uint64(s.src.RandInt(0, math.MaxInt32))
	return hi<<31 | lo
}

// SplitGroups partitions n nodes (n >= 2) into k non-empty groups, with k
// drawn uniformly from [2, max(2, ceil(n/2))]. The returned slice maps node
// index to group number.
//
// Draw order: one draw for k, then one draw per node in index order; if any
// of the k groups ends up empty the per-node assignment repeats from node 0.
func (s *Stream) SplitGroups(n int) []int {
	maxGroups := (n + 1) / 2
	if maxGroups < 2 {
		maxGroups = 2
	}
	k := 2 + s.Intn(maxGroups-1)
	for {
		groups := make([]int, n)
		seen := make([]bool, k)
		distinct := 0
		for i := range groups {
			g := s.Intn(k)
			groups[i] = g
			if !seen[g] {
				seen[g] = true
				distinct++
			}
		}
		if distinct == k {
			return groups
		}
	}
}

// rngReader adapts the stream to io.Reader so the run id can be derived
// from the seed (one draw per byte).
type rngReader struct {
	s *Stream
}

func (r rngReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.s.Intn(256))
	}
	return len(p), nil
}
