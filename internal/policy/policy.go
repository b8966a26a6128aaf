// Package policy decides whether a rule should attempt a commit on the current tick.
package policy

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// maxAdditionalProbability caps the chance of an additional commit on a single tick.
const maxAdditionalProbability = 0.5

// Input is everything a policy may consider for one rule on one tick.
type Input struct {
	TodaySuccessCount int
	MaxPerDay         int
	InWindow          bool
	MinutesRemaining  int
}

// Policy decides whether a commit should be attempted.
type Policy interface {
	ShouldCommit(in Input) bool
}

// Float64Source yields uniformly distributed values in [0, 1).
type Float64Source interface {
	Float64() float64
}

// eligible applies the rules shared by every policy: never outside the window, never at or
// above the daily cap.
func eligible(in Input) bool {
	if !in.InWindow {
		return false
	}
	if in.MaxPerDay <= 0 || in.TodaySuccessCount >= in.MaxPerDay {
		return false
	}
	return true
}

// Eager commits on every eligible tick. It is the deterministic mode used for testing.
type Eager struct{}

// ShouldCommit implements Policy.
func (Eager) ShouldCommit(in Input) bool {
	return eligible(in)
}

// Paced guarantees the first commit of the day and then spreads the remaining quota over the
// rest of the window with a per-tick random trial.
type Paced struct {
	TickInterval time.Duration
	Source       Float64Source
}

// NewPaced builds a Paced policy. A nil source uses a locked, time-seeded generator.
func NewPaced(tickInterval time.Duration, source Float64Source) *Paced {
	if source == nil {
		source = NewLockedSource(uint64(time.Now().UnixNano()))
	}
	return &Paced{TickInterval: tickInterval, Source: source}
}

// ShouldCommit implements Policy.
func (p *Paced) ShouldCommit(in Input) bool {
	if !eligible(in) {
		return false
	}
	if in.TodaySuccessCount == 0 {
		return true
	}
	return p.Source.Float64() < p.Probability(in)
}

// Probability returns the chance of an additional commit on this tick:
// min(0.5, remainingCommits / minutesRemaining * tickMinutes). A window that ends on this
// minute yields the cap.
func (p *Paced) Probability(in Input) float64 {
	remaining := in.MaxPerDay - in.TodaySuccessCount
	if remaining <= 0 {
		return 0
	}
	if in.MinutesRemaining <= 0 {
		return maxAdditionalProbability
	}
	tickMinutes := p.TickInterval.Minutes()
	if tickMinutes <= 0 {
		tickMinutes = 1
	}
	probability := float64(remaining) / float64(in.MinutesRemaining) * tickMinutes
	return math.Min(maxAdditionalProbability, probability)
}

// LockedSource is a PCG generator safe for concurrent use by rule workers.
type LockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLockedSource seeds a LockedSource.
func NewLockedSource(seed uint64) *LockedSource {
	return &LockedSource{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 implements Float64Source.
func (s *LockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// IntN returns a value in [0, n).
func (s *LockedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.IntN(n)
}
