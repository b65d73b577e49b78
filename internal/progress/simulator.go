// Package progress estimates upload progress from elapsed time. The backend
// reports no transfer progress, so the value only reflects how long a batch
// has been running.
package progress

import (
	"sync"
	"time"
)

const (
	// Ceiling is where the simulated curve stops until the batch completes
	Ceiling = 95.0
	// Full is the value shown once the batch has completed
	Full = 100.0

	// RiseDuration is how long the climb from 0 to Ceiling takes
	RiseDuration = 15 * time.Second
	// FinishDuration is how long the final jump to Full takes
	FinishDuration = 300 * time.Millisecond
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Simulator is a monotonic progress estimate driven by a clock. Value is
// computed on demand, so readers may poll it from any goroutine.
type Simulator struct {
	clock TimeSource

	mu       sync.Mutex
	from     float64
	to       float64
	start    time.Time
	duration time.Duration
	easing   func(float64) float64
}

// NewSimulator creates a Simulator using the wall clock
func NewSimulator() *Simulator {
	return NewSimulatorWithClock(defaultTimeSource{})
}

// NewSimulatorWithClock creates a Simulator with a custom clock for testing
func NewSimulatorWithClock(clock TimeSource) *Simulator {
	return &Simulator{
		clock:  clock,
		easing: linear,
	}
}

// Start resets to 0 and animates toward Ceiling over RiseDuration with an ease-out curve
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animateLocked(0, Ceiling, RiseDuration, easeOutQuad)
}

// Complete animates from the current value to Full over FinishDuration
func (s *Simulator) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animateLocked(s.valueLocked(), Full, FinishDuration, linear)
}

// Reset jumps back to 0
func (s *Simulator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animateLocked(0, 0, 0, linear)
}

// Value returns the current progress in percent
func (s *Simulator) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valueLocked()
}

func (s *Simulator) animateLocked(from, to float64, d time.Duration, easing func(float64) float64) {
	s.from = from
	s.to = to
	s.start = s.clock.Now()
	s.duration = d
	s.easing = easing
}

func (s *Simulator) valueLocked() float64 {
	if s.duration <= 0 {
		return s.to
	}
	elapsed := s.clock.Now().Sub(s.start)
	t := float64(elapsed) / float64(s.duration)
	switch {
	case t <= 0:
		t = 0
	case t >= 1:
		t = 1
	}
	return s.from + (s.to-s.from)*s.easing(t)
}

func linear(t float64) float64 {
	return t
}

// easeOutQuad rises fast and slows down near the end
func easeOutQuad(t float64) float64 {
	return 1 - (1-t)*(1-t)
}
