// Package jitter provides randomized delays used to pace browser interaction
// like a human would.
package jitter

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Range is an inclusive delay interval. A zero Range means no delay.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Fixed returns a Range that always yields d.
func Fixed(d time.Duration) Range {
	return Range{Min: d, Max: d}
}

// Between returns a Range spanning lo..hi milliseconds.
func Between(lo, hi int) Range {
	return Range{Min: time.Duration(lo) * time.Millisecond, Max: time.Duration(hi) * time.Millisecond}
}

// Policy bounds each interaction step of a search.
type Policy struct {
	// MouseSettle follows the initial pointer movement.
	MouseSettle Range
	// ClickSettle follows the click on the query box.
	ClickSettle Range
	// KeyDelay follows each typed character.
	KeyDelay Range
	// KeyPause is an extra pause between characters.
	KeyPause Range
	// BeforeSubmit is the hesitation before pressing Enter.
	BeforeSubmit Range
	// Settle follows the results appearing, letting late content render.
	Settle Range
	// MouseArea bounds the random pointer position in CSS pixels.
	MouseAreaWidth  float64
	MouseAreaHeight float64
}

// DefaultPolicy mirrors the cadence of a person searching from the Google
// home page.
func DefaultPolicy() Policy {
	return Policy{
		MouseSettle:     Between(500, 1000),
		ClickSettle:     Between(300, 700),
		KeyDelay:        Between(50, 150),
		KeyPause:        Between(50, 150),
		BeforeSubmit:    Between(800, 1500),
		Settle:          Fixed(2 * time.Second),
		MouseAreaWidth:  1000,
		MouseAreaHeight: 1000,
	}
}

// ZeroPolicy disables every delay. The pointer still moves, to the origin.
func ZeroPolicy() Policy {
	return Policy{}
}

// Source draws delays from a seeded generator. It is safe for concurrent use.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a Source seeded with seed, or with the current time if
// seed is 0.
func NewSource(seed int64) *Source {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Source{rng: rand.New(rand.NewSource(seed))}
}

// Duration picks a delay uniformly from r. Inverted bounds are swapped.
func (s *Source) Duration(r Range) time.Duration {
	lo, hi := r.Min, r.Max
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}

	s.mu.Lock()
	n := s.rng.Int63n(int64(hi-lo) + 1)
	s.mu.Unlock()

	return lo + time.Duration(n)
}

// Float64 returns a value in [0.0, 1.0).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// Point returns a random position inside the policy's mouse area.
func (s *Source) Point(p Policy) (x, y float64) {
	return s.Float64() * p.MouseAreaWidth, s.Float64() * p.MouseAreaHeight
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep blocks for d, returning early with ctx.Err() if ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
