// Package circuitbreaker implements the per-DC failure-rate gate described
// by the networking core: allow/deny new connection attempts based on a
// rolling window of successes and failures, with a half-open probe phase
// before fully re-closing.
//
// The state machine itself is delegated to github.com/sony/gobreaker's
// TwoStepCircuitBreaker, which already implements Closed/Open/HalfOpen
// with a configurable half-open request quota (MaxRequests) and open
// duration (Timeout) — exactly the two knobs this component needs. This
// package adds the one behavior gobreaker doesn't have on its own: an
// open duration that grows (bounded) each time a half-open probe fails,
// instead of a fixed timeout every cycle. gobreaker's Timeout is fixed at
// construction, so the growth is layered on top as an openUntil deadline
// checked before the underlying breaker is consulted at all; the
// underlying breaker may internally reach HalfOpen earlier, but no probe
// is admitted until the deadline passes.
package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/rustgram/client/internal/config"
	"github.com/rustgram/client/internal/coreerr"
)

// State mirrors gobreaker's three states under this package's own name,
// so callers never need to import gobreaker directly.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Permit is returned by Allow when a request may proceed. Exactly one of
// Success or Failure must be called once the attempt completes.
type Permit struct {
	done func(success bool)
	once sync.Once
}

// Success records the gated attempt as successful.
func (p *Permit) Success() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.done(true) })
}

// Failure records the gated attempt as failed.
func (p *Permit) Failure() {
	if p == nil {
		return
	}
	p.once.Do(func() { p.done(false) })
}

// Breaker gates connection attempts for a single DC.
type Breaker struct {
	name   string
	cfg    config.BreakerConfig
	logger zerolog.Logger

	cb *gobreaker.TwoStepCircuitBreaker

	// mu guards the growth state only; it is never held across a call
	// into cb, since gobreaker invokes OnStateChange (which takes mu)
	// under its own internal lock.
	mu                  sync.Mutex
	currentOpenDuration time.Duration
	openUntil           time.Time
}

// New constructs a breaker for the given name (typically "dc:<id>").
func New(name string, cfg config.BreakerConfig, logger zerolog.Logger) *Breaker {
	b := &Breaker{
		name:                name,
		cfg:                 cfg,
		logger:              logger,
		currentOpenDuration: cfg.OpenDuration,
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(maxInt(1, cfg.HalfOpenProbes)),
		// gobreaker resets Closed-state counts every Interval; this is
		// the closest available approximation of a rolling
		// failure-count window (a period reset rather than a true
		// sliding window over individual samples).
		Interval:      1 * time.Minute,
		Timeout:       cfg.OpenDuration,
		ReadyToTrip:   b.readyToTrip,
		OnStateChange: b.onStateChange,
	})
	return b
}

func (b *Breaker) readyToTrip(counts gobreaker.Counts) bool {
	if counts.Requests < uint32(b.cfg.MinSamples) {
		return false
	}
	failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
	return failureRate >= b.cfg.FailureThreshold
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State) {
	b.logger.Warn().Str("breaker", name).Str("from", gobreakerStateName(from)).Str("to", gobreakerStateName(to)).Msg("circuit breaker state change")

	b.mu.Lock()
	defer b.mu.Unlock()

	switch to {
	case gobreaker.StateOpen:
		if from == gobreaker.StateHalfOpen {
			next := time.Duration(float64(b.currentOpenDuration) * maxFloat(1.0, b.cfg.OpenDurationFactor))
			if b.cfg.MaxOpenDuration > 0 && next > b.cfg.MaxOpenDuration {
				next = b.cfg.MaxOpenDuration
			}
			b.currentOpenDuration = next
		}
		b.openUntil = time.Now().Add(b.currentOpenDuration)
	case gobreaker.StateClosed:
		b.currentOpenDuration = b.cfg.OpenDuration
		b.openUntil = time.Time{}
	}
}

// Allow reports whether a new connection attempt may proceed. A non-nil
// error means the circuit is open; the caller must fast-fail without
// attempting the connection.
func (b *Breaker) Allow() (*Permit, error) {
	b.mu.Lock()
	until := b.openUntil
	b.mu.Unlock()

	if time.Now().Before(until) {
		return nil, coreerr.CircuitOpen(fmt.Sprintf("circuit open for %s", b.name))
	}

	done, err := b.cb.Allow()
	if err != nil {
		return nil, coreerr.CircuitOpen(fmt.Sprintf("circuit open for %s", b.name))
	}
	return &Permit{done: done}, nil
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	until := b.openUntil
	b.mu.Unlock()

	if time.Now().Before(until) {
		return StateOpen
	}
	switch b.cb.State() {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

func gobreakerStateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "closed"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
