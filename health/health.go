// Package health classifies a session connection as Healthy, Degraded, or
// Unhealthy, either cheaply (Quick, inspecting cached state) or actively
// (Probe, a bounded ping-shaped query).
package health

import (
	"context"
	"time"

	"github.com/rustgram/client/session"
)

// Status is the outcome of a health classification.
type Status int

const (
	Unhealthy Status = iota
	Degraded
	Healthy
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "unhealthy"
	}
}

// Connection is the subset of session.Connection the checker depends on,
// named so tests can supply a fake without a real transport.
type Connection interface {
	IsReady() bool
	LastErrorAt() time.Time
	Submit(ctx context.Context, q session.Query) (session.Response, error)
}

// Checker performs Quick and Probe classifications. degradedWindow is how
// recently a transport-level error must have occurred to mark a
// nominally-ready connection Degraded instead of Healthy.
type Checker struct {
	degradedWindow time.Duration
	probeTimeout   time.Duration
}

// New constructs a Checker. degradedWindow and probeTimeout both fall
// back to sane defaults when zero.
func New(degradedWindow, probeTimeout time.Duration) *Checker {
	if degradedWindow <= 0 {
		degradedWindow = 10 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Checker{degradedWindow: degradedWindow, probeTimeout: probeTimeout}
}

// Quick inspects cached fields only: the readiness flag and the
// recency of the last transport error. O(1); safe to call on every pool
// acquire.
func (c *Checker) Quick(conn Connection) Status {
	if !conn.IsReady() {
		return Unhealthy
	}
	if last := conn.LastErrorAt(); !last.IsZero() && time.Since(last) < c.degradedWindow {
		return Degraded
	}
	return Healthy
}

// Probe sends a ping-shaped query and awaits a bounded reply, classifying
// the outcome. Intended for a periodic schedule, not per-acquire.
func (c *Checker) Probe(ctx context.Context, conn Connection, ping session.Query) Status {
	if !conn.IsReady() {
		return Unhealthy
	}

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	if _, err := conn.Submit(ctx, ping); err != nil {
		return Unhealthy
	}
	return c.Quick(conn)
}
