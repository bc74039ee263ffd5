package circuitbreaker

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/internal/config"
)

// Registry lazily creates and holds one Breaker per DC. Mirrors the
// double-checked-locking lazy-construction pattern used for per-host
// transports/clients elsewhere in this module.
type Registry struct {
	mu       sync.RWMutex
	breakers map[dcdirectory.DCID]*Breaker
	cfg      config.BreakerConfig
	logger   zerolog.Logger
}

// NewRegistry constructs an empty per-DC breaker registry.
func NewRegistry(cfg config.BreakerConfig, logger zerolog.Logger) *Registry {
	return &Registry{
		breakers: make(map[dcdirectory.DCID]*Breaker),
		cfg:      cfg,
		logger:   logger,
	}
}

// For returns the breaker for dc, creating it on first use.
func (r *Registry) For(dc dcdirectory.DCID) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[dc]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[dc]; ok {
		return b
	}
	b = New(fmt.Sprintf("dc:%d", dc), r.cfg, r.logger)
	r.breakers[dc] = b
	return b
}

// Snapshot returns the current state of every breaker created so far,
// keyed by DC, for telemetry/debug surfaces.
func (r *Registry) Snapshot() map[dcdirectory.DCID]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[dcdirectory.DCID]State, len(r.breakers))
	for dc, b := range r.breakers {
		out[dc] = b.State()
	}
	return out
}
