package jsonadapter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/internal/coreerr"
)

// Registry owns one Adapter per live client id — the TDLib-compatible
// JSON send/receive surface a caller attaches to right after creating a
// client in clientregistry. One Registry is shared process-wide (or per
// embedded instance); Create/Destroy track the same lifecycle as the
// client registry's own Create/Destroy.
type Registry struct {
	mapper     Mapper
	logger     zerolog.Logger
	queueDepth int

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	adapters map[int64]*Adapter
}

// NewRegistry builds a Registry dispatching every adapter's requests
// through mapper. queueDepth is passed straight through to each Adapter's
// outgoing response channel.
func NewRegistry(mapper Mapper, logger zerolog.Logger, queueDepth int) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		mapper:     mapper,
		logger:     logger,
		queueDepth: queueDepth,
		ctx:        ctx,
		cancel:     cancel,
		adapters:   make(map[int64]*Adapter),
	}
}

// Create starts and registers a fresh Adapter for clientID, replacing any
// prior adapter registered under the same id (IDs are never reused by
// clientregistry, so this only happens if a caller races Create calls for
// the same id).
func (r *Registry) Create(clientID int64) *Adapter {
	a := New(clientID, r.mapper, r.logger, r.queueDepth)
	a.Start(r.ctx)

	r.mu.Lock()
	r.adapters[clientID] = a
	r.mu.Unlock()
	return a
}

// Get returns the adapter registered for clientID, if any.
func (r *Registry) Get(clientID int64) (*Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[clientID]
	return a, ok
}

// Destroy stops and unregisters clientID's adapter. A no-op if none
// exists.
func (r *Registry) Destroy(clientID int64) {
	r.mu.Lock()
	a, ok := r.adapters[clientID]
	if ok {
		delete(r.adapters, clientID)
	}
	r.mu.Unlock()

	if ok {
		a.Stop()
	}
}

// Send routes raw to clientID's adapter, failing with InvalidClientID if
// none is registered.
func (r *Registry) Send(clientID int64, raw []byte) error {
	a, ok := r.Get(clientID)
	if !ok {
		return coreerr.InvalidClientID(clientID)
	}
	return a.Send(raw)
}

// Receive blocks up to timeout for clientID's next response, returning
// (nil, false) if no adapter is registered or nothing arrives in time.
func (r *Registry) Receive(clientID int64, timeout time.Duration) ([]byte, bool) {
	a, ok := r.Get(clientID)
	if !ok {
		return nil, false
	}
	return a.Receive(timeout)
}

// Shutdown stops every registered adapter and prevents new ones from
// outliving process shutdown.
func (r *Registry) Shutdown() {
	r.cancel()

	r.mu.Lock()
	adapters := make([]*Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		adapters = append(adapters, a)
	}
	r.adapters = make(map[int64]*Adapter)
	r.mu.Unlock()

	for _, a := range adapters {
		a.Stop()
	}
}
