// Package pool implements the connection pool: the hardest piece of the
// networking core. It multiplexes session connections across DCs ×
// purposes {Main, Download, Upload}, with acquire/release lifecycle, idle
// cleanup, a per-DC circuit breaker gate, and retry with backoff on
// connection creation.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/circuitbreaker"
	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/health"
	"github.com/rustgram/client/internal/actor"
	"github.com/rustgram/client/internal/config"
	"github.com/rustgram/client/session"
)

// maxRedirectsPerCreate bounds how many times a single createWithRetry
// call follows a DC redirect before giving up, guarding against two DCs
// redirecting to each other forever.
const maxRedirectsPerCreate = 5

// Purpose partitions the pool so a burst of file transfers cannot starve
// control traffic.
type Purpose int

const (
	PurposeMain Purpose = iota
	PurposeDownload
	PurposeUpload
)

func (p Purpose) String() string {
	switch p {
	case PurposeMain:
		return "main"
	case PurposeDownload:
		return "download"
	case PurposeUpload:
		return "upload"
	default:
		return "unknown"
	}
}

type subPoolKey struct {
	dc      dcdirectory.DCID
	purpose Purpose
}

type poolEntry struct {
	conn     *session.Connection
	lastUsed time.Time
	inUse    bool
}

type subPool struct {
	mu       sync.Mutex
	entries  []*poolEntry
	reserved int // creations in flight, counted toward capacity but not yet in entries
}

// activeLocked counts in-use entries plus in-flight creations not yet
// entered into entries. Caller must hold sp.mu.
func (sp *subPool) activeLocked() int {
	n := sp.reserved
	for _, e := range sp.entries {
		if e.inUse {
			n++
		}
	}
	return n
}

// ConnFactory constructs a fresh, unstarted session connection for dc
// using its currently known options. The pool calls Start itself as part
// of the retry loop.
type ConnFactory func(dc dcdirectory.DCID, options []dcdirectory.Option) *session.Connection

// Handle is a borrow over a pool entry. Exactly one of Release or
// Invalidate must be called once; both are safe to call from a deferred
// statement and are idempotent.
type Handle struct {
	pool  *Pool
	key   subPoolKey
	entry *poolEntry

	once sync.Once
}

// Connection returns the underlying session connection. Valid until
// Release or Invalidate is called.
func (h *Handle) Connection() *session.Connection { return h.entry.conn }

// Release returns the handle to the pool as idle.
func (h *Handle) Release() {
	h.once.Do(func() { h.pool.release(h.key, h.entry, true) })
}

// Invalidate removes the underlying entry from the pool entirely.
func (h *Handle) Invalidate() {
	h.once.Do(func() { h.pool.release(h.key, h.entry, false) })
}

// Pool is the connection pool.
type Pool struct {
	cfg       config.PoolConfig
	directory *dcdirectory.Directory
	breakers  *circuitbreaker.Registry
	checker   *health.Checker
	factory   ConnFactory
	logger    zerolog.Logger

	subPoolsMu sync.RWMutex
	subPools   map[subPoolKey]*subPool

	pending int64
	closed  atomic.Bool

	actors         *actor.Registry
	supervisor     *actor.Supervisor
	cleanupActorID actor.ID
}

// New constructs a pool. The returned pool's background cleanup loop is
// not started; call Start to begin periodic idle trimming.
func New(cfg config.PoolConfig, directory *dcdirectory.Directory, breakers *circuitbreaker.Registry, checker *health.Checker, factory ConnFactory, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		directory: directory,
		breakers:  breakers,
		checker:   checker,
		factory:   factory,
		logger:    logger,
		subPools:  make(map[subPoolKey]*subPool),
		actors:    actor.NewRegistry(0),
	}
}

// Start begins the periodic idle-trim cleanup tick, supervised as
// an actor so a panic inside a cleanup pass restarts the worker instead of
// silently leaving the pool untrimmed for the rest of the process
// lifetime.
func (p *Pool) Start() {
	p.supervisor = actor.NewSupervisor(p.actors, actor.Zero(), actor.OneForOne)
	p.cleanupActorID = p.supervisor.Supervise("pool-cleanup", p.startCleanupWorker)
}

// startCleanupWorker is the actor.RestartFunc for the idle-trim ticker.
func (p *Pool) startCleanupWorker() (func(), <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error().Interface("panic", r).Msg("pool cleanup worker panicked, restarting")
			}
		}()
		ticker := time.NewTicker(p.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.trimAll()
			}
		}
	}()

	return cancel, done
}

// Stop halts the cleanup loop without closing the pool.
func (p *Pool) Stop() {
	if p.supervisor == nil {
		return
	}
	entry, ok := p.actors.Get(p.cleanupActorID)
	p.supervisor.StopChild(p.cleanupActorID)
	if ok {
		<-entry.Done
	}
}

func (p *Pool) subPoolFor(key subPoolKey) *subPool {
	p.subPoolsMu.RLock()
	sp, ok := p.subPools[key]
	p.subPoolsMu.RUnlock()
	if ok {
		return sp
	}

	p.subPoolsMu.Lock()
	defer p.subPoolsMu.Unlock()
	if sp, ok = p.subPools[key]; ok {
		return sp
	}
	sp = &subPool{}
	p.subPools[key] = sp
	return sp
}

// Acquire returns a pooled handle for (dc, purpose), creating a session
// connection if no idle healthy one is available and capacity allows.
func (p *Pool) Acquire(ctx context.Context, dc dcdirectory.DCID, purpose Purpose) (*Handle, error) {
	if p.closed.Load() {
		return nil, &Error{Kind: ErrClosed}
	}
	if !p.directory.Known(dc) {
		return nil, &Error{Kind: ErrInvalidDcID, DC: dc}
	}

	n := atomic.AddInt64(&p.pending, 1)
	if n > int64(p.cfg.MaxPendingAcquires) {
		atomic.AddInt64(&p.pending, -1)
		return nil, &Error{Kind: ErrClosed, Reason: "max_pending_acquires exceeded"}
	}
	defer atomic.AddInt64(&p.pending, -1)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	key := subPoolKey{dc: dc, purpose: purpose}
	sp := p.subPoolFor(key)

	if entry, ok := p.tryReuse(sp); ok {
		return &Handle{pool: p, key: key, entry: entry}, nil
	}

	sp.mu.Lock()
	if sp.activeLocked() >= p.cfg.MaxConnectionsPerDC {
		sp.mu.Unlock()
		return nil, &Error{Kind: ErrNoConnection, DC: dc}
	}
	sp.reserved++ // reserve a slot while we create outside the lock
	sp.mu.Unlock()

	conn, err := p.createWithRetry(ctx, dc)
	if err != nil {
		sp.mu.Lock()
		sp.reserved--
		sp.mu.Unlock()

		if ctx.Err() != nil {
			return nil, &Error{Kind: ErrTimeout, DC: dc, Timeout: p.cfg.AcquireTimeout}
		}
		return nil, &Error{Kind: ErrConnectionFailed, DC: dc, Reason: err.Error()}
	}

	entry := &poolEntry{conn: conn, lastUsed: time.Now(), inUse: true}
	sp.mu.Lock()
	sp.reserved--
	sp.entries = append(sp.entries, entry)
	sp.mu.Unlock()

	return &Handle{pool: p, key: key, entry: entry}, nil
}

// tryReuse implements the reuse-first scan: the first unhealthy idle
// entry encountered is evicted, a healthy idle entry is claimed, and a
// degraded idle entry is claimed only when the sub-pool is at capacity.
func (p *Pool) tryReuse(sp *subPool) (*poolEntry, bool) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	evictedOne := false
	var degradedCandidate *poolEntry

	for i := 0; i < len(sp.entries); i++ {
		e := sp.entries[i]
		if e.inUse {
			continue
		}
		status := p.checker.Quick(e.conn)
		switch status {
		case health.Unhealthy:
			if !evictedOne {
				sp.entries = append(sp.entries[:i], sp.entries[i+1:]...)
				i--
				evictedOne = true
			}
		case health.Healthy:
			e.inUse = true
			e.lastUsed = time.Now()
			return e, true
		case health.Degraded:
			if degradedCandidate == nil {
				degradedCandidate = e
			}
		}
	}

	if degradedCandidate != nil && sp.activeLocked() >= p.cfg.MaxConnectionsPerDC {
		degradedCandidate.inUse = true
		degradedCandidate.lastUsed = time.Now()
		return degradedCandidate, true
	}
	return nil, false
}

// createWithRetry implements the circuit gate and retry-with-backoff
// around connection creation, recording breaker
// outcomes per attempt. A DC-migration redirect is handled inline:
// it redials the same Connection against the new DC immediately, without
// consuming a retry attempt or a circuit-breaker failure.
func (p *Pool) createWithRetry(ctx context.Context, dc dcdirectory.DCID) (*session.Connection, error) {
	var lastErr error
	var conn *session.Connection
	targetDC := dc
	redirects := 0

	for attempt := 0; attempt < p.cfg.MaxRetryAttempts; attempt++ {
		var permit *circuitbreaker.Permit
		if p.cfg.CircuitBreakerEnabled {
			var err error
			permit, err = p.breakers.For(targetDC).Allow()
			if err != nil {
				return nil, err
			}
		}

		if conn == nil {
			conn = p.factory(targetDC, p.directory.Lookup(targetDC))
		}
		err := conn.Start(ctx)
		if err == nil {
			if permit != nil {
				permit.Success()
			}
			return conn, nil
		}

		var qerr *session.QueryError
		if errors.As(err, &qerr) && qerr.Code == session.ErrRedirect &&
			redirects < maxRedirectsPerCreate && p.directory.Known(qerr.RedirectDC) {
			// The DC we dialed responded — it just pointed elsewhere, so
			// this is recorded as a success for that DC's breaker, not a
			// failure, and the redirect itself doesn't consume a retry
			// attempt.
			if permit != nil {
				permit.Success()
			}
			p.logger.Info().
				Int64("from_dc", int64(targetDC)).
				Int64("to_dc", int64(qerr.RedirectDC)).
				Msg("session redirected to a different DC, retrying immediately")
			redirects++
			targetDC = qerr.RedirectDC
			conn.Redirect(targetDC, p.directory.Lookup(targetDC))
			attempt--
			continue
		}

		if permit != nil {
			permit.Failure()
		}
		lastErr = err
		p.logger.Warn().Int("attempt", attempt).Int64("dc", int64(targetDC)).Err(err).Msg("connection attempt failed")

		if attempt == p.cfg.MaxRetryAttempts-1 {
			break
		}

		delay := computeDelay(p.cfg.RetryBaseDelay, attempt, p.cfg.RetryMaxDelay, p.cfg.RetryWithJitter)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("exhausted %d attempts: %w", p.cfg.MaxRetryAttempts, lastErr)
}

// release: on valid release, re-insert/clear in-use and run an inline
// trim; on invalidate, remove the entry entirely.
func (p *Pool) release(key subPoolKey, entry *poolEntry, valid bool) {
	p.subPoolsMu.RLock()
	sp, ok := p.subPools[key]
	p.subPoolsMu.RUnlock()
	if !ok {
		return // pool was closed and subPools cleared; best-effort drop
	}

	sp.mu.Lock()
	if valid {
		found := false
		for _, e := range sp.entries {
			if e == entry {
				e.inUse = false
				e.lastUsed = time.Now()
				found = true
				break
			}
		}
		if !found {
			entry.inUse = false
			entry.lastUsed = time.Now()
			sp.entries = append(sp.entries, entry)
		}
		p.trimLocked(sp)
	} else {
		for i, e := range sp.entries {
			if e == entry {
				sp.entries = append(sp.entries[:i], sp.entries[i+1:]...)
				break
			}
		}
		_ = entry.conn.Close()
	}
	sp.mu.Unlock()
}

// trimAll runs the idle-trim pass on every known sub-pool; used
// by the periodic cleanup tick.
func (p *Pool) trimAll() {
	p.subPoolsMu.RLock()
	pools := make([]*subPool, 0, len(p.subPools))
	for _, sp := range p.subPools {
		pools = append(pools, sp)
	}
	p.subPoolsMu.RUnlock()

	for _, sp := range pools {
		sp.mu.Lock()
		p.trimLocked(sp)
		sp.mu.Unlock()
	}
}

// trimLocked drops idle entries past their TTL, then the oldest idle
// entries beyond MaxIdleConnections. Caller must hold sp.mu.
func (p *Pool) trimLocked(sp *subPool) {
	now := time.Now()

	var inUse, idle []*poolEntry
	for _, e := range sp.entries {
		if e.inUse {
			inUse = append(inUse, e)
		} else {
			idle = append(idle, e)
		}
	}

	sort.Slice(idle, func(i, j int) bool { return idle[i].lastUsed.Before(idle[j].lastUsed) })

	kept := idle[:0:0]
	for _, e := range idle {
		if now.Sub(e.lastUsed) >= p.cfg.ConnectionTTL {
			_ = e.conn.Close()
			continue
		}
		kept = append(kept, e)
	}

	if len(kept) > p.cfg.MaxIdleConnections {
		drop := len(kept) - p.cfg.MaxIdleConnections
		for i := 0; i < drop; i++ {
			_ = kept[i].conn.Close()
		}
		kept = kept[drop:]
	}

	sp.entries = append(inUse, kept...)
}

// CloseAll shuts the pool: subsequent acquires fail with Closed;
// outstanding handles still release into a best-effort drop that
// does not resurrect the pool.
func (p *Pool) CloseAll() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.subPoolsMu.Lock()
	pools := p.subPools
	p.subPools = make(map[subPoolKey]*subPool)
	p.subPoolsMu.Unlock()

	for _, sp := range pools {
		sp.mu.Lock()
		for _, e := range sp.entries {
			_ = e.conn.Close()
		}
		sp.entries = nil
		sp.mu.Unlock()
	}
}

// ActiveCount returns the in-use count for (dc, purpose), for tests and
// telemetry.
func (p *Pool) ActiveCount(dc dcdirectory.DCID, purpose Purpose) int {
	sp := p.subPoolFor(subPoolKey{dc: dc, purpose: purpose})
	sp.mu.Lock()
	defer sp.mu.Unlock()
	n := 0
	for _, e := range sp.entries {
		if e.inUse {
			n++
		}
	}
	return n
}

// IdleCount returns the idle entry count for (dc, purpose).
func (p *Pool) IdleCount(dc dcdirectory.DCID, purpose Purpose) int {
	sp := p.subPoolFor(subPoolKey{dc: dc, purpose: purpose})
	sp.mu.Lock()
	defer sp.mu.Unlock()
	n := 0
	for _, e := range sp.entries {
		if !e.inUse {
			n++
		}
	}
	return n
}
