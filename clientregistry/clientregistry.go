// Package clientregistry is the global, integer-keyed table of live client
// instances: create/destroy plus the monotonic ClientId allocator.
package clientregistry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustgram/client/internal/actor"
	"github.com/rustgram/client/internal/coreerr"
)

// ClientId identifies one created client. Monotonically increasing across
// the process lifetime; never recycled, even after Destroy.
type ClientId int64

// Config is the subset of client configuration the registry itself
// validates; everything else is opaque payload handed to NewClient.
type Config struct {
	APIID   int32
	APIHash string
}

// Validate checks the two fields the registry requires before it will
// construct a client: api_id > 0, api_hash non-empty.
func (c Config) Validate() *coreerr.Error {
	if c.APIID <= 0 {
		return coreerr.InvalidValue("api_id", "must be greater than zero")
	}
	if c.APIHash == "" {
		return coreerr.InvalidValue("api_hash", "must not be empty")
	}
	return nil
}

// Client is the registry's record for one created instance. actorID lets
// background workers belonging to this client be supervised as a subtree
// of the shared actor registry.
type Client struct {
	ID      ClientId
	Config  Config
	actorID actor.ID

	mu           sync.Mutex
	dcID         int32
	sessionReady bool
	lastUsed     time.Time
}

// ActorID returns the actor-registry id this client's workers are rooted
// under, for supervised shutdown.
func (c *Client) ActorID() actor.ID { return c.actorID }

// SessionState returns the last DC/ready/last-used values recorded for
// this client via SetSessionState, for persistence by the store package
// on the client's destruction.
func (c *Client) SessionState() (dcID int32, ready bool, lastUsed time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dcID, c.sessionReady, c.lastUsed
}

// SetSessionState records the DC a client last connected to and whether
// that connection completed its handshake, so a later Destroy can persist
// it for resumption on the next process start.
func (c *Client) SetSessionState(dcID int32, ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dcID = dcID
	c.sessionReady = ready
	c.lastUsed = time.Now()
}

// Registry is the live client table. The zero value is not usable; build
// one with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	clients map[ClientId]*Client
	nextID  int64
	actors  *actor.Registry
}

// NewRegistry returns a fresh, independent registry — for library
// embedders who want isolation from the process-wide singleton rather
// than sharing it.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[ClientId]*Client),
		actors:  actor.NewRegistry(0),
	}
}

// Create validates cfg, allocates a fresh ClientId, and registers the
// client. IDs are never reused, even across Destroy calls.
func (r *Registry) Create(cfg Config) (ClientId, *coreerr.Error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	id := ClientId(atomic.AddInt64(&r.nextID, 1))
	done := make(chan struct{})
	close(done) // no background worker of its own yet; present for supervision symmetry
	actorID := r.actors.Register(actor.Zero(), "client", func() {}, done)

	r.mu.Lock()
	r.clients[id] = &Client{ID: id, Config: cfg, actorID: actorID}
	r.mu.Unlock()

	return id, nil
}

// Get returns the client for id, or InvalidClientId if unknown.
func (r *Registry) Get(id ClientId) (*Client, *coreerr.Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, coreerr.InvalidClientID(int64(id))
	}
	return c, nil
}

// Destroy removes id from the table. Fails with InvalidClientId if id is
// unknown; the id itself is never reissued.
func (r *Registry) Destroy(id ClientId) *coreerr.Error {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	r.mu.Unlock()

	if !ok {
		return coreerr.InvalidClientID(int64(id))
	}
	r.actors.Unregister(c.actorID)
	return nil
}

// Len reports how many clients are currently live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide singleton registry, constructing it on
// first use.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}
