// Package session implements one authenticated MTProto session connection:
// a DC id, an authentication state (opaque blob plus ready/not-ready
// flag), a transport handle, and a last-used timestamp. The cryptographic
// handshake itself is abstracted behind the Handshaker interface — this
// repository owns only the state the handshake produces and the
// lifecycle around it, not the MTProto key-exchange algorithm.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/internal/coreerr"
)

// Query is an outbound MTProto call. The wire encoding of Payload is a
// concern of the dispatcher/domain managers, not this package.
type Query struct {
	Payload []byte
}

// Response is the decoded reply to a Query, or an unsolicited update
// delivered on the same path.
type Response struct {
	Payload []byte
}

// AuthState is the opaque authentication state a handshake produces:
// whatever key material MTProto needs, plus whether it's usable yet.
type AuthState struct {
	Ready bool
	Blob  []byte
}

// Handshaker performs (or resumes) the MTProto authentication handshake
// over an established transport. Implementations own the cryptographic
// primitives; this package only calls through the interface.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn, existing AuthState) (AuthState, error)
}

// Dialer opens the transport to one DC option. Defaults to net.Dialer;
// overridable for tests.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Transport is a query/response multiplexer over one net.Conn. Production
// wiring supplies an MTProto framer; tests may supply a fake.
type Transport interface {
	// Submit sends q and blocks until a correlated reply arrives or ctx
	// is done. FIFO within one Transport is guaranteed by the
	// implementation, not by this package.
	Submit(ctx context.Context, q Query) (Response, error)
	Close() error
}

// TransportFactory builds a Transport over an established, authenticated
// connection.
type TransportFactory func(conn net.Conn) Transport

// ErrCode categorizes query failures distinctly from the pool's own
// error taxonomy (coreerr): transient transport, flood-wait, auth
// required, fatal protocol, and a DC-migration redirect.
type ErrCode int

const (
	ErrTransient ErrCode = iota + 1
	ErrFloodWait
	ErrAuthRequired
	ErrFatalProtocol
	ErrRedirect
)

// QueryError wraps a categorized MTProto query failure.
type QueryError struct {
	Code       ErrCode
	RedirectDC dcdirectory.DCID // set iff Code == ErrRedirect
	Retry      time.Duration    // set iff Code == ErrFloodWait
	Message    string
}

func (e *QueryError) Error() string { return e.Message }

// Connection is one MTProto session connection to a single DC.
type Connection struct {
	dc dcdirectory.DCID

	mu          sync.Mutex
	options     []dcdirectory.Option
	auth        AuthState
	conn        net.Conn
	transport   Transport
	lastUsed    time.Time
	lastErrorAt time.Time
	started     bool
	closed      bool

	dialer           Dialer
	handshaker       Handshaker
	transportFactory TransportFactory

	msgSeq int64
}

// New constructs an unstarted connection for dc with the given initial
// options. Call Start before Submit.
func New(dc dcdirectory.DCID, options []dcdirectory.Option, dialer Dialer, hs Handshaker, tf TransportFactory) *Connection {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}
	return &Connection{
		dc:               dc,
		options:          options,
		dialer:           dialer,
		handshaker:       hs,
		transportFactory: tf,
		lastUsed:         time.Time{},
	}
}

// DC returns the data center this connection currently belongs to. May
// change across a call to Redirect.
func (c *Connection) DC() dcdirectory.DCID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc
}

// SetDCOptions replaces the candidate endpoints used on the next Start.
// Has no effect on an already-started connection.
func (c *Connection) SetDCOptions(options []dcdirectory.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = options
}

// Redirect re-homes this not-yet-ready connection onto a different DC in
// place, rather than discarding the connection object. Only meaningful
// before Start has succeeded; the pool's retry loop calls this in
// response to a QueryError{Code: ErrRedirect} and retries Start against
// the new DC on the same Connection.
func (c *Connection) Redirect(dc dcdirectory.DCID, options []dcdirectory.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dc = dc
	c.options = options
	c.started = false
	c.auth = AuthState{}
}

// Start performs the MTProto handshake if needed. Never retries
// internally — that is the pool/dispatcher's job.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return coreerr.Unavailable("session connection is closed")
	}
	if c.started && c.auth.Ready {
		return nil
	}
	if len(c.options) == 0 {
		return coreerr.New(coreerr.KindNetwork, fmt.Sprintf("no DC options for dc %d", c.dc))
	}

	opt := c.options[0]
	addr := fmt.Sprintf("%s:%d", opt.Address, opt.Port)
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		c.lastErrorAt = time.Now()
		return coreerr.Wrap(coreerr.KindNetwork, err, "dial failed")
	}

	auth, err := c.handshaker.Handshake(ctx, conn, c.auth)
	if err != nil {
		_ = conn.Close()
		c.lastErrorAt = time.Now()

		var qerr *QueryError
		if errors.As(err, &qerr) && qerr.Code == ErrRedirect {
			// Surfaced as-is, distinct from the generic network-failure
			// wrap below: the pool's retry loop inspects Code==ErrRedirect
			// to redial RedirectDC instead of treating this DC as down.
			return qerr
		}
		return coreerr.Wrap(coreerr.KindNetwork, err, "handshake failed")
	}

	c.conn = conn
	c.auth = auth
	if c.transportFactory != nil {
		c.transport = c.transportFactory(conn)
	}
	c.started = true
	c.lastUsed = time.Now()
	return nil
}

// IsReady reports whether the connection has completed its handshake and
// has not since failed or closed. O(1); used by the health checker's
// Quick mode on every pool acquire.
func (c *Connection) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && c.auth.Ready && !c.closed
}

// LastUsed returns the timestamp of the most recent Submit/Start.
func (c *Connection) LastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// LastErrorAt returns the timestamp of the most recent transport-level
// failure, or the zero Time if none occurred.
func (c *Connection) LastErrorAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErrorAt
}

// Submit sends q and awaits a reply. Categorized per ErrCode; never
// retried internally.
func (c *Connection) Submit(ctx context.Context, q Query) (Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Response{}, &QueryError{Code: ErrFatalProtocol, Message: "connection is closed"}
	}
	if !c.started || !c.auth.Ready {
		c.mu.Unlock()
		return Response{}, &QueryError{Code: ErrAuthRequired, Message: "session not ready"}
	}
	transport := c.transport
	c.mu.Unlock()

	atomic.AddInt64(&c.msgSeq, 1)

	resp, err := transport.Submit(ctx, q)

	c.mu.Lock()
	if err != nil {
		c.lastErrorAt = time.Now()
	} else {
		c.lastUsed = time.Now()
	}
	c.mu.Unlock()

	return resp, err
}

// Close tears down the transport. Once closed, the connection never
// revives; the pool must create a fresh instance.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.started = false
	c.auth.Ready = false
	var err error
	if c.transport != nil {
		err = c.transport.Close()
	} else if c.conn != nil {
		err = c.conn.Close()
	}
	return err
}
