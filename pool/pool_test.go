package pool_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/circuitbreaker"
	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/health"
	"github.com/rustgram/client/internal/config"
	"github.com/rustgram/client/pool"
	"github.com/rustgram/client/session"
)

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeDialer struct {
	fail  bool
	block <-chan struct{}
}

func (d *fakeDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.block != nil {
		<-d.block
	}
	if d.fail {
		return nil, fakeErr("dial refused")
	}
	c, _ := net.Pipe()
	return c, nil
}

type fakeHandshaker struct{ fail bool }

func (h *fakeHandshaker) Handshake(ctx context.Context, conn net.Conn, existing session.AuthState) (session.AuthState, error) {
	if h.fail {
		return session.AuthState{}, fakeErr("handshake refused")
	}
	return session.AuthState{Ready: true}, nil
}

// redirectingHandshaker fails the first Start with a DC-migrate redirect,
// then succeeds — modeling a DC that always bounces a fresh auth key to
// RedirectDC once before accepting it.
type redirectingHandshaker struct {
	redirectDC dcdirectory.DCID
	redirected bool
}

func (h *redirectingHandshaker) Handshake(ctx context.Context, conn net.Conn, existing session.AuthState) (session.AuthState, error) {
	if !h.redirected {
		h.redirected = true
		return session.AuthState{}, &session.QueryError{Code: session.ErrRedirect, RedirectDC: h.redirectDC, Message: "PHONE_MIGRATE"}
	}
	return session.AuthState{Ready: true}, nil
}

type fakeTransport struct{}

func (fakeTransport) Submit(ctx context.Context, q session.Query) (session.Response, error) {
	return session.Response{Payload: q.Payload}, nil
}
func (fakeTransport) Close() error { return nil }

func testLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func newTestPool(t *testing.T, dialFails bool) (*pool.Pool, *dcdirectory.Directory) {
	t.Helper()
	dir := dcdirectory.New()
	if err := dir.SetAll(2, []dcdirectory.Option{{Address: "127.0.0.1", Port: 443}}); err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}

	cfg := config.DefaultPoolConfig()
	cfg.MaxConnectionsPerDC = 2
	cfg.MaxRetryAttempts = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.AcquireTimeout = 2 * time.Second
	cfg.CircuitBreakerEnabled = false

	breakers := circuitbreaker.NewRegistry(cfg.Breaker, testLogger())
	checker := health.New(10*time.Second, time.Second)

	factory := func(dc dcdirectory.DCID, opts []dcdirectory.Option) *session.Connection {
		return session.New(dc, opts, &fakeDialer{fail: dialFails}, &fakeHandshaker{fail: dialFails}, func(net.Conn) session.Transport { return fakeTransport{} })
	}

	return pool.New(cfg, dir, breakers, checker, factory, testLogger()), dir
}

func TestColdAcquireSuccessful(t *testing.T) {
	p, _ := newTestPool(t, false)

	h, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ActiveCount(2, pool.PurposeMain) != 1 {
		t.Fatalf("expected active=1, got %d", p.ActiveCount(2, pool.PurposeMain))
	}
	h.Release()
	if p.ActiveCount(2, pool.PurposeMain) != 0 {
		t.Fatalf("expected active=0 after release, got %d", p.ActiveCount(2, pool.PurposeMain))
	}
	if p.IdleCount(2, pool.PurposeMain) != 1 {
		t.Fatalf("expected idle=1 after release, got %d", p.IdleCount(2, pool.PurposeMain))
	}
}

func TestReuseAfterRelease(t *testing.T) {
	p, _ := newTestPool(t, false)

	h1, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	conn1 := h1.Connection()
	h1.Release()

	h2, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h2.Connection() != conn1 {
		t.Fatal("expected reuse of the same underlying connection")
	}
	h2.Release()
}

func TestInvalidDcIDRejected(t *testing.T) {
	p, _ := newTestPool(t, false)
	_, err := p.Acquire(context.Background(), 99, pool.PurposeMain)
	if err == nil {
		t.Fatal("expected error for unknown dc")
	}
	perr, ok := err.(*pool.Error)
	if !ok || perr.Kind != pool.ErrInvalidDcID {
		t.Fatalf("expected ErrInvalidDcID, got %v", err)
	}
}

func TestMaxConnectionsPerDCEnforced(t *testing.T) {
	p, _ := newTestPool(t, false)

	h1, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h2, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err == nil {
		t.Fatal("expected acquire to fail once at capacity")
	}

	h1.Release()
	h2.Release()
}

func TestRetryExhaustedReturnsConnectionFailed(t *testing.T) {
	p, _ := newTestPool(t, true)
	_, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err == nil {
		t.Fatal("expected connection failure")
	}
	perr, ok := err.(*pool.Error)
	if !ok || perr.Kind != pool.ErrConnectionFailed {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
}

func TestCloseAllRejectsFutureAcquires(t *testing.T) {
	p, _ := newTestPool(t, false)
	h, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.CloseAll()

	_, err = p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err == nil {
		t.Fatal("expected acquire to fail after CloseAll")
	}
	perr, ok := err.(*pool.Error)
	if !ok || perr.Kind != pool.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// releasing a handle against a closed pool must not panic or revive it
	h.Release()
}

func TestPurposesAreIsolated(t *testing.T) {
	p, _ := newTestPool(t, false)

	hMain, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hDownload, err := p.Acquire(context.Background(), 2, pool.PurposeDownload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hMain.Connection() == hDownload.Connection() {
		t.Fatal("expected distinct connections across purposes")
	}
	hMain.Release()
	hDownload.Release()
}

func TestAcquireFollowsDCRedirect(t *testing.T) {
	dir := dcdirectory.New()
	if err := dir.SetAll(2, []dcdirectory.Option{{Address: "127.0.0.1", Port: 443}}); err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}
	if err := dir.SetAll(5, []dcdirectory.Option{{Address: "127.0.0.1", Port: 443}}); err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}

	cfg := config.DefaultPoolConfig()
	cfg.MaxConnectionsPerDC = 2
	cfg.MaxRetryAttempts = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.AcquireTimeout = 2 * time.Second
	cfg.CircuitBreakerEnabled = true

	breakers := circuitbreaker.NewRegistry(cfg.Breaker, testLogger())
	checker := health.New(10*time.Second, time.Second)

	hs := &redirectingHandshaker{redirectDC: 5}
	factory := func(dc dcdirectory.DCID, opts []dcdirectory.Option) *session.Connection {
		return session.New(dc, opts, &fakeDialer{}, hs, func(net.Conn) session.Transport { return fakeTransport{} })
	}
	p := pool.New(cfg, dir, breakers, checker, factory, testLogger())

	h, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error following redirect: %v", err)
	}
	if h.Connection().DC() != 5 {
		t.Fatalf("expected the connection to end up on dc 5 after redirect, got %d", h.Connection().DC())
	}
	h.Release()
}

func TestStartRunsSupervisedCleanupAndStopHalts(t *testing.T) {
	dir := dcdirectory.New()
	if err := dir.SetAll(2, []dcdirectory.Option{{Address: "127.0.0.1", Port: 443}}); err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}

	cfg := config.DefaultPoolConfig()
	cfg.MaxConnectionsPerDC = 2
	cfg.AcquireTimeout = 2 * time.Second
	cfg.CircuitBreakerEnabled = false
	cfg.ConnectionTTL = 5 * time.Millisecond
	cfg.CleanupInterval = 10 * time.Millisecond

	breakers := circuitbreaker.NewRegistry(cfg.Breaker, testLogger())
	checker := health.New(10*time.Second, time.Second)
	factory := func(dc dcdirectory.DCID, opts []dcdirectory.Option) *session.Connection {
		return session.New(dc, opts, &fakeDialer{}, &fakeHandshaker{}, func(net.Conn) session.Transport { return fakeTransport{} })
	}
	p := pool.New(cfg, dir, breakers, checker, factory, testLogger())

	h, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h.Release()
	if p.IdleCount(2, pool.PurposeMain) != 1 {
		t.Fatalf("expected idle=1 before cleanup, got %d", p.IdleCount(2, pool.PurposeMain))
	}

	p.Start()
	defer p.Stop()

	deadline := time.After(2 * time.Second)
	for p.IdleCount(2, pool.PurposeMain) != 0 {
		select {
		case <-deadline:
			t.Fatal("expected the supervised cleanup worker to trim the idle-expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestMaxPendingAcquiresEnforced(t *testing.T) {
	dir := dcdirectory.New()
	if err := dir.SetAll(2, []dcdirectory.Option{{Address: "127.0.0.1", Port: 443}}); err != nil {
		t.Fatalf("SetAll failed: %v", err)
	}

	cfg := config.DefaultPoolConfig()
	cfg.MaxConnectionsPerDC = 4
	cfg.MaxPendingAcquires = 1
	cfg.AcquireTimeout = 2 * time.Second
	cfg.CircuitBreakerEnabled = false

	breakers := circuitbreaker.NewRegistry(cfg.Breaker, testLogger())
	checker := health.New(10*time.Second, time.Second)

	block := make(chan struct{})
	factory := func(dc dcdirectory.DCID, opts []dcdirectory.Option) *session.Connection {
		return session.New(dc, opts, &fakeDialer{block: block}, &fakeHandshaker{}, func(net.Conn) session.Transport { return fakeTransport{} })
	}
	p := pool.New(cfg, dir, breakers, checker, factory, testLogger())

	firstStarted := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		close(firstStarted)
		_, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
		firstDone <- err
	}()
	<-firstStarted
	time.Sleep(20 * time.Millisecond) // let the first acquire block inside dial

	_, err := p.Acquire(context.Background(), 2, pool.PurposeMain)
	if err == nil {
		t.Fatal("expected second acquire to be rejected by the pending-acquire cap")
	}
	perr, ok := err.(*pool.Error)
	if !ok || perr.Kind != pool.ErrClosed {
		t.Fatalf("expected ErrClosed (cap exceeded), got %v", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("unexpected error from first acquire: %v", err)
	}
}
