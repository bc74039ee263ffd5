package health_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rustgram/client/health"
	"github.com/rustgram/client/session"
)

type fakeConn struct {
	ready       bool
	lastErrorAt time.Time
	submitErr   error
}

func (f *fakeConn) IsReady() bool            { return f.ready }
func (f *fakeConn) LastErrorAt() time.Time   { return f.lastErrorAt }
func (f *fakeConn) Submit(ctx context.Context, q session.Query) (session.Response, error) {
	if f.submitErr != nil {
		return session.Response{}, f.submitErr
	}
	return session.Response{}, nil
}

func TestQuickNotReadyIsUnhealthy(t *testing.T) {
	c := health.New(10*time.Second, time.Second)
	if got := c.Quick(&fakeConn{ready: false}); got != health.Unhealthy {
		t.Fatalf("expected Unhealthy, got %s", got)
	}
}

func TestQuickReadyNoRecentErrorIsHealthy(t *testing.T) {
	c := health.New(10*time.Second, time.Second)
	if got := c.Quick(&fakeConn{ready: true}); got != health.Healthy {
		t.Fatalf("expected Healthy, got %s", got)
	}
}

func TestQuickReadyRecentErrorIsDegraded(t *testing.T) {
	c := health.New(10*time.Second, time.Second)
	conn := &fakeConn{ready: true, lastErrorAt: time.Now().Add(-1 * time.Second)}
	if got := c.Quick(conn); got != health.Degraded {
		t.Fatalf("expected Degraded, got %s", got)
	}
}

func TestQuickReadyOldErrorIsHealthy(t *testing.T) {
	c := health.New(10*time.Millisecond, time.Second)
	conn := &fakeConn{ready: true, lastErrorAt: time.Now().Add(-1 * time.Hour)}
	if got := c.Quick(conn); got != health.Healthy {
		t.Fatalf("expected Healthy for stale error, got %s", got)
	}
}

func TestProbeFailureIsUnhealthy(t *testing.T) {
	c := health.New(10*time.Second, time.Second)
	conn := &fakeConn{ready: true, submitErr: errors.New("boom")}
	if got := c.Probe(context.Background(), conn, session.Query{}); got != health.Unhealthy {
		t.Fatalf("expected Unhealthy on probe failure, got %s", got)
	}
}

func TestProbeSuccessDefersToQuick(t *testing.T) {
	c := health.New(10*time.Second, time.Second)
	conn := &fakeConn{ready: true}
	if got := c.Probe(context.Background(), conn, session.Query{}); got != health.Healthy {
		t.Fatalf("expected Healthy on probe success, got %s", got)
	}
}
