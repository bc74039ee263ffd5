package circuitbreaker_test

import (
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/circuitbreaker"
	"github.com/rustgram/client/internal/config"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestStaysClosedUnderMinSamples(t *testing.T) {
	cfg := config.BreakerConfig{MinSamples: 4, FailureThreshold: 0.5, OpenDuration: 100 * time.Millisecond, HalfOpenProbes: 1}
	b := circuitbreaker.New("test", cfg, testLogger())

	for i := 0; i < 3; i++ {
		p, err := b.Allow()
		if err != nil {
			t.Fatalf("unexpected deny before min samples reached: %v", err)
		}
		p.Failure()
	}

	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("expected Closed under min samples, got %s", b.State())
	}
}

func TestTripAndRecover(t *testing.T) {
	cfg := config.BreakerConfig{
		MinSamples:       4,
		FailureThreshold: 0.5,
		OpenDuration:     80 * time.Millisecond,
		HalfOpenProbes:   1,
	}
	b := circuitbreaker.New("test", cfg, testLogger())

	// 2 successes then 3 failures: the 4th sample trips on failure rate
	// the moment Requests reaches MinSamples (4) with failures >= half.
	outcomes := []bool{true, true, false, false, false}
	var lastErr error
	for _, ok := range outcomes {
		p, err := b.Allow()
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			p.Success()
		} else {
			p.Failure()
		}
	}
	_ = lastErr

	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("expected Open after failing run, got %s", b.State())
	}

	if _, err := b.Allow(); err == nil {
		t.Fatal("expected immediate fail-fast while open")
	}

	time.Sleep(120 * time.Millisecond)

	p, err := b.Allow()
	if err != nil {
		t.Fatalf("expected half-open probe to be allowed after timeout: %v", err)
	}
	if b.State() != circuitbreaker.StateHalfOpen {
		t.Fatalf("expected HalfOpen during probe, got %s", b.State())
	}
	p.Success()

	if b.State() != circuitbreaker.StateClosed {
		t.Fatalf("expected Closed after successful probe, got %s", b.State())
	}
}

func TestHalfOpenFailureGrowsOpenDuration(t *testing.T) {
	cfg := config.BreakerConfig{
		MinSamples:         1,
		FailureThreshold:   0.5,
		OpenDuration:       50 * time.Millisecond,
		HalfOpenProbes:     1,
		OpenDurationFactor: 2.0,
		MaxOpenDuration:    1 * time.Second,
	}
	b := circuitbreaker.New("test", cfg, testLogger())

	p, _ := b.Allow()
	p.Failure()
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("expected Open after first failure, got %s", b.State())
	}

	time.Sleep(60 * time.Millisecond)
	p, err := b.Allow()
	if err != nil {
		t.Fatalf("expected half-open probe allowed: %v", err)
	}
	p.Failure()
	if b.State() != circuitbreaker.StateOpen {
		t.Fatalf("expected re-Open after half-open probe failure, got %s", b.State())
	}

	// the grown open duration (≈100ms) must still be gating the breaker
	// shortly after the original 50ms window would have elapsed.
	time.Sleep(60 * time.Millisecond)
	if _, err := b.Allow(); err == nil {
		t.Fatal("expected breaker to still be open past the original (un-grown) duration")
	}
}
