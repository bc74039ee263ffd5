package pool

import (
	"testing"
	"time"
)

func TestComputeDelayExponentialGrowth(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 10 * time.Second

	for attempt, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		if got := computeDelay(base, attempt, maxDelay, false); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestComputeDelayClampsToMax(t *testing.T) {
	if got := computeDelay(100*time.Millisecond, 20, 10*time.Second, false); got != 10*time.Second {
		t.Fatalf("expected clamp to max delay, got %s", got)
	}
}

func TestComputeDelayJitterNeverExceedsMax(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 150 * time.Millisecond

	for i := 0; i < 200; i++ {
		got := computeDelay(base, 5, maxDelay, true)
		if got > maxDelay {
			t.Fatalf("jittered delay %s exceeds the configured ceiling %s", got, maxDelay)
		}
		if got < base {
			t.Fatalf("jitter must only add to the delay, got %s under base %s", got, base)
		}
	}
}

func TestComputeDelayJitterBounded(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 200; i++ {
		got := computeDelay(base, 0, 10*time.Second, true)
		if got < base || got > base+base/4 {
			t.Fatalf("expected jitter within 25%% of %s, got %s", base, got)
		}
	}
}
