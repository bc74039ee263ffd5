package bitmask_test

import (
	"testing"

	"github.com/rustgram/client/internal/bitmask"
)

func TestSetGetClear(t *testing.T) {
	b := bitmask.Empty()
	if b.Get(0) {
		t.Fatal("expected a fresh bitmask to report nothing set")
	}
	b.Set(0)
	b.Set(9)
	if !b.Get(0) || !b.Get(9) {
		t.Fatal("expected set bits to read back")
	}
	if b.Get(1) || b.Get(8) {
		t.Fatal("expected unset bits to stay unset")
	}
	b.Clear(9)
	if b.Get(9) {
		t.Fatal("expected a cleared bit to read back unset")
	}
}

func TestNegativeIndicesIgnored(t *testing.T) {
	b := bitmask.Empty()
	b.Set(-1)
	b.Clear(-1)
	if b.Get(-1) {
		t.Fatal("expected negative indices to never read as set")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]int64{
		nil,
		{0},
		{7},
		{0, 1, 2, 3, 4, 5, 6, 7},
		{3, 11, 42, 100},
	}
	for _, indices := range cases {
		b := bitmask.Empty()
		for _, i := range indices {
			b.Set(i)
		}
		decoded, err := bitmask.Decode(b.Encode(-1))
		if err != nil {
			t.Fatalf("decode failed for %v: %v", indices, err)
		}
		got := decoded.ReadyIndices()
		if len(got) != len(indices) {
			t.Fatalf("round trip lost bits for %v: got %v", indices, got)
		}
		for i := range indices {
			if int64(got[i]) != indices[i] {
				t.Fatalf("round trip mismatch for %v: got %v", indices, got)
			}
		}
	}
}

func TestDecodeRejectsNonHex(t *testing.T) {
	if _, err := bitmask.Decode("zz"); err == nil {
		t.Fatal("expected an error for non-hex input")
	}
}

func TestEncodeLimitTruncates(t *testing.T) {
	b := bitmask.Empty()
	b.Set(0)
	b.Set(15)
	if got := b.Encode(8); got != "01" {
		t.Fatalf("expected encoding limited to 8 parts to cover one byte, got %q", got)
	}
}

func TestGetReadyPrefixSize(t *testing.T) {
	b := bitmask.Empty()
	b.Set(0)
	b.Set(1)
	b.Set(3)

	if got := b.GetReadyPrefixSize(0, 100, 400); got != 200 {
		t.Fatalf("expected a 2-part contiguous prefix (200 bytes), got %d", got)
	}
	if got := b.GetReadyPrefixSize(300, 100, 400); got != 100 {
		t.Fatalf("expected the final part capped at the file size, got %d", got)
	}
	if got := b.GetReadyPrefixSize(200, 100, 400); got != 0 {
		t.Fatalf("expected no ready prefix starting at an empty part, got %d", got)
	}
}
