package clientregistry_test

import (
	"testing"

	"github.com/rustgram/client/clientregistry"
)

func TestCreateAssignsMonotonicIDs(t *testing.T) {
	r := clientregistry.NewRegistry()

	id1, err := r.Create(clientregistry.Config{APIID: 1, APIHash: "h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := r.Create(clientregistry.Config{APIID: 1, APIHash: "h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", id1, id2)
	}
}

func TestCreateValidatesAPIID(t *testing.T) {
	r := clientregistry.NewRegistry()
	if _, err := r.Create(clientregistry.Config{APIID: 0, APIHash: "h"}); err == nil {
		t.Fatal("expected an error for api_id <= 0")
	}
}

func TestCreateValidatesAPIHash(t *testing.T) {
	r := clientregistry.NewRegistry()
	if _, err := r.Create(clientregistry.Config{APIID: 1, APIHash: ""}); err == nil {
		t.Fatal("expected an error for an empty api_hash")
	}
}

func TestDestroyUnknownIDFails(t *testing.T) {
	r := clientregistry.NewRegistry()
	if err := r.Destroy(clientregistry.ClientId(999)); err == nil {
		t.Fatal("expected an error destroying an unknown client id")
	}
}

func TestDestroyThenGetFails(t *testing.T) {
	r := clientregistry.NewRegistry()
	id, err := r.Create(clientregistry.Config{APIID: 1, APIHash: "h"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Destroy(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get(id); err == nil {
		t.Fatal("expected Get to fail for a destroyed client id")
	}
}

func TestIDsAreNeverRecycled(t *testing.T) {
	r := clientregistry.NewRegistry()
	id1, _ := r.Create(clientregistry.Config{APIID: 1, APIHash: "h"})
	r.Destroy(id1)
	id2, _ := r.Create(clientregistry.Config{APIID: 1, APIHash: "h"})
	if id2 == id1 {
		t.Fatal("expected a destroyed id to never be reissued")
	}
}

func TestGlobalReturnsSameInstance(t *testing.T) {
	a := clientregistry.Global()
	b := clientregistry.Global()
	if a != b {
		t.Fatal("expected Global() to return the same singleton instance")
	}
}

func TestAccountTTLValidRange(t *testing.T) {
	for _, days := range []int32{1, 180, 366} {
		if _, err := clientregistry.NewAccountTTL(days); err != nil {
			t.Fatalf("expected %d days to be valid, got error: %v", days, err)
		}
	}
}

func TestAccountTTLInvalidRange(t *testing.T) {
	for _, days := range []int32{0, -1, 367, 500} {
		if _, err := clientregistry.NewAccountTTL(days); err == nil {
			t.Fatalf("expected %d days to be rejected", days)
		}
	}
}
