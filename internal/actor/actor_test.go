package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/rustgram/client/internal/actor"
)

func TestIDZeroAndEquality(t *testing.T) {
	if !actor.Zero().IsZero() {
		t.Fatal("expected Zero() to report IsZero")
	}
	id := actor.NewID(1, 2, 0)
	if id.IsZero() {
		t.Fatal("expected a non-zero id to report false")
	}
	if id.SchedulerID() != 2 || id.AsUint64() != 1 {
		t.Fatalf("unexpected id parts: %+v", id)
	}
}

func TestRegistryRegisterAndChildren(t *testing.T) {
	r := actor.NewRegistry(1)
	done := make(chan struct{})
	close(done)

	root := r.Register(actor.Zero(), "root", func() {}, done)
	child := r.Register(root, "child", func() {}, done)

	kids := r.Children(root)
	if len(kids) != 1 || kids[0] != child {
		t.Fatalf("expected root to have one child, got %v", kids)
	}
	if r.Len() != 2 {
		t.Fatalf("expected 2 registered actors, got %d", r.Len())
	}
}

func TestRegistryUnregisterBumpsGeneration(t *testing.T) {
	r := actor.NewRegistry(1)
	done := make(chan struct{})
	close(done)

	id := r.Register(actor.Zero(), "a", func() {}, done)
	r.Unregister(id)
	if _, ok := r.Get(id); ok {
		t.Fatal("expected the unregistered id to no longer be found")
	}

	again := r.Register(actor.Zero(), "a", func() {}, done)
	if again.Generation() == id.Generation() && again.AsUint64() == id.AsUint64() {
		t.Fatal("expected a fresh registration to not collide silently with a stale id")
	}
}

func TestSupervisorOneForOneRestartsOnFailure(t *testing.T) {
	r := actor.NewRegistry(1)
	sup := actor.NewSupervisor(r, actor.Zero(), actor.OneForOne)

	starts := 0
	var doneCh chan struct{}
	restart := func() (func(), <-chan struct{}) {
		starts++
		doneCh = make(chan struct{})
		stop := func() {}
		return stop, doneCh
	}

	sup.Supervise("worker", restart)
	close(doneCh) // simulate an unexpected crash

	deadline := time.After(time.Second)
	for starts < 2 {
		select {
		case <-deadline:
			t.Fatal("expected the supervisor to restart the failed child")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSupervisorStopChildSuppressesRestart(t *testing.T) {
	r := actor.NewRegistry(1)
	sup := actor.NewSupervisor(r, actor.Zero(), actor.OneForOne)

	starts := 0
	restart := func() (func(), <-chan struct{}) {
		starts++
		d := make(chan struct{})
		return func() { close(d) }, d
	}

	id := sup.Supervise("worker", restart)
	sup.StopChild(id)

	time.Sleep(20 * time.Millisecond)
	if starts != 1 {
		t.Fatalf("expected exactly 1 start (no restart after a requested stop), got %d", starts)
	}
	if _, ok := r.Get(id); ok {
		t.Fatal("expected the stopped child to be unregistered")
	}
}

func TestMailboxSendReceive(t *testing.T) {
	mb := actor.NewMailbox[int](1)
	if err := mb.Send(context.Background(), 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case v := <-mb.Receive():
		if v != 42 {
			t.Fatalf("expected 42, got %d", v)
		}
	default:
		t.Fatal("expected a buffered message to be available")
	}
}

func TestMailboxTrySendFullReportsFalse(t *testing.T) {
	mb := actor.NewMailbox[int](1)
	if !mb.TrySend(1) {
		t.Fatal("expected the first send to succeed")
	}
	if mb.TrySend(2) {
		t.Fatal("expected the second send to report the mailbox full")
	}
}
