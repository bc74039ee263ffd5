// Package actor provides a small actor/registry framework: every
// long-lived background worker in this module (pool cleanup, health
// polling, client registry bookkeeping) is registered under an ActorID so
// it can be looked up, supervised, and torn down uniformly. An "actor"
// here is anything that owns a mailbox channel and a cancellation
// context, not a scheduled green thread.
package actor

import "fmt"

// ID identifies one actor instance: a numeric id, the scheduler (goroutine
// pool) it's pinned to, and a generation counter that changes whenever an
// id slot is reused after an actor dies — any ID holder can tell a stale
// reference from a live one by comparing generations.
type ID struct {
	id          uint64
	schedulerID uint32
	generation  uint32
}

// NewID constructs an ID from its parts.
func NewID(id uint64, schedulerID, generation uint32) ID {
	return ID{id: id, schedulerID: schedulerID, generation: generation}
}

// Zero returns the sentinel "no actor" ID.
func Zero() ID { return ID{} }

// IsZero reports whether this is the sentinel "no actor" ID.
func (i ID) IsZero() bool { return i.id == 0 && i.schedulerID == 0 && i.generation == 0 }

// AsUint64 returns the raw numeric id, ignoring scheduler/generation.
func (i ID) AsUint64() uint64 { return i.id }

// SchedulerID returns which scheduler this actor is pinned to.
func (i ID) SchedulerID() uint32 { return i.schedulerID }

// Generation returns the reuse generation of this id slot.
func (i ID) Generation() uint32 { return i.generation }

func (i ID) String() string {
	return fmt.Sprintf("actor#%d.%d.%d", i.schedulerID, i.id, i.generation)
}
