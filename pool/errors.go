package pool

import (
	"fmt"
	"time"

	"github.com/rustgram/client/dcdirectory"
	"github.com/rustgram/client/internal/coreerr"
)

// ErrKind is the pool's own small failure taxonomy. Only
// ErrConnectionFailed is subject to the retry loop; the others are
// terminal for the acquire call that produced them.
type ErrKind int

const (
	ErrNoConnection ErrKind = iota + 1
	ErrClosed
	ErrTimeout
	ErrInvalidDcID
	ErrConnectionFailed
)

// Error is the error type returned by Acquire.
type Error struct {
	Kind    ErrKind
	DC      dcdirectory.DCID
	Timeout time.Duration
	Reason  string
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNoConnection:
		return fmt.Sprintf("no connection available for dc %d", e.DC)
	case ErrClosed:
		if e.Reason != "" {
			return fmt.Sprintf("pool is closed: %s", e.Reason)
		}
		return "pool is closed"
	case ErrTimeout:
		return fmt.Sprintf("acquire timed out after %s", e.Timeout)
	case ErrInvalidDcID:
		return fmt.Sprintf("dc %d has no known options", e.DC)
	case ErrConnectionFailed:
		return fmt.Sprintf("connection to dc %d failed: %s", e.DC, e.Reason)
	default:
		return "pool error"
	}
}

// ToCoreErr bridges the pool's taxonomy into the unified error contract
// — the request mapper's translation responsibility applied to
// pool-originated failures specifically.
func (e *Error) ToCoreErr() *coreerr.Error {
	switch e.Kind {
	case ErrClosed:
		return coreerr.Unavailable("connection pool is closed")
	case ErrTimeout:
		return coreerr.Timeoutf("acquire timed out after %s", e.Timeout)
	case ErrInvalidDcID:
		return coreerr.InvalidValue("dc_id", fmt.Sprintf("dc %d has no known options", e.DC))
	case ErrConnectionFailed:
		return coreerr.Network(e.Reason)
	default:
		return coreerr.Network(e.Error())
	}
}
