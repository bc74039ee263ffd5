package clientregistry

import "github.com/rustgram/client/internal/coreerr"

// MaxAccountTTLDays is the upper bound accepted for an account-deletion
// TTL (one leap year).
const MaxAccountTTLDays = 366

// AccountTTL is the validated "delete my account after N days of
// inactivity" setting accepted by client config paths that expose it.
type AccountTTL struct {
	days int32
}

// Days returns the validated day count.
func (t AccountTTL) Days() int32 { return t.days }

// NewAccountTTL validates days against [1, MaxAccountTTLDays] inclusive.
func NewAccountTTL(days int32) (AccountTTL, *coreerr.Error) {
	if days < 1 || days > MaxAccountTTLDays {
		return AccountTTL{}, coreerr.InvalidValue("account_ttl_days", "must be between 1 and 366 inclusive")
	}
	return AccountTTL{days: days}, nil
}
