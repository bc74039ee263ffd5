// Package dcdirectory holds the canonical set of DC endpoints and IP
// options the pool selects from. It performs no health tracking of its
// own — that is the pool and health-checker's concern.
package dcdirectory

import (
	"sync"

	"github.com/rustgram/client/internal/coreerr"
)

// DCID identifies a Telegram data center. Small positive integers in
// production; negative values are reserved for test DCs.
type DCID int32

// Option is one network endpoint for a DC.
type Option struct {
	Address string
	Port    int
	// Flags below mirror the server's DC option bits; only the ones the
	// pool and session layers actually branch on are named.
	IPv6       bool
	MediaOnly  bool
	TCPOnly    bool
	CDN        bool
	Static     bool
}

// Directory is a table of DC options; each call to New builds an
// independent instance.
type Directory struct {
	mu      sync.RWMutex
	options map[DCID][]Option
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{options: make(map[DCID][]Option)}
}

// SetAll atomically replaces the entire option set for dc.
func (d *Directory) SetAll(dc DCID, options []Option) error {
	for _, opt := range options {
		if opt.Address == "" {
			return coreerr.InvalidValue("options", "address must be non-empty")
		}
	}
	cp := make([]Option, len(options))
	copy(cp, options)

	d.mu.Lock()
	d.options[dc] = cp
	d.mu.Unlock()
	return nil
}

// Lookup returns the known options for dc, or nil if the DC is unknown.
// The returned slice is a copy; callers may not mutate the directory
// through it.
func (d *Directory) Lookup(dc DCID) []Option {
	d.mu.RLock()
	defer d.mu.RUnlock()
	opts, ok := d.options[dc]
	if !ok {
		return nil
	}
	cp := make([]Option, len(opts))
	copy(cp, opts)
	return cp
}

// Known reports whether dc has at least one registered option. The pool
// consults this before ever attempting to create a connection for dc.
func (d *Directory) Known(dc DCID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.options[dc]) > 0
}

// DCIds returns the set of DCs with at least one option, in no
// particular order.
func (d *Directory) DCIds() []DCID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]DCID, 0, len(d.options))
	for id, opts := range d.options {
		if len(opts) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
