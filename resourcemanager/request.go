package resourcemanager

import "sync/atomic"

// Request describes a single admission request.
type Request struct {
	Type         Type
	Priority     Priority
	ID           uint64
	ExpectedSize int64 // bytes; 0 means unknown
}

// NewRequest builds a Request. Use NextRequestID to obtain a unique ID.
func NewRequest(typ Type, priority Priority, id uint64, expectedSize int64) Request {
	return Request{Type: typ, Priority: priority, ID: id, ExpectedSize: expectedSize}
}

var nextRequestID uint64

// NextRequestID returns a process-wide unique, monotonically increasing
// request identifier, starting at 1.
func NextRequestID() uint64 {
	return atomic.AddUint64(&nextRequestID, 1)
}
