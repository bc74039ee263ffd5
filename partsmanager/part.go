package partsmanager

// Part describes one chunk of a file transfer: its index, byte offset, and
// size. A Part with a negative ID (see EmptyPart) represents "nothing left
// to do" — callers check IsEmpty rather than comparing against a sentinel
// ID directly. The zero-value Part has ID 0 and is not empty.
type Part struct {
	ID     int32
	Offset int64
	Size   int
}

// EmptyPart returns the sentinel "no part available" value.
func EmptyPart() Part { return Part{ID: -1} }

// IsEmpty reports whether this is the sentinel "no part available" value.
func (p Part) IsEmpty() bool { return p.ID < 0 }
