// Package bitmask tracks which parts of a chunked file transfer are ready,
// and serializes that state as a compact hex string for persistence (store)
// and resumption.
package bitmask

import (
	"encoding/hex"
)

// Bitmask is a growable set of part indices, backed by a byte-packed bit
// array. The zero value is an empty bitmask ready to use.
type Bitmask struct {
	bits []byte
}

// Empty returns a new, empty bitmask.
func Empty() *Bitmask { return &Bitmask{} }

func (b *Bitmask) ensure(byteIndex int) {
	if byteIndex < len(b.bits) {
		return
	}
	grown := make([]byte, byteIndex+1)
	copy(grown, b.bits)
	b.bits = grown
}

// Set marks part i as ready.
func (b *Bitmask) Set(i int64) {
	if i < 0 {
		return
	}
	byteIndex := int(i / 8)
	b.ensure(byteIndex)
	b.bits[byteIndex] |= 1 << uint(i%8)
}

// Clear marks part i as not ready.
func (b *Bitmask) Clear(i int64) {
	if i < 0 || int(i/8) >= len(b.bits) {
		return
	}
	b.bits[i/8] &^= 1 << uint(i%8)
}

// Get reports whether part i is marked ready.
func (b *Bitmask) Get(i int64) bool {
	if i < 0 {
		return false
	}
	byteIndex := int(i / 8)
	if byteIndex >= len(b.bits) {
		return false
	}
	return b.bits[byteIndex]&(1<<uint(i%8)) != 0
}

// Encode returns the hex-encoded byte-packed representation. limit caps the
// number of parts encoded; a negative limit means "all tracked parts".
func (b *Bitmask) Encode(limit int) string {
	data := b.bits
	if limit >= 0 {
		needed := (limit + 7) / 8
		if needed < len(data) {
			data = data[:needed]
		}
	}
	return hex.EncodeToString(data)
}

// Decode reverses Encode, for resuming from a persisted bitmask.
func Decode(s string) (*Bitmask, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return &Bitmask{bits: data}, nil
}

// ReadyIndices returns the part indices currently marked ready, in
// ascending order, for handing to partsmanager.Manager.Init's readyParts
// on resume.
func (b *Bitmask) ReadyIndices() []int32 {
	var out []int32
	for i := range b.bits {
		for bit := 0; bit < 8; bit++ {
			if b.bits[i]&(1<<uint(bit)) != 0 {
				out = append(out, int32(i*8+bit))
			}
		}
	}
	return out
}

// GetReadyPrefixSize returns the byte size of the contiguous run of ready
// parts starting at the part containing offset, capped at totalSize.
func (b *Bitmask) GetReadyPrefixSize(offset, partSize, totalSize int64) int64 {
	if partSize <= 0 {
		return 0
	}
	startPart := offset / partSize
	part := startPart
	for b.Get(part) {
		part++
	}
	readyBytes := (part - startPart) * partSize
	remaining := totalSize - offset
	if totalSize > 0 && readyBytes > remaining {
		readyBytes = remaining
	}
	if readyBytes < 0 {
		return 0
	}
	return readyBytes
}
