// Package partsmanager tracks which parts of a chunked file transfer are
// empty, pending, or ready, and drives the upload/download state machine
// around that tracking. The first empty/not-ready indices are kept as
// running cursors rather than rescanned on every call.
package partsmanager

import (
	"fmt"
	"sync"

	"github.com/rustgram/client/internal/bitmask"
	"github.com/rustgram/client/internal/coreerr"
)

// MaxPartCountPremium is the maximum number of parts a premium account may
// track for a single transfer.
const MaxPartCountPremium = 8000

// MaxPartSize is the maximum size, in bytes, of a single part.
const MaxPartSize = 512 << 10

// MaxFileSize is the largest file size representable under
// MaxPartCountPremium parts of MaxPartSize each.
const MaxFileSize = int64(MaxPartSize) * int64(MaxPartCountPremium)

// Status is the per-part transfer state.
type Status int

const (
	StatusEmpty Status = iota
	StatusPending
	StatusReady
)

func (s Status) IsReady() bool   { return s == StatusReady }
func (s Status) IsPending() bool { return s == StatusPending }
func (s Status) IsEmpty() bool   { return s == StatusEmpty }

// InitOptions configures a transfer when Manager.Init is called.
type InitOptions struct {
	Size              int64
	ExpectedSize      int64
	IsSizeFinal       bool
	PartSize          int
	UsePartCountLimit bool
	IsUpload          bool
}

// Manager tracks part state for one chunked file transfer. Safe for
// concurrent use: every method takes the manager's own mutex. Callers own
// a Manager per in-flight transfer, matching the one-manager-per-file
// ownership model of the file-transfer actors that drive it.
type Manager struct {
	mu sync.Mutex

	isUpload bool

	needCheck          bool
	checkedPrefixSize  int64
	knownPrefixFlag    bool
	knownPrefixSize    int64

	size            int64
	expectedSize    int64
	unknownSizeFlag bool

	readySize           int64
	streamingReadySize  int64

	partSize           int
	partCount          int32
	pendingCount       int32
	firstEmptyPart     int32
	firstNotReadyPart  int32

	streamingOffset              int64
	streamingLimit               int64
	firstStreamingEmptyPart      int32
	firstStreamingNotReadyPart   int32

	partStatus []Status
	bitmask    *bitmask.Bitmask

	usePartCountLimit bool
}

// New returns an uninitialized manager.
func New() *Manager {
	return &Manager{bitmask: bitmask.Empty()}
}

// Init prepares the manager for a transfer of the given shape. readyParts
// lists part indices already known to be complete (e.g. resumed from a
// persisted bitmask).
func (m *Manager) Init(opts InitOptions, readyParts []int32) *coreerr.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.PartSize > MaxPartSize {
		return errInvalidPartSize()
	}
	if opts.Size > MaxFileSize {
		return errFileTooLarge()
	}

	m.isUpload = opts.IsUpload
	m.usePartCountLimit = opts.UsePartCountLimit
	m.partSize = opts.PartSize
	m.expectedSize = opts.ExpectedSize

	if opts.Size != 0 {
		m.size = opts.Size
		m.partCount = int32((opts.Size + int64(opts.PartSize) - 1) / int64(opts.PartSize))
	} else {
		m.unknownSizeFlag = true
		m.partCount = 0
	}

	m.partStatus = make([]Status, m.partCount)
	m.bitmask = bitmask.Empty()

	if err := m.initCommon(readyParts); err != nil {
		return err
	}
	m.updateFirstEmptyPart()
	m.updateFirstNotReadyPart()

	if opts.IsSizeFinal && opts.Size != 0 {
		m.knownPrefixFlag = true
		m.knownPrefixSize = opts.Size
	}

	return nil
}

func (m *Manager) initCommon(readyParts []int32) *coreerr.Error {
	m.readySize = 0
	if len(readyParts) == 0 {
		return nil
	}

	partSize := int64(m.partSize)
	for _, id := range readyParts {
		if id < 0 || id >= m.partCount {
			return errInvalidPartID(id)
		}
		if m.partStatus[id] != StatusEmpty {
			continue
		}
		m.partStatus[id] = StatusReady
		m.bitmask.Set(int64(id))

		size := partSize
		if m.size != 0 {
			offset := int64(id) * partSize
			if offset+partSize > m.size {
				size = m.size - offset
			}
		}
		m.readySize += size
	}
	return nil
}

// MayFinish reports whether the ready bytes account for the whole file:
// false while the transfer has no parts, true for an unknown-size
// transfer, otherwise true once the ready size reaches the file size.
func (m *Manager) MayFinish() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mayFinishLocked()
}

func (m *Manager) mayFinishLocked() bool {
	if m.partCount == 0 {
		return false
	}
	if m.unknownSizeFlag {
		return true
	}
	return m.readySize >= m.size
}

// Ready reports whether every part is ready (and, if verification was
// requested, that the checked prefix covers the known prefix).
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.mayFinishLocked() {
		return false
	}
	if m.needCheck && m.checkedPrefixSize < m.knownPrefixSize {
		return false
	}
	return m.firstNotReadyPart >= m.partCount
}

// UncheckedReady reports whether every part is ready, ignoring any
// outstanding prefix verification.
func (m *Manager) UncheckedReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstNotReadyPart >= m.partCount
}

// Finish marks the transfer complete, failing if parts remain outstanding.
func (m *Manager) Finish() *coreerr.Error {
	if !m.Ready() {
		return errNotReady()
	}
	return nil
}

// StartPart returns the next part to transfer, or an empty Part if nothing
// remains (respecting the streaming window, when one is set).
func (m *Manager) StartPart() Part {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.partCount == 0 {
		return EmptyPart()
	}

	var part Part
	if m.isStreamingLimitReached() {
		part = m.getPart(m.firstStreamingEmptyPart)
	} else {
		part = m.getPart(m.firstEmptyPart)
	}

	if part.ID < 0 {
		return EmptyPart()
	}

	m.onPartStart(part.ID)
	return part
}

// OnPartOK marks partID complete, recording actualSize bytes transferred.
// When the file size is known, the recorded bytes are capped at the part's
// own length, so a short final part never pushes the ready size past the
// file size.
func (m *Manager) OnPartOK(partID int32, actualSize int) *coreerr.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if partID < 0 || partID >= m.partCount {
		return errInvalidPartID(partID)
	}

	if m.partStatus[partID] == StatusPending {
		m.pendingCount--
	}
	m.partStatus[partID] = StatusReady
	m.bitmask.Set(int64(partID))
	added := int64(actualSize)
	if m.size != 0 {
		if partLen := m.size - int64(partID)*int64(m.partSize); added > partLen {
			added = partLen
		}
	}
	m.readySize += added

	if partID == m.firstEmptyPart {
		m.updateFirstEmptyPart()
	}
	if partID == m.firstNotReadyPart {
		m.updateFirstNotReadyPart()
	}
	return nil
}

// OnPartFailed reverts partID back to empty so it can be retried.
func (m *Manager) OnPartFailed(partID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if partID < 0 || partID >= m.partCount {
		return
	}
	if m.partStatus[partID] == StatusPending {
		m.pendingCount--
	}
	m.partStatus[partID] = StatusEmpty
}

// SetKnownPrefix records the known-good prefix size, e.g. learned from an
// upstream content-length header.
func (m *Manager) SetKnownPrefix(size int64, isReady bool) *coreerr.Error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size < 0 {
		return errInvalidSize()
	}
	m.knownPrefixFlag = true
	m.knownPrefixSize = size
	if isReady {
		m.checkedPrefixSize = size
	}
	return nil
}

// SetNeedCheck requests that Ready hold back completion until the checked
// prefix catches up with the known prefix (integrity verification).
func (m *Manager) SetNeedCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needCheck = true
}

// SetCheckedPrefixSize records how much of the file has passed
// verification.
func (m *Manager) SetCheckedPrefixSize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkedPrefixSize = size
}

// SetStreamingOffset narrows part selection to the window starting at
// offset, returning the number of parts skipped ahead of it.
func (m *Manager) SetStreamingOffset(offset, limit int64) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamingOffset = offset
	m.streamingLimit = limit

	if m.partSize == 0 {
		return 0
	}
	offsetPart := int32(offset / int64(m.partSize))
	m.firstStreamingEmptyPart = offsetPart
	m.firstStreamingNotReadyPart = offsetPart
	return offsetPart
}

// SetStreamingLimit adjusts the streaming window's byte limit.
func (m *Manager) SetStreamingLimit(limit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamingLimit = limit
}

// GetCheckedPrefixSize returns the verified prefix size.
func (m *Manager) GetCheckedPrefixSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkedPrefixSize
}

// GetUncheckedReadyPrefixSize returns the contiguous ready run starting at
// the current streaming offset, independent of verification state.
func (m *Manager) GetUncheckedReadyPrefixSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bitmask.GetReadyPrefixSize(m.streamingOffset, int64(m.partSize), m.size)
}

// GetSize returns the file size, or 0 if unknown.
func (m *Manager) GetSize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// GetEstimatedExtra always returns 0: no transport overhead is estimated
// beyond the raw part sizes in this implementation.
func (m *Manager) GetEstimatedExtra() int64 { return 0 }

// GetReadySize returns the total bytes confirmed transferred.
func (m *Manager) GetReadySize() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readySize
}

// GetPartSize returns the configured part size.
func (m *Manager) GetPartSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partSize
}

// GetPartCount returns the total number of parts.
func (m *Manager) GetPartCount() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.partCount
}

// GetUncheckedReadyPrefixCount returns GetUncheckedReadyPrefixSize in whole
// parts.
func (m *Manager) GetUncheckedReadyPrefixCount() int32 {
	size := m.GetUncheckedReadyPrefixSize()
	m.mu.Lock()
	partSize := m.partSize
	m.mu.Unlock()
	if partSize == 0 {
		return 0
	}
	return int32(size / int64(partSize))
}

// GetReadyPrefixCount returns the number of leading parts known ready.
func (m *Manager) GetReadyPrefixCount() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstNotReadyPart
}

// GetStreamingOffset returns the configured streaming window offset.
func (m *Manager) GetStreamingOffset() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamingOffset
}

// GetBitmask returns the hex-encoded ready-part bitmask, suitable for
// persistence via the store package and reuse as readyParts on resume.
func (m *Manager) GetBitmask() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bitmask.Encode(-1)
}

// ReadyPartsFromBitmask decodes a hex string previously returned by
// GetBitmask back into the readyParts slice Init expects, for callers
// resuming a transfer from a persisted bitmask without depending on the
// internal/bitmask package directly.
func ReadyPartsFromBitmask(encoded string) ([]int32, error) {
	bm, err := bitmask.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return bm.ReadyIndices(), nil
}

func (m *Manager) getPart(partID int32) Part {
	if partID < 0 || partID >= m.partCount {
		return EmptyPart()
	}
	offset := int64(partID) * int64(m.partSize)
	size := m.partSize
	if m.size != 0 {
		remaining := m.size - offset
		if remaining < int64(size) {
			size = int(remaining)
		}
	}
	return Part{ID: partID, Offset: offset, Size: size}
}

func (m *Manager) onPartStart(partID int32) {
	if partID < 0 || partID >= m.partCount {
		return
	}
	if m.partStatus[partID] == StatusEmpty {
		m.partStatus[partID] = StatusPending
		m.pendingCount++
	}
}

func (m *Manager) updateFirstEmptyPart() {
	for i, s := range m.partStatus {
		if s == StatusEmpty {
			m.firstEmptyPart = int32(i)
			return
		}
	}
	m.firstEmptyPart = m.partCount
}

func (m *Manager) updateFirstNotReadyPart() {
	for i, s := range m.partStatus {
		if !s.IsReady() {
			m.firstNotReadyPart = int32(i)
			return
		}
	}
	m.firstNotReadyPart = m.partCount
}

func (m *Manager) isStreamingLimitReached() bool {
	if m.streamingLimit == 0 {
		return false
	}
	return m.streamingReadySize >= m.streamingLimit
}

// String renders a short progress summary for logs.
func (m *Manager) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fmt.Sprintf("PartsManager(size=%d, ready=%d/%d, pending=%d)", m.size, m.firstNotReadyPart, m.partCount, m.pendingCount)
}
