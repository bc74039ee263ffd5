package resourcemanager

import "sync"

// DefaultMaxConcurrent is the concurrency ceiling applied when no explicit
// limit is configured.
const DefaultMaxConcurrent = 8

// Manager is the admission-control gate for concurrent file operations.
// Safe for concurrent use; guarded by a single RWMutex.
type Manager struct {
	mu sync.RWMutex

	maxDownloadSpeed *uint64
	maxUploadSpeed   *uint64
	maxConcurrent    int

	activeDownloads int
	activeUploads   int
	activeGenerates int

	// activeByID tracks the resource type behind each granted request id,
	// so ReleaseResource can find and decrement the right counter.
	activeByID map[uint64]Type

	requests []Request
}

// New returns a Manager with DefaultMaxConcurrent and unlimited bandwidth.
func New() *Manager {
	return &Manager{
		maxConcurrent: DefaultMaxConcurrent,
		activeByID:    make(map[uint64]Type),
	}
}

// WithMaxDownloadSpeed sets the download bandwidth ceiling in bytes/sec; 0
// means unlimited. Returns the receiver for chaining.
func (m *Manager) WithMaxDownloadSpeed(speed uint64) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	if speed == 0 {
		m.maxDownloadSpeed = nil
	} else {
		m.maxDownloadSpeed = &speed
	}
	return m
}

// WithMaxUploadSpeed sets the upload bandwidth ceiling in bytes/sec; 0
// means unlimited. Returns the receiver for chaining.
func (m *Manager) WithMaxUploadSpeed(speed uint64) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	if speed == 0 {
		m.maxUploadSpeed = nil
	} else {
		m.maxUploadSpeed = &speed
	}
	return m
}

// WithMaxConcurrent sets the global concurrency cap (minimum 1). Returns
// the receiver for chaining.
func (m *Manager) WithMaxConcurrent(count int) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count < 1 {
		count = 1
	}
	m.maxConcurrent = count
	return m
}

// RequestResource asks for admission. When capacity allows, the request is
// admitted immediately and true is returned. Otherwise it is queued and
// the result is true unless a higher-priority request was already queued,
// in which case it is false; a queued request is admitted later as
// capacity frees up (tracked internally, surfaced via GetActiveCount and
// GetQueuedCount).
func (m *Manager) RequestResource(req Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.canStartLocked(req.Type) {
		m.incrementActiveLocked(req.Type)
		m.activeByID[req.ID] = req.Type
		return true
	}

	hasHigher := false
	for _, r := range m.requests {
		if r.Priority > req.Priority {
			hasHigher = true
			break
		}
	}

	m.requests = append(m.requests, req)
	sortByPriorityDesc(m.requests)

	return !hasHigher
}

// ReleaseResource releases the allocation (or dequeues the pending
// request) identified by id, then promotes as many queued requests as
// capacity now allows.
func (m *Manager) ReleaseResource(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if typ, ok := m.activeByID[id]; ok {
		delete(m.activeByID, id)
		m.decrementActiveLocked(typ)
	} else {
		m.requests = removeByID(m.requests, id)
	}

	m.processQueueLocked()
}

// ReleaseResourceType releases one unit of the given type without going
// through an id — used when the caller only tracks type-level counts.
func (m *Manager) ReleaseResourceType(typ Type) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decrementActiveLocked(typ)
	m.processQueueLocked()
}

// GetActiveCount returns the active operation count for typ.
func (m *Manager) GetActiveCount(typ Type) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch typ {
	case TypeDownload:
		return m.activeDownloads
	case TypeUpload:
		return m.activeUploads
	case TypeGenerate:
		return m.activeGenerates
	default:
		return 0
	}
}

// CanStart reports whether a new operation of typ could start immediately.
func (m *Manager) CanStart(typ Type) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canStartLocked(typ)
}

// GetBandwidthLimit returns the configured limit for typ, or false if
// unlimited (or not applicable, for TypeGenerate).
func (m *Manager) GetBandwidthLimit(typ Type) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch typ {
	case TypeDownload:
		if m.maxDownloadSpeed != nil {
			return *m.maxDownloadSpeed, true
		}
	case TypeUpload:
		if m.maxUploadSpeed != nil {
			return *m.maxUploadSpeed, true
		}
	}
	return 0, false
}

// GetTotalActive returns the active count summed across all types.
func (m *Manager) GetTotalActive() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeDownloads + m.activeUploads + m.activeGenerates
}

// GetQueuedCount returns the number of requests still waiting for
// capacity.
func (m *Manager) GetQueuedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// ClearQueue drops every queued request without granting them.
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}

// GetMaxConcurrent returns the configured concurrency cap.
func (m *Manager) GetMaxConcurrent() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxConcurrent
}

func (m *Manager) canStartLocked(_ Type) bool {
	total := m.activeDownloads + m.activeUploads + m.activeGenerates
	return total < m.maxConcurrent
}

func (m *Manager) incrementActiveLocked(typ Type) {
	switch typ {
	case TypeDownload:
		m.activeDownloads++
	case TypeUpload:
		m.activeUploads++
	case TypeGenerate:
		m.activeGenerates++
	}
}

func (m *Manager) decrementActiveLocked(typ Type) {
	switch typ {
	case TypeDownload:
		if m.activeDownloads > 0 {
			m.activeDownloads--
		}
	case TypeUpload:
		if m.activeUploads > 0 {
			m.activeUploads--
		}
	case TypeGenerate:
		if m.activeGenerates > 0 {
			m.activeGenerates--
		}
	}
}

func (m *Manager) processQueueLocked() {
	var remaining []Request
	for _, req := range m.requests {
		if m.canStartLocked(req.Type) {
			m.incrementActiveLocked(req.Type)
			m.activeByID[req.ID] = req.Type
			continue
		}
		remaining = append(remaining, req)
	}
	m.requests = remaining
}

func removeByID(reqs []Request, id uint64) []Request {
	out := reqs[:0:0]
	for _, r := range reqs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}

func sortByPriorityDesc(reqs []Request) {
	// Stable small-N insertion sort; queues here are bounded by the
	// in-flight transfer count.
	for i := 1; i < len(reqs); i++ {
		for j := i; j > 0 && reqs[j].Priority > reqs[j-1].Priority; j-- {
			reqs[j], reqs[j-1] = reqs[j-1], reqs[j]
		}
	}
}
