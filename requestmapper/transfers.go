package requestmapper

import (
	"sync"

	"github.com/rustgram/client/internal/coreerr"
	"github.com/rustgram/client/partsmanager"
)

// transferTable keys a live parts-manager instance by the caller's own
// transfer identifier (file id, upload id, whatever the caller chooses),
// since unlike clients or resource requests a transfer has no
// mapper-assigned id of its own.
type transferTable struct {
	mu    sync.Mutex
	byKey map[string]*partsmanager.Manager
}

func newTransferTable() *transferTable {
	return &transferTable{byKey: make(map[string]*partsmanager.Manager)}
}

func (t *transferTable) getOrCreate(key string) *partsmanager.Manager {
	t.mu.Lock()
	defer t.mu.Unlock()
	pm, ok := t.byKey[key]
	if !ok {
		pm = partsmanager.New()
		t.byKey[key] = pm
	}
	return pm
}

func (t *transferTable) get(key string) (*partsmanager.Manager, *coreerr.Error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pm, ok := t.byKey[key]
	if !ok {
		return nil, coreerr.InvalidValue("transfer_id", "no transfer registered under this id; call init_transfer first")
	}
	return pm, nil
}
