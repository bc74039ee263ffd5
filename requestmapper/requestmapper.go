// Package requestmapper is the stateless dispatcher between the JSON
// adapter and the domain managers: it pattern-matches a request's
// "@type" against a fixed table of handlers, each decoding its own
// payload shape and calling straight into clientregistry, partsmanager,
// or resourcemanager.
package requestmapper

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/clientregistry"
	"github.com/rustgram/client/internal/coreerr"
	"github.com/rustgram/client/jsonadapter"
	"github.com/rustgram/client/partsmanager"
	"github.com/rustgram/client/resourcemanager"
	"github.com/rustgram/client/store"
)

type handlerFunc func(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error)

// adapterQueueDepth bounds each per-client Adapter's outgoing response
// channel; the adapter's own inbound queue is unbounded regardless.
const adapterQueueDepth = 64

// Mapper owns handles to every domain manager it dispatches into, plus
// the per-client JSON adapter registry those managers are reached
// through. It implements jsonadapter.Mapper, so every Adapter it hands
// out dispatches back into the same Mapper.
type Mapper struct {
	clients   *clientregistry.Registry
	resources *resourcemanager.Manager
	transfers *transferTable
	adapters  *jsonadapter.Registry
	store     store.Store
	logger    zerolog.Logger

	handlers map[string]handlerFunc
}

// New builds a Mapper wired to the given registries, and its own
// per-client jsonadapter.Registry — every successful create_client
// dispatch starts a fresh Adapter for the new ClientId, and
// destroy_client tears it back down. Pass clientregistry.Global() to
// share the process-wide client table, or a private
// *clientregistry.Registry for an embedded/isolated instance. st persists
// and restores transfer bitmasks across init_transfer/part_complete; with
// store.NewMemoryStore() that state survives only within the process.
func New(clients *clientregistry.Registry, resources *resourcemanager.Manager, st store.Store, logger zerolog.Logger) *Mapper {
	m := &Mapper{
		clients:   clients,
		resources: resources,
		transfers: newTransferTable(),
		store:     st,
		logger:    logger,
	}
	m.adapters = jsonadapter.NewRegistry(m, logger, adapterQueueDepth)
	m.handlers = map[string]handlerFunc{
		"create_client":        handleCreateClient,
		"destroy_client":       handleDestroyClient,
		"update_session_state": handleUpdateSessionState,
		"init_transfer":        handleInitTransfer,
		"start_part":           handleStartPart,
		"part_complete":        handlePartComplete,
		"part_failed":          handlePartFailed,
		"request_resource":     handleRequestResource,
		"release_resource":     handleReleaseResource,
	}
	return m
}

// SendJSON routes a raw JSON request to clientID's adapter. Fails with
// InvalidClientId if no client with that id is currently registered.
func (m *Mapper) SendJSON(clientID int64, raw []byte) error {
	return m.adapters.Send(clientID, raw)
}

// ReceiveJSON blocks up to timeout for clientID's next correlated
// response or unsolicited update.
func (m *Mapper) ReceiveJSON(clientID int64, timeout time.Duration) ([]byte, bool) {
	return m.adapters.Receive(clientID, timeout)
}

// Shutdown stops every client's adapter. Call once, during process
// shutdown, after the owning clientregistry.Registry has stopped
// accepting new clients.
func (m *Mapper) Shutdown() {
	m.adapters.Shutdown()
}

// Dispatch implements jsonadapter.Mapper. Unknown request types surface
// as InvalidValue rather than NotSupported — synchronous-only types are
// rejected earlier, in the adapter's Execute path.
func (m *Mapper) Dispatch(ctx context.Context, reqType string, payload json.RawMessage) (any, *coreerr.Error) {
	h, ok := m.handlers[reqType]
	if !ok {
		return nil, coreerr.InvalidValue("@type", "unknown request type: "+reqType)
	}
	return h(ctx, m, payload)
}

func decode[T any](payload json.RawMessage) (T, *coreerr.Error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, coreerr.InvalidValue("payload", "could not decode request body: "+err.Error())
	}
	return v, nil
}

type createClientRequest struct {
	APIID   int32  `json:"api_id"`
	APIHash string `json:"api_hash"`
}

type createClientResponse struct {
	ClientID int64 `json:"client_id"`
	Resumed  bool  `json:"resumed"`
	DCID     int32 `json:"dc_id,omitempty"`
}

func handleCreateClient(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[createClientRequest](payload)
	if err != nil {
		return nil, err
	}
	id, err := m.clients.Create(clientregistry.Config{APIID: req.APIID, APIHash: req.APIHash})
	if err != nil {
		return nil, err
	}
	m.adapters.Create(int64(id))

	resp := createClientResponse{ClientID: int64(id)}
	if snap, ok, storeErr := m.store.LoadSession(ctx, int64(id)); storeErr == nil && ok {
		if c, cerr := m.clients.Get(id); cerr == nil {
			c.SetSessionState(snap.DCID, snap.Ready)
		}
		resp.Resumed = true
		resp.DCID = snap.DCID
		m.logger.Info().Int64("client_id", int64(id)).Int32("dc_id", snap.DCID).Msg("resumed client from a persisted session snapshot, skipping a cold DC health probe")
	} else if storeErr != nil {
		m.logger.Warn().Int64("client_id", int64(id)).Err(storeErr).Msg("session load failed, starting client cold")
	}
	return resp, nil
}

type updateSessionStateRequest struct {
	ClientID int64 `json:"client_id"`
	DCID     int32 `json:"dc_id"`
	Ready    bool  `json:"ready"`
}

// handleUpdateSessionState is the embedding seam the pool/session layer
// reports through whenever a client's connection finishes (or loses) its
// handshake: session and pool stay clientID-agnostic, so they cannot call
// store.SaveSession directly, and report state here instead so it is
// persisted at destroy_client time.
func handleUpdateSessionState(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[updateSessionStateRequest](payload)
	if err != nil {
		return nil, err
	}
	c, cerr := m.clients.Get(clientregistry.ClientId(req.ClientID))
	if cerr != nil {
		return nil, cerr
	}
	c.SetSessionState(req.DCID, req.Ready)
	return struct{}{}, nil
}

type destroyClientRequest struct {
	ClientID int64 `json:"client_id"`
}

func handleDestroyClient(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[destroyClientRequest](payload)
	if err != nil {
		return nil, err
	}
	if c, cerr := m.clients.Get(clientregistry.ClientId(req.ClientID)); cerr == nil {
		dcID, ready, lastUsed := c.SessionState()
		if storeErr := m.store.SaveSession(ctx, req.ClientID, store.SessionSnapshot{DCID: dcID, Ready: ready, LastUsed: lastUsed}); storeErr != nil {
			m.logger.Warn().Int64("client_id", req.ClientID).Err(storeErr).Msg("session save failed, this client will cold-start next time")
		}
	}
	if err := m.clients.Destroy(clientregistry.ClientId(req.ClientID)); err != nil {
		return nil, err
	}
	m.adapters.Destroy(req.ClientID)
	return struct{}{}, nil
}

type initTransferRequest struct {
	TransferID        string  `json:"transfer_id"`
	Size              int64   `json:"size"`
	ExpectedSize      int64   `json:"expected_size"`
	PartSize          int     `json:"part_size"`
	UsePartCountLimit bool    `json:"use_part_count_limit"`
	IsUpload          bool    `json:"is_upload"`
	ReadyParts        []int32 `json:"ready_parts,omitempty"`
}

type initTransferResponse struct {
	Bitmask   string `json:"bitmask"`
	PartCount int32  `json:"part_count"`
}

func handleInitTransfer(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[initTransferRequest](payload)
	if err != nil {
		return nil, err
	}
	if req.TransferID == "" {
		return nil, coreerr.InvalidValue("transfer_id", "must not be empty")
	}

	readyParts := req.ReadyParts
	if len(readyParts) == 0 {
		if encoded, ok, storeErr := m.store.LoadBitmask(ctx, req.TransferID); storeErr == nil && ok {
			if resumed, decodeErr := partsmanager.ReadyPartsFromBitmask(encoded); decodeErr == nil {
				readyParts = resumed
				m.logger.Info().Str("transfer_id", req.TransferID).Int("ready_parts", len(resumed)).Msg("resumed transfer from a persisted bitmask")
			}
		} else if storeErr != nil {
			m.logger.Warn().Str("transfer_id", req.TransferID).Err(storeErr).Msg("bitmask load failed, starting transfer cold")
		}
	}

	pm := m.transfers.getOrCreate(req.TransferID)
	opts := partsmanager.InitOptions{
		Size:              req.Size,
		ExpectedSize:      req.ExpectedSize,
		IsSizeFinal:       req.Size > 0,
		PartSize:          req.PartSize,
		UsePartCountLimit: req.UsePartCountLimit,
		IsUpload:          req.IsUpload,
	}
	if cerr := pm.Init(opts, readyParts); cerr != nil {
		return nil, cerr
	}
	return initTransferResponse{Bitmask: pm.GetBitmask(), PartCount: pm.GetPartCount()}, nil
}

type transferPartRequest struct {
	TransferID string `json:"transfer_id"`
	PartID     int32  `json:"part_id"`
	ActualSize int    `json:"actual_size,omitempty"`
}

type startPartResponse struct {
	PartID int32 `json:"part_id"`
	Offset int64 `json:"offset"`
	Size   int   `json:"size"`
	Empty  bool  `json:"empty"`
}

func handleStartPart(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[transferPartRequest](payload)
	if err != nil {
		return nil, err
	}
	pm, cerr := m.transfers.get(req.TransferID)
	if cerr != nil {
		return nil, cerr
	}
	part := pm.StartPart()
	return startPartResponse{PartID: part.ID, Offset: part.Offset, Size: part.Size, Empty: part.IsEmpty()}, nil
}

func handlePartComplete(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[transferPartRequest](payload)
	if err != nil {
		return nil, err
	}
	pm, cerr := m.transfers.get(req.TransferID)
	if cerr != nil {
		return nil, cerr
	}
	if cerr := pm.OnPartOK(req.PartID, req.ActualSize); cerr != nil {
		return nil, cerr
	}
	if storeErr := m.store.SaveBitmask(ctx, req.TransferID, pm.GetBitmask()); storeErr != nil {
		m.logger.Warn().Str("transfer_id", req.TransferID).Err(storeErr).Msg("bitmask save failed, resume on restart will be unavailable for this transfer")
	}
	return struct {
		Ready bool `json:"ready"`
	}{Ready: pm.Ready()}, nil
}

func handlePartFailed(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[transferPartRequest](payload)
	if err != nil {
		return nil, err
	}
	pm, cerr := m.transfers.get(req.TransferID)
	if cerr != nil {
		return nil, cerr
	}
	pm.OnPartFailed(req.PartID)
	return struct{}{}, nil
}

type requestResourceRequest struct {
	ResourceType string `json:"resource_type"`
	Priority     string `json:"priority"`
	RequestID    uint64 `json:"request_id"`
	ExpectedSize int64  `json:"expected_size"`
}

type requestResourceResponse struct {
	Granted bool `json:"granted"`
}

func handleRequestResource(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[requestResourceRequest](payload)
	if err != nil {
		return nil, err
	}
	typ, perr := resourcemanager.ParseType(req.ResourceType)
	if perr != nil {
		return nil, coreerr.InvalidValue("resource_type", perr.Error())
	}
	priority := resourcemanager.PriorityNormal
	if req.Priority != "" {
		if p, ok := parsePriority(req.Priority); ok {
			priority = p
		} else {
			return nil, coreerr.InvalidValue("priority", "must be one of low, normal, high")
		}
	}
	id := req.RequestID
	if id == 0 {
		id = resourcemanager.NextRequestID()
	}
	granted := m.resources.RequestResource(resourcemanager.NewRequest(typ, priority, id, req.ExpectedSize))
	return requestResourceResponse{Granted: granted}, nil
}

func parsePriority(s string) (resourcemanager.Priority, bool) {
	for _, p := range resourcemanager.AllPriorities {
		if p.String() == s {
			return p, true
		}
	}
	return resourcemanager.PriorityNormal, false
}

type releaseResourceRequest struct {
	RequestID uint64 `json:"request_id"`
}

func handleReleaseResource(ctx context.Context, m *Mapper, payload json.RawMessage) (any, *coreerr.Error) {
	req, err := decode[releaseResourceRequest](payload)
	if err != nil {
		return nil, err
	}
	m.resources.ReleaseResource(req.RequestID)
	return struct{}{}, nil
}
