package jsonadapter

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustgram/client/internal/coreerr"
)

// Mapper dispatches one parsed request to the appropriate domain manager
// and returns a reply value to be JSON-serialized, or an error to be
// translated into the error envelope. Implemented by requestmapper.Mapper.
type Mapper interface {
	Dispatch(ctx context.Context, reqType string, payload json.RawMessage) (any, *coreerr.Error)
}

type incomingRequest struct {
	id      RequestID
	reqType string
	payload json.RawMessage
}

// Adapter is the synchronous-caller-facing JSON bridge. One Adapter serves
// one client id's traffic; construct with New and call Start before the
// first Send.
type Adapter struct {
	mapper   Mapper
	clientID int64
	logger   zerolog.Logger

	nextID uint64

	extraMu sync.Mutex
	extras  map[RequestID]json.RawMessage

	// incoming is an unbounded queue: Send never blocks or rejects on
	// depth. max_pending_acquires on the pool is the effective
	// back-pressure point further downstream.
	incomingMu     sync.Mutex
	incomingQueue  []incomingRequest
	incomingNotify chan struct{}

	responses chan OutgoingResponse

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New constructs an Adapter bound to clientID, dispatching through mapper.
// queueDepth bounds only the outgoing response channel; the inbound
// request queue is unbounded.
func New(clientID int64, mapper Mapper, logger zerolog.Logger, queueDepth int) *Adapter {
	return &Adapter{
		mapper:         mapper,
		clientID:       clientID,
		logger:         logger,
		extras:         make(map[RequestID]json.RawMessage),
		incomingNotify: make(chan struct{}, 1),
		responses:      make(chan OutgoingResponse, queueDepth),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Start launches the single-consumer processing goroutine.
func (a *Adapter) Start(ctx context.Context) {
	go a.processLoop(ctx)
}

// Stop halts the processing loop and waits for it to exit.
func (a *Adapter) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
}

// Send parses one request and enqueues it. Malformed JSON is discarded with a direct error
// to the caller (there is no request id to route an async reply through
// yet); everything else — including an unknown/missing "@type" — is
// queued and answered asynchronously via Receive, per the error taxonomy.
func (a *Adapter) Send(raw []byte) error {
	var env incomingEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		a.logger.Debug().Err(err).Msg("jsonadapter: dropping malformed request")
		return err
	}

	id := RequestID(atomic.AddUint64(&a.nextID, 1))
	if env.Extra != nil {
		a.extraMu.Lock()
		a.extras[id] = env.Extra
		a.extraMu.Unlock()
	}

	if env.Type == "" {
		a.emitError(id, coreerr.Parse("missing \"@type\" discriminator"))
		return nil
	}

	a.enqueue(incomingRequest{id: id, reqType: env.Type, payload: raw})
	return nil
}

// enqueue appends req to the unbounded inbound queue and wakes the
// processing loop if it's waiting.
func (a *Adapter) enqueue(req incomingRequest) {
	a.incomingMu.Lock()
	a.incomingQueue = append(a.incomingQueue, req)
	a.incomingMu.Unlock()

	select {
	case a.incomingNotify <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest queued request, if any.
func (a *Adapter) dequeue() (incomingRequest, bool) {
	a.incomingMu.Lock()
	defer a.incomingMu.Unlock()
	if len(a.incomingQueue) == 0 {
		return incomingRequest{}, false
	}
	req := a.incomingQueue[0]
	a.incomingQueue = a.incomingQueue[1:]
	return req, true
}

// Receive blocks up to timeout for the next OutgoingResponse, returning
// (nil, false) on timeout — intended for single-threaded callers polling
// in a loop.
func (a *Adapter) Receive(timeout time.Duration) ([]byte, bool) {
	select {
	case resp, ok := <-a.responses:
		if !ok {
			return nil, false
		}
		return resp.JSON, true
	case <-time.After(timeout):
		return nil, false
	}
}

// Execute implements the synchronous-execute contract: it refuses every
// request, since no request type in this implementation is flagged
// synchronous.
func (a *Adapter) Execute(raw []byte) ([]byte, *coreerr.Error) {
	return nil, coreerr.NotSupported("synchronous execute is not implemented for any request type")
}

func (a *Adapter) processLoop(ctx context.Context) {
	defer close(a.doneCh)
	for {
		if req, ok := a.dequeue(); ok {
			a.process(ctx, req)
			continue
		}
		select {
		case <-a.stopCh:
			return
		case <-ctx.Done():
			return
		case <-a.incomingNotify:
		}
	}
}

func (a *Adapter) process(ctx context.Context, req incomingRequest) {
	reply, cerr := a.mapper.Dispatch(ctx, req.reqType, req.payload)
	if cerr != nil {
		a.emitError(req.id, cerr)
		return
	}

	body, err := json.Marshal(reply)
	if err != nil {
		a.emitError(req.id, coreerr.Manager("failed to serialize reply"))
		return
	}

	full, err := injectExtraAndClientID(body, a.takeExtra(req.id), a.clientID)
	if err != nil {
		a.emitError(req.id, coreerr.Manager("failed to attach response envelope"))
		return
	}
	a.send(OutgoingResponse{RequestID: req.id, JSON: full})
}

func (a *Adapter) emitError(id RequestID, cerr *coreerr.Error) {
	extra := a.takeExtra(id)
	a.send(OutgoingResponse{RequestID: id, JSON: marshalError(cerr.Kind.HTTPStatus(), cerr.Error(), extra)})
}

// takeExtra implements the try-lock-with-lossy-elision pattern: on
// contention, the extra is dropped rather than blocking the response
// path, a documented best-effort degradation rather than a correctness
// violation — the response still reaches the caller, just without the
// correlation token in the rare case of concurrent Send pressure.
func (a *Adapter) takeExtra(id RequestID) json.RawMessage {
	if !a.extraMu.TryLock() {
		return nil
	}
	defer a.extraMu.Unlock()
	extra := a.extras[id]
	delete(a.extras, id)
	return extra
}

func (a *Adapter) send(resp OutgoingResponse) {
	select {
	case a.responses <- resp:
	default:
		a.logger.Warn().Uint64("request_id", uint64(resp.RequestID)).Msg("jsonadapter: response queue saturated, dropping response")
	}
}
