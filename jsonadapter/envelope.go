// Package jsonadapter bridges synchronous callers into the asynchronous
// core: Send parses and enqueues a request, an internal processor
// dispatches it to the request mapper, and Receive hands the caller back
// a correlated JSON response. The adapter has no HTTP framing of its own;
// the "@type"/"@extra"/"@client_id" envelope is the entire wire contract.
package jsonadapter

import "encoding/json"

// RequestID is the adapter's own monotonic correlation id, distinct from
// the caller-supplied "@extra" value it's paired with.
type RequestID uint64

// incomingEnvelope is the wire shape read on Send.
type incomingEnvelope struct {
	Type  string          `json:"@type"`
	Extra json.RawMessage `json:"@extra,omitempty"`
}

// OutgoingResponse is what Receive hands back: a fully serialized JSON
// response body, already carrying "@extra" and "@client_id".
type OutgoingResponse struct {
	RequestID RequestID
	JSON      []byte
}

// errorEnvelope is the shape synthesized for a failed request.
type errorEnvelope struct {
	Type     string          `json:"@type"`
	Code     int             `json:"code"`
	Message  string          `json:"message"`
	ClientID int64           `json:"@client_id"`
	Extra    json.RawMessage `json:"@extra,omitempty"`
}

func marshalError(code int, message string, extra json.RawMessage) []byte {
	env := errorEnvelope{Type: "error", Code: code, Message: message, Extra: extra}
	b, err := json.Marshal(env)
	if err != nil {
		// json.Marshal on this struct cannot fail (all fields are
		// marshalable primitives plus a pre-validated RawMessage); this
		// branch exists only so the function has a total return type.
		return []byte(`{"@type":"error","code":500,"message":"internal marshal failure"}`)
	}
	return b
}

// injectExtraAndClientID adds "@extra" (if known) and "@client_id" to an
// already-serialized success reply, so the mapper's reply type never
// needs to know about the envelope.
func injectExtraAndClientID(reply []byte, extra json.RawMessage, clientID int64) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(reply, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	if extra != nil {
		fields["@extra"] = extra
	}
	clientIDBytes, _ := json.Marshal(clientID)
	fields["@client_id"] = clientIDBytes
	return json.Marshal(fields)
}
