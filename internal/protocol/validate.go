package protocol

import (
	"encoding/json"
	"fmt"
)

// Validate checks raw decoded JSON against the envelope contract and returns
// the typed envelope. Failures come back as a *RejectError; the caller logs
// and drops the frame without touching the session.
//
// Unknown message types pass validation so that future inbound types degrade
// to a log-and-drop path instead of a reject.
func Validate(raw any) (*Envelope, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &RejectError{Reason: ErrNotAnObject, Detail: fmt.Sprintf("got %T", raw)}
	}

	version, _ := obj["version"].(string)
	if version != ProtocolVersion {
		return nil, &RejectError{Reason: ErrVersionMismatch, Detail: fmt.Sprintf("got %q, want %q", version, ProtocolVersion)}
	}

	msgType, ok := obj["type"].(string)
	if !ok || msgType == "" {
		return nil, &RejectError{Reason: ErrMissingType}
	}

	// Payload stays opaque. A missing or non-object payload degrades to an
	// empty one rather than a reject.
	payload, _ := obj["payload"].(map[string]any)
	if payload == nil {
		payload = map[string]any{}
	}

	return &Envelope{Version: version, Type: msgType, Payload: payload}, nil
}

// ParseFrame decodes one frame and validates the envelope. A JSON syntax
// error is returned as-is (wrapped) and is distinguishable from a
// *RejectError.
func ParseFrame(line []byte) (*Envelope, error) {
	var raw any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return Validate(raw)
}
