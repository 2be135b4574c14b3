package protocol

// ProtocolVersion is the single supported version tag. Every envelope placed
// on the wire carries it; inbound envelopes with any other value are dropped
// before dispatch.
const ProtocolVersion = "v0"

// Message types understood by the gateway. Outbound types travel toward the
// controller; inbound types arrive from it. Unknown inbound types pass
// validation and are logged and dropped by the dispatcher.
const (
	TypeGetTelemetry = "get_telemetry"
	TypeSetMode      = "set_mode"
	TypeSetTargets   = "set_targets"
	TypeTelemetry    = "telemetry"
	TypeAck          = "ack"
)

// Envelope is the unit of wire exchange. Payload is an opaque mapping; the
// gateway shape-validates it only for outbound command types and otherwise
// forwards it untouched.
type Envelope struct {
	Version string         `json:"version"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// NewEnvelope builds a versioned envelope for the given message type. A nil
// payload becomes an empty object so the wire form always carries all three
// fields.
func NewEnvelope(msgType string, payload map[string]any) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Envelope{
		Version: ProtocolVersion,
		Type:    msgType,
		Payload: payload,
	}
}

// Ack is the typed view of an ack payload. Fields the controller omitted are
// empty strings.
type Ack struct {
	Command string
	Status  string
	Message string
}

// AckFromPayload extracts the ack fields from an opaque payload.
func AckFromPayload(payload map[string]any) Ack {
	var ack Ack
	if s, ok := payload["command"].(string); ok {
		ack.Command = s
	}
	if s, ok := payload["status"].(string); ok {
		ack.Status = s
	}
	if s, ok := payload["message"].(string); ok {
		ack.Message = s
	}
	return ack
}
