package wsconn

import "encoding/json"

// FrameType identifies the kind of event carried by a Frame, mirroring the
// socket frame catalogue in the external-interfaces section of the wire
// protocol this package implements.
type FrameType string

const (
	FrameConnected        FrameType = "connected"
	FrameState            FrameType = "state"
	FrameUpdate           FrameType = "update"
	FrameRPC              FrameType = "rpc"
	FrameChatRequest      FrameType = "chat-request"
	FrameChatResponse     FrameType = "chat-response"
	FrameChatCancel       FrameType = "chat-cancel"
	FrameChatClear        FrameType = "chat-clear"
	FrameChatMessages     FrameType = "chat-messages"
	FrameToolResult       FrameType = "tool-result"
	FrameToolApproval     FrameType = "tool-approval"
	FrameToolApprovalReq  FrameType = "tool-approval-request"
	FrameStreamResume     FrameType = "stream-resuming"
	FrameStreamAck        FrameType = "stream-ack"
	FrameIdentity         FrameType = "identity"
)

// reserved lists every frame type the framework intercepts itself —
// user-registered onMessage hooks never see these, per §4.3's "the framework
// suppresses user-frame dispatch for protocol-reserved message types."
var reserved = map[FrameType]bool{
	FrameConnected:       true,
	FrameState:           true,
	FrameUpdate:          true,
	FrameRPC:             true,
	FrameChatRequest:     true,
	FrameChatResponse:    true,
	FrameChatCancel:      true,
	FrameChatClear:       true,
	FrameChatMessages:    true,
	FrameToolResult:      true,
	FrameToolApproval:    true,
	FrameToolApprovalReq: true,
	FrameStreamResume:    true,
	FrameStreamAck:       true,
	FrameIdentity:        true,
}

// IsReserved reports whether t is a protocol frame type the framework
// dispatches internally rather than handing to user code.
func IsReserved(t FrameType) bool { return reserved[t] }

// Frame is the generic envelope every inbound/outbound message is shaped
// like on the wire: a discriminating "type" plus arbitrary payload fields.
// Subsystems re-decode RawMessage into their own concrete structs.
type Frame struct {
	Type    FrameType       `json:"type"`
	Raw     json.RawMessage `json:"-"`
}

// typeOnly is used to peek at a frame's type without committing to a shape.
type typeOnly struct {
	Type FrameType `json:"type"`
}

// ParseFrame extracts the discriminator from a raw inbound message so the
// caller can decide how to decode the rest.
func ParseFrame(raw []byte) (Frame, error) {
	var t typeOnly
	if err := json.Unmarshal(raw, &t); err != nil {
		return Frame{}, err
	}
	return Frame{Type: t.Type, Raw: json.RawMessage(raw)}, nil
}

// Connected is the server→client identity frame sent immediately after a
// successful upgrade, before any user code observes the connection.
type Connected struct {
	Type  FrameType       `json:"type"`
	Name  string          `json:"name"`
	Agent json.RawMessage `json:"agent"`
}

// Identity is sent instead of / in addition to Connected when the client
// connected via a basePath and the server resolved the target instance
// itself, so the client learns its effective name.
type Identity struct {
	Type  FrameType       `json:"type"`
	Name  string          `json:"name"`
	Agent json.RawMessage `json:"agent"`
}

// StateFrame carries a state document in either direction: client→server is
// a proposal (Type == FrameUpdate, or Type == FrameState sent as a proposal —
// both route through the same ApplyClientUpdate path), server→client is the
// authoritative broadcast (also Type == FrameState).
type StateFrame struct {
	Type  FrameType       `json:"type"`
	State json.RawMessage `json:"state"`
}
