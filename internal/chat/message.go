package chat

import (
	"encoding/json"
	"strings"
)

// Role is the speaker of a chat message (§3). "data" is accepted on input
// for legacy compatibility and renamed to "system" during migration.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the chat log (§3): `{id, role, parts, metadata?}`.
type Message struct {
	ID       string                 `json:"id"`
	Role     Role                   `json:"role"`
	Parts    []Part                 `json:"parts"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Valid reports whether m satisfies the structural invariants from §3: a
// non-empty unique id, a parts array, and a recognized role. Rows failing
// this check are dropped on load.
func (m Message) Valid() bool {
	if strings.TrimSpace(m.ID) == "" {
		return false
	}
	if m.Parts == nil {
		return false
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// legacyShape captures the pre-parts-array message formats §4.5's
// "Message format migration" clause must recognize: string content, a
// top-level reasoning field, a toolInvocations array, or array-shaped
// content.
type legacyShape struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Content  json.RawMessage `json:"content"`
	Reasoning *string `json:"reasoning"`
	ToolInvocations []legacyToolInvocation `json:"toolInvocations"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type legacyToolInvocation struct {
	ToolName   string          `json:"toolName"`
	ToolCallID string          `json:"toolCallId"`
	State      string          `json:"state"`
	Args       json.RawMessage `json:"args"`
	Result     json.RawMessage `json:"result"`
}

// legacyStateMap translates a legacy toolInvocations[].state value to the
// current ToolState vocabulary, per §4.5.
var legacyStateMap = map[string]ToolState{
	"partial-call": ToolInputStreaming,
	"call":         ToolInputAvailable,
	"result":       ToolOutputAvailable,
	"error":        ToolOutputError,
}

// IsLegacyFormat reports whether raw looks like a pre-parts-array message
// (string or array content, top-level reasoning, or toolInvocations) rather
// than the current `{id, role, parts}` shape.
func IsLegacyFormat(raw json.RawMessage) bool {
	var probe struct {
		Parts           json.RawMessage `json:"parts"`
		Content         json.RawMessage `json:"content"`
		Reasoning       json.RawMessage `json:"reasoning"`
		ToolInvocations json.RawMessage `json:"toolInvocations"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Parts == nil && (probe.Content != nil || probe.Reasoning != nil || probe.ToolInvocations != nil)
}

// MigrateLegacy transforms a legacy-shaped message into the current
// parts-array Message, per §4.5.
func MigrateLegacy(raw json.RawMessage) (Message, bool) {
	var legacy legacyShape
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return Message{}, false
	}

	role := Role(legacy.Role)
	if role == "data" {
		role = RoleSystem
	}

	var parts []Part

	if legacy.Reasoning != nil && strings.TrimSpace(*legacy.Reasoning) != "" {
		parts = append(parts, NewReasoning(*legacy.Reasoning))
	}

	if len(legacy.Content) > 0 {
		var asString string
		if err := json.Unmarshal(legacy.Content, &asString); err == nil {
			if asString != "" {
				parts = append(parts, NewText(asString))
			}
		} else {
			var asArray []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(legacy.Content, &asArray); err == nil {
				for _, c := range asArray {
					if c.Type == "text" && c.Text != "" {
						parts = append(parts, NewText(c.Text))
					}
				}
			}
		}
	}

	for _, inv := range legacy.ToolInvocations {
		state, ok := legacyStateMap[inv.State]
		if !ok {
			state = ToolInputAvailable
		}
		parts = append(parts, NewToolCall(inv.ToolName, inv.ToolCallID, state, inv.Args, inv.Result))
	}

	if parts == nil {
		parts = []Part{}
	}

	return Message{
		ID:       legacy.ID,
		Role:     role,
		Parts:    parts,
		Metadata: legacy.Metadata,
	}, true
}

// LoadMessage decodes a persisted row, transparently migrating legacy rows
// and dropping structurally invalid ones.
func LoadMessage(raw json.RawMessage) (Message, bool) {
	if IsLegacyFormat(raw) {
		m, ok := MigrateLegacy(raw)
		if !ok || !m.Valid() {
			return Message{}, false
		}
		return m, true
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, false
	}
	if !m.Valid() {
		return Message{}, false
	}
	return m, true
}
