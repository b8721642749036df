// Package chat implements the message log, part sum type, tool-call
// lifecycle, and resumable streaming protocol described in §4.5 — the
// densest subsystem in the runtime.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PartKind discriminates the closed sum type Part can hold.
type PartKind int

const (
	PartText PartKind = iota
	PartReasoning
	PartToolCall
	PartFile
)

// ToolState enumerates a tool-call part's lifecycle position (§3, §4.5).
type ToolState string

const (
	ToolInputStreaming  ToolState = "input-streaming"
	ToolInputAvailable  ToolState = "input-available"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// Part is a closed sum type over the four message-content shapes from §3:
// text, reasoning, tool-<name>, and file. The kind discriminator is
// unexported; callers use the As* accessors and the Kind method rather than
// a type switch, since Go has no union types.
type Part struct {
	kind PartKind

	// text / reasoning
	text          string
	reasoningDone bool // true once reasoning state has settled (no "state" field to carry on wire)

	// tool-<name>
	toolName             string
	toolCallID           string
	toolState            ToolState
	toolInput            json.RawMessage
	toolOutput           json.RawMessage
	toolCallProviderMeta json.RawMessage

	// file
	fileMediaType string
	fileURL       string
}

func (p Part) Kind() PartKind { return p.kind }

// NewText constructs a text part.
func NewText(text string) Part { return Part{kind: PartText, text: text} }

// NewReasoning constructs a reasoning part.
func NewReasoning(text string) Part { return Part{kind: PartReasoning, text: text} }

// NewToolCall constructs a tool-<name> part.
func NewToolCall(toolName, toolCallID string, state ToolState, input, output json.RawMessage) Part {
	return Part{
		kind:       PartToolCall,
		toolName:   toolName,
		toolCallID: toolCallID,
		toolState:  state,
		toolInput:  input,
		toolOutput: output,
	}
}

// NewFile constructs a file part.
func NewFile(mediaType, url string) Part {
	return Part{kind: PartFile, fileMediaType: mediaType, fileURL: url}
}

// AsText returns the part's text and whether it was a text part.
func (p Part) AsText() (string, bool) {
	if p.kind != PartText {
		return "", false
	}
	return p.text, true
}

// AsReasoning returns the part's reasoning text and whether it was a
// reasoning part.
func (p Part) AsReasoning() (string, bool) {
	if p.kind != PartReasoning {
		return "", false
	}
	return p.text, true
}

// AsToolCall returns the part's tool-call fields and whether it was one.
func (p Part) AsToolCall() (name, callID string, state ToolState, input, output json.RawMessage, ok bool) {
	if p.kind != PartToolCall {
		return "", "", "", nil, nil, false
	}
	return p.toolName, p.toolCallID, p.toolState, p.toolInput, p.toolOutput, true
}

// AsFile returns the part's file fields and whether it was one.
func (p Part) AsFile() (mediaType, url string, ok bool) {
	if p.kind != PartFile {
		return "", "", false
	}
	return p.fileMediaType, p.fileURL, true
}

// IsEmptyReasoning reports whether a reasoning part's text is empty or
// whitespace-only, the condition under which §4.5 drops it during
// sanitization.
func (p Part) IsEmptyReasoning() bool {
	return p.kind == PartReasoning && strings.TrimSpace(p.text) == ""
}

// wireShape mirrors the on-disk/on-wire JSON shape for any Part kind. Every
// field is optional so one struct can marshal/unmarshal all four kinds.
type wireShape struct {
	Type                 string          `json:"type"`
	Text                 string          `json:"text,omitempty"`
	ToolCallID           string          `json:"toolCallId,omitempty"`
	State                ToolState       `json:"state,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	CallProviderMetadata json.RawMessage `json:"callProviderMetadata,omitempty"`
	MediaType            string          `json:"mediaType,omitempty"`
	URL                  string          `json:"url,omitempty"`
}

// MarshalJSON renders the part using the dynamic "tool-"+toolName tag for
// tool-call parts, matching the wire format in §3.
func (p Part) MarshalJSON() ([]byte, error) {
	var w wireShape
	switch p.kind {
	case PartText:
		w.Type = "text"
		w.Text = p.text
	case PartReasoning:
		w.Type = "reasoning"
		w.Text = p.text
	case PartToolCall:
		w.Type = "tool-" + p.toolName
		w.ToolCallID = p.toolCallID
		w.State = p.toolState
		w.Input = p.toolInput
		w.Output = p.toolOutput
		w.CallProviderMetadata = p.toolCallProviderMeta
	case PartFile:
		w.Type = "file"
		w.MediaType = p.fileMediaType
		w.URL = p.fileURL
	default:
		return nil, fmt.Errorf("chat: marshaling part with unknown kind %d", p.kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON reconstructs a Part from its wire shape, recognizing any
// "tool-<name>" type tag as a tool-call part.
func (p *Part) UnmarshalJSON(data []byte) error {
	var w wireShape
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch {
	case w.Type == "text":
		*p = Part{kind: PartText, text: w.Text}
	case w.Type == "reasoning":
		*p = Part{kind: PartReasoning, text: w.Text}
	case w.Type == "file":
		*p = Part{kind: PartFile, fileMediaType: w.MediaType, fileURL: w.URL}
	case strings.HasPrefix(w.Type, "tool-"):
		*p = Part{
			kind:                 PartToolCall,
			toolName:             strings.TrimPrefix(w.Type, "tool-"),
			toolCallID:           w.ToolCallID,
			toolState:            w.State,
			toolInput:            w.Input,
			toolOutput:           w.Output,
			toolCallProviderMeta: w.CallProviderMetadata,
		}
	default:
		return fmt.Errorf("chat: unrecognized part type %q", w.Type)
	}
	return nil
}

// StripCallProviderMetadata clears a tool-call part's provider metadata,
// used by sanitization (§4.5's "callProviderMetadata on tool parts is
// stripped symmetrically").
func (p Part) StripCallProviderMetadata() Part {
	if p.kind == PartToolCall {
		p.toolCallProviderMeta = nil
	}
	return p
}

// WithOutput returns a copy of a tool-call part with its state and output
// replaced, used when compacting oversized tool output.
func (p Part) WithOutput(state ToolState, output json.RawMessage) Part {
	if p.kind == PartToolCall {
		p.toolState = state
		p.toolOutput = output
	}
	return p
}
