package chat

import (
	"encoding/json"
)

// providerMetaKeys lists the provider-specific keys §4.5's "byte-accurate
// sanitization" clause strips from a tool-call's output/input sub-objects
// before persistence (OpenAI's itemId and reasoningEncryptedContent are the
// two named explicitly).
var providerMetaKeys = []string{"itemId", "reasoningEncryptedContent"}

// Sanitize strips provider-specific metadata and drops empty reasoning
// parts from messages before they are persisted, per §4.5.
func Sanitize(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, sanitizeMessage(m))
	}
	return out
}

func sanitizeMessage(m Message) Message {
	kept := make([]Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.IsEmptyReasoning() {
			continue
		}
		if p.Kind() == PartToolCall {
			p = stripProviderMeta(p).StripCallProviderMetadata()
		}
		kept = append(kept, p)
	}
	m.Parts = kept
	return m
}

// stripProviderMeta removes known provider-specific keys from a tool
// part's input/output sub-objects, deleting the parent key entirely if
// stripping empties it (§4.5).
func stripProviderMeta(p Part) Part {
	name, callID, state, input, output, ok := p.AsToolCall()
	if !ok {
		return p
	}
	input = stripKeysFromObject(input)
	output = stripKeysFromObject(output)
	return NewToolCall(name, callID, state, input, output)
}

func stripKeysFromObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return raw // not an object — leave scalars/arrays untouched
	}

	changed := false
	for _, key := range providerMetaKeys {
		if _, present := obj[key]; present {
			delete(obj, key)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	if len(obj) == 0 {
		return nil
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return raw
	}
	return out
}

// MergeToolEcho merges an incoming client echo of a tool-<name> part with
// any existing server-side output-available state for the same
// toolCallId, so a client re-sending `input-available` never clobbers a
// completed tool result (§4.5).
func MergeToolEcho(existing, incoming Part) Part {
	exName, exID, exState, _, exOutput, exOK := existing.AsToolCall()
	inName, inID, inState, inInput, _, inOK := incoming.AsToolCall()
	if !exOK || !inOK || exID != inID {
		return incoming
	}
	if exState == ToolOutputAvailable && inState == ToolInputAvailable {
		return NewToolCall(exName, exID, exState, inInput, exOutput)
	}
	_ = inName
	return incoming
}
