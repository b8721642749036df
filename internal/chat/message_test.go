package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageValid(t *testing.T) {
	tests := []struct {
		name string
		m    Message
		want bool
	}{
		{"valid user message", Message{ID: "1", Role: RoleUser, Parts: []Part{}}, true},
		{"valid assistant message", Message{ID: "1", Role: RoleAssistant, Parts: []Part{NewText("hi")}}, true},
		{"empty id rejected", Message{ID: "", Role: RoleUser, Parts: []Part{}}, false},
		{"whitespace id rejected", Message{ID: "  ", Role: RoleUser, Parts: []Part{}}, false},
		{"nil parts rejected", Message{ID: "1", Role: RoleUser, Parts: nil}, false},
		{"unknown role rejected", Message{ID: "1", Role: Role("bogus"), Parts: []Part{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.Valid())
		})
	}
}

func TestIsLegacyFormat(t *testing.T) {
	assert.True(t, IsLegacyFormat([]byte(`{"id":"1","role":"user","content":"hi"}`)))
	assert.True(t, IsLegacyFormat([]byte(`{"id":"1","role":"assistant","reasoning":"thinking"}`)))
	assert.True(t, IsLegacyFormat([]byte(`{"id":"1","role":"assistant","toolInvocations":[]}`)))
	assert.False(t, IsLegacyFormat([]byte(`{"id":"1","role":"user","parts":[]}`)))
	assert.False(t, IsLegacyFormat([]byte(`not json`)))
}

func TestMigrateLegacyStringContent(t *testing.T) {
	m, ok := MigrateLegacy([]byte(`{"id":"1","role":"user","content":"hello"}`))
	require.True(t, ok)
	assert.Equal(t, RoleUser, m.Role)
	require.Len(t, m.Parts, 1)
	text, partOK := m.Parts[0].AsText()
	assert.True(t, partOK)
	assert.Equal(t, "hello", text)
}

func TestMigrateLegacyDataRoleBecomesSystem(t *testing.T) {
	m, ok := MigrateLegacy([]byte(`{"id":"1","role":"data","content":"note"}`))
	require.True(t, ok)
	assert.Equal(t, RoleSystem, m.Role)
}

func TestMigrateLegacyArrayContent(t *testing.T) {
	m, ok := MigrateLegacy([]byte(`{"id":"1","role":"assistant","content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`))
	require.True(t, ok)
	require.Len(t, m.Parts, 2)
}

func TestMigrateLegacyToolInvocationsMapStates(t *testing.T) {
	raw := []byte(`{"id":"1","role":"assistant","toolInvocations":[
		{"toolName":"search","toolCallId":"c1","state":"result","args":{},"result":{"hits":1}},
		{"toolName":"search","toolCallId":"c2","state":"partial-call","args":{}}
	]}`)
	m, ok := MigrateLegacy(raw)
	require.True(t, ok)
	require.Len(t, m.Parts, 2)

	_, _, state1, _, _, ok1 := m.Parts[0].AsToolCall()
	require.True(t, ok1)
	assert.Equal(t, ToolOutputAvailable, state1)

	_, _, state2, _, _, ok2 := m.Parts[1].AsToolCall()
	require.True(t, ok2)
	assert.Equal(t, ToolInputStreaming, state2)
}

func TestLoadMessageDropsInvalidRows(t *testing.T) {
	_, ok := LoadMessage([]byte(`{"id":"","role":"user","parts":[]}`))
	assert.False(t, ok)
}

func TestLoadMessageMigratesLegacyTransparently(t *testing.T) {
	m, ok := LoadMessage([]byte(`{"id":"1","role":"user","content":"hi"}`))
	require.True(t, ok)
	assert.Equal(t, "1", m.ID)
}

func TestLoadMessagePassesThroughCurrentFormat(t *testing.T) {
	raw, err := json.Marshal(Message{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi")}})
	require.NoError(t, err)

	m, ok := LoadMessage(raw)
	require.True(t, ok)
	assert.Equal(t, "1", m.ID)
}
