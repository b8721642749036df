package wsconn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReserved(t *testing.T) {
	reservedTypes := []FrameType{
		FrameConnected, FrameState, FrameUpdate, FrameRPC,
		FrameChatRequest, FrameChatResponse, FrameChatCancel, FrameChatClear,
		FrameChatMessages, FrameToolResult, FrameStreamResume, FrameStreamAck,
		FrameIdentity,
	}
	for _, ft := range reservedTypes {
		assert.True(t, IsReserved(ft), "expected %q to be reserved", ft)
	}

	assert.False(t, IsReserved(FrameType("custom-app-frame")))
	assert.False(t, IsReserved(FrameType("")))
}

func TestParseFrame(t *testing.T) {
	raw := []byte(`{"type":"rpc","id":"1","method":"listMethods"}`)
	frame, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, FrameRPC, frame.Type)
	assert.Equal(t, raw, []byte(frame.Raw))
}

func TestParseFrameInvalidJSON(t *testing.T) {
	_, err := ParseFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestParseFrameMissingType(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"foo":"bar"}`))
	require.NoError(t, err)
	assert.Equal(t, FrameType(""), frame.Type)
}
