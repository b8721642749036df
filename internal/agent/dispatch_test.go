package agent

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/wsconn"
)

func dialInstanceWS(t *testing.T, inst *Instance) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Upgrade(w, r, inst, nil, zap.NewNop())
		if err != nil {
			return
		}
		conn.Run(r)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestOnConnectSendsIdentityFrameAndRunsHooksAndRegistersConnection(t *testing.T) {
	var gotName string
	inst := newInstance("backup", "alice", Hooks{
		OnConnect: func(inst *Instance, c *wsconn.Connection, r *http.Request) {
			gotName = inst.Name
		},
	}, zap.NewNop())

	extraCalled := false
	inst.RegisterOnConnect(func(i *Instance, c *wsconn.Connection, r *http.Request) {
		extraCalled = true
	})

	client := dialInstanceWS(t, inst)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := client.ReadMessage()
	require.NoError(t, err)

	var connected wsconn.Connected
	require.NoError(t, json.Unmarshal(raw, &connected))
	assert.Equal(t, "alice", connected.Name)

	require.Eventually(t, func() bool {
		return gotName == "alice" && extraCalled && inst.Conn.Len() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchSuppressesReservedFrameFromUserOnMessage(t *testing.T) {
	var userFrames []string
	inst := newInstance("backup", "alice", Hooks{
		OnMessage: func(inst *Instance, c *wsconn.Connection, frameType string, raw json.RawMessage) {
			userFrames = append(userFrames, frameType)
		},
	}, zap.NewNop())

	handled := false
	inst.RegisterReservedHandler(wsconn.FrameRPC, func(inst *Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		handled = true
		return true
	})

	client := dialInstanceWS(t, inst)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage() // connected frame
	require.NoError(t, err)

	require.NoError(t, client.WriteJSON(map[string]string{"type": "rpc"}))

	require.Eventually(t, func() bool { return handled }, time.Second, 10*time.Millisecond)
	assert.Empty(t, userFrames)
}

func TestDispatchRoutesNonReservedFrameToOnMessage(t *testing.T) {
	var gotType string
	inst := newInstance("backup", "alice", Hooks{
		OnMessage: func(inst *Instance, c *wsconn.Connection, frameType string, raw json.RawMessage) {
			gotType = frameType
		},
	}, zap.NewNop())

	client := dialInstanceWS(t, inst)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage() // connected frame
	require.NoError(t, err)

	require.NoError(t, client.WriteJSON(map[string]string{"type": "custom-event"}))

	require.Eventually(t, func() bool { return gotType == "custom-event" }, time.Second, 10*time.Millisecond)
}

func TestDispatchDropsReservedFrameWithoutRegisteredHandler(t *testing.T) {
	onMessageCalled := false
	inst := newInstance("backup", "alice", Hooks{
		OnMessage: func(inst *Instance, c *wsconn.Connection, frameType string, raw json.RawMessage) {
			onMessageCalled = true
		},
	}, zap.NewNop())

	client := dialInstanceWS(t, inst)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage() // connected frame
	require.NoError(t, err)

	// rpc is a reserved frame type but has no registered handler here; it
	// should be dropped rather than handed to OnMessage.
	require.NoError(t, client.WriteJSON(map[string]string{"type": "rpc"}))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, onMessageCalled)
}

func TestOnCloseRemovesConnectionAndRunsHook(t *testing.T) {
	closed := false
	inst := newInstance("backup", "alice", Hooks{
		OnClose: func(inst *Instance, c *wsconn.Connection, code int, reason string, wasClean bool) {
			closed = true
		},
	}, zap.NewNop())

	client := dialInstanceWS(t, inst)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage() // connected frame
	require.NoError(t, err)

	require.Eventually(t, func() bool { return inst.Conn.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		return closed && inst.Conn.Len() == 0
	}, time.Second, 10*time.Millisecond)
}
