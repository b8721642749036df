package chat

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

type noopLifecycle struct{}

func (noopLifecycle) OnConnect(c *wsconn.Connection, r *http.Request)                  {}
func (noopLifecycle) Dispatch(c *wsconn.Connection, frame wsconn.Frame)                {}
func (noopLifecycle) OnClose(c *wsconn.Connection, code int, reason string, clean bool) {}
func (noopLifecycle) OnError(c *wsconn.Connection, err error)                          {}

func dialRawConn(t *testing.T) (*wsconn.Connection, *websocket.Conn) {
	t.Helper()
	connCh := make(chan *wsconn.Connection, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Upgrade(w, r, noopLifecycle{}, nil, zap.NewNop())
		if err != nil {
			return
		}
		connCh <- conn
		conn.Run(r)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-connCh:
		return c, client
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side connection")
		return nil, nil
	}
}

func TestStreamStartRejectsConcurrentActiveStream(t *testing.T) {
	s := NewStream(newTestLogDB(t))

	require.NoError(t, s.Start("s1", "r1", nil, json.RawMessage(`{}`), json.RawMessage(`[]`)))
	err := s.Start("s2", "r2", nil, json.RawMessage(`{}`), json.RawMessage(`[]`))
	assert.Error(t, err)
}

func TestStreamEmitDeliversFrameToLiveConnection(t *testing.T) {
	s := NewStream(newTestLogDB(t))
	conn, client := dialRawConn(t)

	require.NoError(t, s.Start("s1", "r1", conn, json.RawMessage(`{}`), json.RawMessage(`[]`)))
	require.NoError(t, s.Emit(map[string]string{"text": "hello"}))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp ChatResponseFrame
	require.NoError(t, client.ReadJSON(&resp))
	assert.Equal(t, "r1", resp.ID)
	assert.Contains(t, string(resp.Frame), "hello")
}

func TestStreamFinishBroadcastsDoneFrameAndClearsActive(t *testing.T) {
	s := NewStream(newTestLogDB(t))
	conn, client := dialRawConn(t)
	set := wsconn.NewSet()
	set.Add(conn)

	require.NoError(t, s.Start("s1", "r1", conn, json.RawMessage(`{}`), json.RawMessage(`[]`)))
	require.NoError(t, s.Finish(set, ""))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp ChatResponseFrame
	require.NoError(t, client.ReadJSON(&resp))
	assert.True(t, resp.Done)
	assert.Empty(t, resp.Error)

	_, _, active := s.Active()
	assert.False(t, active)
}

func TestStreamResumeReplaysChunksAfterLastSeq(t *testing.T) {
	s := NewStream(newTestLogDB(t))

	require.NoError(t, s.Start("s1", "r1", nil, json.RawMessage(`{}`), json.RawMessage(`[]`)))
	require.NoError(t, s.Emit(map[string]string{"n": "0"}))
	require.NoError(t, s.Emit(map[string]string{"n": "1"}))
	require.NoError(t, s.Emit(map[string]string{"n": "2"}))

	conn, client := dialRawConn(t)
	require.NoError(t, s.Resume(conn, "s1", 0))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second ChatResponseFrame
	require.NoError(t, client.ReadJSON(&first))
	require.NoError(t, client.ReadJSON(&second))
	assert.Contains(t, string(first.Frame), `"1"`)
	assert.Contains(t, string(second.Frame), `"2"`)
}

func TestStreamClearAllResetsActiveMarkersAndDeletesRows(t *testing.T) {
	db := newTestLogDB(t)
	s := NewStream(db)

	require.NoError(t, s.Start("s1", "r1", nil, json.RawMessage(`{}`), json.RawMessage(`[]`)))
	require.NoError(t, s.Emit(map[string]string{"n": "0"}))
	require.NoError(t, s.ClearAll())

	_, _, active := s.Active()
	assert.False(t, active)

	require.NoError(t, s.Start("s2", "r2", nil, json.RawMessage(`{}`), json.RawMessage(`[]`)))
}
