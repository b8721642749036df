package wsconn

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingLifecycle captures every callback invocation for assertions, and
// echoes every dispatched frame back to the connection that sent it.
type recordingLifecycle struct {
	mu        sync.Mutex
	connected bool
	dispatched []Frame
	closed    bool
	closeCode int
	errs      []error
}

func (l *recordingLifecycle) OnConnect(c *Connection, r *http.Request) {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
}

func (l *recordingLifecycle) Dispatch(c *Connection, frame Frame) {
	l.mu.Lock()
	l.dispatched = append(l.dispatched, frame)
	l.mu.Unlock()
	c.Send(frame.Raw)
}

func (l *recordingLifecycle) OnClose(c *Connection, code int, reason string, wasClean bool) {
	l.mu.Lock()
	l.closed = true
	l.closeCode = code
	l.mu.Unlock()
}

func (l *recordingLifecycle) OnError(c *Connection, err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func newTestServer(t *testing.T, life *recordingLifecycle, keyFunc KeyFunc) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, life, keyFunc, zap.NewNop())
		if err != nil {
			return
		}
		conn.Run(r)
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, wsURL
}

func TestUpgradeAndDispatchRoundTrip(t *testing.T) {
	life := &recordingLifecycle{}
	_, wsURL := newTestServer(t, life, nil)

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"rpc","id":"1"}`)))

	_, raw, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"rpc","id":"1"}`, string(raw))

	require.Eventually(t, func() bool {
		life.mu.Lock()
		defer life.mu.Unlock()
		return life.connected && len(life.dispatched) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestUpgradeDecodesValidToken(t *testing.T) {
	life := &recordingLifecycle{}
	secret := []byte("test-secret")
	keyFunc := func(token *jwt.Token) (interface{}, error) { return secret, nil }
	_, wsURL := newTestServer(t, life, keyFunc)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
	signed, err := tok.SignedString(secret)
	require.NoError(t, err)

	client, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+signed, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		life.mu.Lock()
		defer life.mu.Unlock()
		return life.connected
	}, time.Second, 10*time.Millisecond)
}

func TestClientDisconnectRunsOnClose(t *testing.T) {
	life := &recordingLifecycle{}
	_, wsURL := newTestServer(t, life, nil)

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		life.mu.Lock()
		defer life.mu.Unlock()
		return life.connected
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	require.Eventually(t, func() bool {
		life.mu.Lock()
		defer life.mu.Unlock()
		return life.closed
	}, time.Second, 10*time.Millisecond)
}
