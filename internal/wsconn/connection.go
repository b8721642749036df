// Package wsconn implements the bidirectional WebSocket connection a client
// uses to talk to one agent instance: upgrade, framed read/write pumps, and
// the per-instance connection set used for broadcast.
package wsconn

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait is the maximum time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the server waits for a pong reply after a ping.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait so the client has time to reply.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum inbound frame size accepted from a
	// client. Unlike the teacher's push-only hub, clients here send real
	// application frames (rpc args, chat bodies), so the limit is generous.
	maxMessageSize = 1 << 20 // 1 MiB

	// sendBufferSize is the capacity of the per-connection outbound buffer.
	// A connection whose buffer fills is considered too slow and is closed,
	// exactly as the teacher's Hub.Publish disconnects a stalled client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Lifecycle is the set of hooks the owning agent instance implements to
// observe and react to one connection's events.
type Lifecycle interface {
	// OnConnect is called once, before any inbound frame is dispatched. The
	// Connection sends no frame of its own first; the agent instance's
	// implementation sends the connected frame from here.
	OnConnect(c *Connection, r *http.Request)
	// Dispatch handles one inbound frame.
	Dispatch(c *Connection, frame Frame)
	// OnClose is called once, after the connection's pumps have stopped.
	OnClose(c *Connection, code int, reason string, wasClean bool)
	// OnError reports a non-fatal error encountered while servicing c.
	OnError(c *Connection, err error)
}

// Connection is a single connected WebSocket peer attached to one agent
// instance. It owns exactly one send buffer; the instance broadcasts by
// iterating its connection set and pushing onto each member's buffer.
type Connection struct {
	ID string

	conn *websocket.Conn
	life Lifecycle

	// Props is the opaque auth-context object decoded from the `token`
	// query parameter at upgrade time, or nil if no token was present or it
	// failed to decode. Authorization decisions over Props are the host's
	// business — this package only offers the decode (Non-goals: no user
	// authentication subsystem).
	Props map[string]interface{}

	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	logger    *zap.Logger
}

// KeyFunc resolves the verification key for a `token` query parameter JWT.
// Supplying a nil KeyFunc to Upgrade disables token decoding entirely.
type KeyFunc = jwt.Keyfunc

// Upgrade performs the HTTP→WebSocket handshake and returns a Connection
// ready to have Run called on it. keyFunc may be nil to skip JWT decoding.
func Upgrade(w http.ResponseWriter, r *http.Request, life Lifecycle, keyFunc KeyFunc, logger *zap.Logger) (*Connection, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:     newConnectionID(),
		conn:   conn,
		life:   life,
		send:   make(chan []byte, sendBufferSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("conn_id", "")),
	}
	c.logger = logger.With(zap.String("conn_id", c.ID), zap.String("remote_addr", r.RemoteAddr))

	if keyFunc != nil {
		if tok := r.URL.Query().Get("token"); tok != "" {
			claims := jwt.MapClaims{}
			// Decoding failure simply leaves Props nil — it is not an
			// authentication gate, only a best-effort context decode.
			if _, err := jwt.ParseWithClaims(tok, claims, keyFunc); err == nil {
				c.Props = map[string]interface{}(claims)
			}
		}
	}

	return c, nil
}

// Context is cancelled when the connection closes, cancelling every
// in-flight RPC or chat request that was derived from it.
func (c *Connection) Context() context.Context { return c.ctx }

// Run starts the read and write pumps and blocks until the connection
// closes. The caller (the HTTP handler for the upgrade) should invoke it
// directly — blocking for the connection's lifetime is expected.
func (c *Connection) Run(r *http.Request) {
	c.life.OnConnect(c, r)

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	code, reason, wasClean := c.readPump()
	// cancel unblocks writePump (it also selects on c.ctx.Done()) and, more
	// importantly, cancels every outstanding RPC/chat context derived from
	// this connection (rpc.Attach, chat.Attach) on every disconnect path —
	// not just the send-buffer-full path, which already cancels via Close.
	// context.CancelFunc is idempotent, so calling it again there is safe.
	c.cancel()
	<-done

	c.life.OnClose(c, code, reason, wasClean)
}

// Send enqueues raw bytes for delivery. If the connection's buffer is full
// the connection is closed — a slow peer must not stall the instance.
func (c *Connection) Send(raw []byte) {
	select {
	case c.send <- raw:
	default:
		c.Close(websocket.CloseMessageTooBig, "send buffer full")
	}
}

// Close tears down the connection. Safe to call multiple times and from any
// goroutine.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait),
		)
	})
}

func (c *Connection) readPump() (code int, reason string, wasClean bool) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.life.OnError(c, err)
		return websocket.CloseInternalServerErr, "read deadline", false
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				return ce.Code, ce.Text, true
			}
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.life.OnError(c, err)
			}
			return websocket.CloseAbnormalClosure, err.Error(), false
		}

		frame, err := ParseFrame(raw)
		if err != nil {
			c.life.OnError(c, err)
			continue
		}
		c.life.Dispatch(c, frame)
	}
}

// writePump is the only goroutine that writes to conn — gorilla/websocket
// connections are not safe for concurrent writes. It also emits periodic
// pings so readPump can detect a stale peer.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
