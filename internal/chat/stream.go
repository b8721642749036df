package chat

import (
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// flushBatchSize and flushInterval implement §4.5's "buffered writes flush
// in batches (10 frames or a small timer)" — a direct analogue of the
// teacher websocket Client.writePump's pingPeriod ticker idiom, here
// counting frames instead of time alone.
const (
	flushBatchSize = 10
	flushInterval  = 200 * time.Millisecond
)

// ChatResponseFrame is the server→client wire shape for a streamed chat
// chunk or its terminal frame (§6).
type ChatResponseFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Frame json.RawMessage `json:"frame,omitempty"`
	Done  bool            `json:"done,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Stream is at most one active assistant stream per agent (§4.5's "at most
// one assistant stream is active per agent"). It buffers every emitted
// frame with a monotonic sequence number, persists the buffer so a
// reconnecting client can resume, and tees live frames to the requesting
// connection.
type Stream struct {
	db *gorm.DB

	mu         sync.Mutex
	active     bool
	streamID   string
	requestID  string
	seq        int64
	conn       *wsconn.Connection
	pending    []instancedb.StreamChunk
	flushTimer *time.Timer
}

// NewStream wraps db for one instance's stream-chunk/stream-meta tables.
func NewStream(db *gorm.DB) *Stream {
	return &Stream{db: db}
}

// Active reports whether a stream is currently in flight, and if so its
// identifiers — used on (re)connect to decide whether to send
// stream-resuming.
func (s *Stream) Active() (streamID, requestID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID, s.requestID, s.active
}

// Start begins a new stream for requestID, persisting the request body and
// client-tools snapshot so a later autoContinue can resume generation
// after the agent has been rehydrated (§4.5's tool lifecycle clause).
// Returns a conflict error if a stream is already active, per §7's
// "concurrent active stream invariants."
func (s *Stream) Start(streamID, requestID string, conn *wsconn.Connection, body, clientTools json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return agenterr.New(agenterr.Conflict, "chat: a stream is already active for this agent")
	}

	meta := instancedb.StreamMeta{
		ID:          streamID,
		RequestID:   requestID,
		Body:        string(body),
		ClientTools: string(clientTools),
		CreatedAt:   time.Now(),
	}
	if err := s.db.Create(&meta).Error; err != nil {
		return agenterr.Wrap(agenterr.Internal, "chat: persisting stream metadata", err)
	}

	s.active = true
	s.streamID = streamID
	s.requestID = requestID
	s.conn = conn
	s.seq = 0
	s.pending = nil
	return nil
}

// Emit buffers and delivers one stream frame, flushing the persisted
// buffer in batches of flushBatchSize or flushInterval, whichever comes
// first.
func (s *Stream) Emit(frame interface{}) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.pending = append(s.pending, instancedb.StreamChunk{StreamID: s.streamID, Seq: seq, Body: string(raw)})
	shouldFlush := len(s.pending) >= flushBatchSize
	conn := s.conn
	streamID := s.requestID
	s.mu.Unlock()

	if shouldFlush {
		if err := s.flush(); err != nil {
			return err
		}
	} else {
		s.armFlushTimer()
	}

	if conn != nil {
		return wsconn.Send(conn, ChatResponseFrame{Type: "chat-response", ID: streamID, Frame: raw})
	}
	return nil
}

func (s *Stream) armFlushTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(flushInterval, func() {
		s.mu.Lock()
		s.flushTimer = nil
		s.mu.Unlock()
		_ = s.flush()
	})
}

func (s *Stream) flush() error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.db.Create(&batch).Error
}

// Finish flushes remaining buffered frames, broadcasts the terminal
// chat-response done frame to every connection (not just the requester),
// and clears the active-stream markers. An empty errMsg means success.
func (s *Stream) Finish(conns *wsconn.Set, errMsg string) error {
	if err := s.flush(); err != nil {
		return err
	}

	s.mu.Lock()
	requestID := s.requestID
	s.active = false
	s.streamID = ""
	s.requestID = ""
	s.conn = nil
	s.mu.Unlock()

	return conns.Broadcast(ChatResponseFrame{
		Type:  "chat-response",
		ID:    requestID,
		Done:  true,
		Error: errMsg,
	}, nil)
}

// Resume implements §4.5/§8's resumable streaming handshake: on
// reconnect, the server already sent `stream-resuming`; once the client
// ACKs with `stream-ack{streamId, lastSeq}`, Resume replays every buffered
// chunk with seq > lastSeq to conn, in order, then attaches conn as the
// live target for any further Emit calls.
func (s *Stream) Resume(conn *wsconn.Connection, streamID string, lastSeq int64) error {
	if err := s.flush(); err != nil {
		return err
	}
	var chunks []instancedb.StreamChunk
	if err := s.db.Where("stream_id = ? AND seq > ?", streamID, lastSeq).
		Order("seq ASC").Find(&chunks).Error; err != nil {
		return err
	}

	for _, c := range chunks {
		if err := wsconn.Send(conn, ChatResponseFrame{
			Type:  "chat-response",
			ID:    s.requestIDLocked(),
			Frame: json.RawMessage(c.Body),
		}); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.active && s.streamID == streamID {
		s.conn = conn
	}
	s.mu.Unlock()
	return nil
}

func (s *Stream) requestIDLocked() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID
}

// ClearAll wipes the stream-chunk and stream-meta tables and the active
// markers, part of `chat-clear`'s effect (§4.5).
func (s *Stream) ClearAll() error {
	s.mu.Lock()
	s.active = false
	s.streamID = ""
	s.requestID = ""
	s.conn = nil
	s.pending = nil
	s.mu.Unlock()

	if err := s.db.Exec("DELETE FROM stream_chunks").Error; err != nil {
		return err
	}
	return s.db.Exec("DELETE FROM stream_meta").Error
}
