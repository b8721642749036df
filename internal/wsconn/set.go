package wsconn

import (
	"encoding/json"
	"sync"
)

// Set is one agent instance's live connection set. Unlike the teacher's Hub,
// which multiplexes many topics across a whole process, a Set belongs to
// exactly one instance — broadcast always means "every connection on this
// agent."
type Set struct {
	mu   sync.RWMutex
	conn map[*Connection]struct{}
}

// NewSet creates an empty connection set.
func NewSet() *Set {
	return &Set{conn: make(map[*Connection]struct{})}
}

// Add registers a connection as live.
func (s *Set) Add(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn[c] = struct{}{}
}

// Remove drops a connection, e.g. once its pumps have exited.
func (s *Set) Remove(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conn, c)
}

// Connections returns a point-in-time snapshot of the live connection set.
func (s *Set) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Connection, 0, len(s.conn))
	for c := range s.conn {
		out = append(out, c)
	}
	return out
}

// Len reports the number of live connections.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conn)
}

// Broadcast marshals v and sends it to every connection in the set except
// except (if non-nil). It copies the target list out from under the lock
// before sending, mirroring the teacher Hub.Publish's "copy then send
// outside the lock" approach so a slow connection's buffered Send cannot
// block the broadcaster or other recipients.
func (s *Set) Broadcast(v interface{}, except *Connection) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	for _, c := range s.Connections() {
		if c == except {
			continue
		}
		c.Send(raw)
	}
	return nil
}

// Send marshals v and delivers it to one connection.
func Send(c *Connection, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Send(raw)
	return nil
}
