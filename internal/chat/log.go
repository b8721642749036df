package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/metrics"
)

// maxRowBytes is the 1.8 MB UTF-8-byte per-row cap from §3/§8. Rows over
// this size are compacted (tool outputs first, then text truncation) before
// being written.
const maxRowBytes = 1_800_000

// Log is the per-instance message log, backed by the instancedb.Message
// table. It implements content-hash idempotence and the row-size guard.
type Log struct {
	db *gorm.DB

	// MaxPersistedMessages caps the log to the N most recent messages; nil
	// (unset, zero value) disables trimming, matching the `integer | null`
	// option in §6.
	MaxPersistedMessages *int

	metrics *metrics.Metrics
}

// NewLog wraps db for one instance's message table.
func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

// SetMetrics wires m so every persisted (non-idempotent) message counts
// against agenthost_chat_messages_persisted_total. Optional.
func (l *Log) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

func contentHash(m Message) (string, []byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), raw, nil
}

// PersistMessages is §4.5's `persistMessages`: it sanitizes, merges tool
// echoes against stored state, enforces the row-size guard, computes a
// content hash per message, and writes only rows whose hash changed —
// satisfying the idempotence property tested in §8.
func (l *Log) PersistMessages(messages []Message) error {
	sanitized := Sanitize(messages)

	for i, m := range sanitized {
		existing, ok := l.loadExistingParts(m.ID)
		if ok {
			sanitized[i].Parts = mergeParts(existing, m.Parts)
		}
	}

	return l.db.Transaction(func(tx *gorm.DB) error {
		for _, m := range sanitized {
			m = enforceRowSizeGuard(m)

			hash, raw, err := contentHash(m)
			if err != nil {
				return fmt.Errorf("chat: hashing message %q: %w", m.ID, err)
			}

			var existingRow instancedb.Message
			err = tx.First(&existingRow, "id = ?", m.ID).Error
			if err == nil && existingRow.Hash == hash {
				continue // unchanged — no-op, satisfies idempotence
			}

			now := time.Now()
			row := instancedb.Message{
				ID:        m.ID,
				JSON:      string(raw),
				Role:      string(m.Role),
				Hash:      hash,
				UpdatedAt: now,
			}
			if err == gorm.ErrRecordNotFound {
				row.CreatedAt = now
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			} else {
				row.CreatedAt = existingRow.CreatedAt
				if err := tx.Save(&row).Error; err != nil {
					return err
				}
			}
			if l.metrics != nil {
				l.metrics.ChatMessages.WithLabelValues(row.Role).Inc()
			}
		}
		return l.trimExcess(tx)
	})
}

func mergeParts(existing, incoming []Part) []Part {
	byID := make(map[string]Part, len(existing))
	for _, p := range existing {
		if _, _, id, _, _, ok := partToolIdent(p); ok {
			byID[id] = p
		}
	}

	out := make([]Part, len(incoming))
	for i, p := range incoming {
		if _, _, id, _, _, ok := partToolIdent(p); ok {
			if ex, found := byID[id]; found {
				out[i] = MergeToolEcho(ex, p)
				continue
			}
		}
		out[i] = p
	}
	return out
}

func partToolIdent(p Part) (name, callID, id string, state ToolState, output json.RawMessage, ok bool) {
	name, callID, state, _, output, ok = p.AsToolCall()
	return name, callID, callID, state, output, ok
}

func (l *Log) loadExistingParts(id string) ([]Part, bool) {
	var row instancedb.Message
	if err := l.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, false
	}
	msg, ok := LoadMessage(json.RawMessage(row.JSON))
	if !ok {
		return nil, false
	}
	return msg.Parts, true
}

// enforceRowSizeGuard implements §3/§8's byte cap: compact tool outputs
// first, truncate text as a last resort, and record compacted ids in
// metadata.compactedToolOutputs.
func enforceRowSizeGuard(m Message) Message {
	raw, err := json.Marshal(m)
	if err != nil || len(raw) <= maxRowBytes {
		return m
	}

	var compactedIDs []string
	for i, p := range m.Parts {
		if p.Kind() != PartToolCall {
			continue
		}
		_, callID, _, _, output, ok := p.AsToolCall()
		if !ok || len(output) == 0 {
			continue
		}
		marker := fmt.Sprintf(`{"truncated":true,"originalBytes":%d}`, len(output))
		m.Parts[i] = p.WithOutput(ToolOutputAvailable, json.RawMessage(marker))
		compactedIDs = append(compactedIDs, callID)

		raw, err = json.Marshal(m)
		if err == nil && len(raw) <= maxRowBytes {
			break
		}
	}

	if len(compactedIDs) > 0 {
		if m.Metadata == nil {
			m.Metadata = map[string]interface{}{}
		}
		m.Metadata["compactedToolOutputs"] = compactedIDs
	}

	raw, err = json.Marshal(m)
	if err == nil && len(raw) <= maxRowBytes {
		return m
	}

	// Tool compaction alone was not enough (or this is a non-assistant
	// message with no tool parts): fall back to text truncation.
	for i, p := range m.Parts {
		if p.Kind() != PartText {
			continue
		}
		text, _ := p.AsText()
		for len(text) > 0 {
			m.Parts[i] = NewText(text)
			raw, err = json.Marshal(m)
			if err == nil && len(raw) <= maxRowBytes {
				return m
			}
			// Halve repeatedly rather than byte-by-byte, to bound the
			// number of marshal attempts on pathological inputs.
			text = text[:len(text)/2]
		}
	}

	return m
}

// trimExcess deletes the oldest rows beyond MaxPersistedMessages, if set.
func (l *Log) trimExcess(tx *gorm.DB) error {
	if l.MaxPersistedMessages == nil {
		return nil
	}
	limit := *l.MaxPersistedMessages

	var count int64
	if err := tx.Model(&instancedb.Message{}).Count(&count).Error; err != nil {
		return err
	}
	if int(count) <= limit {
		return nil
	}

	var excess []instancedb.Message
	if err := tx.Order("created_at ASC").Limit(int(count) - limit).Find(&excess).Error; err != nil {
		return err
	}
	for _, row := range excess {
		if err := tx.Delete(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// LoadAll returns every valid message in the log, oldest first, silently
// dropping rows that fail structural validation (§3's "rows failing
// structural validation ... are dropped").
func (l *Log) LoadAll() ([]Message, error) {
	var rows []instancedb.Message
	if err := l.db.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(rows))
	for _, row := range rows {
		if m, ok := LoadMessage(json.RawMessage(row.JSON)); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Clear wipes every message row, used by `chat-clear` (§4.5).
func (l *Log) Clear() error {
	return l.db.Exec("DELETE FROM messages").Error
}
