package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/instancedb"
)

func newTestLogDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := instancedb.Open(instancedb.Config{
		DataDir:   t.TempDir(),
		Namespace: "agent",
		Name:      "alice",
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { instancedb.Close(db) })
	return db
}

func TestPersistMessagesThenLoadAll(t *testing.T) {
	log := NewLog(newTestLogDB(t))

	require.NoError(t, log.PersistMessages([]Message{
		{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi")}},
		{ID: "2", Role: RoleAssistant, Parts: []Part{NewText("hello back")}},
	}))

	loaded, err := log.LoadAll()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "1", loaded[0].ID)
	assert.Equal(t, "2", loaded[1].ID)
}

func TestPersistMessagesIsIdempotentForUnchangedContent(t *testing.T) {
	db := newTestLogDB(t)
	log := NewLog(db)

	msg := Message{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi")}}
	require.NoError(t, log.PersistMessages([]Message{msg}))

	var before instancedb.Message
	require.NoError(t, db.First(&before, "id = ?", "1").Error)

	require.NoError(t, log.PersistMessages([]Message{msg}))

	var after instancedb.Message
	require.NoError(t, db.First(&after, "id = ?", "1").Error)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, before.Hash, after.Hash)
}

func TestPersistMessagesUpdatesChangedContent(t *testing.T) {
	db := newTestLogDB(t)
	log := NewLog(db)

	require.NoError(t, log.PersistMessages([]Message{{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi")}}}))
	require.NoError(t, log.PersistMessages([]Message{{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi there")}}}))

	var row instancedb.Message
	require.NoError(t, db.First(&row, "id = ?", "1").Error)

	m, ok := LoadMessage(json.RawMessage(row.JSON))
	require.True(t, ok)
	text, _ := m.Parts[0].AsText()
	assert.Equal(t, "hi there", text)
}

func TestPersistMessagesMergesToolEchoAgainstStoredState(t *testing.T) {
	db := newTestLogDB(t)
	log := NewLog(db)

	original := Message{ID: "1", Role: RoleAssistant, Parts: []Part{
		NewToolCall("search", "c1", ToolOutputAvailable, json.RawMessage(`{"q":"go"}`), json.RawMessage(`{"hits":3}`)),
	}}
	require.NoError(t, log.PersistMessages([]Message{original}))

	echoed := Message{ID: "1", Role: RoleAssistant, Parts: []Part{
		NewToolCall("search", "c1", ToolInputAvailable, json.RawMessage(`{"q":"go-lang"}`), nil),
	}}
	require.NoError(t, log.PersistMessages([]Message{echoed}))

	var row instancedb.Message
	require.NoError(t, db.First(&row, "id = ?", "1").Error)
	m, ok := LoadMessage(json.RawMessage(row.JSON))
	require.True(t, ok)

	_, _, state, _, output, toolOK := m.Parts[0].AsToolCall()
	require.True(t, toolOK)
	assert.Equal(t, ToolOutputAvailable, state)
	assert.JSONEq(t, `{"hits":3}`, string(output))
}

func TestTrimExcessKeepsOnlyMostRecent(t *testing.T) {
	db := newTestLogDB(t)
	log := NewLog(db)
	limit := 2
	log.MaxPersistedMessages = &limit

	for i := 1; i <= 4; i++ {
		id := string(rune('0' + i))
		require.NoError(t, log.PersistMessages([]Message{{ID: id, Role: RoleUser, Parts: []Part{NewText("msg")}}}))
	}

	loaded, err := log.LoadAll()
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}

func TestClearWipesAllMessages(t *testing.T) {
	db := newTestLogDB(t)
	log := NewLog(db)
	require.NoError(t, log.PersistMessages([]Message{{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi")}}}))

	require.NoError(t, log.Clear())

	loaded, err := log.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadAllDropsInvalidRows(t *testing.T) {
	db := newTestLogDB(t)
	log := NewLog(db)

	require.NoError(t, db.Create(&instancedb.Message{
		ID:        "bad",
		JSON:      `{"id":"","role":"user","parts":[]}`,
		Role:      "user",
		Hash:      "x",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}).Error)

	loaded, err := log.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestEnforceRowSizeGuardTruncatesOversizedToolOutput(t *testing.T) {
	bigOutput, err := json.Marshal(map[string]string{"data": string(make([]byte, maxRowBytes))})
	require.NoError(t, err)

	m := Message{ID: "1", Role: RoleAssistant, Parts: []Part{
		NewToolCall("search", "c1", ToolOutputAvailable, nil, bigOutput),
	}}

	out := enforceRowSizeGuard(m)
	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), maxRowBytes)
	assert.Contains(t, out.Metadata, "compactedToolOutputs")
}

func TestEnforceRowSizeGuardLeavesSmallMessageUntouched(t *testing.T) {
	m := Message{ID: "1", Role: RoleUser, Parts: []Part{NewText("hi")}}
	out := enforceRowSizeGuard(m)
	assert.Equal(t, m, out)
}
