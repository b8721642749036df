package agent

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// AgentDB is the narrow facade exposed to agent user code, keeping the
// library's own tables (agent_state, messages, stream_*, schedules,
// mcp_servers) namespaced away from whatever tables user code creates —
// the same split the teacher draws between its internal db package and its
// repositories layer.
type AgentDB struct {
	db *gorm.DB
}

func newAgentDB(db *gorm.DB) *AgentDB {
	return &AgentDB{db: db}
}

// Exec runs a write statement against the instance's database.
func (a *AgentDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return a.db.WithContext(ctx).Exec(query, args...).Error
}

// Query runs a read statement and returns the standard library *sql.Rows,
// so user code is not coupled to GORM's query builder.
func (a *AgentDB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return a.db.WithContext(ctx).Raw(query, args...).Rows()
}

// Tx runs fn inside a transaction, rolling back if fn returns an error.
func (a *AgentDB) Tx(ctx context.Context, fn func(tx *AgentDB) error) error {
	return a.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(&AgentDB{db: gtx})
	})
}
