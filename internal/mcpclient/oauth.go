package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
)

// HandleCallback completes the authorization-code exchange for serverID's
// pending OAuth flow, per §4.7. state must equal the value handed out in
// connect's AuthCodeURL (the server's own id). A callback is accepted only
// while the server is authenticating, so a replayed callback after the flow
// has completed or failed is rejected with agenterr.Conflict. A missing code
// or state is rejected with agenterr.InvalidArgument, matching the "missing
// code or state yields 4xx" edge case.
func (m *Manager) HandleCallback(ctx context.Context, serverID, code, state string) (redirectURL string, err error) {
	if code == "" || state == "" {
		return m.opts.ErrorRedirect, agenterr.New(agenterr.InvalidArgument, "oauth callback missing code or state")
	}

	m.mu.Lock()
	conn, ok := m.conns[serverID]
	m.mu.Unlock()
	if !ok {
		return m.opts.ErrorRedirect, agenterr.New(agenterr.NotFound, "unknown mcp server: "+serverID)
	}
	if state != serverID {
		return m.opts.ErrorRedirect, agenterr.New(agenterr.InvalidArgument, "oauth state mismatch")
	}
	if conn.oauth == nil {
		return m.opts.ErrorRedirect, agenterr.New(agenterr.Conflict, "mcp server has no pending oauth flow")
	}
	if conn.getState() != instancedb.MCPAuthenticating {
		return m.opts.ErrorRedirect, agenterr.New(agenterr.Conflict, "mcp server has no pending oauth flow")
	}

	tok, err := conn.oauth.Exchange(ctx, code)
	if err != nil {
		conn.setState(instancedb.MCPFailed)
		m.persistState(ctx, conn, "")
		return m.opts.ErrorRedirect, fmt.Errorf("mcpclient: exchanging code for %s: %w", conn.name, err)
	}
	conn.token = tok
	if err := m.persistToken(ctx, conn); err != nil {
		m.logger.Warn("failed to persist mcp token", zap.String("server_id", serverID), zap.Error(err))
	}

	if err := m.connect(ctx, conn); err != nil {
		conn.setState(instancedb.MCPFailed)
		m.persistState(ctx, conn, "")
		return m.opts.ErrorRedirect, fmt.Errorf("mcpclient: connecting %s after oauth: %w", conn.name, err)
	}
	if err := m.discoverAndReady(ctx, conn); err != nil {
		return m.opts.ErrorRedirect, err
	}
	return m.opts.SuccessRedirect, nil
}

func (m *Manager) persistToken(ctx context.Context, conn *ServerConn) error {
	blob, err := json.Marshal(conn.token)
	if err != nil {
		return fmt.Errorf("mcpclient: marshaling token: %w", err)
	}
	return m.db.WithContext(ctx).Model(&instancedb.MCPServer{}).
		Where("id = ?", conn.id).
		Updates(map[string]interface{}{
			"token_blob": instancedb.EncryptedString(blob),
			"auth_url":   "",
			"updated_at": time.Now(),
		}).Error
}

// refreshIfNeeded best-effort refreshes conn's token before a call, per
// §4.7's "token refresh is best-effort before each call." A refresh
// failure is logged and the stale token is tried anyway — the remote
// server, not this manager, is the authority on whether it still works.
func (m *Manager) refreshIfNeeded(ctx context.Context, conn *ServerConn) {
	if conn.oauth == nil || conn.token == nil || conn.token.Valid() {
		return
	}
	src := conn.oauth.TokenSource(ctx, conn.token)
	fresh, err := src.Token()
	if err != nil {
		m.logger.Warn("mcp token refresh failed", zap.String("server_id", conn.id), zap.Error(err))
		return
	}
	conn.token = fresh
	if err := m.persistToken(ctx, conn); err != nil {
		m.logger.Warn("failed to persist refreshed mcp token", zap.String("server_id", conn.id), zap.Error(err))
	}
}
