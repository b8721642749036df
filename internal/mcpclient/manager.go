// Package mcpclient lets an agent instance act as an MCP client across many
// remote servers, with automatic OAuth2 authorization-code exchange and
// transparent reconnection after a restart (§4.7). A Manager owns one
// ServerConn per row in the instance's mcp_servers table.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/metrics"
)

// Options configures a Manager. CallbackBase is the externally reachable
// prefix an added server's callback_url is built from
// (CallbackBase + "/" + serverID); SuccessRedirect/ErrorRedirect are the
// browser destinations the OAuth callback resolves to.
type Options struct {
	CallbackBase    string
	SuccessRedirect string
	ErrorRedirect   string
	HTTPTimeout     time.Duration

	// Index, if set, is a shared CallbackIndex this Manager registers every
	// server id into, letting a single process-wide HTTP route resolve
	// which Manager owns an incoming OAuth callback.
	Index *CallbackIndex
}

// Manager keeps one ServerConn alive per configured outbound MCP server.
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	conns   map[string]*ServerConn
	metrics *metrics.Metrics
}

// SetMetrics wires m so every state transition is reflected in the
// agenthost_mcp_connections gauge. Optional.
func (m *Manager) SetMetrics(metricsObj *metrics.Metrics) {
	m.metrics = metricsObj
}

// New constructs a Manager backed by db. Call OnStart to rebuild
// connections for every row already present (instance restart recovery).
func New(db *gorm.DB, logger *zap.Logger, opts Options) *Manager {
	if opts.HTTPTimeout == 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	return &Manager{
		db:     db,
		logger: logger.Named("mcpclient"),
		opts:   opts,
		conns:  make(map[string]*ServerConn),
	}
}

// OnStart reads the mcp_servers table and rebuilds a ServerConn for every
// row, per §4.7's restart semantics: rows already past OAuth reconnect
// immediately, rows still in authenticating stay there until the pending
// callback completes.
func (m *Manager) OnStart(ctx context.Context) error {
	var rows []instancedb.MCPServer
	if err := m.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("mcpclient: loading mcp_servers: %w", err)
	}

	m.mu.Lock()
	for i := range rows {
		row := rows[i]
		conn := newServerConn(row, m.logger)
		m.conns[row.ID] = conn
		m.opts.Index.register(row.ID, m)
		if row.State == instancedb.MCPAuthenticating {
			continue
		}
		go m.connectAndPersist(context.Background(), conn)
	}
	m.mu.Unlock()
	return nil
}

// AddOptions carries the optional fields accepted by addMcpServer.
type AddOptions struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// AddResult is the {id, authUrl?} shape returned to agent-type code.
type AddResult struct {
	ID      string
	AuthURL string
}

// AddServer inserts a new outbound connection row and attempts to connect.
// If OAuth is configured and no token is held yet, the server is not dialed:
// the row transitions to authenticating and AuthURL is the address the
// caller should redirect the user's browser to; otherwise connecting and
// discovery run before AddServer returns.
func (m *Manager) AddServer(ctx context.Context, name, serverURL string, opts AddOptions) (AddResult, error) {
	id := uuid.NewString()
	row := instancedb.MCPServer{
		ID:          id,
		Name:        name,
		ServerURL:   serverURL,
		CallbackURL: m.opts.CallbackBase + "/" + id,
		ClientID:    opts.ClientID,
		State:       instancedb.MCPNotConnected,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if opts.ClientSecret != "" {
		row.ClientSecret = instancedb.EncryptedString(opts.ClientSecret)
	}
	if optsJSON, err := json.Marshal(serverOptions{Scopes: opts.Scopes, AuthURL: opts.AuthURL, TokenURL: opts.TokenURL}); err == nil {
		row.ServerOptions = string(optsJSON)
	}

	conn := newServerConn(row, m.logger)
	conn.oauth = buildOAuthConfig(row, opts)

	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		return AddResult{}, fmt.Errorf("mcpclient: persisting mcp server %s: %w", name, err)
	}

	m.mu.Lock()
	m.conns[row.ID] = conn
	m.mu.Unlock()
	m.opts.Index.register(row.ID, m)

	if err := m.connect(ctx, conn); err != nil {
		var authErr *needsAuthError
		if errors.As(err, &authErr) {
			conn.setState(instancedb.MCPAuthenticating)
			m.persistState(ctx, conn, authErr.AuthURL)
			return AddResult{ID: row.ID, AuthURL: authErr.AuthURL}, nil
		}
		conn.setState(instancedb.MCPFailed)
		m.persistState(ctx, conn, "")
		return AddResult{ID: row.ID}, err
	}

	if err := m.discoverAndReady(ctx, conn); err != nil {
		return AddResult{ID: row.ID}, err
	}
	return AddResult{ID: row.ID}, nil
}

// RemoveServer closes and forgets a connection, deleting its row.
func (m *Manager) RemoveServer(ctx context.Context, id string) error {
	m.mu.Lock()
	conn, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	m.opts.Index.unregister(id)

	if ok {
		conn.close()
	}
	if err := m.db.WithContext(ctx).Delete(&instancedb.MCPServer{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("mcpclient: deleting mcp server %s: %w", id, err)
	}
	return nil
}

// HasConnection reports whether id names a known server, regardless of its
// current state.
func (m *Manager) HasConnection(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[id]
	return ok
}

// Wait implements chat.Options.MCPWait: it blocks until every known server
// reaches ready or failed, or timeout elapses, whichever comes first.
// onChatMessage always eventually runs regardless of which of those ends
// the wait (§4.5).
func (m *Manager) Wait(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.allSettled() || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) allSettled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conns {
		switch c.getState() {
		case instancedb.MCPReady, instancedb.MCPFailed:
		default:
			return false
		}
	}
	return true
}

func (m *Manager) connectAndPersist(ctx context.Context, conn *ServerConn) {
	if err := m.connect(ctx, conn); err != nil {
		m.logger.Warn("mcp server reconnect failed",
			zap.String("server_id", conn.id), zap.Error(err))
		conn.setState(instancedb.MCPFailed)
		m.persistState(ctx, conn, "")
		return
	}
	if err := m.discoverAndReady(ctx, conn); err != nil {
		m.logger.Warn("mcp server discovery failed",
			zap.String("server_id", conn.id), zap.Error(err))
	}
}

func (m *Manager) discoverAndReady(ctx context.Context, conn *ServerConn) error {
	if err := conn.discover(ctx); err != nil {
		conn.setState(instancedb.MCPFailed)
		m.persistState(ctx, conn, "")
		return agenterr.Wrap(agenterr.Internal, "mcp tool discovery failed", err)
	}
	conn.setState(instancedb.MCPReady)
	m.persistState(ctx, conn, "")
	return nil
}

func (m *Manager) persistState(ctx context.Context, conn *ServerConn, authURL string) {
	updates := map[string]interface{}{
		"state":      conn.getState(),
		"updated_at": time.Now(),
	}
	if authURL != "" {
		updates["auth_url"] = authURL
	}
	if err := m.db.WithContext(ctx).Model(&instancedb.MCPServer{}).
		Where("id = ?", conn.id).Updates(updates).Error; err != nil {
		m.logger.Warn("failed to persist mcp server state",
			zap.String("server_id", conn.id), zap.Error(err))
	}
	m.refreshConnectionGauge()
}

// refreshConnectionGauge recomputes agenthost_mcp_connections from scratch
// across every known server — simple and correct for the modest number of
// outbound MCP servers one instance is expected to have, avoiding the
// bookkeeping a per-transition increment/decrement pair would need.
func (m *Manager) refreshConnectionGauge() {
	if m.metrics == nil {
		return
	}
	counts := make(map[instancedb.MCPServerState]float64)
	m.mu.Lock()
	for _, c := range m.conns {
		counts[c.getState()]++
	}
	m.mu.Unlock()

	for _, s := range stateOrder {
		m.metrics.MCPConnections.WithLabelValues(string(s)).Set(counts[s])
	}
}

// serverOptions is the subset of AddOptions that does not already have a
// dedicated mcp_servers column; it round-trips through ServerOptions so a
// restart can rebuild the same oauth2.Config without the caller re-supplying
// it.
type serverOptions struct {
	Scopes   []string `json:"scopes,omitempty"`
	AuthURL  string   `json:"authUrl,omitempty"`
	TokenURL string   `json:"tokenUrl,omitempty"`
}

func buildOAuthConfig(row instancedb.MCPServer, opts AddOptions) *oauth2.Config {
	if opts.ClientID == "" && opts.AuthURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Scopes:       opts.Scopes,
		RedirectURL:  row.CallbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.AuthURL,
			TokenURL: opts.TokenURL,
		},
	}
}
