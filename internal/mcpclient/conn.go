package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/arkeep-io/agenthost/internal/instancedb"
)

// needsAuthError signals that connect could not proceed without the user
// completing an OAuth authorization-code flow first.
type needsAuthError struct {
	AuthURL string
}

func (e *needsAuthError) Error() string { return "mcp server requires authorization: " + e.AuthURL }

// ServerConn wraps one outbound MCP connection: the mark3labs/mcp-go client,
// its OAuth configuration (nil if the server needs none), and the state
// machine from §4.7. The state is a plain atomic int rather than a
// generic state-machine library — six states and a handful of edges need no
// framework, and nothing in the pack offers one anyway.
type ServerConn struct {
	id        string
	name      string
	serverURL string
	logger    *zap.Logger

	oauth *oauth2.Config
	token *oauth2.Token

	state atomic.Int32

	mu     sync.Mutex
	client *client.Client

	toolsMu sync.Mutex
	tools   []mcp.Tool
}

// newServerConn rebuilds an in-memory connection from a persisted row,
// restoring its OAuth configuration and token (if any) so a reconnect after
// restart does not force the user through authorization again.
func newServerConn(row instancedb.MCPServer, logger *zap.Logger) *ServerConn {
	c := &ServerConn{
		id:        row.ID,
		name:      row.Name,
		serverURL: row.ServerURL,
		logger:    logger.With(zap.String("server_id", row.ID), zap.String("server_name", row.Name)),
	}
	c.state.Store(int32(stateIndex(row.State)))

	var opts serverOptions
	if row.ServerOptions != "" {
		_ = json.Unmarshal([]byte(row.ServerOptions), &opts)
	}
	if row.ClientID != "" || opts.AuthURL != "" {
		c.oauth = buildOAuthConfig(row, AddOptions{
			ClientID:     row.ClientID,
			ClientSecret: string(row.ClientSecret),
			Scopes:       opts.Scopes,
			AuthURL:      opts.AuthURL,
			TokenURL:     opts.TokenURL,
		})
	}
	if string(row.TokenBlob) != "" {
		var tok oauth2.Token
		if err := json.Unmarshal([]byte(row.TokenBlob), &tok); err == nil {
			c.token = &tok
		}
	}
	return c
}

var stateOrder = []instancedb.MCPServerState{
	instancedb.MCPNotConnected,
	instancedb.MCPAuthenticating,
	instancedb.MCPConnecting,
	instancedb.MCPDiscovering,
	instancedb.MCPReady,
	instancedb.MCPFailed,
}

func stateIndex(s instancedb.MCPServerState) int {
	for i, v := range stateOrder {
		if v == s {
			return i
		}
	}
	return 0
}

func (c *ServerConn) getState() instancedb.MCPServerState {
	return stateOrder[c.state.Load()]
}

func (c *ServerConn) setState(s instancedb.MCPServerState) {
	prev := c.getState()
	c.state.Store(int32(stateIndex(s)))
	if prev != s {
		c.logger.Info("mcp connection state transition",
			zap.String("from", string(prev)), zap.String("to", string(s)))
	}
}

// connect dials the remote server, choosing stdio or streamable-HTTP
// transport by serverURL's scheme, and runs the MCP initialize handshake.
// If oauth is configured and no token is held, connect returns a
// *needsAuthError carrying the URL the caller should redirect the user to,
// without dialing.
func (m *Manager) connect(ctx context.Context, c *ServerConn) error {
	c.setState(instancedb.MCPConnecting)

	if c.oauth != nil && c.token == nil {
		return &needsAuthError{AuthURL: c.oauth.AuthCodeURL(c.id, oauth2.AccessTypeOffline)}
	}

	cl, err := dialClient(c.serverURL, c.oauth, c.token)
	if err != nil {
		return fmt.Errorf("mcpclient: dialing %s: %w", c.serverURL, err)
	}
	if err := cl.Start(ctx); err != nil {
		return fmt.Errorf("mcpclient: starting transport for %s: %w", c.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agenthost", Version: "1"}
	if _, err := cl.Initialize(ctx, initReq); err != nil {
		_ = cl.Close()
		return fmt.Errorf("mcpclient: initializing %s: %w", c.name, err)
	}

	c.mu.Lock()
	c.client = cl
	c.mu.Unlock()
	return nil
}

// dialClient builds a transport-appropriate mcp-go client: stdio when
// serverURL is a "stdio:<command> [args...]" address, streamable-HTTP
// otherwise.
func dialClient(serverURL string, cfg *oauth2.Config, tok *oauth2.Token) (*client.Client, error) {
	if rest, ok := strings.CutPrefix(serverURL, "stdio:"); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return nil, fmt.Errorf("empty stdio command")
		}
		return client.NewStdioMCPClient(fields[0], nil, fields[1:]...)
	}

	if cfg != nil && tok != nil {
		headers := map[string]string{"Authorization": "Bearer " + tok.AccessToken}
		return client.NewStreamableHttpClient(serverURL, transport.WithHTTPHeaders(headers))
	}
	return client.NewStreamableHttpClient(serverURL)
}

func (c *ServerConn) discover(ctx context.Context) error {
	c.setState(instancedb.MCPDiscovering)
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return fmt.Errorf("mcpclient: %s has no active client", c.name)
	}

	res, err := cl.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcpclient: listing tools for %s: %w", c.name, err)
	}
	c.toolsMu.Lock()
	c.tools = res.Tools
	c.toolsMu.Unlock()
	return nil
}

func (c *ServerConn) cachedTools() []mcp.Tool {
	c.toolsMu.Lock()
	defer c.toolsMu.Unlock()
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *ServerConn) callTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.Lock()
	cl := c.client
	c.mu.Unlock()
	if cl == nil {
		return nil, fmt.Errorf("mcpclient: %s has no active client", c.name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return cl.CallTool(ctx, req)
}

func (c *ServerConn) close() {
	c.mu.Lock()
	cl := c.client
	c.client = nil
	c.mu.Unlock()
	if cl != nil {
		_ = cl.Close()
	}
}
