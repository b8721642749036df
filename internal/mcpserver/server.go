// Package mcpserver lets an agent instance act as an MCP server, serving
// JSON-RPC over the streamable-HTTP transport (§4.8). It is mounted by
// agent-type code from Instance's OnRequest hook when the request's
// ParsedPath.Suffix is "mcp" — the framework's instance router already
// generalizes "/agents/<type>/<name>/<suffix>" dispatch through that hook,
// so this package adds no router-level special case of its own.
package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// keepaliveInterval is the 30-second SSE ping cadence from §4.8. mcp-go's
// StreamableHTTPServer supports this natively via WithHeartbeatInterval, so
// no hand-rolled ticker wrapper is needed — this is the library doing
// exactly what the teacher's Client.writePump ping loop does by hand.
const keepaliveInterval = 30 * time.Second

// Server wraps one instance's MCP server identity and its streamable-HTTP
// transport.
type Server struct {
	mcp  *server.MCPServer
	http *server.StreamableHTTPServer
}

// New constructs an MCP server identifying itself as name/version. endpoint
// is the path segment mcp-go serves on when run via Start (unused when
// mounted as an http.Handler, which is how agent instances use it).
func New(name, version, endpoint string) *Server {
	mcpSrv := server.NewMCPServer(name, version)
	httpSrv := server.NewStreamableHTTPServer(mcpSrv,
		server.WithHeartbeatInterval(keepaliveInterval),
		server.WithEndpointPath(endpoint),
	)
	return &Server{mcp: mcpSrv, http: httpSrv}
}

// AddTool registers a tool this agent exposes to MCP clients.
func (s *Server) AddTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}

// Handler returns the http.Handler to mount at
// /agents/<type>/<name>/mcp — it handles GET (SSE notification stream),
// POST (JSON-RPC request/notification, optionally upgrading to SSE for a
// long-running tool call), and DELETE (session termination), per §4.8.
func (s *Server) Handler() http.Handler { return s.http }

// Shutdown closes every active session and stops accepting new ones,
// called from the instance's OnDestroy/Hibernate path.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
