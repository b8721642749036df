package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/chat"
	"github.com/arkeep-io/agenthost/internal/instancedb"
)

// ToolInfo is one discovered remote tool, qualified by the server it came
// from so callTool({serverId, name, arguments}) can route to it.
type ToolInfo struct {
	ServerID    string
	ServerName  string
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ListTools returns every tool discovered across all ready servers, using
// each ServerConn's cached discovery result (§4.7: "tool discovery caches
// the result per server").
func (m *Manager) ListTools() []ToolInfo {
	m.mu.Lock()
	conns := make([]*ServerConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	var out []ToolInfo
	for _, c := range conns {
		for _, t := range c.cachedTools() {
			schema, _ := json.Marshal(t.InputSchema)
			out = append(out, ToolInfo{
				ServerID:    c.id,
				ServerName:  c.name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: schema,
			})
		}
	}
	return out
}

// CallTool invokes name on serverID with args, refreshing the server's
// OAuth token first if it is stale.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, args map[string]any) (json.RawMessage, error) {
	m.mu.Lock()
	conn, ok := m.conns[serverID]
	m.mu.Unlock()
	if !ok {
		return nil, agenterr.New(agenterr.NotFound, "unknown mcp server: "+serverID)
	}
	if conn.getState() != instancedb.MCPReady {
		return nil, agenterr.New(agenterr.Conflict, "mcp server "+serverID+" is not ready")
	}

	m.refreshIfNeeded(ctx, conn)

	res, err := conn.callTool(ctx, name, args)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: calling %s on %s: %w", name, conn.name, err)
	}
	out, err := json.Marshal(res.Content)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: marshaling result of %s: %w", name, err)
	}
	return out, nil
}

// GetAITools adapts every discovered MCP tool into chat.Tool, wiring each
// one's Execute closure straight into CallTool, per §4.7's "adapter to the
// chat subsystem."
func (m *Manager) GetAITools() []chat.Tool {
	infos := m.ListTools()
	out := make([]chat.Tool, 0, len(infos))
	for _, info := range infos {
		info := info
		out = append(out, chat.Tool{
			Name:        info.ServerName + "__" + info.Name,
			Description: info.Description,
			Execute: func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
				var args map[string]any
				if len(raw) > 0 {
					if err := json.Unmarshal(raw, &args); err != nil {
						return nil, fmt.Errorf("mcpclient: decoding arguments for %s: %w", info.Name, err)
					}
				}
				return m.CallTool(ctx, info.ServerID, info.Name, args)
			},
		})
	}
	return out
}
