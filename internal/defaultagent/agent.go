// Package defaultagent is the built-in agent type registered under the
// host's --default-namespace flag. It is a reference wiring of every
// subsystem the runtime offers — state, RPC, chat, the durable scheduler,
// the MCP client manager and server, and outbound email — so a freshly
// built binary is immediately useful rather than an empty registry with no
// factories, and so every subsystem is exercised by something other than
// its own tests.
package defaultagent

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/agent"
	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/chat"
	"github.com/arkeep-io/agenthost/internal/emailroute"
	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/mcpclient"
	"github.com/arkeep-io/agenthost/internal/mcpserver"
	"github.com/arkeep-io/agenthost/internal/metrics"
	"github.com/arkeep-io/agenthost/internal/rpc"
	"github.com/arkeep-io/agenthost/internal/scheduler"
)

// pingCallback is the one built-in scheduler callback: it replaces the
// agent's state with {"lastPing": <RFC3339 UTC time>}, giving ScheduleTask/ScheduleRecurring/
// ScheduleCron something observable to fire against out of the box.
const pingCallback = "ping"

// Config is the host-level configuration every default-namespace instance
// shares.
type Config struct {
	Mailer       *emailroute.Mailer
	EmailSecret  string
	MCPOptions   mcpclient.Options
	OnChatMessage chat.OnChatMessageFunc
	Metrics      *metrics.Metrics
}

// Factory returns an agent.Factory that builds Hooks wiring rpc, chat,
// scheduler, mcpclient, mcpserver, and emailroute's signed-header helper
// together for one instance.
func Factory(cfg Config) agent.Factory {
	return func(namespace, name string) agent.Hooks {
		r := &runtime{cfg: cfg, table: rpc.NewTable()}
		r.table.SetMetrics(cfg.Metrics)
		registerMethods(r)

		return agent.Hooks{
			OnStart:   r.onStart,
			OnDestroy: r.onDestroy,
			OnRequest: r.onRequest,
		}
	}
}

// runtime holds the per-instance state built during OnStart; it is the
// closure context every registered rpc method and reserved-frame handler
// captures.
type runtime struct {
	cfg   Config
	table *rpc.Table

	sched   *scheduler.Scheduler
	mcp     *mcpclient.Manager
	mcpSrv  *mcpserver.Server
	chatSes *chat.Session
}

func (r *runtime) onStart(ctx context.Context, inst *agent.Instance) error {
	rpc.Attach(inst, r.table)

	sched, err := scheduler.New(inst.DB, inst.Logger())
	if err != nil {
		return err
	}
	sched.SetMetrics(r.cfg.Metrics)
	sched.RegisterCallback(pingCallback, r.firePing(inst))
	if err := sched.Start(ctx); err != nil {
		return err
	}
	r.sched = sched

	mgr := mcpclient.New(inst.DB, inst.Logger(), r.cfg.MCPOptions)
	mgr.SetMetrics(r.cfg.Metrics)
	if err := mgr.OnStart(ctx); err != nil {
		return err
	}
	r.mcp = mgr

	r.mcpSrv = mcpserver.New(namespaceServerName(inst), "1.0.0", "mcp")

	r.chatSes = chat.NewSession(inst.DB, chat.Options{
		OnChatMessage:         r.cfg.OnChatMessage,
		WaitForMcpConnections: chat.WaitForMcp{Wait: true, Timeout: 5 * time.Second},
		MCPWait:               r.mcp.Wait,
	})
	for _, t := range r.mcp.GetAITools() {
		r.chatSes.RegisterTool(t)
	}
	r.chatSes.Log.SetMetrics(r.cfg.Metrics)
	chat.Attach(inst, r.chatSes)

	return nil
}

func (r *runtime) onDestroy(ctx context.Context, inst *agent.Instance) error {
	if r.sched != nil {
		if err := r.sched.Stop(); err != nil {
			return err
		}
	}
	if r.mcpSrv != nil {
		return r.mcpSrv.Shutdown(ctx)
	}
	return nil
}

// onRequest mounts the MCP server transport at the instance's "mcp" suffix
// (§4.8) and, for every other suffix, declines so the router falls through
// to a 404.
func (r *runtime) onRequest(inst *agent.Instance, w http.ResponseWriter, req *http.Request) bool {
	p, ok := agent.ParsePath(req.URL.Path)
	if !ok || p.Suffix != "mcp" {
		return false
	}
	r.mcpSrv.Handler().ServeHTTP(w, req)
	return true
}

func (r *runtime) firePing(inst *agent.Instance) scheduler.CallbackFunc {
	return func(ctx context.Context, payload []byte, row instancedb.Schedule) error {
		next := map[string]interface{}{"lastPing": time.Now().UTC().Format(time.RFC3339)}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		return inst.SetState(raw, nil)
	}
}

func namespaceServerName(inst *agent.Instance) string {
	return inst.Namespace + "/" + inst.Name
}

// OAuthCallback adapts a CallbackIndex lookup into an
// httpapi.OAuthCallbackFunc: resolve the owning Manager, complete the
// exchange, and redirect the browser.
func OAuthCallback(idx *mcpclient.CallbackIndex, logger *zap.Logger) func(w http.ResponseWriter, req *http.Request, serverID string) {
	return func(w http.ResponseWriter, req *http.Request, serverID string) {
		mgr, ok := idx.Lookup(serverID)
		if !ok {
			http.Error(w, "unknown mcp server", http.StatusNotFound)
			return
		}
		redirect, err := mgr.HandleCallback(req.Context(), serverID, req.URL.Query().Get("code"), req.URL.Query().Get("state"))
		if err != nil {
			logger.Warn("mcp oauth callback failed", zap.String("server_id", serverID), zap.Error(err))
			if redirect == "" {
				ErrToHTTP(w, err)
				return
			}
		}
		http.Redirect(w, req, redirect, http.StatusFound)
	}
}

// ErrToHTTP maps an agenterr.Kind to the matching HTTP status, used by
// handlers (like OAuthCallback) that sit outside the instance router's own
// response helpers.
func ErrToHTTP(w http.ResponseWriter, err error) {
	switch agenterr.KindOf(err) {
	case agenterr.NotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case agenterr.InvalidArgument:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case agenterr.Unauthorized:
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case agenterr.Conflict:
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
