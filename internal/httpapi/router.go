package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/agent"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// OAuthCallbackFunc handles the MCP OAuth landing request for one server id
// (cmd/agenthostd wires defaultagent.OAuthCallback, which resolves the
// server id through an mcpclient.CallbackIndex); registered per Router.
type OAuthCallbackFunc func(w http.ResponseWriter, r *http.Request, serverID string)

// RouterConfig holds the dependencies needed to build the host's HTTP
// router.
type RouterConfig struct {
	Registry      *agent.Registry
	TokenKeyFunc  wsconn.KeyFunc // nil disables `token` query param decoding
	OAuthCallback OAuthCallbackFunc
	Metrics       http.Handler // e.g. promhttp.Handler()
	Logger        *zap.Logger
}

// NewRouter builds the Chi router implementing §6's HTTP surface:
// `/agents/<agent-type>/<instance-name>[/suffix]` instance routing (HTTP
// and WebSocket), the MCP OAuth callback, and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	h := &agentHandler{
		registry:     cfg.Registry,
		tokenKeyFunc: cfg.TokenKeyFunc,
		logger:       cfg.Logger.Named("agent_router"),
	}

	r.Route("/agents/{agentType}/{instanceName}", func(r chi.Router) {
		r.HandleFunc("/*", h.serve)
		r.HandleFunc("/", h.serve)
		r.HandleFunc("", h.serve)
	})

	if cfg.OAuthCallback != nil {
		r.Get("/callback/{serverId}", func(w http.ResponseWriter, r *http.Request) {
			cfg.OAuthCallback(w, r, chi.URLParam(r, "serverId"))
		})
	}

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	return r
}

// agentHandler implements routeAgentRequest (§4.1): resolve the instance,
// ensure it is started, then hand the request to either the WebSocket
// upgrade path or the instance's OnRequest hook.
type agentHandler struct {
	registry     *agent.Registry
	tokenKeyFunc wsconn.KeyFunc
	logger       *zap.Logger
}

func (h *agentHandler) serve(w http.ResponseWriter, r *http.Request) {
	agentType := chi.URLParam(r, "agentType")
	instanceName := chi.URLParam(r, "instanceName")

	inst, err := h.registry.GetAgentByName(agent.Slug(agentType), instanceName)
	if err != nil {
		ErrNotFound(w)
		return
	}

	if err := h.registry.Dispatch(r.Context(), inst); err != nil {
		h.logger.Warn("agent_router: starting instance failed", zap.Error(err))
		ErrInternal(w)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		conn, err := wsconn.Upgrade(w, r, inst, h.tokenKeyFunc, h.logger)
		if err != nil {
			h.logger.Warn("agent_router: ws upgrade failed", zap.Error(err))
			return
		}
		conn.Run(r)
		return
	}

	if ok := inst.HandleRequest(w, r); !ok {
		ErrNotFound(w)
	}
}
