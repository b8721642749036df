package agent

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// ReservedHandler is implemented by subsystems layered on top of the core
// instance (rpc.Table, chat.Log, ...) that want to own one or more reserved
// frame types. Registered via Instance.RegisterReservedHandler.
type ReservedHandler func(inst *Instance, c *wsconn.Connection, raw json.RawMessage) (handled bool)

// RegisterReservedHandler attaches a handler for one reserved frame type.
// Called during instance construction by the packages that implement the
// RPC dispatcher and chat subsystem, keeping agent itself ignorant of their
// wire formats beyond the type discriminator.
func (inst *Instance) RegisterReservedHandler(t wsconn.FrameType, h ReservedHandler) {
	if inst.reservedHandlers == nil {
		inst.reservedHandlers = make(map[wsconn.FrameType]ReservedHandler)
	}
	inst.reservedHandlers[t] = h
}

// OnConnect implements wsconn.Lifecycle. It registers the connection,
// sends the connected identity frame, then invokes the user hook.
func (inst *Instance) OnConnect(c *wsconn.Connection, r *http.Request) {
	inst.Conn.Add(c)
	inst.touch()

	_ = wsconn.Send(c, wsconn.Connected{
		Type:  wsconn.FrameConnected,
		Name:  inst.Name,
		Agent: inst.State(),
	})

	if inst.hooks.OnConnect != nil {
		inst.hooks.OnConnect(inst, c, r)
	}
	for _, hook := range inst.connectHooks {
		hook(inst, c, r)
	}
}

// Dispatch implements wsconn.Lifecycle. Reserved frame types are routed to
// their registered subsystem handler (or dropped if none is registered
// yet); everything else is handed to the user's OnMessage hook, per §4.3's
// "the framework suppresses user-frame dispatch for protocol-reserved
// message types."
func (inst *Instance) Dispatch(c *wsconn.Connection, frame wsconn.Frame) {
	inst.touch()

	if wsconn.IsReserved(frame.Type) {
		// A client-sent `state{state}` frame is `update`'s peer (§6): both
		// are a client-proposed state, so both route through
		// ApplyClientUpdate rather than being treated as the
		// server-authoritative broadcast shape.
		if frame.Type == wsconn.FrameUpdate || frame.Type == wsconn.FrameState {
			var sf wsconn.StateFrame
			if err := json.Unmarshal(frame.Raw, &sf); err != nil {
				inst.hooks.onErrorOrLog(inst, c, err, inst.logger)
				return
			}
			if err := inst.ApplyClientUpdate(sf.State, c); err != nil {
				inst.logger.Warn("agent: client update rejected", zap.Error(err))
			}
			return
		}

		if h, ok := inst.reservedHandlers[frame.Type]; ok {
			if h(inst, c, frame.Raw) {
				return
			}
		}
		// No subsystem registered for this reserved type yet — drop it
		// rather than leaking it to user code, matching the suppression
		// rule even when a subsystem (e.g. chat) is not wired in.
		return
	}

	if inst.hooks.OnMessage != nil {
		inst.hooks.OnMessage(inst, c, string(frame.Type), frame.Raw)
	}
}

// OnClose implements wsconn.Lifecycle.
func (inst *Instance) OnClose(c *wsconn.Connection, code int, reason string, wasClean bool) {
	inst.Conn.Remove(c)
	if inst.hooks.OnClose != nil {
		inst.hooks.OnClose(inst, c, code, reason, wasClean)
	}
}

// OnError implements wsconn.Lifecycle.
func (inst *Instance) OnError(c *wsconn.Connection, err error) {
	if inst.hooks.OnError != nil {
		inst.hooks.OnError(inst, c, err)
	}
}

// onErrorOrLog is a tiny convenience so Dispatch does not need a nil check
// inline at every call site.
func (h Hooks) onErrorOrLog(inst *Instance, c *wsconn.Connection, err error, log *zap.Logger) {
	if h.OnError != nil {
		h.OnError(inst, c, err)
		return
	}
	log.Warn("agent: dropping malformed frame", zap.Error(err))
}
