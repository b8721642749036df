package rpc

import (
	"encoding/json"

	"github.com/arkeep-io/agenthost/internal/agent"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// Attach wires t as the handler for the reserved `rpc` frame type on inst,
// so inbound `rpc{...}` frames are dispatched to this table instead of
// falling through to user code. Call once per instance, typically from the
// agent type's OnStart hook or factory.
func Attach(inst *agent.Instance, t *Table) {
	inst.RegisterReservedHandler(wsconn.FrameRPC, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		t.Handle(c.Context(), inst, c, c.Props, raw)
		return true
	})
}
