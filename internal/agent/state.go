package agent

import (
	"encoding/json"
	"time"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// State returns the current in-memory state document.
func (inst *Instance) State() json.RawMessage {
	inst.stateMu.RLock()
	defer inst.stateMu.RUnlock()
	return inst.state
}

// SetState is the server-authoritative write path (§4.2 step 1-4): it
// replaces S atomically, persists it, invokes OnStateUpdate, then
// broadcasts to every connection except the optional origin. It is never
// gated by OnBeforeStateUpdate — that hook only applies to client-proposed
// updates.
func (inst *Instance) SetState(next json.RawMessage, origin *wsconn.Connection) error {
	return inst.applyState(next, SourceServer, origin)
}

// ApplyClientUpdate handles an inbound `update{state}` frame (§4.2, §9's
// fixed Open Question): rejected with a conflict error unless
// OnBeforeStateUpdate is registered; otherwise the hook may rewrite or
// reject the proposal before it is applied.
func (inst *Instance) ApplyClientUpdate(proposed json.RawMessage, origin *wsconn.Connection) error {
	if inst.hooks.OnBeforeStateUpdate == nil {
		return agenterr.New(agenterr.Conflict,
			"agent: update rejected: no OnBeforeStateUpdate hook registered")
	}

	next, ok := inst.hooks.OnBeforeStateUpdate(proposed)
	if !ok {
		return agenterr.New(agenterr.Conflict, "agent: update rejected by OnBeforeStateUpdate")
	}

	return inst.applyState(next, SourceClientRemote, origin)
}

func (inst *Instance) applyState(next json.RawMessage, source Source, origin *wsconn.Connection) error {
	inst.stateMu.Lock()
	inst.state = next
	inst.stateMu.Unlock()

	if err := inst.persistState(next); err != nil {
		return agenterr.Wrap(agenterr.Internal, "agent: persisting state", err)
	}

	if inst.hooks.OnStateUpdate != nil {
		inst.hooks.OnStateUpdate(next, source)
	}

	return inst.Conn.Broadcast(wsconn.StateFrame{
		Type:  wsconn.FrameState,
		State: next,
	}, origin)
}

func (inst *Instance) persistState(next json.RawMessage) error {
	if inst.DB == nil {
		return nil
	}
	row := instancedb.AgentState{
		ID:        1,
		JSON:      string(next),
		UpdatedAt: time.Now(),
	}
	return inst.DB.Save(&row).Error
}
