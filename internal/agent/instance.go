// Package agent implements the agent instance: the long-lived, addressable
// actor that owns a state document, a private SQL database, a connection
// set, a scheduler, and the chat/MCP subsystems layered on top of it.
package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/instancedb"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// Source identifies who originated a state mutation, delivered to
// OnStateUpdate hooks per §4.2.
type Source string

const (
	SourceServer      Source = "server"
	SourceClientRemote Source = "client-remote"
)

// StateUpdateFunc observes every applied state mutation, regardless of
// origin.
type StateUpdateFunc func(next json.RawMessage, source Source)

// BeforeStateUpdateFunc validates and optionally rewrites a client-proposed
// state before it is applied. Returning ok == false rejects the proposal.
// Per the fixed Open Question (§9), a client `update` is rejected unless
// this hook is registered at all.
type BeforeStateUpdateFunc func(proposed json.RawMessage) (next json.RawMessage, ok bool)

// Hooks holds the user-code callbacks an agent type registers. All fields
// are optional except where noted.
type Hooks struct {
	OnStart             func(ctx context.Context, inst *Instance) error
	OnDestroy           func(ctx context.Context, inst *Instance) error
	OnConnect           func(inst *Instance, c *wsconn.Connection, r *http.Request)
	OnMessage           func(inst *Instance, c *wsconn.Connection, frameType string, raw json.RawMessage)
	OnClose             func(inst *Instance, c *wsconn.Connection, code int, reason string, wasClean bool)
	OnError             func(inst *Instance, c *wsconn.Connection, err error)
	OnStateUpdate       StateUpdateFunc
	OnBeforeStateUpdate BeforeStateUpdateFunc
	OnRequest           func(inst *Instance, w http.ResponseWriter, r *http.Request) bool
}

// Instance is one isolated stateful actor keyed by (namespace, name). It is
// a single-threaded cooperative executor: the Registry serializes dispatch
// to it (§5) so Instance's own fields never need their own lock except
// where documented.
type Instance struct {
	Namespace string
	Name      string

	DB   *gorm.DB
	Conn *wsconn.Set

	AgentDB *AgentDB

	hooks  Hooks
	logger *zap.Logger

	stateMu sync.RWMutex
	state   json.RawMessage

	abortMu sync.Mutex
	aborts  map[string]context.CancelFunc

	reservedHandlers map[wsconn.FrameType]ReservedHandler
	connectHooks     []func(*Instance, *wsconn.Connection, *http.Request)

	lastActive time.Time
}

// RegisterOnConnect adds an additional connect observer, invoked after the
// hooks.OnConnect user callback. Used by subsystems (chat's stream-resume
// handshake) that need to act on every new connection without owning the
// single user-level OnConnect hook.
func (inst *Instance) RegisterOnConnect(fn func(*Instance, *wsconn.Connection, *http.Request)) {
	inst.connectHooks = append(inst.connectHooks, fn)
}

// newInstance constructs an Instance in the "identity established, not yet
// started" phase — no DB handle, no connections. Start opens the database
// and runs OnStart.
func newInstance(namespace, name string, hooks Hooks, logger *zap.Logger) *Instance {
	return &Instance{
		Namespace: namespace,
		Name:      name,
		Conn:      wsconn.NewSet(),
		hooks:     hooks,
		logger:    logger.With(zap.String("namespace", namespace), zap.String("name", name)),
		state:     json.RawMessage(`null`),
		aborts:    make(map[string]context.CancelFunc),
	}
}

// Start opens the instance's embedded database, restores S from the
// agent_state row, and invokes OnStart. Idempotent — calling Start on an
// already-started instance is a no-op.
func (inst *Instance) Start(ctx context.Context, dataDir string) error {
	if inst.DB != nil {
		return nil
	}

	db, err := instancedb.Open(instancedb.Config{
		DataDir:   dataDir,
		Namespace: inst.Namespace,
		Name:      inst.Name,
		Logger:    inst.logger,
	})
	if err != nil {
		return err
	}
	inst.DB = db
	inst.AgentDB = newAgentDB(db)

	var row instancedb.AgentState
	if err := db.First(&row, 1).Error; err == nil {
		inst.stateMu.Lock()
		inst.state = json.RawMessage(row.JSON)
		inst.stateMu.Unlock()
	}

	inst.touch()

	if inst.hooks.OnStart != nil {
		if err := inst.hooks.OnStart(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// Hibernate closes the instance's database handle, releasing the OS file
// descriptor for an idle instance. In-memory, non-persistent fields (open
// connections are assumed already gone by the time this is called) are
// dropped; persisted state survives in SQL.
func (inst *Instance) Hibernate() error {
	if inst.DB == nil {
		return nil
	}
	err := instancedb.Close(inst.DB)
	inst.DB = nil
	inst.AgentDB = nil
	return err
}

// Destroy runs the OnDestroy hook. Registry.Destroy calls it, then removes
// the instance from the map, closes its database handle and deletes the
// database file.
func (inst *Instance) Destroy(ctx context.Context) error {
	if inst.hooks.OnDestroy != nil {
		if err := inst.hooks.OnDestroy(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

func (inst *Instance) touch() { inst.lastActive = time.Now() }

// IdleSince reports how long the instance has had no recorded activity.
func (inst *Instance) IdleSince() time.Duration { return time.Since(inst.lastActive) }

// Idle reports whether the instance has no live connections and no
// in-flight abort handles — the registry's hibernation candidate test.
func (inst *Instance) Idle() bool {
	inst.abortMu.Lock()
	pending := len(inst.aborts)
	inst.abortMu.Unlock()
	return inst.Conn.Len() == 0 && pending == 0
}

// RegisterAbort stores a cancellation handle for an in-flight request
// (chat or RPC), keyed by request id, satisfying §5's cancellation model.
func (inst *Instance) RegisterAbort(requestID string, cancel context.CancelFunc) {
	inst.abortMu.Lock()
	defer inst.abortMu.Unlock()
	inst.aborts[requestID] = cancel
}

// CancelAbort cancels and forgets one in-flight request's handle.
func (inst *Instance) CancelAbort(requestID string) {
	inst.abortMu.Lock()
	cancel, ok := inst.aborts[requestID]
	delete(inst.aborts, requestID)
	inst.abortMu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAllAborts cancels every in-flight request handle, used when a
// connection closes so its outstanding RPCs and chat streams stop.
func (inst *Instance) CancelAllAborts() {
	inst.abortMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(inst.aborts))
	for id, cancel := range inst.aborts {
		cancels = append(cancels, cancel)
		delete(inst.aborts, id)
	}
	inst.abortMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Logger returns the instance's scoped logger.
func (inst *Instance) Logger() *zap.Logger { return inst.logger }
