package agent

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/instancedb"
)

// key identifies one instance slot in the registry.
type key struct {
	namespace string
	name      string
}

// Factory builds the Hooks for a freshly identified instance. Different
// agent "types" register different factories under different namespaces.
type Factory func(namespace, name string) Hooks

// Registry is the host-owned table mapping (namespace, name) to a live
// *Instance. It is the only piece of global mutable state the runtime
// keeps outside of what each Instance privately owns.
type Registry struct {
	mu        sync.Mutex
	instances map[key]*Instance

	factories map[string]Factory

	dataDir     string
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewRegistry creates an empty registry. idleTimeout of zero disables
// hibernation.
func NewRegistry(dataDir string, idleTimeout time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		instances:   make(map[key]*Instance),
		factories:   make(map[string]Factory),
		dataDir:     dataDir,
		idleTimeout: idleTimeout,
		logger:      logger.Named("registry"),
	}
}

// RegisterFactory associates an agent-type namespace with the Hooks
// constructor used when an instance under it is first referenced.
func (r *Registry) RegisterFactory(namespace string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[namespace] = f
}

// GetAgentByName resolves (namespace, name) to an Instance, creating it if
// this is the first reference. Idempotent; does not eagerly start the
// instance (no DB open, no OnStart) — that happens on first real dispatch
// via Dispatch.
func (r *Registry) GetAgentByName(namespace, name string) (*Instance, error) {
	k := key{namespace, name}

	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[k]; ok {
		return inst, nil
	}

	factory, ok := r.factories[namespace]
	if !ok {
		return nil, agenterr.New(agenterr.NotFound, fmt.Sprintf("agent: unknown namespace %q", namespace))
	}

	inst := newInstance(namespace, name, factory(namespace, name), r.logger)
	r.instances[k] = inst
	return inst, nil
}

// Dispatch ensures inst is started (lazily opening its database and running
// OnStart on first use or after hibernation) before the caller proceeds to
// hand it an event.
func (r *Registry) Dispatch(ctx context.Context, inst *Instance) error {
	return inst.Start(ctx, r.dataDir)
}

// SweepIdle hibernates every instance that has had no connections or
// in-flight work for longer than idleTimeout. Intended to run on a ticker
// from the host's main loop.
func (r *Registry) SweepIdle() {
	if r.idleTimeout <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, inst := range r.instances {
		if inst.DB == nil {
			continue
		}
		if inst.Idle() && inst.IdleSince() > r.idleTimeout {
			if err := inst.Hibernate(); err != nil {
				r.logger.Warn("registry: hibernate failed",
					zap.String("namespace", k.namespace), zap.String("name", k.name), zap.Error(err))
				continue
			}
			r.logger.Debug("registry: hibernated idle instance",
				zap.String("namespace", k.namespace), zap.String("name", k.name))
		}
	}
}

// Active returns the number of instances currently resident in memory
// (started or not), for the agenthost_instances_active gauge.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// Destroy removes an instance from the registry entirely, invoking its
// destroy hook, closing its database handle, and deleting its database file.
func (r *Registry) Destroy(ctx context.Context, namespace, name string) error {
	k := key{namespace, name}

	r.mu.Lock()
	inst, ok := r.instances[k]
	delete(r.instances, k)
	r.mu.Unlock()

	if !ok {
		return agenterr.New(agenterr.NotFound, "agent: instance not found")
	}

	if err := inst.Destroy(ctx); err != nil {
		return err
	}
	if err := inst.Hibernate(); err != nil {
		return err
	}
	path := instancedb.FilePath(r.dataDir, namespace, name)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agent: deleting database file %q: %w", path, err)
	}
	return nil
}
