package mcpclient

import "sync"

// CallbackIndex is the process-wide serverID → Manager lookup the host's
// single `/callback/{serverId}` route needs (internal/httpapi.RouterConfig
// has exactly one OAuthCallbackFunc, but every agent Instance owns its own
// Manager). Share one CallbackIndex across every Manager constructed by the
// host via Options.Index; a Manager with no Index configured simply never
// registers into one, which is fine for agent types that never expose an
// HTTP-reachable OAuth callback.
type CallbackIndex struct {
	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewCallbackIndex creates an empty index.
func NewCallbackIndex() *CallbackIndex {
	return &CallbackIndex{managers: make(map[string]*Manager)}
}

func (idx *CallbackIndex) register(serverID string, m *Manager) {
	if idx == nil {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.managers[serverID] = m
}

func (idx *CallbackIndex) unregister(serverID string) {
	if idx == nil {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.managers, serverID)
}

// Lookup resolves serverID to the Manager that owns it, for use directly as
// (or inside) an httpapi.OAuthCallbackFunc.
func (idx *CallbackIndex) Lookup(serverID string) (*Manager, bool) {
	if idx == nil {
		return nil, false
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	m, ok := idx.managers[serverID]
	return m, ok
}
