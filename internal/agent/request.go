package agent

import "net/http"

// HandleRequest dispatches a non-WebSocket HTTP request to the instance's
// OnRequest hook, if one is registered. Returns false if there is no hook
// or the hook declined the request, so the caller can fall through to a
// 404 per §4.1's "return null to allow the caller to fall through."
func (inst *Instance) HandleRequest(w http.ResponseWriter, r *http.Request) bool {
	inst.touch()
	if inst.hooks.OnRequest == nil {
		return false
	}
	return inst.hooks.OnRequest(inst, w, r)
}
