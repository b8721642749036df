package emailroute

// DeliverFunc hands a resolved (agentName, agentID) pair and the original
// message to whatever owns instance lookup — kept as a plain function
// rather than an interface importing internal/agent, so this package never
// depends on the instance registry (mirrors internal/rpc.CancelRegistry's
// narrow-interface decoupling).
type DeliverFunc func(agentName, agentID string, e Email) error

// RouteAgentEmail resolves e via resolver and, on success, hands it to
// deliver. Per §4.9, a resolution failure (malformed address, missing or
// invalid secure-reply headers) is returned to the caller without invoking
// deliver.
func RouteAgentEmail(resolver Resolver, e Email, deliver DeliverFunc) error {
	agentName, agentID, err := resolver.Resolve(e)
	if err != nil {
		return err
	}
	return deliver(agentName, agentID, e)
}
