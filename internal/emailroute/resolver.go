package emailroute

import (
	"fmt"
	"strings"

	"github.com/arkeep-io/agenthost/internal/agenterr"
)

const (
	maxLocalPartLen = 64
	maxDomainLen    = 253
)

// Resolver maps an inbound Email to the (agentName, agentId) pair that
// should handle it. AddressResolver returns agenterr.InvalidArgument for a
// malformed or oversized address; SecureReplyResolver returns an
// agenterr.Unauthorized *VerifyError for every rejection, including missing
// headers and a malformed timestamp; CatchAllResolver never fails.
type Resolver interface {
	Resolve(e Email) (agentName, agentId string, err error)
}

// AddressResolver implements the "local[+sub]@domain" scheme from §4.9:
// with a `+sub` tag the sub becomes agentId and the local part becomes
// agentName; without one, the local part is the agentId under
// DefaultNamespace.
type AddressResolver struct {
	DefaultNamespace string
}

func (r AddressResolver) Resolve(e Email) (string, string, error) {
	addr := firstRecipient(e)
	local, domain, err := splitAddress(addr)
	if err != nil {
		return "", "", err
	}
	if len(local) > maxLocalPartLen {
		return "", "", agenterr.New(agenterr.InvalidArgument, fmt.Sprintf("emailroute: local part exceeds %d characters", maxLocalPartLen))
	}
	if len(domain) > maxDomainLen {
		return "", "", agenterr.New(agenterr.InvalidArgument, fmt.Sprintf("emailroute: domain exceeds %d characters", maxDomainLen))
	}

	if i := strings.IndexByte(local, '+'); i >= 0 {
		return local[:i], local[i+1:], nil
	}
	return r.DefaultNamespace, local, nil
}

// CatchAllResolver always routes to a fixed (AgentName, AgentID) pair,
// regardless of the recipient address.
type CatchAllResolver struct {
	AgentName string
	AgentID   string
}

func (r CatchAllResolver) Resolve(Email) (string, string, error) {
	return r.AgentName, r.AgentID, nil
}

// NewLegacyResolver is permanently removed per §4.9: any construction call
// throws with migration guidance rather than silently trusting
// attacker-controlled headers the way the old header-trust resolver did.
func NewLegacyResolver() (Resolver, error) {
	return nil, agenterr.New(agenterr.InvalidArgument,
		"emailroute: the legacy header-trust resolver has been removed; use AddressResolver, CatchAllResolver, or SecureReplyResolver instead")
}

func firstRecipient(e Email) string {
	to := e.To()
	if len(to) == 0 {
		return ""
	}
	return to[0]
}

func splitAddress(addr string) (local, domain string, err error) {
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return "", "", agenterr.New(agenterr.InvalidArgument, fmt.Sprintf("emailroute: malformed address %q", addr))
	}
	return addr[:at], addr[at+1:], nil
}
