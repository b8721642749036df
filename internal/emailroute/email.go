// Package emailroute resolves an inbound email to the (agentName, agentId)
// pair that should receive it, and signs/verifies the HMAC headers used by
// the secure-reply flow, per §4.9.
package emailroute

// Email is the narrow view a Resolver needs of an inbound message. Parsing
// the actual MIME transport is out of scope (§1's "external collaborators
// only referenced by interface") — callers adapt whatever mail library they
// use to this interface.
type Email interface {
	From() string
	To() []string
	Header(key string) string
}
