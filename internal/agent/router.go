package agent

import (
	"regexp"
	"strings"
)

// slugPattern matches runs of characters that are not lowercase
// alphanumerics, collapsed to a single "-" by Slug.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug normalizes an agent-type name the way §6's routing table requires:
// lowercased, with runs of non-alphanumerics collapsed to "-", and leading/
// trailing "-" trimmed.
func Slug(agentType string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(agentType), "-")
	return strings.Trim(s, "-")
}

// ParsedPath is the result of matching `/agents/<agent-type>/<instance-name
// >[/suffix]` against an inbound request path.
type ParsedPath struct {
	AgentType    string
	InstanceName string
	Suffix       string // without leading slash; "" if no suffix segment
}

// ParsePath splits a request path into its agent-type, instance-name, and
// optional suffix components. ok is false for any path that does not start
// with "/agents/" or that is missing either of the first two segments.
func ParsePath(path string) (p ParsedPath, ok bool) {
	const prefix = "/agents/"
	if !strings.HasPrefix(path, prefix) {
		return ParsedPath{}, false
	}

	rest := strings.TrimPrefix(path, prefix)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return ParsedPath{}, false
	}

	segments := strings.SplitN(rest, "/", 3)
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return ParsedPath{}, false
	}

	p = ParsedPath{
		AgentType:    Slug(segments[0]),
		InstanceName: segments[1],
	}
	if len(segments) == 3 {
		p.Suffix = segments[2]
	}
	return p, true
}
