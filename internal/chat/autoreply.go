package chat

import "strings"

// IsAutoReply implements §4.5's auto-reply detection for email-driven
// chats: flags messages carrying Auto-Submitted: auto-{replied,generated},
// any X-Auto-Response-Suppress, or Precedence: bulk|junk|list headers.
// Auto-Submitted: no and Precedence: normal are explicitly NOT flagged.
func IsAutoReply(headers map[string]string) bool {
	get := func(name string) string {
		for k, v := range headers {
			if strings.EqualFold(k, name) {
				return v
			}
		}
		return ""
	}

	if as := strings.ToLower(strings.TrimSpace(get("Auto-Submitted"))); as != "" {
		if as == "auto-replied" || as == "auto-generated" {
			return true
		}
		if as == "no" {
			// explicitly not flagged, fall through to other headers
		}
	}

	if get("X-Auto-Response-Suppress") != "" {
		return true
	}

	switch strings.ToLower(strings.TrimSpace(get("Precedence"))) {
	case "bulk", "junk", "list":
		return true
	case "normal":
		return false
	}

	return false
}
