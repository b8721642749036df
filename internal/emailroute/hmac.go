package emailroute

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arkeep-io/agenthost/internal/agenterr"
)

const (
	defaultMaxAge  = 30 * 24 * time.Hour
	maxClockSkew   = 5 * time.Minute
	headerName     = "X-Agent-Name"
	headerID       = "X-Agent-ID"
	headerSig      = "X-Agent-Sig"
	headerSigTs    = "X-Agent-Sig-Ts"
)

// FailureReason classifies why SecureReplyResolver rejected a message, so
// callers can report a precise reason back to monitoring rather than a
// single opaque "unauthorized."
type FailureReason string

const (
	FailureMissingHeaders      FailureReason = "missing_headers"
	FailureExpired             FailureReason = "expired"
	FailureInvalid             FailureReason = "invalid"
	FailureMalformedTimestamp  FailureReason = "malformed_timestamp"
)

// VerifyError wraps a FailureReason so callers can branch with errors.As
// while agenterr.KindOf still reports Unauthorized at the boundary.
type VerifyError struct {
	Reason FailureReason
	Err    *agenterr.Error
}

func (e *VerifyError) Error() string { return e.Err.Error() }

func (e *VerifyError) Unwrap() error { return e.Err }

// SecureReplyResolver implements §4.9's HMAC-verified reply-routing scheme:
// the four X-Agent-* headers must be present, the timestamp must be within
// [-MaxAge, +5min] of now, and the signature must match under constant-time
// comparison.
type SecureReplyResolver struct {
	Secret string
	MaxAge time.Duration // zero means defaultMaxAge (30 days)

	// OnFailure, if set, is invoked with the reason every time Resolve
	// rejects a message — the §4.9 "exposes failure reasons ... via
	// callback" requirement.
	OnFailure func(reason FailureReason)
}

func (r SecureReplyResolver) Resolve(e Email) (string, string, error) {
	agentName := e.Header(headerName)
	agentID := e.Header(headerID)
	sig := e.Header(headerSig)
	ts := e.Header(headerSigTs)

	if agentName == "" || agentID == "" || sig == "" || ts == "" {
		return r.reject(FailureMissingHeaders, "missing one or more X-Agent-* headers")
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return r.reject(FailureMalformedTimestamp, fmt.Sprintf("malformed %s: %q", headerSigTs, ts))
	}

	maxAge := r.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	signedAt := time.Unix(tsUnix, 0)
	age := time.Since(signedAt)
	if age > maxAge {
		return r.reject(FailureExpired, "signature older than max age")
	}
	if age < -maxClockSkew {
		return r.reject(FailureExpired, "signature timestamp too far in the future")
	}

	expected := sign(r.Secret, agentName, agentID, ts)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return r.reject(FailureInvalid, "signature mismatch")
	}

	return agentName, agentID, nil
}

func (r SecureReplyResolver) reject(reason FailureReason, msg string) (string, string, error) {
	if r.OnFailure != nil {
		r.OnFailure(reason)
	}
	return "", "", &VerifyError{
		Reason: reason,
		Err:    agenterr.New(agenterr.Unauthorized, "emailroute: "+msg),
	}
}

// SignAgentHeaders produces the four X-Agent-* headers for an outbound
// message so a later reply can be routed back via SecureReplyResolver.
// Both agentName and agentID must be non-empty and contain no colon (the
// payload delimiter).
func SignAgentHeaders(secret, agentName, agentID string) (map[string]string, error) {
	if agentName == "" || agentID == "" {
		return nil, agenterr.New(agenterr.InvalidArgument, "emailroute: agentName and agentID must be non-empty")
	}
	if strings.Contains(agentName, ":") || strings.Contains(agentID, ":") {
		return nil, agenterr.New(agenterr.InvalidArgument, "emailroute: agentName and agentID must not contain ':'")
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		headerName:  agentName,
		headerID:    agentID,
		headerSigTs: ts,
		headerSig:   sign(secret, agentName, agentID, ts),
	}, nil
}

func sign(secret, agentName, agentID, ts string) string {
	payload := agentName + ":" + agentID + ":" + ts
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
