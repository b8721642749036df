package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// Sender streams chunks for an in-flight streaming call.
type Sender interface {
	Send(chunk interface{})
}

type senderFunc func(chunk interface{})

func (f senderFunc) Send(chunk interface{}) { f(chunk) }

// CancelRegistry is the subset of *agent.Instance the dispatcher needs to
// register and clear per-request cancellation handles, kept narrow so Handle
// runs without a real *agent.Instance (Attach passes the instance; the
// dispatcher tests pass a no-op implementation).
type CancelRegistry interface {
	RegisterAbort(requestID string, cancel context.CancelFunc)
	CancelAbort(requestID string)
}

// Handle processes one inbound `rpc{...}` frame: looks up the method,
// decodes args, invokes it with a cancellable context derived from the
// connection's own context, and writes the response (or streamed chunks
// plus a final done frame) back to the originating connection.
//
// listMethods() is a built-in method name handled before the table lookup,
// synthesized from t's registered methods (§4.4).
func (t *Table) Handle(ctx context.Context, reg CancelRegistry, c *wsconn.Connection, props map[string]interface{}, raw json.RawMessage) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}

	if req.Method == "listMethods" {
		_ = wsconn.Send(c, successResponse(req.ID, t.ListMethods()))
		return
	}

	m, ok := t.Lookup(req.Method)
	if !ok {
		_ = wsconn.Send(c, failureResponse(req.ID,
			agenterr.New(agenterr.NotFound, fmt.Sprintf("rpc: method %q is not declared callable", req.Method))))
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	reg.RegisterAbort(req.ID, cancel)
	defer reg.CancelAbort(req.ID)

	start := time.Now()

	if !m.Streaming {
		result, err := m.call(callCtx, props, req.Args, nil)
		t.recordCall(req.Method, err, start)
		if err != nil {
			_ = wsconn.Send(c, failureResponse(req.ID, err))
			return
		}
		_ = wsconn.Send(c, successResponse(req.ID, result))
		return
	}

	out := senderFunc(func(chunk interface{}) {
		_ = wsconn.Send(c, chunkResponse(req.ID, chunk))
	})
	result, err := m.call(callCtx, props, req.Args, out)
	t.recordCall(req.Method, err, start)
	if err != nil {
		_ = wsconn.Send(c, failureResponse(req.ID, err))
		return
	}
	_ = wsconn.Send(c, doneResponse(req.ID, result))
}

func (t *Table) recordCall(method string, err error, start time.Time) {
	if t.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.metrics.RPCCallsTotal.WithLabelValues(method, outcome).Inc()
	t.metrics.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
