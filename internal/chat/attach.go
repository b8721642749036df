package chat

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/arkeep-io/agenthost/internal/agent"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// chatRequestFrame is the client→server wire shape for `chat-request`
// (§6): `{id, init: {method, body}}` where body carries messages plus
// arbitrary extra ("custom body") fields.
type chatRequestFrame struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Init struct {
		Method string          `json:"method"`
		Body   json.RawMessage `json:"body"`
	} `json:"init"`
}

type chatBody struct {
	Messages []Message `json:"messages"`
}

type chatCancelFrame struct {
	ID string `json:"id"`
}

type chatMessagesFrame struct {
	Messages []Message `json:"messages"`
}

type streamResumingFrame struct {
	Type      string `json:"type"`
	StreamID  string `json:"streamId"`
	RequestID string `json:"requestId"`
}

type streamAckFrame struct {
	StreamID string `json:"streamId"`
	LastSeq  int64  `json:"lastSeq"`
}

// Attach wires s as the handler for every chat-related reserved frame type
// on inst, and registers the stream-resume-on-reconnect hook (§4.5's "the
// server detects the active stream on (re)open and sends
// stream-resuming").
func Attach(inst *agent.Instance, s *Session) {
	inst.RegisterReservedHandler(wsconn.FrameChatRequest, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		handleChatRequest(inst, s, c, raw)
		return true
	})
	inst.RegisterReservedHandler(wsconn.FrameChatCancel, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		var f chatCancelFrame
		if json.Unmarshal(raw, &f) == nil {
			inst.CancelAbort(f.ID)
		}
		return true
	})
	inst.RegisterReservedHandler(wsconn.FrameChatClear, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		if err := s.Log.Clear(); err != nil {
			inst.Logger().Warn("chat: clearing log failed", zap.Error(err))
		}
		if err := s.Stream.ClearAll(); err != nil {
			inst.Logger().Warn("chat: clearing streams failed", zap.Error(err))
		}
		s.customBody = nil
		_ = inst.Conn.Broadcast(map[string]string{"type": "chat-clear"}, c)
		return true
	})
	inst.RegisterReservedHandler(wsconn.FrameChatMessages, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		var f chatMessagesFrame
		if json.Unmarshal(raw, &f) != nil {
			return true
		}
		if err := s.Log.PersistMessages(f.Messages); err != nil {
			inst.Logger().Warn("chat: bulk persist failed", zap.Error(err))
		}
		return true
	})
	inst.RegisterReservedHandler(wsconn.FrameToolResult, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		handleToolResult(inst, s, c, raw)
		return true
	})
	inst.RegisterReservedHandler(wsconn.FrameStreamAck, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		var f streamAckFrame
		if json.Unmarshal(raw, &f) != nil {
			return true
		}
		if err := s.Stream.Resume(c, f.StreamID, f.LastSeq); err != nil {
			inst.Logger().Warn("chat: stream resume failed", zap.Error(err))
		}
		return true
	})
	inst.RegisterReservedHandler(wsconn.FrameToolApproval, func(inst *agent.Instance, c *wsconn.Connection, raw json.RawMessage) bool {
		var f ApprovalFrame
		if json.Unmarshal(raw, &f) == nil {
			s.resolveApproval(f.ToolCallID, f.Approve)
		}
		return true
	})

	inst.RegisterOnConnect(func(inst *agent.Instance, c *wsconn.Connection, r *http.Request) {
		if streamID, requestID, ok := s.Stream.Active(); ok {
			_ = wsconn.Send(c, streamResumingFrame{Type: "stream-resuming", StreamID: streamID, RequestID: requestID})
		}
	})
}

func handleChatRequest(inst *agent.Instance, s *Session, c *wsconn.Connection, raw json.RawMessage) {
	var f chatRequestFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return
	}

	var body chatBody
	_ = json.Unmarshal(f.Init.Body, &body)

	if err := s.Log.PersistMessages(body.Messages); err != nil {
		inst.Logger().Warn("chat: persisting request messages failed", zap.Error(err))
	}
	s.customBody = stripMessagesField(f.Init.Body)

	if s.opts.OnChatMessage == nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Context())
	inst.RegisterAbort(f.ID, cancel)

	tools := make([]Tool, 0, len(s.Tools))
	for _, t := range s.Tools {
		tools = append(tools, t)
	}

	go func() {
		defer inst.CancelAbort(f.ID)
		s.waitForMcp(ctx)

		all, _ := s.Log.LoadAll()
		req := ChatRequest{Method: f.Init.Method, Messages: all, CustomBody: s.customBody, Tools: tools, Conn: c}

		if err := s.Stream.Start(f.ID, f.ID, c, f.Init.Body, json.RawMessage(`[]`)); err != nil {
			_ = wsconn.Send(c, ChatResponseFrame{Type: "chat-response", ID: f.ID, Done: true, Error: err.Error()})
			return
		}

		result, err := s.opts.OnChatMessage(ctx, req, func(frame interface{}) error {
			return s.Stream.Emit(frame)
		})

		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		if finishErr := s.Stream.Finish(inst.Conn, errMsg); finishErr != nil {
			inst.Logger().Warn("chat: finishing stream failed", zap.Error(finishErr))
		}
		_ = result
	}()
}

func handleToolResult(inst *agent.Instance, s *Session, c *wsconn.Connection, raw json.RawMessage) {
	var f ToolResultFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return
	}

	msg := Message{
		ID:   f.ToolCallID,
		Role: RoleAssistant,
		Parts: []Part{
			NewToolCall(f.ToolName, f.ToolCallID, ToolOutputAvailable, nil, f.Output),
		},
	}
	if err := s.Log.PersistMessages([]Message{msg}); err != nil {
		inst.Logger().Warn("chat: persisting tool result failed", zap.Error(err))
	}

	if !f.AutoContinue || s.opts.OnChatMessage == nil {
		return
	}

	// autoContinue resumes generation using the stored custom body plus
	// updated messages, and the clientTools from this ACK — the agent may
	// have been rehydrated and lost the original tool set (§4.5).
	requestID := f.ToolCallID
	ctx, cancel := context.WithCancel(c.Context())
	inst.RegisterAbort(requestID, cancel)

	go func() {
		defer inst.CancelAbort(requestID)
		all, _ := s.Log.LoadAll()
		req := ChatRequest{Messages: all, CustomBody: s.customBody, Conn: c}

		if err := s.Stream.Start(requestID, requestID, c, s.customBody, f.ClientTools); err != nil {
			return
		}
		result, err := s.opts.OnChatMessage(ctx, req, func(frame interface{}) error {
			return s.Stream.Emit(frame)
		})
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		_ = s.Stream.Finish(inst.Conn, errMsg)
		_ = result
	}()
}

func stripMessagesField(body json.RawMessage) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return body
	}
	delete(obj, "messages")
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}
