package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/wsconn"
)

// OnChatMessageFunc is the external text-generation entry point (the AI
// SDK's library, out of scope here per spec.md §1) — the framework only
// owns the plumbing around it: persistence, streaming, and resume. emit is
// called once per generated frame; the returned result is not sent to the
// client, and a non-nil err is reported in the error field of the terminal
// chat-response done frame.
type OnChatMessageFunc func(ctx context.Context, req ChatRequest, emit func(frame interface{}) error) (result interface{}, err error)

// ChatRequest is handed to OnChatMessageFunc for one `chat-request` frame.
type ChatRequest struct {
	Method     string
	Messages   []Message
	CustomBody json.RawMessage
	Tools      []Tool

	// Conn is the originating connection, needed by OnChatMessage
	// implementations that call Session.RunTool to execute a server-side
	// tool (RunTool sends the approval-request frame over it and derives
	// the wait's cancellation from it).
	Conn *wsconn.Connection
}

// WaitForMcp mirrors §6's `waitForMcpConnections: boolean | {timeout: ms}`
// option. Both fields zero means "do not wait."
type WaitForMcp struct {
	Wait    bool
	Timeout time.Duration
}

// WaitFunc is supplied by internal/mcpclient so chat does not need to
// import it directly; it blocks until every declared outbound MCP server
// reaches ready or the timeout elapses, per §4.5's "MCP connection wait."
type WaitFunc func(ctx context.Context, timeout time.Duration)

// Options configures one agent type's chat subsystem.
type Options struct {
	OnChatMessage         OnChatMessageFunc
	WaitForMcpConnections WaitForMcp
	MCPWait               func(ctx context.Context, timeout time.Duration)
	MaxPersistedMessages  *int
}

// Session ties together the message log, the active stream, and the tool
// table for one agent instance.
type Session struct {
	Log    *Log
	Stream *Stream
	Tools  map[string]Tool

	opts Options

	customBody json.RawMessage

	approvalsMu sync.Mutex
	approvals   map[string]chan bool
}

// NewSession constructs a chat session backed by db, applying opts.
func NewSession(db *gorm.DB, opts Options) *Session {
	log := NewLog(db)
	log.MaxPersistedMessages = opts.MaxPersistedMessages
	return &Session{
		Log:       log,
		Stream:    NewStream(db),
		Tools:     make(map[string]Tool),
		opts:      opts,
		approvals: make(map[string]chan bool),
	}
}

// RegisterTool adds a tool to the table available to OnChatMessage.
func (s *Session) RegisterTool(t Tool) { s.Tools[t.Name] = t }

// waitForMcp blocks, per the `waitForMcpConnections` option, before
// invoking OnChatMessage — either way, onChatMessage eventually runs
// (§4.5: "either way, onChatMessage eventually runs").
func (s *Session) waitForMcp(ctx context.Context) {
	if s.opts.MCPWait == nil || !s.opts.WaitForMcpConnections.Wait {
		return
	}
	s.opts.MCPWait(ctx, s.opts.WaitForMcpConnections.Timeout)
}

// RunTool executes t for toolCallID, gating on t.NeedsApproval per §4.5: "a
// tool may declare needsApproval(args); when true, the framework must wait
// for an explicit approve | reject from the client before executing." A
// tool with no NeedsApproval (or one that returns false for args) runs
// immediately. OnChatMessage implementations call RunTool instead of
// t.Execute directly so server-side tool calls go through this gate.
func (s *Session) RunTool(ctx context.Context, c *wsconn.Connection, t Tool, toolCallID string, args json.RawMessage) (json.RawMessage, error) {
	if t.Execute == nil {
		return nil, agenterr.New(agenterr.InvalidArgument, "chat: RunTool called on a client tool with no Execute")
	}

	if t.NeedsApproval != nil && t.NeedsApproval(args) {
		approved, err := s.waitForApproval(ctx, c, toolCallID, t.Name, args)
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, agenterr.New(agenterr.Conflict, "chat: tool call rejected by client: "+toolCallID)
		}
	}

	return t.Execute(ctx, args)
}

// waitForApproval sends a tool-approval-request frame and blocks until the
// matching tool-approval frame arrives (resolveApproval) or ctx is
// cancelled — which happens when the originating connection disconnects,
// since RunTool's ctx is ultimately derived from c.Context().
func (s *Session) waitForApproval(ctx context.Context, c *wsconn.Connection, toolCallID, toolName string, args json.RawMessage) (bool, error) {
	ch := make(chan bool, 1)

	s.approvalsMu.Lock()
	s.approvals[toolCallID] = ch
	s.approvalsMu.Unlock()
	defer func() {
		s.approvalsMu.Lock()
		delete(s.approvals, toolCallID)
		s.approvalsMu.Unlock()
	}()

	if err := wsconn.Send(c, ApprovalRequestFrame{
		Type:       string(wsconn.FrameToolApprovalReq),
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Args:       args,
	}); err != nil {
		return false, agenterr.Wrap(agenterr.Internal, "chat: sending tool approval request failed", err)
	}

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		return false, agenterr.Wrap(agenterr.Canceled, "chat: tool approval wait cancelled: "+toolCallID, ctx.Err())
	}
}

// resolveApproval delivers a client's approve/reject decision to the
// goroutine blocked in waitForApproval for toolCallID, if any is still
// pending. A decision for an unknown or already-resolved toolCallID (a
// stale or duplicate frame) is dropped.
func (s *Session) resolveApproval(toolCallID string, approve bool) {
	s.approvalsMu.Lock()
	ch, ok := s.approvals[toolCallID]
	s.approvalsMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- approve:
	default:
	}
}
