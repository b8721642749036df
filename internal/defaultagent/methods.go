package defaultagent

import (
	"context"
	"encoding/json"

	"github.com/arkeep-io/agenthost/internal/agenterr"
	"github.com/arkeep-io/agenthost/internal/emailroute"
	"github.com/arkeep-io/agenthost/internal/mcpclient"
	"github.com/arkeep-io/agenthost/internal/rpc"
)

// registerMethods declares the rpc-callable surface of the default agent
// type: MCP server management, tool invocation, the durable scheduler, and
// a signed-reply email send, each grounded in the subsystem it wraps
// rather than reimplementing any of their logic.
func registerMethods(r *runtime) {
	rpc.Register(r.table, "addMcpServer", r.addMcpServer, rpc.WithDescription("register a new outbound MCP server"))
	rpc.Register(r.table, "removeMcpServer", r.removeMcpServer, rpc.WithDescription("forget an outbound MCP server"))
	rpc.Register(r.table, "listMcpTools", r.listMcpTools, rpc.WithDescription("list tools discovered across all outbound MCP servers"))
	rpc.Register(r.table, "callMcpTool", r.callMcpTool, rpc.WithDescription("invoke a discovered MCP tool"))

	rpc.Register(r.table, "scheduleTask", r.scheduleTask, rpc.WithDescription("run a callback once after a delay"))
	rpc.Register(r.table, "scheduleRecurring", r.scheduleRecurring, rpc.WithDescription("run a callback on a fixed interval"))
	rpc.Register(r.table, "scheduleCron", r.scheduleCron, rpc.WithDescription("run a callback on a cron expression"))
	rpc.Register(r.table, "listSchedules", r.listSchedules, rpc.WithDescription("list this instance's durable schedules"))
	rpc.Register(r.table, "cancelTask", r.cancelTask, rpc.WithDescription("cancel a durable schedule"))

	rpc.Register(r.table, "sendSignedEmail", r.sendSignedEmail, rpc.WithDescription("send an email with verifiable reply-routing headers attached"))
}

// --- MCP client surface -----------------------------------------------

type addMcpServerArgs struct {
	Name         string   `json:"name"`
	ServerURL    string   `json:"serverUrl"`
	ClientID     string   `json:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	AuthURL      string   `json:"authUrl,omitempty"`
	TokenURL     string   `json:"tokenUrl,omitempty"`
}

type addMcpServerResult struct {
	ID      string `json:"id"`
	AuthURL string `json:"authUrl,omitempty"`
}

func (r *runtime) addMcpServer(ctx context.Context, props map[string]interface{}, args addMcpServerArgs) (addMcpServerResult, error) {
	res, err := r.mcp.AddServer(ctx, args.Name, args.ServerURL, mcpclient.AddOptions{
		ClientID:     args.ClientID,
		ClientSecret: args.ClientSecret,
		Scopes:       args.Scopes,
		AuthURL:      args.AuthURL,
		TokenURL:     args.TokenURL,
	})
	if err != nil {
		return addMcpServerResult{}, err
	}
	return addMcpServerResult{ID: res.ID, AuthURL: res.AuthURL}, nil
}

type removeMcpServerArgs struct {
	ID string `json:"id"`
}

type emptyResult struct{}

func (r *runtime) removeMcpServer(ctx context.Context, props map[string]interface{}, args removeMcpServerArgs) (emptyResult, error) {
	return emptyResult{}, r.mcp.RemoveServer(ctx, args.ID)
}

type listMcpToolsArgs struct{}

type mcpToolInfo struct {
	ServerID    string          `json:"serverId"`
	ServerName  string          `json:"serverName"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

func (r *runtime) listMcpTools(ctx context.Context, props map[string]interface{}, args listMcpToolsArgs) ([]mcpToolInfo, error) {
	infos := r.mcp.ListTools()
	out := make([]mcpToolInfo, len(infos))
	for i, t := range infos {
		out[i] = mcpToolInfo{
			ServerID:    t.ServerID,
			ServerName:  t.ServerName,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return out, nil
}

type callMcpToolArgs struct {
	ServerID  string                 `json:"serverId"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type callMcpToolResult struct {
	Content json.RawMessage `json:"content"`
}

func (r *runtime) callMcpTool(ctx context.Context, props map[string]interface{}, args callMcpToolArgs) (callMcpToolResult, error) {
	out, err := r.mcp.CallTool(ctx, args.ServerID, args.Name, args.Arguments)
	if err != nil {
		return callMcpToolResult{}, err
	}
	return callMcpToolResult{Content: out}, nil
}

// --- scheduler surface ---------------------------------------------------

type scheduleTaskArgs struct {
	Callback     string          `json:"callback"`
	DelaySeconds int64           `json:"delaySeconds"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

type scheduleResult struct {
	ID string `json:"id"`
}

func (r *runtime) scheduleTask(ctx context.Context, props map[string]interface{}, args scheduleTaskArgs) (scheduleResult, error) {
	id, err := r.sched.ScheduleTask(ctx, args.Callback, args.DelaySeconds, args.Payload)
	return scheduleResult{ID: id}, err
}

type scheduleRecurringArgs struct {
	Callback        string          `json:"callback"`
	IntervalSeconds int64           `json:"intervalSeconds"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (r *runtime) scheduleRecurring(ctx context.Context, props map[string]interface{}, args scheduleRecurringArgs) (scheduleResult, error) {
	id, err := r.sched.ScheduleRecurring(ctx, args.Callback, args.IntervalSeconds, args.Payload)
	return scheduleResult{ID: id}, err
}

type scheduleCronArgs struct {
	Callback string          `json:"callback"`
	Cron     string          `json:"cron"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (r *runtime) scheduleCron(ctx context.Context, props map[string]interface{}, args scheduleCronArgs) (scheduleResult, error) {
	id, err := r.sched.ScheduleCron(ctx, args.Callback, args.Cron, args.Payload)
	return scheduleResult{ID: id}, err
}

type listSchedulesArgs struct{}

type scheduleInfo struct {
	ID       string          `json:"id"`
	Callback string          `json:"callback"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

func (r *runtime) listSchedules(ctx context.Context, props map[string]interface{}, args listSchedulesArgs) ([]scheduleInfo, error) {
	rows, err := r.sched.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]scheduleInfo, len(rows))
	for i, row := range rows {
		out[i] = scheduleInfo{
			ID:       row.ID,
			Callback: row.Callback,
			Type:     string(row.Type),
			Payload:  json.RawMessage(row.Payload),
		}
	}
	return out, nil
}

type cancelTaskArgs struct {
	ID string `json:"id"`
}

func (r *runtime) cancelTask(ctx context.Context, props map[string]interface{}, args cancelTaskArgs) (emptyResult, error) {
	return emptyResult{}, r.sched.CancelTask(ctx, args.ID)
}

// --- email surface ---------------------------------------------------

type sendSignedEmailArgs struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (r *runtime) sendSignedEmail(ctx context.Context, props map[string]interface{}, args sendSignedEmailArgs) (emptyResult, error) {
	if r.cfg.Mailer == nil {
		return emptyResult{}, agenterr.New(agenterr.Internal, "defaultagent: no mailer configured")
	}
	agentName, _ := props["name"].(string)
	agentID, _ := props["id"].(string)
	headers, err := emailroute.SignAgentHeaders(r.cfg.EmailSecret, orDefault(agentName, "agent"), orDefault(agentID, "instance"))
	if err != nil {
		return emptyResult{}, err
	}
	return emptyResult{}, r.cfg.Mailer.Send(args.To, args.Subject, args.Body, headers)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
