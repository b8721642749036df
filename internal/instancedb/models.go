package instancedb

import "time"

// AgentState is the single-row table holding the agent's JSON state
// document S (§3). A CHECK(id=1) constraint in the migration enforces the
// single-row invariant; writes always UPSERT this one row.
type AgentState struct {
	ID        int       `gorm:"primaryKey;check:id = 1"`
	JSON      string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (AgentState) TableName() string { return "agent_state" }

// Message is one row of the chat message log (§3, §4.5). JSON holds the
// full {id, role, parts, metadata} document; Role and Hash are denormalized
// for cheap filtering and the persistence idempotence check.
type Message struct {
	ID        string    `gorm:"primaryKey"`
	JSON      string    `gorm:"not null"`
	Role      string    `gorm:"not null"`
	Hash      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Message) TableName() string { return "messages" }

// StreamMeta records the request body snapshot and client-tools snapshot for
// the currently (or most recently) active stream, so a client tool's
// autoContinue can resume generation after the agent has been rehydrated.
type StreamMeta struct {
	ID          string    `gorm:"primaryKey"`
	RequestID   string    `gorm:"not null"`
	Body        string    `gorm:"not null"`
	ClientTools string    `gorm:"not null;default:'[]'"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (StreamMeta) TableName() string { return "stream_meta" }

// StreamChunk is one buffered frame of an active assistant stream, keyed by
// (stream_id, seq) so a reconnecting client can resume from lastSeq+1.
type StreamChunk struct {
	StreamID string `gorm:"primaryKey"`
	Seq      int64  `gorm:"primaryKey"`
	Body     string `gorm:"not null"`
}

func (StreamChunk) TableName() string { return "stream_chunks" }

// ScheduleType enumerates the three schedule kinds from §3's data model.
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "scheduled"
	ScheduleInterval ScheduleType = "delayed"
	ScheduleCron     ScheduleType = "cron"
)

// Schedule is one durable row driving the alarm-based dispatch loop (§4.6).
// Time is set for one-shot and (after each fire) interval/cron entries;
// IntervalSeconds is set for ScheduleInterval; Cron is set for ScheduleCron.
type Schedule struct {
	ID              string       `gorm:"primaryKey"`
	Callback        string       `gorm:"not null"`
	Type            ScheduleType `gorm:"column:type;not null"`
	Time            *time.Time   `gorm:"column:time"`
	IntervalSeconds *int64       `gorm:"column:interval_seconds"`
	Cron            *string      `gorm:"column:cron"`
	Payload         string       `gorm:"not null;default:'{}'"`
	CreatedAt       time.Time    `gorm:"not null"`
}

func (Schedule) TableName() string { return "schedules" }

// MCPServerState enumerates the MCP client connection state machine (§4.7).
type MCPServerState string

const (
	MCPNotConnected  MCPServerState = "not-connected"
	MCPAuthenticating MCPServerState = "authenticating"
	MCPConnecting    MCPServerState = "connecting"
	MCPDiscovering   MCPServerState = "discovering"
	MCPReady         MCPServerState = "ready"
	MCPFailed        MCPServerState = "failed"
)

// MCPServer is one persisted outbound MCP server connection record (§3, §6).
// TokenBlob holds the JSON-serialized oauth2.Token, encrypted at rest.
// OAuthState is not written by mcpclient; its authorization-code flow uses
// the server id as the state value.
type MCPServer struct {
	ID            string          `gorm:"primaryKey"`
	Name          string          `gorm:"not null"`
	ServerURL     string          `gorm:"column:server_url;not null"`
	CallbackURL   string          `gorm:"column:callback_url;not null"`
	ClientID      string          `gorm:"column:client_id;default:''"`
	ClientSecret  EncryptedString `gorm:"column:client_secret;type:text;default:''"`
	AuthURL       string          `gorm:"column:auth_url;default:''"`
	ServerOptions string          `gorm:"column:server_options;default:'{}'"`
	State         MCPServerState  `gorm:"column:state;not null;default:'not-connected'"`
	TokenBlob     EncryptedString `gorm:"column:token_blob;type:text;default:''"`
	OAuthState    string          `gorm:"column:oauth_state;default:''"`
	CreatedAt     time.Time       `gorm:"not null"`
	UpdatedAt     time.Time       `gorm:"not null"`
}

func (MCPServer) TableName() string { return "mcp_servers" }
