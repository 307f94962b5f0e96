package types

import (
	"context"
)

// Store defines the persistence boundary the engine reads and writes.
// The engine only requires that reads reflect the latest committed writes
// at tick boundaries; the concrete implementation lives in internal/store.
type Store interface {
	// Agents
	GetAgent(id int64) (*Agent, error)
	ListAgents() ([]*Agent, error)
	SaveAgent(a *Agent) error
	CreateAgent(a *Agent) (int64, error)
	// DeleteAgent removes the agent, its memberships (both directions),
	// its room's messages, keys, and pending access requests.
	DeleteAgent(id int64) error

	// Memberships
	MembershipsForAgent(agentID int64) ([]*Membership, error)
	MembersOfRoom(roomID int64) ([]*Membership, error)
	GetMembership(agentID, roomID int64) (*Membership, error)
	SaveMembership(m *Membership) error
	DeleteMembership(agentID, roomID int64) error

	// Messages. AppendMessage assigns the per-room sequence number
	// atomically and returns the stored message.
	MessagesForRoom(roomID int64) ([]*Message, error)
	GetMessage(id int64) (*Message, error)
	AppendMessage(m *Message) (*Message, error)

	// Reactions: tallies keyed by message ID, then reaction kind.
	AddReaction(messageID, reactorID int64, kind string) error
	ReactionsForRoom(roomID int64) (map[int64]map[string]int, error)

	// Room keys and access requests (self-room administration).
	KeysForRoom(roomID int64) ([]*RoomKey, error)
	CreateKey(roomID int64, key string) error
	RevokeKey(roomID int64, key string) error
	PendingRequests(roomID int64) ([]*AccessRequest, error)
	CreateAccessRequest(r *AccessRequest) error
	ResolveAccessRequest(id string) (*AccessRequest, error)
}

// CompletionRequest is one call across the model provider boundary.
type CompletionRequest struct {
	Model        string
	Instructions string
	Prompt       string
	Temperature  float64
	Continuation string // opaque conversation-continuity token, may be empty
}

// CompletionResult is a successful provider response.
type CompletionResult struct {
	Text         string
	Continuation string // new continuity token, may be empty
	TokensUsed   int
}

// ModelClient is the opaque model provider boundary. Retries and timeouts
// are the engine's responsibility, not the provider's.
type ModelClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}

// RoomResponse is one room-directed message in an agent's decoded response.
type RoomResponse struct {
	RoomID  int64  `json:"room_id"`
	Message string `json:"message"`
	ReplyTo int64  `json:"reply_to,omitempty"`
}

// Action is one structured action from an agent's decoded response. The
// field set is the union across all action families; Type selects which
// fields are meaningful.
type Action struct {
	Type string `json:"type"`

	// Knowledge edits
	Path   string   `json:"path,omitempty"`
	Value  any      `json:"value,omitempty"`
	Weight *float64 `json:"w,omitempty"`

	// Social
	MessageID int64  `json:"message_id,omitempty"`
	Reaction  string `json:"reaction,omitempty"`

	// Rooms / access. Attention changes reuse Value: a percentage
	// number or the dynamic marker "*".
	RoomID    int64  `json:"room_id,omitempty"`
	Key       string `json:"key,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Billboard string `json:"billboard,omitempty"`
	WPM       int    `json:"wpm,omitempty"`

	// Identity / lifecycle
	Name      string  `json:"name,omitempty"`
	TargetID  int64   `json:"agent_id,omitempty"`
	Seed      string  `json:"seed,omitempty"`
	Model     string  `json:"model,omitempty"`
	AgentType string  `json:"agent_type,omitempty"`
	InRoomID  int64   `json:"in_room_id,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"` // sleep duration
}

// AgentResponse is the decoded form of one model reply: messages for rooms
// plus structured actions, applied in order by the command processor.
type AgentResponse struct {
	Responses []RoomResponse `json:"responses"`
	Actions   []Action       `json:"actions"`
}

// AppliedAction is one entry of a command processor report.
type AppliedAction struct {
	Index  int    `json:"index"`
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"` // set for rejections
}

// Report summarizes one batch of applied actions. One malformed action
// never blocks the others; rejected entries carry the reason.
type Report struct {
	AgentID  int64           `json:"agent_id"`
	Applied  []AppliedAction `json:"applied"`
	Rejected []AppliedAction `json:"rejected"`
}
