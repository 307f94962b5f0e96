// Package types holds the shared data model for the agora engine: agents,
// room memberships, messages, and the structures exchanged between the
// heartbeat scheduler, the HUD builder, and the command processor.
package types

import (
	"time"
)

// Reserved sender identities. Messages from these senders belong to no agent
// and never participate in reaction-driven interval adjustment.
const (
	SenderArchitect = "architect" // the human operator
	SenderSystem    = "system"    // join/leave and other engine notices
)

// AgentType selects the instruction set an agent receives.
type AgentType string

const (
	AgentPersona AgentType = "persona" // human-like character, uses a display name
	AgentBot     AgentType = "bot"     // task-focused assistant, role-driven
)

// AgentStatus is the scheduler-owned runtime state of an agent.
type AgentStatus string

const (
	StatusIdle     AgentStatus = "idle"
	StatusThinking AgentStatus = "thinking"
	StatusTyping   AgentStatus = "typing"
	StatusSending  AgentStatus = "sending"
	StatusSleeping AgentStatus = "sleeping"
)

// Heartbeat interval bounds in seconds. Every write to an agent's interval
// must stay inside these.
const (
	MinHeartbeatInterval = 1.0
	MaxHeartbeatInterval = 10.0
)

// Room WPM bounds and default pace.
const (
	MinRoomWPM     = 10
	MaxRoomWPM     = 200
	DefaultRoomWPM = 80
)

// Agent is a participant in the system. Every agent IS a room: the agent's
// ID doubles as its room ID, and the room-scoped fields (WPM, billboard)
// describe the room the agent owns.
type Agent struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Seed        string    `json:"seed"` // background/personality for personas, role text for bots
	Type        AgentType `json:"type"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	CreatedAt   time.Time `json:"created_at"`

	// Capabilities
	CanCreateAgents bool `json:"can_create_agents"`

	// Runtime state (owned by the scheduler; external readers get snapshots)
	Status            AgentStatus `json:"status"`
	HeartbeatInterval float64     `json:"heartbeat_interval"` // seconds, [1.0, 10.0]
	SleepUntil        *time.Time  `json:"sleep_until,omitempty"`
	TotalTokensUsed   int64       `json:"total_tokens_used"`

	// Conversation continuity with the model provider.
	ContinuationToken string `json:"continuation_token"`

	// Output format selector for this agent's HUD.
	OutputFormat string `json:"output_format"` // codec.FormatVerbose etc.

	// Knowledge store, serialized. The live tree lives in knowledge.Store.
	KnowledgeJSON string `json:"knowledge_json"`

	// Room settings (agent = room owner).
	RoomWPM       int    `json:"room_wpm"`
	RoomBillboard string `json:"room_billboard"`
}

// Sleeping reports whether the agent is asleep at the given instant.
func (a *Agent) Sleeping(now time.Time) bool {
	return a.SleepUntil != nil && now.Before(*a.SleepUntil)
}

// DynamicAttention is the attention value meaning "split the remainder
// evenly among this agent's dynamic memberships".
const DynamicAttention = "*"

// Membership relates a member agent to a room (identified by the owning
// agent's ID).
type Membership struct {
	AgentID  int64     `json:"agent_id"`
	RoomID   int64     `json:"room_id"`
	JoinedAt time.Time `json:"joined_at"`

	// Attention allocation for HUD budgeting.
	AttentionPct float64 `json:"attention_pct"`
	IsDynamic    bool    `json:"is_dynamic"`
	IsSelfRoom   bool    `json:"is_self_room"`

	// Read and pacing bookkeeping.
	LastSeenSeq       int64      `json:"last_seen_seq"`
	LastResponseAt    *time.Time `json:"last_response_at,omitempty"`
	LastResponseWords int        `json:"last_response_words"`
}

// Message is a single chat message in a room. Immutable once written except
// for its reaction tally.
type Message struct {
	ID       int64     `json:"id"`
	RoomID   int64     `json:"room_id"`
	Sender   string    `json:"sender"` // agent ID as decimal string, or a reserved sender
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
	Seq      int64     `json:"seq"` // per-room, monotonically increasing
	Kind     string    `json:"kind"` // "text" or "system"
	ReplyTo  int64     `json:"reply_to,omitempty"`
}

// Reaction kinds agents may apply to messages.
const (
	ReactThumbsUp   = "thumbs_up"
	ReactThumbsDown = "thumbs_down"
	ReactBrain      = "brain"
	ReactHeart      = "heart"
)

// ValidReaction reports whether r is in the fixed reaction set.
func ValidReaction(r string) bool {
	switch r {
	case ReactThumbsUp, ReactThumbsDown, ReactBrain, ReactHeart:
		return true
	}
	return false
}

// RoomKey is an access key created by a room owner.
type RoomKey struct {
	RoomID    int64     `json:"room_id"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// AccessRequest records an agent asking to join a room, presenting a key.
// Resolved (granted or denied) by the room owner.
type AccessRequest struct {
	ID          string    `json:"id"` // uuid
	RoomID      int64     `json:"room_id"`
	RequesterID int64     `json:"requester_id"`
	Key         string    `json:"key"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActionRecord is one entry of an agent's action log: a summary of an
// applied (or rejected) action with its outcome.
type ActionRecord struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Detail    map[string]any `json:"detail,omitempty"`
	Result    string         `json:"result"` // "ok" or "error: ..."
}

// ActionLogDepth is how many recent actions are retained per agent and
// surfaced in the HUD's self section.
const ActionLogDepth = 20
