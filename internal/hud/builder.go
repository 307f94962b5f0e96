package hud

import (
	"fmt"
	"math"
	"time"

	"agora/internal/codec"
	"agora/internal/config"
	"agora/internal/knowledge"
	"agora/internal/logging"
	"agora/internal/tree"
	"agora/internal/types"
)

// ============================================================================
// HUD Builder
// ============================================================================
// Assembles the four-section context snapshot (system / self / meta / rooms)
// for one agent, invoking the Allocator for per-room budgets and the Codec
// for the wire representation.

// RoomData is everything the builder needs about one membership. Messages
// must be in ascending sequence order and already filtered to those sent at
// or after the membership's join time.
type RoomData struct {
	Room       *types.Agent
	Membership *types.Membership
	Messages   []*types.Message
	Members    []int64
	Reactions  map[int64]map[string]int

	// Self-room extras
	Keys    []string
	Pending []*types.AccessRequest
}

// Result is one built HUD.
type Result struct {
	Tree   *tree.Node
	Text   string
	Format codec.Format
	Tokens int
	Stats  codec.Stats

	// ConfigErr is set when the agent's fixed attention percentages are
	// misconfigured; the HUD is still built with clamped budgets.
	ConfigErr *AllocationConfigError
}

// Builder assembles HUDs.
type Builder struct {
	alloc     *Allocator
	counter   *TokenCounter
	telemetry *codec.Telemetry

	selfMetaMax int
	minWords    int
	maxWords    int
	firstWords  int
}

// NewBuilder constructs a builder from configuration.
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{
		alloc:       NewAllocator(cfg.Budget),
		counter:     NewTokenCounter(),
		telemetry:   codec.NewTelemetry(100),
		selfMetaMax: cfg.Budget.SelfMetaMax,
		minWords:    cfg.Rooms.MinWordBudget,
		maxWords:    cfg.Rooms.MaxWordBudget,
		firstWords:  cfg.Rooms.FirstWordBudget,
	}
}

// Telemetry exposes the encode statistics window.
func (b *Builder) Telemetry() *codec.Telemetry {
	return b.telemetry
}

// Build assembles the HUD for one agent. actions is the agent's recent
// action log, oldest first. A serialization failure inside the knowledge
// tree never aborts the build; the offending subtree is already replaced
// with an error marker by the tree conversion.
func (b *Builder) Build(agent *types.Agent, rooms []RoomData, actions []types.ActionRecord, now time.Time) (*Result, error) {
	know := knowledge.FromJSON(agent.KnowledgeJSON).Tree()
	knowledgeTokens := b.counter.CountNode(know)
	memoryPct := 0
	if b.selfMetaMax > 0 {
		memoryPct = int(float64(knowledgeTokens) / float64(b.selfMetaMax) * 100)
		if memoryPct > 100 {
			memoryPct = 100
		}
	}

	selfSection := tree.Object()
	selfSection.Set("identity", b.identity(agent))
	selfSection.Set("knowledge", know)
	selfSection.Set("memory_used", tree.String(fmt.Sprintf("%d%%", memoryPct)))
	selfSection.Set("recent_actions", actionLogTree(actions))

	systemSection := tree.Object()
	systemSection.Set("directives", tree.String(systemDirectives))

	metaSection := tree.Object()
	metaSection.Set("instructions", tree.String(MetaInstructions(agent.Type)))
	metaSection.Set("available_actions", tree.FromValue(AvailableActions(agent.Type, agent.CanCreateAgents)))

	staticTokens := b.counter.CountNode(systemSection) +
		b.counter.CountNode(selfSection) +
		b.counter.CountNode(metaSection)

	claims := make([]RoomAttention, len(rooms))
	for i, rd := range rooms {
		claims[i] = RoomAttention{
			RoomID:  rd.Membership.RoomID,
			Pct:     rd.Membership.AttentionPct,
			Dynamic: rd.Membership.IsDynamic,
		}
	}
	alloc := b.alloc.Allocate(agent.ID, staticTokens, claims)
	if alloc.ConfigErr != nil {
		logging.HUDWarn("%v", alloc.ConfigErr)
	}

	roomsSection := tree.Array()
	for i, rd := range rooms {
		roomsSection.Append(b.roomEntry(agent, rd, alloc.Rooms[i], now))
	}

	root := tree.Object()
	root.Set("system", systemSection)
	root.Set("self", selfSection)
	root.Set("meta", metaSection)
	root.Set("rooms", roomsSection)

	format := codec.ParseFormat(agent.OutputFormat)
	text, err := codec.Encode(root, format)
	if err != nil {
		return nil, fmt.Errorf("encode hud: %w", err)
	}

	baseline := text
	if format != codec.FormatVerbose {
		if vb, err := codec.Encode(root, codec.FormatVerbose); err == nil {
			baseline = vb
		}
	}
	stats := b.telemetry.Record(format, baseline, text)

	logging.HUDDebug("built HUD for agent %d: %d tokens, %d rooms, format %s",
		agent.ID, stats.EncodedTokens, len(rooms), format)

	return &Result{
		Tree:      root,
		Text:      text,
		Format:    format,
		Tokens:    b.counter.CountString(text),
		Stats:     stats,
		ConfigErr: alloc.ConfigErr,
	}, nil
}

// identity renders the identity fields by agent type. Bots carry a role;
// personas carry a seed personality.
func (b *Builder) identity(agent *types.Agent) *tree.Node {
	id := tree.Object()
	id.Set("id", tree.Number(float64(agent.ID)))
	name := agent.Name
	if name == "" && agent.Type == types.AgentBot {
		name = fmt.Sprintf("Bot-%d", agent.ID)
	}
	id.Set("name", tree.String(name))
	if agent.Type == types.AgentBot {
		id.Set("role", tree.String(agent.Seed))
	} else {
		id.Set("seed", tree.String(agent.Seed))
	}
	return id
}

func (b *Builder) roomEntry(agent *types.Agent, rd RoomData, budget RoomBudget, now time.Time) *tree.Node {
	m := rd.Membership

	entry := tree.Object()
	entry.Set("id", tree.Number(float64(m.RoomID)))
	entry.Set("you", tree.Number(float64(agent.ID)))
	entry.Set("is_self_room", tree.Bool(m.IsSelfRoom))

	members := tree.Array()
	for _, id := range rd.Members {
		members.Append(tree.Number(float64(id)))
	}
	entry.Set("members", members)

	if m.IsDynamic {
		entry.Set("attention_pct", tree.String(types.DynamicAttention))
	} else {
		entry.Set("attention_pct", tree.Number(m.AttentionPct))
	}
	entry.Set("time_since_last", tree.String(timeSince(m.LastResponseAt, now)))

	wpm := types.DefaultRoomWPM
	if rd.Room != nil && rd.Room.RoomWPM > 0 {
		wpm = rd.Room.RoomWPM
	}
	entry.Set("word_budget", tree.Number(float64(b.WordBudget(m.LastResponseAt, wpm, now))))
	entry.Set("messages", b.messages(rd, budget.MessageTokens))

	if rd.Room != nil && rd.Room.RoomBillboard != "" {
		entry.Set("billboard", tree.String(rd.Room.RoomBillboard))
	}
	if m.IsSelfRoom {
		if len(rd.Keys) > 0 {
			keys := tree.Array()
			for _, k := range rd.Keys {
				keys.Append(tree.String(k))
			}
			entry.Set("my_keys", keys)
		}
		if len(rd.Pending) > 0 {
			pending := tree.Array()
			for _, req := range rd.Pending {
				p := tree.Object()
				p.Set("request_id", tree.String(req.ID))
				p.Set("agent_id", tree.Number(float64(req.RequesterID)))
				p.Set("key", tree.String(req.Key))
				pending.Append(p)
			}
			entry.Set("pending_access_requests", pending)
		}
	}
	return entry
}

// messages fills the message list backward from the most recent message
// until the room's message-token budget is exhausted. A message is taken
// whole or not at all.
func (b *Builder) messages(rd RoomData, budget int) *tree.Node {
	var picked []*tree.Node
	used := 0
	for i := len(rd.Messages) - 1; i >= 0; i-- {
		msg := rd.Messages[i]
		node := messageTree(msg, rd.Reactions[msg.ID])
		cost := b.counter.CountNode(node)
		if used+cost > budget {
			break
		}
		picked = append(picked, node)
		used += cost
	}

	out := tree.Array()
	for i := len(picked) - 1; i >= 0; i-- {
		out.Append(picked[i])
	}
	return out
}

func messageTree(msg *types.Message, reactions map[string]int) *tree.Node {
	n := tree.Object()
	n.Set("id", tree.Number(float64(msg.ID)))
	n.Set("timestamp", tree.String(msg.SentAt.UTC().Format(time.RFC3339)))
	n.Set("sender", tree.String(msg.Sender))
	n.Set("content", tree.String(msg.Content))
	n.Set("type", tree.String(msg.Kind))
	if msg.ReplyTo != 0 {
		n.Set("reply_to", tree.Number(float64(msg.ReplyTo)))
	}
	if len(reactions) > 0 {
		n.Set("reactions", tree.FromValue(reactionCounts(reactions)))
	}
	return n
}

func reactionCounts(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func actionLogTree(actions []types.ActionRecord) *tree.Node {
	out := tree.Array()
	for _, a := range actions {
		n := tree.Object()
		n.Set("type", tree.String(a.Type))
		if len(a.Detail) > 0 {
			n.Set("detail", tree.FromValue(a.Detail))
		}
		n.Set("result", tree.String(a.Result))
		n.Set("at", tree.String(a.Timestamp.UTC().Format(time.RFC3339)))
		out.Append(n)
	}
	return out
}

// WordBudget computes the response word allowance for one room: the words
// earned since the last response at the room's pace, clamped to the
// configured bounds. A membership with no prior response gets the generous
// first-response default.
func (b *Builder) WordBudget(lastResponseAt *time.Time, wpm int, now time.Time) int {
	if lastResponseAt == nil {
		return b.firstWords
	}
	elapsed := now.Sub(*lastResponseAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	words := int(math.Floor(elapsed * float64(wpm) / 60))
	if words < b.minWords {
		return b.minWords
	}
	if words > b.maxWords {
		return b.maxWords
	}
	return words
}

// timeSince renders a coarse human-readable elapsed time for the room
// header.
func timeSince(last *time.Time, now time.Time) string {
	if last == nil {
		return "never (just joined)"
	}
	elapsed := now.Sub(*last).Seconds()
	switch {
	case elapsed < 0:
		return "0 seconds"
	case elapsed < 60:
		return fmt.Sprintf("%d seconds", int(elapsed))
	case elapsed < 3600:
		return fmt.Sprintf("%d minutes", int(elapsed/60))
	default:
		return fmt.Sprintf("%.1f hours", elapsed/3600)
	}
}
