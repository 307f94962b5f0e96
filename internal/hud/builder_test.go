package hud

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/codec"
	"agora/internal/config"
	"agora/internal/tree"
	"agora/internal/types"
)

func testAgent() *types.Agent {
	return &types.Agent{
		ID:            1,
		Name:          "Ada",
		Seed:          "curious mathematician",
		Type:          types.AgentPersona,
		OutputFormat:  "verbose",
		KnowledgeJSON: `{"notes":{"topic":"primes"}}`,
		RoomWPM:       80,
	}
}

func selfRoomData(agent *types.Agent, msgs []*types.Message) RoomData {
	return RoomData{
		Room: agent,
		Membership: &types.Membership{
			AgentID:    agent.ID,
			RoomID:     agent.ID,
			IsSelfRoom: true,
			IsDynamic:  true,
		},
		Messages: msgs,
		Members:  []int64{agent.ID},
	}
}

func TestBuildSections(t *testing.T) {
	b := NewBuilder(config.DefaultConfig())
	agent := testAgent()
	now := time.Now()

	res, err := b.Build(agent, []RoomData{selfRoomData(agent, nil)}, nil, now)
	require.NoError(t, err)

	require.Equal(t, []string{"system", "self", "meta", "rooms"}, res.Tree.Keys)

	self := res.Tree.Get("self")
	require.NotNil(t, self)
	identity := self.Get("identity")
	require.NotNil(t, identity)
	assert.Equal(t, 1.0, identity.Get("id").Number)
	assert.Equal(t, "Ada", identity.Get("name").Str)
	assert.Equal(t, "curious mathematician", identity.Get("seed").Str)
	assert.Nil(t, identity.Get("role"))

	assert.Equal(t, "primes", self.Get("knowledge").Get("notes").Get("topic").Str)
	assert.Regexp(t, `^\d+%$`, self.Get("memory_used").Str)

	rooms := res.Tree.Get("rooms")
	require.Len(t, rooms.Items, 1)
	room := rooms.Items[0]
	assert.Equal(t, true, room.Get("is_self_room").Bool)
	assert.Equal(t, "*", room.Get("attention_pct").Str)
	assert.Equal(t, "never (just joined)", room.Get("time_since_last").Str)
	assert.Equal(t, 200.0, room.Get("word_budget").Number)
}

func TestBuildBotIdentity(t *testing.T) {
	b := NewBuilder(config.DefaultConfig())
	agent := testAgent()
	agent.Type = types.AgentBot
	agent.Name = ""
	agent.Seed = "summarize daily traffic"

	res, err := b.Build(agent, nil, nil, time.Now())
	require.NoError(t, err)

	identity := res.Tree.Get("self").Get("identity")
	assert.Equal(t, "Bot-1", identity.Get("name").Str)
	assert.Equal(t, "summarize daily traffic", identity.Get("role").Str)
	assert.Nil(t, identity.Get("seed"))
}

func TestBuildLifecycleActionsGated(t *testing.T) {
	b := NewBuilder(config.DefaultConfig())
	agent := testAgent()

	res, err := b.Build(agent, nil, nil, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, res.Text, "create_agent")

	agent.CanCreateAgents = true
	res, err = b.Build(agent, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, res.Text, "create_agent")
	assert.Contains(t, res.Text, "retire_agent")
}

func TestBuildBackwardMessageFill(t *testing.T) {
	cfg := config.DefaultConfig()
	// Tiny budget so only the most recent messages fit.
	cfg.Budget.TotalTokens = 300
	cfg.Budget.MessageContentMin = 300
	cfg.Budget.RoomMetadataTokens = 10
	b := NewBuilder(cfg)
	agent := testAgent()

	var msgs []*types.Message
	for i := 1; i <= 50; i++ {
		msgs = append(msgs, &types.Message{
			ID:      int64(i),
			RoomID:  1,
			Sender:  "2",
			Content: "a fairly long message body that costs a measurable number of tokens",
			SentAt:  time.Now(),
			Seq:     int64(i),
			Kind:    "text",
		})
	}

	res, err := b.Build(agent, []RoomData{selfRoomData(agent, msgs)}, nil, time.Now())
	require.NoError(t, err)

	got := res.Tree.Get("rooms").Items[0].Get("messages")
	require.NotEmpty(t, got.Items)
	require.Less(t, len(got.Items), 50)

	// The fill is backward: the newest message is always present and the
	// kept window is contiguous, ending at message 50.
	first := got.Items[0].Get("id").Number
	last := got.Items[len(got.Items)-1].Get("id").Number
	assert.Equal(t, 50.0, last)
	assert.Equal(t, last-first+1, float64(len(got.Items)))
}

func TestBuildAttentionConfigErrSurfaced(t *testing.T) {
	b := NewBuilder(config.DefaultConfig())
	agent := testAgent()
	rooms := []RoomData{
		{
			Room:       agent,
			Membership: &types.Membership{AgentID: 1, RoomID: 1, AttentionPct: 70, IsSelfRoom: true},
			Members:    []int64{1},
		},
		{
			Room:       &types.Agent{ID: 2, RoomWPM: 80},
			Membership: &types.Membership{AgentID: 1, RoomID: 2, AttentionPct: 60},
			Members:    []int64{1, 2},
		},
	}

	res, err := b.Build(agent, rooms, nil, time.Now())
	require.NoError(t, err)
	require.NotNil(t, res.ConfigErr)
	assert.Equal(t, 130.0, res.ConfigErr.FixedSum)
}

func TestBuildCyclicKnowledgeGetsErrorMarker(t *testing.T) {
	// Cyclic structures cannot arrive via JSON, but a corrupt store must
	// still never abort the build.
	b := NewBuilder(config.DefaultConfig())
	agent := testAgent()
	agent.KnowledgeJSON = `{"ok":"fine"}`

	res, err := b.Build(agent, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Tree.Get("self").Get("knowledge").Get("ok").Str)
}

func TestBuildTOONFormatRecordsSavings(t *testing.T) {
	b := NewBuilder(config.DefaultConfig())
	agent := testAgent()
	agent.OutputFormat = "toon"

	res, err := b.Build(agent, []RoomData{selfRoomData(agent, nil)}, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, codec.FormatTOON, res.Format)
	assert.Greater(t, res.Stats.CharSavings(), 0)

	// The emitted text must decode back to the same tree.
	back, err := codec.Decode(res.Text, codec.FormatTOON)
	require.NoError(t, err)
	assert.True(t, tree.Equal(res.Tree, back))
}

func TestWordBudget(t *testing.T) {
	b := NewBuilder(config.DefaultConfig())
	now := time.Now()

	assert.Equal(t, 200, b.WordBudget(nil, 80, now))

	past := now.Add(-30 * time.Second)
	assert.Equal(t, 40, b.WordBudget(&past, 80, now)) // 30s * 80wpm / 60

	recent := now.Add(-1 * time.Second)
	assert.Equal(t, 10, b.WordBudget(&recent, 80, now)) // clamped to min

	longAgo := now.Add(-time.Hour)
	assert.Equal(t, 200, b.WordBudget(&longAgo, 80, now)) // clamped to max
}

func TestMemoryPressureCapped(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Budget.SelfMetaMax = 10
	b := NewBuilder(cfg)
	agent := testAgent()

	res, err := b.Build(agent, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "100%", res.Tree.Get("self").Get("memory_used").Str)
}
