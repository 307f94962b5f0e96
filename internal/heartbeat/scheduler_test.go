package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agora/internal/config"
	"agora/internal/store"
	"agora/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClient scripts provider replies.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	reply func(req types.CompletionRequest) (*types.CompletionResult, error)
}

func (f *fakeClient) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.reply(req)
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func replyJSON(resp types.AgentResponse) func(types.CompletionRequest) (*types.CompletionResult, error) {
	return func(types.CompletionRequest) (*types.CompletionResult, error) {
		data, _ := json.Marshal(resp)
		return &types.CompletionResult{Text: string(data), TokensUsed: 42}, nil
	}
}

func newScheduler(t *testing.T, client *fakeClient) (*Scheduler, types.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	cfg := config.DefaultConfig()
	cfg.Scheduler.IntervalVariance = 0 // deterministic rescheduling in tests
	s := New(cfg, st, client)
	s.sleep = func(context.Context, time.Duration) {}
	return s, st
}

func seedAgent(t *testing.T, st types.Store, name string) *types.Agent {
	t.Helper()
	a := &types.Agent{
		Name:              name,
		Seed:              "seed",
		Type:              types.AgentPersona,
		Model:             "gpt-4.1-mini",
		Status:            types.StatusIdle,
		HeartbeatInterval: 5.0,
		OutputFormat:      "verbose",
		KnowledgeJSON:     "{}",
		RoomWPM:           types.DefaultRoomWPM,
	}
	id, err := st.CreateAgent(a)
	require.NoError(t, err)
	require.NoError(t, st.SaveMembership(&types.Membership{
		AgentID: id, RoomID: id, JoinedAt: time.Now().Add(-time.Hour).UTC(),
		IsSelfRoom: true, IsDynamic: true,
	}))
	return a
}

// prime registers the agent with the scheduler as already due.
func prime(s *Scheduler, agent *types.Agent) {
	s.mu.Lock()
	s.agents[agent.ID] = &agentState{
		status:        agent.Status,
		interval:      agent.HeartbeatInterval,
		lastProcessed: time.Now().Add(-time.Hour),
	}
	s.mu.Unlock()
}

func TestStartStop(t *testing.T) {
	client := &fakeClient{reply: replyJSON(types.AgentResponse{})}
	s, _ := newScheduler(t, client)

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	assert.True(t, s.Status().Running)

	s.Stop()
	assert.False(t, s.Status().Running)
	s.Stop() // idempotent
}

func TestCycleDeliversAndAppliesActions(t *testing.T) {
	s, st := newScheduler(t, nil)
	agent := seedAgent(t, st, "Ada")
	prime(s, agent)

	client := &fakeClient{reply: replyJSON(types.AgentResponse{
		Responses: []types.RoomResponse{
			{RoomID: agent.ID, Message: "first thought\n\nsecond thought"},
		},
		Actions: []types.Action{
			{Type: "set", Path: "mood", Value: "good"},
		},
	})}
	s.client = client

	s.runCycle(context.Background(), agent)

	msgs, err := st.MessagesForRoom(agent.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first thought", msgs[0].Content)
	assert.Equal(t, "second thought", msgs[1].Content)
	assert.Equal(t, fmt.Sprintf("%d", agent.ID), msgs[0].Sender)

	got, _ := st.GetAgent(agent.ID)
	assert.Equal(t, types.StatusIdle, got.Status)
	assert.Contains(t, got.KnowledgeJSON, "good")
	assert.Equal(t, int64(42), got.TotalTokensUsed)
	assert.InDelta(t, 5.1, got.HeartbeatInterval, 1e-9)

	m, _ := st.GetMembership(agent.ID, agent.ID)
	require.NotNil(t, m.LastResponseAt)
	assert.Equal(t, 4, m.LastResponseWords)
	assert.Equal(t, int64(2), m.LastSeenSeq)

	entries := s.History(agent.ID, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "hud", entries[0].Kind)
	assert.Equal(t, "response", entries[1].Kind)
}

func TestProviderErrorLeavesIntervalUnchanged(t *testing.T) {
	s, st := newScheduler(t, nil)
	agent := seedAgent(t, st, "Ada")
	prime(s, agent)
	s.client = &fakeClient{reply: func(types.CompletionRequest) (*types.CompletionResult, error) {
		return nil, fmt.Errorf("provider unavailable")
	}}

	s.runCycle(context.Background(), agent)

	snap := s.Status()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, types.StatusIdle, snap.Agents[0].Status)
	assert.Equal(t, 5.0, snap.Agents[0].Interval)

	entries := s.History(agent.ID, 0)
	require.Len(t, entries, 2)
	assert.Equal(t, "error", entries[1].Kind)
}

func TestDecodeErrorDiscardsCycle(t *testing.T) {
	s, st := newScheduler(t, nil)
	agent := seedAgent(t, st, "Ada")
	prime(s, agent)
	s.client = &fakeClient{reply: func(types.CompletionRequest) (*types.CompletionResult, error) {
		return &types.CompletionResult{Text: "this is not a structured reply {{"}, nil
	}}

	s.runCycle(context.Background(), agent)

	msgs, _ := st.MessagesForRoom(agent.ID)
	assert.Empty(t, msgs)

	log := s.processor.Recent(agent.ID)
	require.Len(t, log, 1)
	assert.Equal(t, "cycle_failed", log[0].Type)

	// Decode failure still completes the cycle, so decay applies.
	snap := s.Status()
	require.Len(t, snap.Agents, 1)
	assert.Equal(t, types.StatusIdle, snap.Agents[0].Status)
	assert.InDelta(t, 5.1, snap.Agents[0].Interval, 1e-9)
}

func TestThumbsFeedbackSurvivesNextCycle(t *testing.T) {
	s, st := newScheduler(t, nil)
	agent := seedAgent(t, st, "Ada")
	reactor := seedAgent(t, st, "Bob")
	prime(s, agent)

	msg, err := st.AppendMessage(&types.Message{
		RoomID: agent.ID, Sender: fmt.Sprintf("%d", agent.ID), Content: "hello", Kind: "text",
	})
	require.NoError(t, err)

	// Bob's thumbs up speeds Ada up in the store while the scheduler
	// state still remembers the pre-reaction interval.
	report := s.processor.Apply(reactor, []types.Action{
		{Type: "react", MessageID: msg.ID, Reaction: types.ReactThumbsUp},
	}, time.Now().UTC())
	require.Empty(t, report.Rejected)
	stored, _ := st.GetAgent(agent.ID)
	require.InDelta(t, 4.5, stored.HeartbeatInterval, 1e-9)

	s.client = &fakeClient{reply: replyJSON(types.AgentResponse{})}
	fresh, _ := st.GetAgent(agent.ID)
	s.runCycle(context.Background(), fresh)

	// The completed cycle decays the reacted interval, not the stale one.
	got, _ := st.GetAgent(agent.ID)
	assert.InDelta(t, 4.6, got.HeartbeatInterval, 1e-9)
	snap := s.Status()
	require.Len(t, snap.Agents, 1)
	assert.InDelta(t, 4.6, snap.Agents[0].Interval, 1e-9)
}

func TestSleepActionHoldsAgentAsleep(t *testing.T) {
	s, st := newScheduler(t, nil)
	agent := seedAgent(t, st, "Ada")
	prime(s, agent)
	s.client = &fakeClient{reply: replyJSON(types.AgentResponse{
		Actions: []types.Action{{Type: "sleep", Seconds: 3600}},
	})}

	s.runCycle(context.Background(), agent)

	got, _ := st.GetAgent(agent.ID)
	assert.Equal(t, types.StatusSleeping, got.Status)
	require.NotNil(t, got.SleepUntil)

	agents, _ := st.ListAgents()
	due := s.selectDue(agents, time.Now().Add(time.Minute))
	assert.Empty(t, due)

	// Past the wake timestamp the agent is woken and due again.
	due = s.selectDue(agents, time.Now().Add(2*time.Hour))
	require.Len(t, due, 1)
	woken, _ := st.GetAgent(agent.ID)
	assert.Equal(t, types.StatusIdle, woken.Status)
	assert.Nil(t, woken.SleepUntil)
}

func TestConcurrentCycleGuard(t *testing.T) {
	s, st := newScheduler(t, &fakeClient{reply: replyJSON(types.AgentResponse{})})
	agent := seedAgent(t, st, "Ada")
	prime(s, agent)

	s.mu.Lock()
	s.agents[agent.ID].inFlight = true
	s.mu.Unlock()

	agents, _ := st.ListAgents()
	due := s.selectDue(agents, time.Now())
	assert.Empty(t, due)

	s.mu.Lock()
	s.agents[agent.ID].inFlight = false
	s.mu.Unlock()
	due = s.selectDue(agents, time.Now())
	assert.Len(t, due, 1)
}

func TestPullForwardWindow(t *testing.T) {
	s, st := newScheduler(t, &fakeClient{reply: replyJSON(types.AgentResponse{})})
	a := seedAgent(t, st, "Due")
	b := seedAgent(t, st, "Soon")

	now := time.Now()
	s.mu.Lock()
	s.agents[a.ID] = &agentState{interval: 5, delay: 5, lastProcessed: now.Add(-6 * time.Second)}
	s.agents[b.ID] = &agentState{interval: 5, delay: 5, lastProcessed: now.Add(-4500 * time.Millisecond)}
	s.mu.Unlock()

	agents, _ := st.ListAgents()

	// Window disabled: only the strictly-due agent.
	due := s.selectDue(agents, now)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)

	// A one-second window pulls the near-due agent forward.
	s.SetPullForwardWindow(1)
	due = s.selectDue(agents, now)
	require.Len(t, due, 2)

	// With nobody strictly due, the window alone pulls nothing.
	s.mu.Lock()
	s.agents[a.ID].lastProcessed = now.Add(-4500 * time.Millisecond)
	s.mu.Unlock()
	due = s.selectDue(agents, now)
	assert.Empty(t, due)
}

func TestTickDispatchesDueAgents(t *testing.T) {
	client := &fakeClient{reply: replyJSON(types.AgentResponse{})}
	s, st := newScheduler(t, client)
	a := seedAgent(t, st, "Ada")
	b := seedAgent(t, st, "Bob")
	prime(s, a)
	prime(s, b)

	dispatched := s.tick(context.Background(), time.Now())
	assert.Len(t, dispatched, 2)
	s.wg.Wait()
	assert.Equal(t, 2, client.callCount())

	// Immediately after, neither agent is due again.
	dispatched = s.tick(context.Background(), time.Now())
	assert.Empty(t, dispatched)
}

func TestInitialStaggerIsDeterministic(t *testing.T) {
	s, st := newScheduler(t, &fakeClient{reply: replyJSON(types.AgentResponse{})})
	agent := seedAgent(t, st, "Ada")

	now := time.Now()
	st1 := s.initState(agent, now)
	st2 := s.initState(agent, now)
	assert.Equal(t, st1.delay, st2.delay)
	assert.LessOrEqual(t, st1.delay, agent.HeartbeatInterval)
	assert.GreaterOrEqual(t, st1.delay, 0.0)
}

func TestWordBudgetTruncatesDelivery(t *testing.T) {
	s, st := newScheduler(t, nil)
	agent := seedAgent(t, st, "Ada")
	prime(s, agent)

	// A recent response leaves the minimum word budget: 10 words.
	recent := time.Now().UTC()
	m, _ := st.GetMembership(agent.ID, agent.ID)
	m.LastResponseAt = &recent
	require.NoError(t, st.SaveMembership(m))

	long := ""
	for i := 0; i < 50; i++ {
		long += fmt.Sprintf("word%d ", i)
	}
	s.client = &fakeClient{reply: replyJSON(types.AgentResponse{
		Responses: []types.RoomResponse{{RoomID: agent.ID, Message: long}},
	})}

	s.runCycle(context.Background(), agent)

	msgs, _ := st.MessagesForRoom(agent.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, 10, countWords(msgs[0].Content))
}

func TestDeliverValidatesReplyTarget(t *testing.T) {
	s, st := newScheduler(t, &fakeClient{reply: replyJSON(types.AgentResponse{})})
	agent := seedAgent(t, st, "Ada")
	other := seedAgent(t, st, "Bob")

	parent, err := st.AppendMessage(&types.Message{
		RoomID: agent.ID, Sender: "0", Content: "question", Kind: "text",
	})
	require.NoError(t, err)
	foreign, err := st.AppendMessage(&types.Message{
		RoomID: other.ID, Sender: "0", Content: "elsewhere", Kind: "text",
	})
	require.NoError(t, err)

	s.deliver(context.Background(), agent, []types.RoomResponse{
		{RoomID: agent.ID, Message: "answer", ReplyTo: parent.ID},
		{RoomID: agent.ID, Message: "dangling", ReplyTo: 12345},
		{RoomID: agent.ID, Message: "wrong room", ReplyTo: foreign.ID},
	})

	msgs, _ := st.MessagesForRoom(agent.ID)
	require.Len(t, msgs, 4)
	assert.Equal(t, parent.ID, msgs[1].ReplyTo)
	// References to missing or out-of-room messages are dropped.
	assert.Zero(t, msgs[2].ReplyTo)
	assert.Zero(t, msgs[3].ReplyTo)
}

func TestApplyResponseFacade(t *testing.T) {
	s, st := newScheduler(t, &fakeClient{reply: replyJSON(types.AgentResponse{})})
	agent := seedAgent(t, st, "Ada")

	report, err := s.ApplyResponse(agent.ID, &types.AgentResponse{
		Responses: []types.RoomResponse{{RoomID: agent.ID, Message: "hello"}},
		Actions:   []types.Action{{Type: "set", Path: "k", Value: 1}},
	})
	require.NoError(t, err)
	assert.Len(t, report.Applied, 1)

	msgs, _ := st.MessagesForRoom(agent.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)

	_, err = s.ApplyResponse(999, &types.AgentResponse{})
	assert.Error(t, err)
}

func TestBuildHUDFacade(t *testing.T) {
	s, st := newScheduler(t, &fakeClient{reply: replyJSON(types.AgentResponse{})})
	agent := seedAgent(t, st, "Ada")

	res, err := s.BuildHUD(agent.ID)
	require.NoError(t, err)
	assert.NotNil(t, res.Tree)
	assert.NotEmpty(t, res.Text)
	assert.Greater(t, res.Tokens, 0)

	_, err = s.BuildHUD(999)
	assert.Error(t, err)
}
