package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agora.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestAgent(name string) *types.Agent {
	return &types.Agent{
		Name:              name,
		Seed:              "a test seed",
		Type:              types.AgentPersona,
		Model:             "gpt-4.1-mini",
		Temperature:       0.7,
		Status:            types.StatusIdle,
		HeartbeatInterval: 5.0,
		OutputFormat:      "verbose",
		KnowledgeJSON:     "{}",
		RoomWPM:           types.DefaultRoomWPM,
	}
}

func TestAgentCRUD(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateAgent(newTestAgent("Ada"))
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	got, err := s.GetAgent(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)
	assert.Equal(t, types.AgentPersona, got.Type)
	assert.Equal(t, 5.0, got.HeartbeatInterval)
	assert.Nil(t, got.SleepUntil)
	assert.False(t, got.CreatedAt.IsZero())

	until := time.Now().Add(time.Minute).UTC().Truncate(time.Second)
	got.Status = types.StatusSleeping
	got.SleepUntil = &until
	got.HeartbeatInterval = 3.5
	got.ContinuationToken = "resp_abc"
	require.NoError(t, s.SaveAgent(got))

	got2, err := s.GetAgent(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSleeping, got2.Status)
	require.NotNil(t, got2.SleepUntil)
	assert.True(t, got2.SleepUntil.Equal(until))
	assert.Equal(t, 3.5, got2.HeartbeatInterval)
	assert.Equal(t, "resp_abc", got2.ContinuationToken)

	missing, err := s.GetAgent(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.SaveAgent(&types.Agent{ID: 9999}))
}

func TestListAgentsOrdered(t *testing.T) {
	s := openTestStore(t)
	for _, name := range []string{"A", "B", "C"} {
		_, err := s.CreateAgent(newTestAgent(name))
		require.NoError(t, err)
	}
	agents, err := s.ListAgents()
	require.NoError(t, err)
	require.Len(t, agents, 3)
	assert.Equal(t, "A", agents[0].Name)
	assert.Equal(t, "C", agents[2].Name)
}

func TestMembershipUpsert(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.CreateAgent(newTestAgent("Ada"))
	b, _ := s.CreateAgent(newTestAgent("Bob"))

	m := &types.Membership{
		AgentID:      a,
		RoomID:       b,
		AttentionPct: 40,
	}
	require.NoError(t, s.SaveMembership(m))

	got, err := s.GetMembership(a, b)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 40.0, got.AttentionPct)
	assert.False(t, got.JoinedAt.IsZero())

	at := time.Now().UTC().Truncate(time.Second)
	got.IsDynamic = true
	got.LastSeenSeq = 7
	got.LastResponseAt = &at
	require.NoError(t, s.SaveMembership(got))

	got2, err := s.GetMembership(a, b)
	require.NoError(t, err)
	assert.True(t, got2.IsDynamic)
	assert.Equal(t, int64(7), got2.LastSeenSeq)
	require.NotNil(t, got2.LastResponseAt)
	assert.True(t, got2.LastResponseAt.Equal(at))

	forAgent, err := s.MembershipsForAgent(a)
	require.NoError(t, err)
	assert.Len(t, forAgent, 1)
	inRoom, err := s.MembersOfRoom(b)
	require.NoError(t, err)
	assert.Len(t, inRoom, 1)

	require.NoError(t, s.DeleteMembership(a, b))
	gone, err := s.GetMembership(a, b)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Error(t, s.DeleteMembership(a, b))
}

func TestAppendMessageAssignsSeq(t *testing.T) {
	s := openTestStore(t)
	room, _ := s.CreateAgent(newTestAgent("Room"))

	for i := 1; i <= 3; i++ {
		m, err := s.AppendMessage(&types.Message{
			RoomID:  room,
			Sender:  "1",
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i), m.Seq)
		assert.Greater(t, m.ID, int64(0))
		assert.Equal(t, "text", m.Kind)
		assert.False(t, m.SentAt.IsZero())
	}

	msgs, err := s.MessagesForRoom(room)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "message 1", msgs[0].Content)
	assert.Equal(t, "message 3", msgs[2].Content)
}

func TestAppendMessageConcurrentSeq(t *testing.T) {
	s := openTestStore(t)
	room, _ := s.CreateAgent(newTestAgent("Room"))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendMessage(&types.Message{
				RoomID:  room,
				Sender:  "1",
				Content: fmt.Sprintf("m%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs, err := s.MessagesForRoom(room)
	require.NoError(t, err)
	require.Len(t, msgs, n)
	seen := make(map[int64]bool)
	for _, m := range msgs {
		assert.False(t, seen[m.Seq], "duplicate seq %d", m.Seq)
		seen[m.Seq] = true
	}
}

func TestReactions(t *testing.T) {
	s := openTestStore(t)
	room, _ := s.CreateAgent(newTestAgent("Room"))
	msg, err := s.AppendMessage(&types.Message{RoomID: room, Sender: "1", Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, s.AddReaction(msg.ID, 2, types.ReactThumbsUp))
	require.NoError(t, s.AddReaction(msg.ID, 3, types.ReactThumbsUp))
	require.NoError(t, s.AddReaction(msg.ID, 2, types.ReactHeart))
	// Same reactor and kind again is a no-op, not an error.
	require.NoError(t, s.AddReaction(msg.ID, 2, types.ReactThumbsUp))

	tallies, err := s.ReactionsForRoom(room)
	require.NoError(t, err)
	assert.Equal(t, 2, tallies[msg.ID][types.ReactThumbsUp])
	assert.Equal(t, 1, tallies[msg.ID][types.ReactHeart])

	assert.Error(t, s.AddReaction(9999, 2, types.ReactThumbsUp))
}

func TestKeysAndAccessRequests(t *testing.T) {
	s := openTestStore(t)
	room, _ := s.CreateAgent(newTestAgent("Room"))

	require.NoError(t, s.CreateKey(room, "alpha"))
	require.NoError(t, s.CreateKey(room, "beta"))
	keys, err := s.KeysForRoom(room)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	require.NoError(t, s.RevokeKey(room, "alpha"))
	keys, err = s.KeysForRoom(room)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "beta", keys[0].Key)
	assert.Error(t, s.RevokeKey(room, "alpha"))

	req := &types.AccessRequest{ID: "req-1", RoomID: room, RequesterID: 5, Key: "beta"}
	require.NoError(t, s.CreateAccessRequest(req))
	pending, err := s.PendingRequests(room)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(5), pending[0].RequesterID)

	resolved, err := s.ResolveAccessRequest("req-1")
	require.NoError(t, err)
	assert.Equal(t, "beta", resolved.Key)

	pending, err = s.PendingRequests(room)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.ResolveAccessRequest("req-1")
	assert.Error(t, err)
}

func TestDeleteAgentCascades(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.CreateAgent(newTestAgent("Ada"))
	b, _ := s.CreateAgent(newTestAgent("Bob"))

	require.NoError(t, s.SaveMembership(&types.Membership{AgentID: a, RoomID: b}))
	require.NoError(t, s.SaveMembership(&types.Membership{AgentID: b, RoomID: a}))
	msg, err := s.AppendMessage(&types.Message{RoomID: a, Sender: "2", Content: "hi"})
	require.NoError(t, err)
	require.NoError(t, s.AddReaction(msg.ID, b, types.ReactHeart))
	require.NoError(t, s.CreateKey(a, "k"))
	require.NoError(t, s.CreateAccessRequest(&types.AccessRequest{
		ID: "r1", RoomID: a, RequesterID: b, Key: "k",
	}))

	require.NoError(t, s.DeleteAgent(a))

	gone, err := s.GetAgent(a)
	require.NoError(t, err)
	assert.Nil(t, gone)

	ms, err := s.MembershipsForAgent(a)
	require.NoError(t, err)
	assert.Empty(t, ms)
	ms, err = s.MembersOfRoom(a)
	require.NoError(t, err)
	assert.Empty(t, ms)

	msgs, err := s.MessagesForRoom(a)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	tallies, err := s.ReactionsForRoom(a)
	require.NoError(t, err)
	assert.Empty(t, tallies)

	keys, err := s.KeysForRoom(a)
	require.NoError(t, err)
	assert.Empty(t, keys)

	pending, err := s.PendingRequests(a)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Bob survives with only his self-side state intact.
	bob, err := s.GetAgent(b)
	require.NoError(t, err)
	require.NotNil(t, bob)

	assert.Error(t, s.DeleteAgent(a))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agora.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	id, err := s.CreateAgent(newTestAgent("Ada"))
	require.NoError(t, err)
	_, err = s.AppendMessage(&types.Message{RoomID: id, Sender: "architect", Content: "hello"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetAgent(id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Ada", got.Name)
	msgs, err := s2.MessagesForRoom(id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}
