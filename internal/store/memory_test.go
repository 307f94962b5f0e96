package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/types"
)

func TestMemoryReactionsDeduplicatePerReactor(t *testing.T) {
	s := NewMemoryStore()
	room, err := s.CreateAgent(newTestAgent("Room"))
	require.NoError(t, err)
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
