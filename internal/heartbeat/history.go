package heartbeat

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one retained HUD, response, or error for an agent.
type HistoryEntry struct {
	ID      string    `json:"id"`
	AgentID int64     `json:"agent_id"`
	Kind    string    `json:"kind"` // "hud", "response", "error"
	Text    string    `json:"text"`
	Format  string    `json:"format,omitempty"`
	Tokens  int       `json:"tokens,omitempty"`
	At      time.Time `json:"at"`
}

// history is a per-agent ring of recent entries for the admin surface.
type history struct {
	mu      sync.Mutex
	depth   int
	entries map[int64][]HistoryEntry
}

func newHistory(depth int) *history {
	if depth <= 0 {
		depth = 50
	}
	return &history{
		depth:   depth,
		entries: make(map[int64][]HistoryEntry),
	}
}

func (h *history) record(agentID int64, kind, text, format string, tokens int, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := append(h.entries[agentID], HistoryEntry{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Kind:    kind,
		Text:    text,
		Format:  format,
		Tokens:  tokens,
		At:      at.UTC(),
	})
	if len(ring) > h.depth {
		ring = ring[len(ring)-h.depth:]
	}
	h.entries[agentID] = ring
}

// recent returns up to n entries for the agent, oldest first. n <= 0 means
// the full retained ring.
func (h *history) recent(agentID int64, n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := h.entries[agentID]
	if n > 0 && len(ring) > n {
		ring = ring[len(ring)-n:]
	}
	out := make([]HistoryEntry, len(ring))
	copy(out, ring)
	return out
}

func (h *history) drop(agentID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, agentID)
}
