package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"agora/internal/types"
)

// MemoryStore is an in-memory types.Store. It backs tests and ephemeral
// runs; durable deployments use the SQLite store.
type MemoryStore struct {
	mu          sync.Mutex
	nextAgentID int64
	nextMsgID   int64
	agents      map[int64]*types.Agent
	memberships map[[2]int64]*types.Membership // [agentID, roomID]
	messages    map[int64]*types.Message
	roomSeq     map[int64]int64
	reactions   map[int64]map[string]int // messageID -> kind -> count
	reactedBy   map[int64]int64          // messageID -> roomID
	reactors    map[reactionKey]bool
	keys        map[int64][]string
	requests    map[string]*types.AccessRequest
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextAgentID: 1,
		nextMsgID:   1,
		agents:      make(map[int64]*types.Agent),
		memberships: make(map[[2]int64]*types.Membership),
		messages:    make(map[int64]*types.Message),
		roomSeq:     make(map[int64]int64),
		reactions:   make(map[int64]map[string]int),
		reactedBy:   make(map[int64]int64),
		reactors:    make(map[reactionKey]bool),
		keys:        make(map[int64][]string),
		requests:    make(map[string]*types.AccessRequest),
	}
}

func copyAgent(a *types.Agent) *types.Agent {
	c := *a
	if a.SleepUntil != nil {
		t := *a.SleepUntil
		c.SleepUntil = &t
	}
	return &c
}

func copyMembership(m *types.Membership) *types.Membership {
	c := *m
	if m.LastResponseAt != nil {
		t := *m.LastResponseAt
		c.LastResponseAt = &t
	}
	return &c
}

func (s *MemoryStore) GetAgent(id int64) (*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, nil
	}
	return copyAgent(a), nil
}

func (s *MemoryStore) ListAgents() ([]*types.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, copyAgent(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveAgent(a *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[a.ID]; !ok {
		return fmt.Errorf("agent %d not found", a.ID)
	}
	s.agents[a.ID] = copyAgent(a)
	return nil
}

func (s *MemoryStore) CreateAgent(a *types.Agent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextAgentID
	s.nextAgentID++
	s.agents[a.ID] = copyAgent(a)
	return a.ID, nil
}

func (s *MemoryStore) DeleteAgent(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("agent %d not found", id)
	}
	delete(s.agents, id)
	for key := range s.memberships {
		if key[0] == id || key[1] == id {
			delete(s.memberships, key)
		}
	}
	for msgID, msg := range s.messages {
		if msg.RoomID == id {
			delete(s.messages, msgID)
			delete(s.reactions, msgID)
			delete(s.reactedBy, msgID)
			for rk := range s.reactors {
				if rk.messageID == msgID {
					delete(s.reactors, rk)
				}
			}
		}
	}
	delete(s.roomSeq, id)
	delete(s.keys, id)
	for reqID, req := range s.requests {
		if req.RoomID == id || req.RequesterID == id {
			delete(s.requests, reqID)
		}
	}
	return nil
}

func (s *MemoryStore) MembershipsForAgent(agentID int64) ([]*types.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Membership
	for _, m := range s.memberships {
		if m.AgentID == agentID {
			out = append(out, copyMembership(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out, nil
}

func (s *MemoryStore) MembersOfRoom(roomID int64) ([]*types.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Membership
	for _, m := range s.memberships {
		if m.RoomID == roomID {
			out = append(out, copyMembership(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (s *MemoryStore) GetMembership(agentID, roomID int64) (*types.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[[2]int64{agentID, roomID}]
	if !ok {
		return nil, nil
	}
	return copyMembership(m), nil
}

func (s *MemoryStore) SaveMembership(m *types.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[[2]int64{m.AgentID, m.RoomID}] = copyMembership(m)
	return nil
}

func (s *MemoryStore) DeleteMembership(agentID, roomID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]int64{agentID, roomID}
	if _, ok := s.memberships[key]; !ok {
		return fmt.Errorf("membership %d/%d not found", agentID, roomID)
	}
	delete(s.memberships, key)
	return nil
}

func (s *MemoryStore) MessagesForRoom(roomID int64) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) GetMessage(id int64) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	c := *m
	return &c, nil
}

func (s *MemoryStore) AppendMessage(m *types.Message) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *m
	c.ID = s.nextMsgID
	s.nextMsgID++
	s.roomSeq[c.RoomID]++
	c.Seq = s.roomSeq[c.RoomID]
	if c.SentAt.IsZero() {
		c.SentAt = time.Now().UTC()
	}
	if c.Kind == "" {
		c.Kind = "text"
	}
	s.messages[c.ID] = &c
	out := c
	return &out, nil
}

// reactionKey identifies a single reactor's reaction of one kind.
type reactionKey struct {
	messageID int64
	reactorID int64
	kind      string
}

func (s *MemoryStore) AddReaction(messageID, reactorID int64, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return fmt.Errorf("message %d not found", messageID)
	}
	// Repeats from the same reactor are no-ops, matching the SQLite
	// store's primary key.
	rk := reactionKey{messageID: messageID, reactorID: reactorID, kind: kind}
	if s.reactors[rk] {
		return nil
	}
	s.reactors[rk] = true
	if s.reactions[messageID] == nil {
		s.reactions[messageID] = make(map[string]int)
	}
	s.reactions[messageID][kind]++
	s.reactedBy[messageID] = msg.RoomID
	return nil
}

func (s *MemoryStore) ReactionsForRoom(roomID int64) (map[int64]map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]map[string]int)
	for msgID, counts := range s.reactions {
		if s.reactedBy[msgID] != roomID {
			continue
		}
		c := make(map[string]int, len(counts))
		for k, v := range counts {
			c[k] = v
		}
		out[msgID] = c
	}
	return out, nil
}

func (s *MemoryStore) KeysForRoom(roomID int64) ([]*types.RoomKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.RoomKey, 0, len(s.keys[roomID]))
	for _, k := range s.keys[roomID] {
		out = append(out, &types.RoomKey{RoomID: roomID, Key: k})
	}
	return out, nil
}

func (s *MemoryStore) CreateKey(roomID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys[roomID] {
		if k == key {
			return fmt.Errorf("key %q already exists", key)
		}
	}
	s.keys[roomID] = append(s.keys[roomID], key)
	return nil
}

func (s *MemoryStore) RevokeKey(roomID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, k := range s.keys[roomID] {
		if k == key {
			s.keys[roomID] = append(s.keys[roomID][:i], s.keys[roomID][i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("key %q not found", key)
}

func (s *MemoryStore) PendingRequests(roomID int64) ([]*types.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.AccessRequest
	for _, r := range s.requests {
		if r.RoomID == roomID {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateAccessRequest(r *types.AccessRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *r
	s.requests[r.ID] = &c
	return nil
}

func (s *MemoryStore) ResolveAccessRequest(id string) (*types.AccessRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %q not found", id)
	}
	delete(s.requests, id)
	return r, nil
}
