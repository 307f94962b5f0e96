// Package store provides persistence for agents, memberships, messages,
// reactions, room keys, and access requests. The SQLite implementation is
// the durable backend; MemoryStore serves tests and ephemeral runs.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"agora/internal/logging"
	"agora/internal/types"
)

// SQLiteStore implements types.Store on a single SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logging.Store("opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreError("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreError("failed to set journal_mode=WAL: %v", err)
	}
	// NORMAL is safe with WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreError("failed to set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreError("failed to enable foreign_keys: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		seed TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'persona',
		model TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL DEFAULT 0.7,
		created_at TIMESTAMP NOT NULL,
		can_create_agents INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'idle',
		heartbeat_interval REAL NOT NULL DEFAULT 5.0,
		sleep_until TIMESTAMP,
		total_tokens_used INTEGER NOT NULL DEFAULT 0,
		continuation_token TEXT NOT NULL DEFAULT '',
		output_format TEXT NOT NULL DEFAULT 'verbose',
		knowledge_json TEXT NOT NULL DEFAULT '{}',
		room_wpm INTEGER NOT NULL DEFAULT 80,
		room_billboard TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS memberships (
		agent_id INTEGER NOT NULL,
		room_id INTEGER NOT NULL,
		joined_at TIMESTAMP NOT NULL,
		attention_pct REAL NOT NULL DEFAULT 0,
		is_dynamic INTEGER NOT NULL DEFAULT 1,
		is_self_room INTEGER NOT NULL DEFAULT 0,
		last_seen_seq INTEGER NOT NULL DEFAULT 0,
		last_response_at TIMESTAMP,
		last_response_words INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (agent_id, room_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL,
		seq INTEGER NOT NULL,
		kind TEXT NOT NULL DEFAULT 'text',
		reply_to INTEGER NOT NULL DEFAULT 0,
		UNIQUE (room_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, seq);

	CREATE TABLE IF NOT EXISTS reactions (
		message_id INTEGER NOT NULL,
		reactor_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		room_id INTEGER NOT NULL,
		PRIMARY KEY (message_id, reactor_id, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_reactions_room ON reactions(room_id);

	CREATE TABLE IF NOT EXISTS room_keys (
		room_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (room_id, key)
	);

	CREATE TABLE IF NOT EXISTS access_requests (
		id TEXT PRIMARY KEY,
		room_id INTEGER NOT NULL,
		requester_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_requests_room ON access_requests(room_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const agentColumns = `id, name, seed, type, model, temperature, created_at,
	can_create_agents, status, heartbeat_interval, sleep_until,
	total_tokens_used, continuation_token, output_format, knowledge_json,
	room_wpm, room_billboard`

func scanAgent(row interface{ Scan(...any) error }) (*types.Agent, error) {
	var a types.Agent
	var sleepUntil sql.NullTime
	var agentType, status string
	err := row.Scan(&a.ID, &a.Name, &a.Seed, &agentType, &a.Model, &a.Temperature,
		&a.CreatedAt, &a.CanCreateAgents, &status, &a.HeartbeatInterval,
		&sleepUntil, &a.TotalTokensUsed, &a.ContinuationToken, &a.OutputFormat,
		&a.KnowledgeJSON, &a.RoomWPM, &a.RoomBillboard)
	if err != nil {
		return nil, err
	}
	a.Type = types.AgentType(agentType)
	a.Status = types.AgentStatus(status)
	if sleepUntil.Valid {
		t := sleepUntil.Time
		a.SleepUntil = &t
	}
	return &a, nil
}

func (s *SQLiteStore) GetAgent(id int64) (*types.Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %d: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) ListAgents() ([]*types.Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAgent(a *types.Agent) error {
	var sleepUntil any
	if a.SleepUntil != nil {
		sleepUntil = a.SleepUntil.UTC()
	}
	res, err := s.db.Exec(`UPDATE agents SET name=?, seed=?, type=?, model=?,
		temperature=?, can_create_agents=?, status=?, heartbeat_interval=?,
		sleep_until=?, total_tokens_used=?, continuation_token=?,
		output_format=?, knowledge_json=?, room_wpm=?, room_billboard=?
		WHERE id=?`,
		a.Name, a.Seed, string(a.Type), a.Model, a.Temperature,
		a.CanCreateAgents, string(a.Status), a.HeartbeatInterval,
		sleepUntil, a.TotalTokensUsed, a.ContinuationToken,
		a.OutputFormat, a.KnowledgeJSON, a.RoomWPM, a.RoomBillboard, a.ID)
	if err != nil {
		return fmt.Errorf("save agent %d: %w", a.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("agent %d not found", a.ID)
	}
	return nil
}

func (s *SQLiteStore) CreateAgent(a *types.Agent) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var sleepUntil any
	if a.SleepUntil != nil {
		sleepUntil = a.SleepUntil.UTC()
	}
	res, err := s.db.Exec(`INSERT INTO agents (name, seed, type, model,
		temperature, created_at, can_create_agents, status,
		heartbeat_interval, sleep_until, total_tokens_used,
		continuation_token, output_format, knowledge_json, room_wpm,
		room_billboard)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.Name, a.Seed, string(a.Type), a.Model, a.Temperature,
		a.CreatedAt.UTC(), a.CanCreateAgents, string(a.Status),
		a.HeartbeatInterval, sleepUntil, a.TotalTokensUsed,
		a.ContinuationToken, a.OutputFormat, a.KnowledgeJSON,
		a.RoomWPM, a.RoomBillboard)
	if err != nil {
		return 0, fmt.Errorf("create agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create agent: %w", err)
	}
	a.ID = id
	return id, nil
}

func (s *SQLiteStore) DeleteAgent(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete agent %d: %w", id, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %d not found", id)
	}
	for _, q := range []string{
		`DELETE FROM memberships WHERE agent_id = ? OR room_id = ?`,
		`DELETE FROM reactions WHERE room_id = ? OR reactor_id = ?`,
		`DELETE FROM messages WHERE room_id = ? OR room_id = ?`,
		`DELETE FROM room_keys WHERE room_id = ? OR room_id = ?`,
		`DELETE FROM access_requests WHERE room_id = ? OR requester_id = ?`,
	} {
		if _, err := tx.Exec(q, id, id); err != nil {
			return fmt.Errorf("delete agent %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func scanMembership(row interface{ Scan(...any) error }) (*types.Membership, error) {
	var m types.Membership
	var lastResponse sql.NullTime
	err := row.Scan(&m.AgentID, &m.RoomID, &m.JoinedAt, &m.AttentionPct,
		&m.IsDynamic, &m.IsSelfRoom, &m.LastSeenSeq, &lastResponse,
		&m.LastResponseWords)
	if err != nil {
		return nil, err
	}
	if lastResponse.Valid {
		t := lastResponse.Time
		m.LastResponseAt = &t
	}
	return &m, nil
}

const membershipColumns = `agent_id, room_id, joined_at, attention_pct,
	is_dynamic, is_self_room, last_seen_seq, last_response_at,
	last_response_words`

func (s *SQLiteStore) MembershipsForAgent(agentID int64) ([]*types.Membership, error) {
	return s.queryMemberships(`SELECT `+membershipColumns+` FROM memberships
		WHERE agent_id = ? ORDER BY room_id`, agentID)
}

func (s *SQLiteStore) MembersOfRoom(roomID int64) ([]*types.Membership, error) {
	return s.queryMemberships(`SELECT `+membershipColumns+` FROM memberships
		WHERE room_id = ? ORDER BY agent_id`, roomID)
}

func (s *SQLiteStore) queryMemberships(query string, arg int64) ([]*types.Membership, error) {
	rows, err := s.db.Query(query, arg)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var out []*types.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMembership(agentID, roomID int64) (*types.Membership, error) {
	row := s.db.QueryRow(`SELECT `+membershipColumns+` FROM memberships
		WHERE agent_id = ? AND room_id = ?`, agentID, roomID)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership %d/%d: %w", agentID, roomID, err)
	}
	return m, nil
}

func (s *SQLiteStore) SaveMembership(m *types.Membership) error {
	var lastResponse any
	if m.LastResponseAt != nil {
		lastResponse = m.LastResponseAt.UTC()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO memberships (agent_id, room_id,
		joined_at, attention_pct, is_dynamic, is_self_room, last_seen_seq,
		last_response_at, last_response_words)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (agent_id, room_id) DO UPDATE SET
		attention_pct=excluded.attention_pct,
		is_dynamic=excluded.is_dynamic,
		is_self_room=excluded.is_self_room,
		last_seen_seq=excluded.last_seen_seq,
		last_response_at=excluded.last_response_at,
		last_response_words=excluded.last_response_words`,
		m.AgentID, m.RoomID, m.JoinedAt.UTC(), m.AttentionPct, m.IsDynamic,
		m.IsSelfRoom, m.LastSeenSeq, lastResponse, m.LastResponseWords)
	if err != nil {
		return fmt.Errorf("save membership %d/%d: %w", m.AgentID, m.RoomID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMembership(agentID, roomID int64) error {
	res, err := s.db.Exec(`DELETE FROM memberships WHERE agent_id = ? AND room_id = ?`,
		agentID, roomID)
	if err != nil {
		return fmt.Errorf("delete membership %d/%d: %w", agentID, roomID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("membership %d/%d not found", agentID, roomID)
	}
	return nil
}

func (s *SQLiteStore) MessagesForRoom(roomID int64) ([]*types.Message, error) {
	rows, err := s.db.Query(`SELECT id, room_id, sender, content, sent_at,
		seq, kind, reply_to FROM messages WHERE room_id = ? ORDER BY seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("messages for room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.Sender, &m.Content,
			&m.SentAt, &m.Seq, &m.Kind, &m.ReplyTo); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetMessage(id int64) (*types.Message, error) {
	var m types.Message
	err := s.db.QueryRow(`SELECT id, room_id, sender, content, sent_at, seq,
		kind, reply_to FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.RoomID, &m.Sender, &m.Content, &m.SentAt, &m.Seq,
			&m.Kind, &m.ReplyTo)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return &m, nil
}

// AppendMessage assigns the room's next sequence number inside a
// transaction so that concurrent writers never interleave.
func (s *SQLiteStore) AppendMessage(m *types.Message) (*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages
		WHERE room_id = ?`, m.RoomID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("append message: next seq: %w", err)
	}

	sentAt := m.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	kind := m.Kind
	if kind == "" {
		kind = "text"
	}
	res, err := tx.Exec(`INSERT INTO messages (room_id, sender, content,
		sent_at, seq, kind, reply_to) VALUES (?,?,?,?,?,?,?)`,
		m.RoomID, m.Sender, m.Content, sentAt.UTC(), seq, kind, m.ReplyTo)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	out := *m
	out.ID = id
	out.Seq = seq
	out.SentAt = sentAt
	out.Kind = kind
	return &out, nil
}

func (s *SQLiteStore) AddReaction(messageID, reactorID int64, kind string) error {
	msg, err := s.GetMessage(messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message %d not found", messageID)
	}
	_, err = s.db.Exec(`INSERT INTO reactions (message_id, reactor_id, kind, room_id)
		VALUES (?,?,?,?)
		ON CONFLICT (message_id, reactor_id, kind) DO NOTHING`,
		messageID, reactorID, kind, msg.RoomID)
	if err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ReactionsForRoom(roomID int64) (map[int64]map[string]int, error) {
	rows, err := s.db.Query(`SELECT message_id, kind, COUNT(*) FROM reactions
		WHERE room_id = ? GROUP BY message_id, kind`, roomID)
	if err != nil {
		return nil, fmt.Errorf("reactions for room %d: %w", roomID, err)
	}
	defer rows.Close()

	out := make(map[int64]map[string]int)
	for rows.Next() {
		var msgID int64
		var kind string
		var count int
		if err := rows.Scan(&msgID, &kind, &count); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		if out[msgID] == nil {
			out[msgID] = make(map[string]int)
		}
		out[msgID][kind] = count
	}
	return out, rows.Err()
}

func (s *SQLiteStore) KeysForRoom(roomID int64) ([]*types.RoomKey, error) {
	rows, err := s.db.Query(`SELECT room_id, key, created_at FROM room_keys
		WHERE room_id = ? ORDER BY created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("keys for room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []*types.RoomKey
	for rows.Next() {
		var k types.RoomKey
		if err := rows.Scan(&k.RoomID, &k.Key, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateKey(roomID int64, key string) error {
	_, err := s.db.Exec(`INSERT INTO room_keys (room_id, key, created_at)
		VALUES (?,?,?)`, roomID, key, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RevokeKey(roomID int64, key string) error {
	res, err := s.db.Exec(`DELETE FROM room_keys WHERE room_id = ? AND key = ?`,
		roomID, key)
	if err != nil {
		return fmt.Errorf("revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("key %q not found", key)
	}
	return nil
}

func (s *SQLiteStore) PendingRequests(roomID int64) ([]*types.AccessRequest, error) {
	rows, err := s.db.Query(`SELECT id, room_id, requester_id, key, created_at
		FROM access_requests WHERE room_id = ? ORDER BY created_at`, roomID)
	if err != nil {
		return nil, fmt.Errorf("pending requests for room %d: %w", roomID, err)
	}
	defer rows.Close()

	var out []*types.AccessRequest
	for rows.Next() {
		var r types.AccessRequest
		if err := rows.Scan(&r.ID, &r.RoomID, &r.RequesterID, &r.Key, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateAccessRequest(r *types.AccessRequest) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO access_requests (id, room_id,
		requester_id, key, created_at) VALUES (?,?,?,?,?)`,
		r.ID, r.RoomID, r.RequesterID, r.Key, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create access request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveAccessRequest(id string) (*types.AccessRequest, error) {
	var r types.AccessRequest
	err := s.db.QueryRow(`SELECT id, room_id, requester_id, key, created_at
		FROM access_requests WHERE id = ?`, id).
		Scan(&r.ID, &r.RoomID, &r.RequesterID, &r.Key, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %q not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve request %q: %w", id, err)
	}
	if _, err := s.db.Exec(`DELETE FROM access_requests WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("resolve request %q: %w", id, err)
	}
	return &r, nil
}
