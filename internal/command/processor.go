// Package command validates and applies an agent's returned actions against
// current state. Actions are applied in order, atomically per action: one
// malformed action never blocks the others. Every applied action is recorded
// in the agent's action log, which the HUD surfaces back to the agent.
package command

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora/internal/knowledge"
	"agora/internal/logging"
	"agora/internal/types"
)

// PermissionError is returned when an action is rejected by a permission
// rule. Only the offending action is skipped.
type PermissionError struct {
	Action string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Action, e.Reason)
}

// Processor applies agent actions.
type Processor struct {
	store        types.Store
	reactionStep float64

	mu   sync.Mutex
	logs map[int64][]types.ActionRecord
}

// NewProcessor builds a processor. reactionStep is the interval adjustment
// applied by thumbs reactions, in seconds.
func NewProcessor(store types.Store, reactionStep float64) *Processor {
	if reactionStep <= 0 {
		reactionStep = DefaultReactionStep
	}
	return &Processor{
		store:        store,
		reactionStep: reactionStep,
		logs:         make(map[int64][]types.ActionRecord),
	}
}

// Recent returns the agent's action log, oldest first.
func (p *Processor) Recent(agentID int64) []types.ActionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.ActionRecord, len(p.logs[agentID]))
	copy(out, p.logs[agentID])
	return out
}

// RecordFailure notes a failed cycle (decode error, provider timeout) in
// the agent's action log so the agent sees it on its next HUD.
func (p *Processor) RecordFailure(agentID int64, reason string) {
	p.record(agentID, types.ActionRecord{
		Timestamp: time.Now().UTC(),
		Type:      "cycle_failed",
		Result:    "error: " + reason,
	})
}

func (p *Processor) record(agentID int64, rec types.ActionRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := append(p.logs[agentID], rec)
	if len(log) > types.ActionLogDepth {
		log = log[len(log)-types.ActionLogDepth:]
	}
	p.logs[agentID] = log
}

// Apply runs the agent's actions in order and returns the report. The
// agent record is saved once at the end when any action mutated it.
func (p *Processor) Apply(agent *types.Agent, actions []types.Action, now time.Time) *types.Report {
	report := &types.Report{AgentID: agent.ID}
	know := knowledge.FromJSON(agent.KnowledgeJSON)
	agentDirty := false
	knowDirty := false

	for i, a := range actions {
		err := p.apply(agent, know, a, now, &agentDirty, &knowDirty)
		entry := types.AppliedAction{Index: i, Type: a.Type}
		if err != nil {
			entry.Reason = err.Error()
			report.Rejected = append(report.Rejected, entry)
			logging.CommandWarn("agent %d: rejected %s: %v", agent.ID, a.Type, err)
			continue
		}
		report.Applied = append(report.Applied, entry)
		p.record(agent.ID, types.ActionRecord{
			Timestamp: now.UTC(),
			Type:      a.Type,
			Detail:    actionDetail(a),
			Result:    "ok",
		})
	}

	if knowDirty {
		if data, err := know.ToJSON(); err == nil {
			agent.KnowledgeJSON = data
			agentDirty = true
		}
	}
	if agentDirty {
		if err := p.store.SaveAgent(agent); err != nil {
			logging.CommandWarn("agent %d: save after actions: %v", agent.ID, err)
		}
	}

	logging.Command("agent %d: applied %d, rejected %d", agent.ID, len(report.Applied), len(report.Rejected))
	return report
}

func (p *Processor) apply(agent *types.Agent, know *knowledge.Store, a types.Action, now time.Time, agentDirty, knowDirty *bool) error {
	switch a.Type {
	case "set":
		if a.Path == "" {
			return fmt.Errorf("set: empty path")
		}
		ok := false
		if a.Weight != nil {
			ok = know.SetWeighted(a.Path, a.Value, *a.Weight)
		} else {
			ok = know.Set(a.Path, a.Value)
		}
		if !ok {
			return fmt.Errorf("set: path %q does not resolve", a.Path)
		}
		*knowDirty = true
		return nil

	case "delete":
		if a.Path == "" {
			return fmt.Errorf("delete: empty path")
		}
		if !know.Delete(a.Path) {
			return fmt.Errorf("delete: path %q not found", a.Path)
		}
		*knowDirty = true
		return nil

	case "append":
		if a.Path == "" {
			return fmt.Errorf("append: empty path")
		}
		if !know.Append(a.Path, a.Value) {
			return fmt.Errorf("append: path %q does not resolve", a.Path)
		}
		*knowDirty = true
		return nil

	case "react":
		return p.applyReact(agent, a)

	case "create_key":
		if a.Key == "" {
			return fmt.Errorf("create_key: empty key")
		}
		return p.store.CreateKey(agent.ID, a.Key)

	case "revoke_key":
		if a.Key == "" {
			return fmt.Errorf("revoke_key: empty key")
		}
		return p.store.RevokeKey(agent.ID, a.Key)

	case "request_access":
		return p.applyRequestAccess(agent, a, now)

	case "grant_access":
		return p.applyGrantAccess(agent, a, now)

	case "deny_access":
		return p.applyDenyAccess(agent, a)

	case "leave_room":
		if a.RoomID == agent.ID {
			return &PermissionError{Action: "leave_room", Reason: "cannot leave own room"}
		}
		m, err := p.store.GetMembership(agent.ID, a.RoomID)
		if err != nil || m == nil {
			return fmt.Errorf("leave_room: not a member of room %d", a.RoomID)
		}
		return p.store.DeleteMembership(agent.ID, a.RoomID)

	case "set_attention":
		return p.applySetAttention(agent, a)

	case "set_billboard":
		agent.RoomBillboard = a.Billboard
		*agentDirty = true
		return nil

	case "set_wpm":
		wpm := a.WPM
		if wpm < types.MinRoomWPM {
			wpm = types.MinRoomWPM
		}
		if wpm > types.MaxRoomWPM {
			wpm = types.MaxRoomWPM
		}
		agent.RoomWPM = wpm
		*agentDirty = true
		return nil

	case "set_name":
		name := strings.TrimSpace(a.Name)
		if name == "" || len(name) > 50 {
			return fmt.Errorf("set_name: name must be 1-50 characters")
		}
		agent.Name = name
		*agentDirty = true
		return nil

	case "sleep":
		if a.Seconds <= 0 {
			return fmt.Errorf("sleep: seconds must be positive")
		}
		wake := now.Add(time.Duration(a.Seconds * float64(time.Second)))
		agent.SleepUntil = &wake
		agent.Status = types.StatusSleeping
		*agentDirty = true
		return nil

	case "create_agent":
		return p.applyCreateAgent(agent, a, now)

	case "alter_agent":
		return p.applyAlterAgent(agent, a)

	case "retire_agent":
		if err := p.requireLifecycle(agent, a.TargetID, "retire_agent"); err != nil {
			return err
		}
		if a.TargetID == agent.ID {
			return &PermissionError{Action: "retire_agent", Reason: "cannot retire yourself"}
		}
		return p.store.DeleteAgent(a.TargetID)

	case "wake_agent":
		return p.applyWakeAgent(agent, a)

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (p *Processor) applyReact(agent *types.Agent, a types.Action) error {
	if !types.ValidReaction(a.Reaction) {
		return fmt.Errorf("react: invalid reaction %q", a.Reaction)
	}
	msg, err := p.store.GetMessage(a.MessageID)
	if err != nil || msg == nil {
		return fmt.Errorf("react: message %d not found", a.MessageID)
	}
	self := strconv.FormatInt(agent.ID, 10)
	if msg.Sender == self {
		return &PermissionError{Action: "react", Reason: "cannot react to your own message"}
	}
	if err := p.store.AddReaction(a.MessageID, agent.ID, a.Reaction); err != nil {
		return fmt.Errorf("react: %w", err)
	}

	// Thumbs feedback tunes the sender's heartbeat. Reserved senders
	// (operator, system) have no heartbeat to tune.
	var delta float64
	switch a.Reaction {
	case types.ReactThumbsUp:
		delta = -p.reactionStep
	case types.ReactThumbsDown:
		delta = p.reactionStep
	default:
		return nil
	}
	senderID, err := strconv.ParseInt(msg.Sender, 10, 64)
	if err != nil {
		return nil
	}
	target, err := p.store.GetAgent(senderID)
	if err != nil || target == nil {
		return nil
	}
	target.HeartbeatInterval = NextInterval(target.HeartbeatInterval, delta)
	if err := p.store.SaveAgent(target); err != nil {
		return fmt.Errorf("react: save sender: %w", err)
	}
	return nil
}

func (p *Processor) applyRequestAccess(agent *types.Agent, a types.Action, now time.Time) error {
	if a.RoomID == agent.ID {
		return fmt.Errorf("request_access: already own room %d", a.RoomID)
	}
	if m, _ := p.store.GetMembership(agent.ID, a.RoomID); m != nil {
		return fmt.Errorf("request_access: already a member of room %d", a.RoomID)
	}
	if room, err := p.store.GetAgent(a.RoomID); err != nil || room == nil {
		return fmt.Errorf("request_access: room %d not found", a.RoomID)
	}
	return p.store.CreateAccessRequest(&types.AccessRequest{
		ID:          uuid.NewString(),
		RoomID:      a.RoomID,
		RequesterID: agent.ID,
		Key:         a.Key,
		CreatedAt:   now.UTC(),
	})
}

func (p *Processor) applyGrantAccess(agent *types.Agent, a types.Action, now time.Time) error {
	req, err := p.resolveOwnRequest(agent, a.RequestID, "grant_access")
	if err != nil {
		return err
	}
	return p.store.SaveMembership(&types.Membership{
		AgentID:   req.RequesterID,
		RoomID:    agent.ID,
		JoinedAt:  now.UTC(),
		IsDynamic: true,
	})
}

func (p *Processor) applyDenyAccess(agent *types.Agent, a types.Action) error {
	_, err := p.resolveOwnRequest(agent, a.RequestID, "deny_access")
	return err
}

// resolveOwnRequest validates that the request is pending on the acting
// agent's own room before resolving it.
func (p *Processor) resolveOwnRequest(agent *types.Agent, requestID, action string) (*types.AccessRequest, error) {
	pending, err := p.store.PendingRequests(agent.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", action, err)
	}
	for _, req := range pending {
		if req.ID == requestID {
			return p.store.ResolveAccessRequest(requestID)
		}
	}
	return nil, &PermissionError{Action: action, Reason: fmt.Sprintf("request %q is not pending on your room", requestID)}
}

func (p *Processor) applySetAttention(agent *types.Agent, a types.Action) error {
	m, err := p.store.GetMembership(agent.ID, a.RoomID)
	if err != nil || m == nil {
		return fmt.Errorf("set_attention: not a member of room %d", a.RoomID)
	}
	switch v := a.Value.(type) {
	case string:
		if v != types.DynamicAttention {
			return fmt.Errorf("set_attention: value must be a percentage or %q", types.DynamicAttention)
		}
		m.IsDynamic = true
		m.AttentionPct = 0
	case float64:
		if v < 0 || v > 100 {
			return fmt.Errorf("set_attention: percentage %.1f out of range", v)
		}
		m.IsDynamic = false
		m.AttentionPct = v
	default:
		return fmt.Errorf("set_attention: missing value")
	}
	// The <=100 sum invariant is checked by the allocator on its next
	// read, not at write time.
	return p.store.SaveMembership(m)
}

func (p *Processor) applyCreateAgent(agent *types.Agent, a types.Action, now time.Time) error {
	if !agent.CanCreateAgents {
		return &PermissionError{Action: "create_agent", Reason: "agent lacks creation capability"}
	}
	if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Seed) == "" {
		return fmt.Errorf("create_agent: name and seed are required")
	}
	agentType := types.AgentPersona
	if a.AgentType == string(types.AgentBot) {
		agentType = types.AgentBot
	}
	model := a.Model
	if model == "" {
		model = agent.Model
	}

	created := &types.Agent{
		Name:              strings.TrimSpace(a.Name),
		Seed:              a.Seed,
		Type:              agentType,
		Model:             model,
		Status:            types.StatusIdle,
		HeartbeatInterval: 5.0,
		OutputFormat:      agent.OutputFormat,
		RoomWPM:           types.DefaultRoomWPM,
		CreatedAt:         now.UTC(),
	}
	id, err := p.store.CreateAgent(created)
	if err != nil {
		return fmt.Errorf("create_agent: %w", err)
	}

	// Every agent owns its room.
	if err := p.store.SaveMembership(&types.Membership{
		AgentID:    id,
		RoomID:     id,
		JoinedAt:   now.UTC(),
		IsSelfRoom: true,
		IsDynamic:  true,
	}); err != nil {
		return fmt.Errorf("create_agent: self membership: %w", err)
	}

	// Optionally drop the newborn into one of the creator's rooms.
	if a.InRoomID != 0 {
		if m, _ := p.store.GetMembership(agent.ID, a.InRoomID); m == nil {
			return &PermissionError{Action: "create_agent", Reason: fmt.Sprintf("you are not a member of room %d", a.InRoomID)}
		}
		if err := p.store.SaveMembership(&types.Membership{
			AgentID:   id,
			RoomID:    a.InRoomID,
			JoinedAt:  now.UTC(),
			IsDynamic: true,
		}); err != nil {
			return fmt.Errorf("create_agent: room membership: %w", err)
		}
	}
	return nil
}

func (p *Processor) applyAlterAgent(agent *types.Agent, a types.Action) error {
	if err := p.requireLifecycle(agent, a.TargetID, "alter_agent"); err != nil {
		return err
	}
	target, err := p.store.GetAgent(a.TargetID)
	if err != nil || target == nil {
		return fmt.Errorf("alter_agent: agent %d not found", a.TargetID)
	}
	changed := false
	if a.Seed != "" {
		target.Seed = a.Seed
		changed = true
	}
	if a.Model != "" {
		target.Model = a.Model
		changed = true
	}
	if !changed {
		return fmt.Errorf("alter_agent: nothing to change")
	}
	return p.store.SaveAgent(target)
}

func (p *Processor) applyWakeAgent(agent *types.Agent, a types.Action) error {
	if err := p.requireLifecycle(agent, a.TargetID, "wake_agent"); err != nil {
		return err
	}
	target, err := p.store.GetAgent(a.TargetID)
	if err != nil || target == nil {
		return fmt.Errorf("wake_agent: agent %d not found", a.TargetID)
	}
	if target.Status != types.StatusSleeping {
		return fmt.Errorf("wake_agent: agent %d is not sleeping", a.TargetID)
	}
	target.Status = types.StatusIdle
	target.SleepUntil = nil
	return p.store.SaveAgent(target)
}

// requireLifecycle enforces the two gates on targeted lifecycle actions:
// the creation capability and room proximity (the actor and target must
// share at least one room).
func (p *Processor) requireLifecycle(agent *types.Agent, targetID int64, action string) error {
	if !agent.CanCreateAgents {
		return &PermissionError{Action: action, Reason: "agent lacks creation capability"}
	}
	mine, err := p.store.MembershipsForAgent(agent.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	theirs, err := p.store.MembershipsForAgent(targetID)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	rooms := make(map[int64]bool, len(mine))
	for _, m := range mine {
		rooms[m.RoomID] = true
	}
	for _, m := range theirs {
		if rooms[m.RoomID] {
			return nil
		}
	}
	return &PermissionError{Action: action, Reason: fmt.Sprintf("no shared room with agent %d", targetID)}
}

// actionDetail extracts the loggable fields of an action for the action
// log. Values are kept small; the log is re-serialized into every HUD.
func actionDetail(a types.Action) map[string]any {
	d := make(map[string]any)
	if a.Path != "" {
		d["path"] = a.Path
	}
	if a.RoomID != 0 {
		d["room_id"] = a.RoomID
	}
	if a.MessageID != 0 {
		d["message_id"] = a.MessageID
	}
	if a.Reaction != "" {
		d["reaction"] = a.Reaction
	}
	if a.TargetID != 0 {
		d["agent_id"] = a.TargetID
	}
	if len(d) == 0 {
		return nil
	}
	return d
}
