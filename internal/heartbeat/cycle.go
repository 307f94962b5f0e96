package heartbeat

import (
	"context"
	"fmt"
	"time"

	"agora/internal/command"
	"agora/internal/hud"
	"agora/internal/logging"
	"agora/internal/types"
)

// runCycle executes one full heartbeat for an agent: HUD build, model
// call, paced delivery, and action application. A failure anywhere is
// isolated to this agent; the loop never sees it.
func (s *Scheduler) runCycle(ctx context.Context, agent *types.Agent) {
	defer func() {
		if r := recover(); r != nil {
			logging.HeartbeatError("agent %d: cycle panic: %v", agent.ID, r)
			s.finishCycle(agent, types.StatusIdle, false)
		}
	}()

	s.setStatus(agent, types.StatusThinking)
	now := time.Now().UTC()

	rooms, err := s.gatherRooms(agent, now)
	if err != nil {
		logging.HeartbeatError("agent %d: gather rooms: %v", agent.ID, err)
		s.finishCycle(agent, types.StatusIdle, false)
		return
	}

	result, err := s.builder.Build(agent, rooms, s.processor.Recent(agent.ID), now)
	if err != nil {
		logging.HeartbeatError("agent %d: build hud: %v", agent.ID, err)
		s.finishCycle(agent, types.StatusIdle, false)
		return
	}
	if result.ConfigErr != nil {
		logging.HeartbeatWarn("agent %d: %v", agent.ID, result.ConfigErr)
	}
	s.history.record(agent.ID, "hud", result.Text, string(result.Format), result.Tokens, now)

	// The model call is the only operation expected to block; it carries
	// the provider timeout, after which this cycle is abandoned with the
	// interval unchanged.
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	res, err := s.client.Complete(callCtx, types.CompletionRequest{
		Model:       agent.Model,
		Prompt:      result.Text,
		Temperature: agent.Temperature,
	})
	cancel()
	if err != nil {
		logging.HeartbeatWarn("agent %d: provider: %v", agent.ID, err)
		s.history.record(agent.ID, "error", err.Error(), "", 0, time.Now().UTC())
		s.finishCycle(agent, types.StatusIdle, false)
		return
	}

	agent.TotalTokensUsed += int64(res.TokensUsed)
	if res.Continuation != "" {
		agent.ContinuationToken = res.Continuation
	}

	resp, err := DecodeResponse(res.Text, result.Format)
	if err != nil {
		// The whole response is discarded; the failure lands in the
		// action log so the agent sees it next cycle.
		logging.HeartbeatWarn("agent %d: decode: %v", agent.ID, err)
		s.processor.RecordFailure(agent.ID, err.Error())
		s.history.record(agent.ID, "error", err.Error(), "", 0, time.Now().UTC())
		s.finishCycle(agent, types.StatusIdle, true)
		return
	}
	s.history.record(agent.ID, "response", res.Text, string(result.Format), res.TokensUsed, time.Now().UTC())

	s.deliver(ctx, agent, resp.Responses)
	report := s.processor.Apply(agent, resp.Actions, time.Now().UTC())
	if len(report.Rejected) > 0 {
		logging.HeartbeatDebug("agent %d: %d actions rejected", agent.ID, len(report.Rejected))
	}
	if err := s.store.SaveAgent(agent); err != nil {
		logging.HeartbeatWarn("agent %d: save: %v", agent.ID, err)
	}

	// A sleep action wins over the return to idle.
	final := types.StatusIdle
	if agent.Status == types.StatusSleeping {
		final = types.StatusSleeping
	}
	s.finishCycle(agent, final, true)
}

// finishCycle reschedules the agent. decay applies only to completed
// cycles; abandoned provider calls leave the interval untouched so the
// agent retries at its current pace.
func (s *Scheduler) finishCycle(agent *types.Agent, final types.AgentStatus, decay bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.agents[agent.ID]
	if !ok {
		return
	}
	// Thumbs reactions adjust the stored interval from other agents'
	// cycles, so the reschedule re-reads it rather than trusting the
	// tick-time snapshot.
	base := agent.HeartbeatInterval
	if stored, err := s.store.GetAgent(agent.ID); err == nil && stored != nil {
		base = stored.HeartbeatInterval
	}
	st.interval = command.ClampInterval(base)
	if decay {
		st.interval = command.NextInterval(st.interval, s.decayStep)
		agent.HeartbeatInterval = st.interval
	}
	st.status = final
	st.lastProcessed = time.Now().UTC()
	st.delay = s.jitteredDelay(st.interval)
	st.inFlight = false
	if decay {
		if err := s.store.SaveAgent(agent); err != nil {
			logging.HeartbeatWarn("agent %d: save interval: %v", agent.ID, err)
		}
	}
}

func (s *Scheduler) setStatus(agent *types.Agent, status types.AgentStatus) {
	agent.Status = status
	if err := s.store.SaveAgent(agent); err != nil {
		logging.HeartbeatWarn("agent %d: save status: %v", agent.ID, err)
	}
	s.mu.Lock()
	if st, ok := s.agents[agent.ID]; ok {
		st.status = status
	}
	s.mu.Unlock()
}

// gatherRooms assembles the builder's per-membership room data. Messages
// are filtered to those sent at or after the membership's join time.
func (s *Scheduler) gatherRooms(agent *types.Agent, now time.Time) ([]hud.RoomData, error) {
	memberships, err := s.store.MembershipsForAgent(agent.ID)
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}

	var rooms []hud.RoomData
	for _, m := range memberships {
		room, err := s.store.GetAgent(m.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room %d: %w", m.RoomID, err)
		}
		if room == nil {
			continue
		}

		all, err := s.store.MessagesForRoom(m.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room %d messages: %w", m.RoomID, err)
		}
		var visible []*types.Message
		for _, msg := range all {
			if !msg.SentAt.Before(m.JoinedAt) {
				visible = append(visible, msg)
			}
		}

		members, err := s.store.MembersOfRoom(m.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room %d members: %w", m.RoomID, err)
		}
		memberIDs := make([]int64, 0, len(members))
		for _, mm := range members {
			memberIDs = append(memberIDs, mm.AgentID)
		}

		reactions, err := s.store.ReactionsForRoom(m.RoomID)
		if err != nil {
			return nil, fmt.Errorf("room %d reactions: %w", m.RoomID, err)
		}

		rd := hud.RoomData{
			Room:       room,
			Membership: m,
			Messages:   visible,
			Members:    memberIDs,
			Reactions:  reactions,
		}

		if m.IsSelfRoom {
			keys, err := s.store.KeysForRoom(m.RoomID)
			if err != nil {
				return nil, fmt.Errorf("room %d keys: %w", m.RoomID, err)
			}
			for _, k := range keys {
				rd.Keys = append(rd.Keys, k.Key)
			}
			rd.Pending, err = s.store.PendingRequests(m.RoomID)
			if err != nil {
				return nil, fmt.Errorf("room %d requests: %w", m.RoomID, err)
			}
		}
		rooms = append(rooms, rd)
	}
	return rooms, nil
}

// deliver paces the agent's room messages out according to each room's
// words-per-minute allowance, chunked on blank lines.
func (s *Scheduler) deliver(ctx context.Context, agent *types.Agent, responses []types.RoomResponse) {
	for _, rr := range responses {
		m, err := s.store.GetMembership(agent.ID, rr.RoomID)
		if err != nil || m == nil {
			logging.HeartbeatWarn("agent %d: response to room %d without membership", agent.ID, rr.RoomID)
			continue
		}
		room, err := s.store.GetAgent(rr.RoomID)
		if err != nil || room == nil {
			continue
		}
		wpm := room.RoomWPM
		if wpm <= 0 {
			wpm = s.defaultWPM
		}

		// A reply reference must point at an existing message in the
		// same room, otherwise readers would chase a dangling thread.
		replyTo := rr.ReplyTo
		if replyTo != 0 {
			parent, err := s.store.GetMessage(replyTo)
			if err != nil || parent == nil || parent.RoomID != rr.RoomID {
				logging.HeartbeatWarn("agent %d: reply to unknown message %d in room %d", agent.ID, replyTo, rr.RoomID)
				replyTo = 0
			}
		}

		now := time.Now().UTC()
		budget := s.builder.WordBudget(m.LastResponseAt, wpm, now)
		text := truncateWords(rr.Message, budget)
		chunks := splitParagraphs(text)
		if len(chunks) == 0 {
			continue
		}

		var lastSeq int64
		for i, chunk := range chunks {
			s.setStatus(agent, types.StatusTyping)
			s.sleep(ctx, typingDuration(chunk, wpm))
			if ctx.Err() != nil {
				return
			}
			s.setStatus(agent, types.StatusSending)

			msg := &types.Message{
				RoomID:  rr.RoomID,
				Sender:  senderID(agent.ID),
				Content: chunk,
				SentAt:  time.Now().UTC(),
				Kind:    "text",
			}
			if i == 0 {
				msg.ReplyTo = replyTo
			}
			stored, err := s.store.AppendMessage(msg)
			if err != nil {
				logging.HeartbeatError("agent %d: send to room %d: %v", agent.ID, rr.RoomID, err)
				break
			}
			lastSeq = stored.Seq
		}

		sentAt := time.Now().UTC()
		m.LastResponseAt = &sentAt
		m.LastResponseWords = countWords(text)
		if lastSeq > m.LastSeenSeq {
			m.LastSeenSeq = lastSeq
		}
		if err := s.store.SaveMembership(m); err != nil {
			logging.HeartbeatWarn("agent %d: save membership %d: %v", agent.ID, rr.RoomID, err)
		}
	}
}

// typingDuration is how long sending a chunk takes at the room's pace.
func typingDuration(chunk string, wpm int) time.Duration {
	words := countWords(chunk)
	if wpm <= 0 || words == 0 {
		return 0
	}
	return time.Duration(float64(words) / float64(wpm) * 60 * float64(time.Second))
}

// BuildHUD builds the agent's HUD on demand for the admin surface.
func (s *Scheduler) BuildHUD(agentID int64) (*hud.Result, error) {
	agent, err := s.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %d not found", agentID)
	}
	now := time.Now().UTC()
	rooms, err := s.gatherRooms(agent, now)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(agent, rooms, s.processor.Recent(agentID), now)
}

// ApplyResponse routes an already-decoded response through delivery and
// the command processor, exactly as a heartbeat cycle would.
func (s *Scheduler) ApplyResponse(agentID int64, resp *types.AgentResponse) (*types.Report, error) {
	agent, err := s.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %d not found", agentID)
	}
	s.deliver(context.Background(), agent, resp.Responses)
	report := s.processor.Apply(agent, resp.Actions, time.Now().UTC())
	if err := s.store.SaveAgent(agent); err != nil {
		logging.HeartbeatWarn("agent %d: save: %v", agentID, err)
	}
	return report, nil
}
