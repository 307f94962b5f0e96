// Package heartbeat runs the engine's scheduling loop: it decides every
// tick which agents are due, builds their HUDs, invokes the model provider,
// paces responses into rooms, and routes actions to the command processor.
package heartbeat

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"agora/internal/command"
	"agora/internal/config"
	"agora/internal/hud"
	"agora/internal/logging"
	"agora/internal/types"
)

// agentState is the scheduler-owned runtime record for one agent. It is
// mutated only under the scheduler mutex or by the agent's single in-flight
// cycle; external readers get snapshots.
type agentState struct {
	status        types.AgentStatus
	interval      float64
	lastProcessed time.Time
	delay         float64 // effective seconds until next due, jittered
	inFlight      bool
}

// AgentSnapshot is the external view of one agent's scheduling state.
type AgentSnapshot struct {
	ID       int64             `json:"id"`
	Status   types.AgentStatus `json:"status"`
	Interval float64           `json:"interval"`
	NextDue  time.Time         `json:"next_due"`
}

// StatusSnapshot is the external view of the scheduler.
type StatusSnapshot struct {
	Running           bool            `json:"running"`
	PullForwardWindow float64         `json:"pull_forward_window"`
	Agents            []AgentSnapshot `json:"agents"`
}

// Scheduler drives agent heartbeats.
type Scheduler struct {
	store     types.Store
	client    types.ModelClient
	builder   *hud.Builder
	processor *command.Processor
	history   *history

	tickInterval    time.Duration
	defaultInterval float64
	decayStep       float64
	variance        float64
	providerTimeout time.Duration
	defaultWPM      int

	// sleep paces chunk delivery; swapped out by tests.
	sleep func(ctx context.Context, d time.Duration)

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu          sync.Mutex
	agents      map[int64]*agentState
	pullForward float64
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a scheduler from configuration over a store and model client.
func New(cfg *config.Config, st types.Store, client types.ModelClient) *Scheduler {
	workers := cfg.Scheduler.MaxWorkers
	if workers <= 0 {
		workers = 5
	}
	return &Scheduler{
		store:           st,
		client:          client,
		builder:         hud.NewBuilder(cfg),
		processor:       command.NewProcessor(st, cfg.Scheduler.ReactionStep),
		history:         newHistory(cfg.Scheduler.HistoryDepth),
		tickInterval:    cfg.TickInterval(),
		defaultInterval: cfg.Scheduler.DefaultInterval,
		decayStep:       cfg.Scheduler.DecayStep,
		variance:        cfg.Scheduler.IntervalVariance,
		providerTimeout: cfg.ProviderTimeout(),
		defaultWPM:      cfg.Rooms.DefaultWPM,
		pullForward:     cfg.Scheduler.PullForwardWindow,
		sem:             semaphore.NewWeighted(int64(workers)),
		agents:          make(map[int64]*agentState),
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Processor exposes the command processor for the admin surface.
func (s *Scheduler) Processor() *command.Processor { return s.processor }

// Builder exposes the HUD builder, mainly for its telemetry window.
func (s *Scheduler) Builder() *hud.Builder { return s.builder }

// Start launches the tick loop. Safe to call once per Stop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx)
	logging.Heartbeat("scheduler started, tick %v", s.tickInterval)
	return nil
}

// Stop halts the tick loop and waits for in-flight cycles to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
	logging.Heartbeat("scheduler stopped")
}

// SetPullForwardWindow updates the batching window in seconds; zero
// disables bundling.
func (s *Scheduler) SetPullForwardWindow(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	s.pullForward = seconds
}

// Status returns a snapshot of the scheduler and every tracked agent.
func (s *Scheduler) Status() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := StatusSnapshot{
		Running:           s.running,
		PullForwardWindow: s.pullForward,
	}
	for id, st := range s.agents {
		snap.Agents = append(snap.Agents, AgentSnapshot{
			ID:       id,
			Status:   st.status,
			Interval: st.interval,
			NextDue:  st.lastProcessed.Add(secondsDur(st.delay)),
		})
	}
	sort.Slice(snap.Agents, func(i, j int) bool { return snap.Agents[i].ID < snap.Agents[j].ID })
	return snap
}

// History returns up to n retained HUD/response/error entries for the
// agent, oldest first.
func (s *Scheduler) History(agentID int64, n int) []HistoryEntry {
	return s.history.recent(agentID, n)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick dispatches every due agent to a worker. Returns the dispatched ids,
// in dispatch order.
func (s *Scheduler) tick(ctx context.Context, now time.Time) []int64 {
	agents, err := s.store.ListAgents()
	if err != nil {
		logging.HeartbeatError("tick: list agents: %v", err)
		return nil
	}

	due := s.selectDue(agents, now)

	var dispatched []int64
	for _, agent := range due {
		if !s.sem.TryAcquire(1) {
			// Workers saturated; the agent stays due and is picked
			// up on a later tick.
			break
		}
		s.mu.Lock()
		st := s.agents[agent.ID]
		st.inFlight = true
		s.mu.Unlock()

		dispatched = append(dispatched, agent.ID)
		s.wg.Add(1)
		go func(agent *types.Agent) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.runCycle(ctx, agent)
		}(agent)
	}
	return dispatched
}

// selectDue computes the due set: strictly-due agents first, then agents
// whose next-due time falls inside the pull-forward window when at least
// one agent is strictly due. Sleeping agents are skipped, and woken when
// their wake timestamp has passed.
func (s *Scheduler) selectDue(agents []*types.Agent, now time.Time) []*types.Agent {
	s.mu.Lock()
	window := s.pullForward
	live := make(map[int64]bool, len(agents))
	type candidate struct {
		agent *types.Agent
		until time.Duration // time until due; <= 0 means strictly due
	}
	var candidates []candidate

	for _, agent := range agents {
		live[agent.ID] = true
		st, ok := s.agents[agent.ID]
		if !ok {
			st = s.initState(agent, now)
			s.agents[agent.ID] = st
		}
		if st.inFlight {
			continue
		}
		if agent.Status == types.StatusSleeping || st.status == types.StatusSleeping {
			if agent.SleepUntil != nil && !now.Before(*agent.SleepUntil) {
				s.wake(agent, st)
			} else {
				continue
			}
		}
		nextDue := st.lastProcessed.Add(secondsDur(st.delay))
		candidates = append(candidates, candidate{agent: agent, until: nextDue.Sub(now)})
	}

	// Forget retired agents.
	for id := range s.agents {
		if !live[id] {
			delete(s.agents, id)
			s.history.drop(id)
		}
	}
	s.mu.Unlock()

	anyDue := false
	for _, c := range candidates {
		if c.until <= 0 {
			anyDue = true
			break
		}
	}

	var due []*types.Agent
	for _, c := range candidates {
		switch {
		case c.until <= 0:
			due = append(due, c.agent)
		case anyDue && window > 0 && c.until <= secondsDur(window):
			due = append(due, c.agent)
		}
	}
	return due
}

// initState seeds an agent's runtime record. The first due time is
// staggered with a deterministic id-derived offset so that agents sharing
// an interval do not fire in a synchronized burst.
func (s *Scheduler) initState(agent *types.Agent, now time.Time) *agentState {
	interval := agent.HeartbeatInterval
	if interval <= 0 {
		interval = s.defaultInterval
	}
	interval = command.ClampInterval(interval)
	frac := float64(agent.ID%997) / 997.0
	return &agentState{
		status:        agent.Status,
		interval:      interval,
		lastProcessed: now,
		delay:         frac * interval,
	}
}

// wake transitions a sleeping agent back to idle. Caller holds the mutex.
func (s *Scheduler) wake(agent *types.Agent, st *agentState) {
	agent.Status = types.StatusIdle
	agent.SleepUntil = nil
	if err := s.store.SaveAgent(agent); err != nil {
		logging.HeartbeatWarn("wake agent %d: %v", agent.ID, err)
	}
	st.status = types.StatusIdle
	logging.Heartbeat("agent %d woke up", agent.ID)
}

// jitteredDelay spreads the next due time around the interval, clamped to
// the interval bounds.
func (s *Scheduler) jitteredDelay(interval float64) float64 {
	if s.variance <= 0 {
		return interval
	}
	factor := 1 + (rand.Float64()*2-1)*s.variance
	return command.ClampInterval(interval * factor)
}

func secondsDur(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func senderID(agentID int64) string {
	return strconv.FormatInt(agentID, 10)
}
