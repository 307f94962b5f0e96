package hud

import (
	"fmt"
	"math"

	"agora/internal/config"
)

// ============================================================================
// Token Budget Allocator
// ============================================================================
// Splits a fixed total token budget between static sections (directives,
// identity, knowledge, instructions) and dynamic per-room sections, then
// among rooms by attention percentage.

// AllocationConfigError reports fixed attention percentages summing past
// 100 for one agent. The allocator proceeds with proportional clamping for
// the cycle; the misconfiguration is surfaced, never silently normalized
// in stored state.
type AllocationConfigError struct {
	AgentID  int64
	FixedSum float64
}

func (e *AllocationConfigError) Error() string {
	return fmt.Sprintf("agent %d: fixed attention percentages sum to %.1f%% (limit 100%%)", e.AgentID, e.FixedSum)
}

// RoomAttention is one membership's attention claim.
type RoomAttention struct {
	RoomID  int64
	Pct     float64
	Dynamic bool
}

// RoomBudget is the allocator's decision for one room.
type RoomBudget struct {
	RoomID         int64
	ResolvedPct    float64
	TotalTokens    int
	MetadataTokens int
	MessageTokens  int
}

// Allocation is the result of one budget pass.
type Allocation struct {
	StaticTokens int // static estimate after capping
	RoomPool     int // tokens available to all rooms combined
	Rooms        []RoomBudget
	ConfigErr    *AllocationConfigError
}

// Allocator computes per-room token budgets.
type Allocator struct {
	Total           int
	StaticMax       int
	MessageMin      int
	MetadataReserve int
}

// NewAllocator builds an allocator from budget configuration.
func NewAllocator(cfg config.BudgetConfig) *Allocator {
	return &Allocator{
		Total:           cfg.TotalTokens,
		StaticMax:       cfg.StaticContentMax,
		MessageMin:      cfg.MessageContentMin,
		MetadataReserve: cfg.RoomMetadataTokens,
	}
}

// Allocate splits the budget for one agent. staticEstimate is the rendered
// size of the static sections; rooms lists the agent's memberships with
// their attention claims. Percentages are re-resolved on every call so
// administrative changes take effect on the next cycle.
func (a *Allocator) Allocate(agentID int64, staticEstimate int, rooms []RoomAttention) Allocation {
	staticTokens := staticEstimate
	if staticTokens > a.StaticMax {
		staticTokens = a.StaticMax
	}

	// Message space is never fully starved, even when static content is
	// allowed to exceed its cap.
	pool := a.Total - staticTokens
	if pool < a.MessageMin {
		pool = a.MessageMin
	}

	out := Allocation{StaticTokens: staticTokens, RoomPool: pool}
	if len(rooms) == 0 {
		return out
	}

	fixedSum := 0.0
	dynamic := 0
	for _, r := range rooms {
		if r.Dynamic {
			dynamic++
		} else {
			fixedSum += r.Pct
		}
	}

	clamp := 1.0
	if fixedSum > 100 {
		out.ConfigErr = &AllocationConfigError{AgentID: agentID, FixedSum: fixedSum}
		clamp = 100 / fixedSum
	}

	dynamicShare := 0.0
	if dynamic > 0 && fixedSum < 100 {
		dynamicShare = (100 - fixedSum*clamp) / float64(dynamic)
	}

	for _, r := range rooms {
		pct := r.Pct * clamp
		if r.Dynamic {
			pct = dynamicShare
		}
		total := int(math.Floor(float64(pool) * pct / 100))
		meta := a.MetadataReserve
		if meta > total {
			meta = total
		}
		out.Rooms = append(out.Rooms, RoomBudget{
			RoomID:         r.RoomID,
			ResolvedPct:    pct,
			TotalTokens:    total,
			MetadataTokens: meta,
			MessageTokens:  total - meta,
		})
	}
	return out
}
