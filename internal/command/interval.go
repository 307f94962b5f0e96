package command

import "agora/internal/types"

// Default interval adjustment steps, in seconds.
const (
	DefaultReactionStep = 0.5
	DefaultDecayStep    = 0.1
)

// ClampInterval bounds a heartbeat interval to the legal range.
func ClampInterval(v float64) float64 {
	if v < types.MinHeartbeatInterval {
		return types.MinHeartbeatInterval
	}
	if v > types.MaxHeartbeatInterval {
		return types.MaxHeartbeatInterval
	}
	return v
}

// NextInterval applies a signed adjustment to a heartbeat interval and
// clamps the result. The reaction feedback loop and the decay tick both
// run through this function so the bounds hold under any event sequence.
func NextInterval(current, delta float64) float64 {
	return ClampInterval(current + delta)
}
