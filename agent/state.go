package agent

import (
	"time"

	"github.com/BaSui01/stateflow/types"
)

// validTransitions defines the legal status transitions. Terminated is
// terminal; any non-terminal status may move to it.
var validTransitions = map[types.AgentStatus][]types.AgentStatus{
	types.AgentIdle:       {types.AgentActive, types.AgentTerminated},
	types.AgentActive:     {types.AgentIdle, types.AgentError, types.AgentTerminated},
	types.AgentError:      {types.AgentTerminated},
	types.AgentTerminated: {},
}

// CanTransition reports whether a status transition is legal.
func CanTransition(from, to types.AgentStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Health thresholds on heartbeat age.
const (
	healthyWindow  = time.Minute
	degradedWindow = 5 * time.Minute
)

// HealthOf derives a health classification from the last heartbeat time.
// Health is computed, never stored.
func HealthOf(lastHeartbeat time.Time, now time.Time) types.HealthStatus {
	age := now.Sub(lastHeartbeat)
	switch {
	case age < healthyWindow:
		return types.HealthHealthy
	case age < degradedWindow:
		return types.HealthDegraded
	default:
		return types.HealthUnhealthy
	}
}
