package types

import "time"

// AgentType is the closed set of agent kinds the coordinator can spawn.
// Routing decisions dispatch on this enum, not on free-form strings.
type AgentType string

const (
	AgentTypeReview    AgentType = "review"
	AgentTypeSync      AgentType = "sync"
	AgentTypeDashboard AgentType = "dashboard"
	AgentTypeWorker    AgentType = "worker"
)

// KnownAgentTypes lists every valid AgentType.
func KnownAgentTypes() []AgentType {
	return []AgentType{AgentTypeReview, AgentTypeSync, AgentTypeDashboard, AgentTypeWorker}
}

// AgentStatus is the lifecycle status of an agent instance.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentActive     AgentStatus = "active"
	AgentError      AgentStatus = "error"
	AgentTerminated AgentStatus = "terminated"
)

// HealthStatus is derived from heartbeat age, never stored.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// AgentConfig holds the per-instance execution limits.
type AgentConfig struct {
	Capabilities       []string      `json:"capabilities,omitempty"`
	MaxConcurrentTasks int           `json:"maxConcurrentTasks"`
	TaskTimeout        time.Duration `json:"taskTimeout"`
	MaxRetries         int           `json:"maxRetries"`
}

// AgentInstance describes one running agent. It is created on spawn,
// mutated by its runtime shell on every status transition, and removed
// on terminate.
type AgentInstance struct {
	ID            string         `json:"id"`
	Type          AgentType      `json:"type"`
	Config        AgentConfig    `json:"config"`
	Status        AgentStatus    `json:"status"`
	CurrentTasks  []string       `json:"currentTasks,omitempty"`
	LastHeartbeat time.Time      `json:"lastHeartbeat"`
	CreatedAt     time.Time      `json:"createdAt"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}
