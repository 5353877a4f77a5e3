package types

import "time"

// ResolutionStrategy selects how a queued conflict is resolved.
type ResolutionStrategy string

const (
	ResolveLastWriteWins ResolutionStrategy = "last-write-wins"
	ResolveMerge         ResolutionStrategy = "merge"
	ResolveManual        ResolutionStrategy = "manual"
)

// ConflictStatus is the lifecycle status of a StateConflict.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
)

// ConflictingChange captures one side of a detected write conflict.
// OldState is the state that was active at detection time; NewState is
// the incoming write whose base was stale.
type ConflictingChange struct {
	OldState  *WorkflowState `json:"oldState"`
	NewState  *WorkflowState `json:"newState"`
	Timestamp time.Time      `json:"timestamp"`
	Author    string         `json:"author"`
}

// StateConflict records a write whose base state was already superseded
// by a newer active state. Conflicts are advisory: the write that raised
// one still became the new head, and the conflict is resolved as a
// parallel audit workflow.
type StateConflict struct {
	ID         string              `json:"id"`
	WorkflowID string              `json:"workflowId"`
	Changes    []ConflictingChange `json:"changes"`
	DetectedAt time.Time           `json:"detectedAt"`
	Strategy   ResolutionStrategy  `json:"strategy"`
	Status     ConflictStatus      `json:"status"`
}
