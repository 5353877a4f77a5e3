package types

import "time"

// StateVersion is one immutable entry in a workflow's version history.
// Versions start at 1 and increase strictly with no gaps; ParentID links
// each version to the prior head, forming a singly linked history.
// Checksum is the SHA-256 digest of the serialized state, recomputable
// at read time for integrity verification.
type StateVersion struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflowId"`
	Version     int64          `json:"version"`
	State       *WorkflowState `json:"state"`
	Timestamp   time.Time      `json:"timestamp"`
	Author      string         `json:"author"`
	ParentID    string         `json:"parentId,omitempty"`
	Description string         `json:"description,omitempty"`
	Checksum    string         `json:"checksum"`
}

// StateSnapshot is an out-of-band, independently restorable copy of a
// workflow's state, distinct from the version chain.
type StateSnapshot struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflowId"`
	State       *WorkflowState `json:"state"`
	CreatedAt   time.Time      `json:"createdAt"`
	Description string         `json:"description,omitempty"`
	SizeBytes   int64          `json:"sizeBytes"`
	Checksum    string         `json:"checksum"`
}
