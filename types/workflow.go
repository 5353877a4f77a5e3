package types

import "time"

// TaskStatus is the lifecycle status of a single workflow task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one unit of work inside a workflow.
type Task struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Status     TaskStatus     `json:"status,omitempty"`
	AssignedTo string         `json:"assignedTo,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt,omitempty"`
}

// AgentAssignment records which tasks a given agent is responsible for
// within a workflow.
type AgentAssignment struct {
	AgentID    string    `json:"agentId"`
	TaskIDs    []string  `json:"taskIds,omitempty"`
	AssignedAt time.Time `json:"assignedAt,omitempty"`
}

// ProgressSummary is a derived rollup of workflow progress.
type ProgressSummary struct {
	TotalTasks       int                `json:"totalTasks"`
	CompletedTasks   int                `json:"completedTasks"`
	FailedTasks      int                `json:"failedTasks"`
	Bottlenecks      []string           `json:"bottlenecks,omitempty"`
	AgentUtilization map[string]float64 `json:"agentUtilization,omitempty"`
}

// WorkflowState is the mutable, current projection of a workflow.
// It always equals the state carried by the most recent accepted
// StateVersion for its workflow.
//
// Context carries external-system references (e.g. "githubRepoId",
// "linearProjectId") that drive agent assignment.
type WorkflowState struct {
	ID        string                      `json:"id"`
	Name      string                      `json:"name"`
	Status    string                      `json:"status"`
	CreatedAt time.Time                   `json:"createdAt"`
	UpdatedAt time.Time                   `json:"updatedAt"`
	Tasks     map[string]*Task            `json:"tasks"`
	Agents    map[string]*AgentAssignment `json:"agents,omitempty"`
	Progress  ProgressSummary             `json:"progress"`
	Context   map[string]string           `json:"context,omitempty"`
}

// Validate checks the structural requirements for a state write.
// A failed validation means the state must not be versioned.
func (s *WorkflowState) Validate() error {
	if s == nil {
		return NewError(ErrValidation, "state is nil")
	}
	if s.ID == "" {
		return NewError(ErrValidation, "workflow id is required")
	}
	if s.Name == "" {
		return NewError(ErrValidation, "workflow name is required")
	}
	if s.Status == "" {
		return NewError(ErrValidation, "workflow status is required")
	}
	if s.CreatedAt.IsZero() {
		return NewError(ErrValidation, "workflow creation time is required")
	}
	if s.Tasks == nil {
		return NewError(ErrValidation, "tasks map is required")
	}
	for key, task := range s.Tasks {
		if task == nil {
			return NewErrorf(ErrValidation, "task %q is nil", key)
		}
		if task.ID != key {
			return NewErrorf(ErrValidation, "task key %q does not match task id %q", key, task.ID)
		}
		if task.Type == "" {
			return NewErrorf(ErrValidation, "task %q has no type", key)
		}
	}
	return nil
}

// Clone returns a deep copy of the state. Store reads hand out clones so
// callers can never mutate the store's authoritative copy.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Tasks != nil {
		out.Tasks = make(map[string]*Task, len(s.Tasks))
		for k, t := range s.Tasks {
			tc := *t
			if t.Payload != nil {
				tc.Payload = make(map[string]any, len(t.Payload))
				for pk, pv := range t.Payload {
					tc.Payload[pk] = pv
				}
			}
			tc.CreatedAt = t.CreatedAt
			out.Tasks[k] = &tc
		}
	}
	if s.Agents != nil {
		out.Agents = make(map[string]*AgentAssignment, len(s.Agents))
		for k, a := range s.Agents {
			ac := *a
			ac.TaskIDs = append([]string(nil), a.TaskIDs...)
			out.Agents[k] = &ac
		}
	}
	out.Progress.Bottlenecks = append([]string(nil), s.Progress.Bottlenecks...)
	if s.Progress.AgentUtilization != nil {
		out.Progress.AgentUtilization = make(map[string]float64, len(s.Progress.AgentUtilization))
		for k, v := range s.Progress.AgentUtilization {
			out.Progress.AgentUtilization[k] = v
		}
	}
	if s.Context != nil {
		out.Context = make(map[string]string, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	return &out
}
