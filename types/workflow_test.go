package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validState() *WorkflowState {
	return &WorkflowState{
		ID:        "wf-1",
		Name:      "release pipeline",
		Status:    "active",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Tasks: map[string]*Task{
			"t-1": {ID: "t-1", Type: "build", Status: TaskPending},
		},
		Context: map[string]string{"githubRepoId": "org/repo"},
	}
}

func TestWorkflowStateValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*WorkflowState)
		valid  bool
	}{
		{"valid", func(s *WorkflowState) {}, true},
		{"missing id", func(s *WorkflowState) { s.ID = "" }, false},
		{"missing name", func(s *WorkflowState) { s.Name = "" }, false},
		{"missing status", func(s *WorkflowState) { s.Status = "" }, false},
		{"zero created at", func(s *WorkflowState) { s.CreatedAt = time.Time{} }, false},
		{"nil tasks", func(s *WorkflowState) { s.Tasks = nil }, false},
		{"task key mismatch", func(s *WorkflowState) {
			s.Tasks["other"] = &Task{ID: "t-9", Type: "build"}
		}, false},
		{"task without type", func(s *WorkflowState) {
			s.Tasks["t-2"] = &Task{ID: "t-2"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validState()
			tt.mutate(s)
			err := s.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, ErrValidation, GetErrorCode(err))
			}
		})
	}
}

func TestWorkflowStateClone(t *testing.T) {
	s := validState()
	s.Agents = map[string]*AgentAssignment{
		"agent-1": {AgentID: "agent-1", TaskIDs: []string{"t-1"}},
	}

	clone := s.Clone()
	require.Equal(t, s, clone)

	// Mutating the clone must not leak into the original.
	clone.Tasks["t-1"].Status = TaskCompleted
	clone.Agents["agent-1"].TaskIDs[0] = "t-x"
	clone.Context["githubRepoId"] = "changed"

	assert.Equal(t, TaskPending, s.Tasks["t-1"].Status)
	assert.Equal(t, "t-1", s.Agents["agent-1"].TaskIDs[0])
	assert.Equal(t, "org/repo", s.Context["githubRepoId"])
}
