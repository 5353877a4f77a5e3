package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/stateflow/agent"
	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

func noopExecutor() agent.TaskExecutor {
	return agent.TaskExecutorFunc(func(_ context.Context, task *types.Task) (*types.TaskResult, error) {
		return &types.TaskResult{TaskID: task.ID, Status: types.TaskCompleted}, nil
	})
}

func newTestCoordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	kv := persistence.NewMemoryKVStore()
	t.Cleanup(func() { kv.Close() })
	opts = append([]Option{WithStore(kv)}, opts...)
	return NewCoordinator(noopExecutor(), opts...)
}

func TestSpawnAndTerminate(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	agentID, err := c.Spawn(ctx, types.AgentTypeReview, DefaultConfigFor(types.AgentTypeReview))
	require.NoError(t, err)
	assert.Contains(t, agentID, "review-")
	assert.Equal(t, 1, c.AgentCount())

	shell, ok := c.Shell(agentID)
	require.True(t, ok)
	assert.Equal(t, types.AgentIdle, shell.Status())

	require.NoError(t, c.Terminate(ctx, agentID))
	assert.Zero(t, c.AgentCount())
	assert.Equal(t, types.AgentTerminated, shell.Status())

	err = c.Terminate(ctx, agentID)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestSpawnCeiling(t *testing.T) {
	c := newTestCoordinator(t, WithMaxAgents(2))
	ctx := context.Background()

	_, err := c.Spawn(ctx, types.AgentTypeWorker, DefaultConfigFor(types.AgentTypeWorker))
	require.NoError(t, err)
	_, err = c.Spawn(ctx, types.AgentTypeWorker, DefaultConfigFor(types.AgentTypeWorker))
	require.NoError(t, err)

	_, err = c.Spawn(ctx, types.AgentTypeWorker, DefaultConfigFor(types.AgentTypeWorker))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLimitExceeded))
	assert.Equal(t, 2, c.AgentCount())

	// Terminating one frees a slot.
	require.NoError(t, c.Terminate(ctx, c.Agents()[0]))
	_, err = c.Spawn(ctx, types.AgentTypeWorker, DefaultConfigFor(types.AgentTypeWorker))
	assert.NoError(t, err)
}

func TestAssignFromSourceControlContext(t *testing.T) {
	c := newTestCoordinator(t)

	workflow := &types.WorkflowState{
		ID:      "wf-1",
		Context: map[string]string{"githubRepoId": "org/repo"},
		Tasks:   map[string]*types.Task{},
	}

	report, err := c.Assign(context.Background(), workflow)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", report.WorkflowID)
	assert.Equal(t, []types.AgentType{types.AgentTypeReview, types.AgentTypeDashboard}, report.AgentTypes)
	assert.Len(t, report.AgentsAssigned, 2)
	assert.Zero(t, report.TasksDistributed)
	assert.Equal(t, 2, c.AgentCount())
}

func TestAssignDeduplicatesDashboard(t *testing.T) {
	c := newTestCoordinator(t)

	workflow := &types.WorkflowState{
		ID: "wf-1",
		Context: map[string]string{
			"githubRepoId":    "org/repo",
			"linearProjectId": "proj-9",
		},
		Tasks: map[string]*types.Task{
			"t-1": {ID: "t-1", Type: "build"},
			"t-2": {ID: "t-2", Type: "deploy"},
		},
	}

	report, err := c.Assign(context.Background(), workflow)
	require.NoError(t, err)
	assert.Equal(t, []types.AgentType{
		types.AgentTypeReview,
		types.AgentTypeDashboard,
		types.AgentTypeSync,
	}, report.AgentTypes)
	assert.Equal(t, 2, report.TasksDistributed)
	assert.Equal(t, 3, c.AgentCount())
}

func TestAssignWithoutExternalContext(t *testing.T) {
	c := newTestCoordinator(t)

	workflow := &types.WorkflowState{ID: "wf-1", Tasks: map[string]*types.Task{}}
	report, err := c.Assign(context.Background(), workflow)
	require.NoError(t, err)
	assert.Empty(t, report.AgentsAssigned)
	assert.Zero(t, c.AgentCount())

	_, err = c.Assign(context.Background(), nil)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestStrategySelection(t *testing.T) {
	c := newTestCoordinator(t)

	tests := []struct {
		name       string
		complexity string
		want       string
	}{
		{"high complexity", "high", "parallel"},
		{"low complexity", "low", "sequential"},
		{"medium complexity", "medium", "hybrid"},
		{"undeclared complexity", "", "hybrid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workflow := &types.WorkflowState{
				ID:      "wf-1",
				Context: map[string]string{"complexity": tt.complexity},
			}
			decision := c.Strategy(workflow)
			assert.Equal(t, tt.want, decision.Name)
			assert.NotEmpty(t, decision.Reasoning)
		})
	}

	assert.Equal(t, "hybrid", c.Strategy(nil).Name)
}

func TestAdaptThresholds(t *testing.T) {
	c := newTestCoordinator(t)

	tests := []struct {
		name    string
		metrics Metrics
		want    []string
	}{
		{
			"all healthy",
			Metrics{AverageResponseTime: 200, ErrorRate: 1, Throughput: 10},
			[]string{},
		},
		{
			"slow responses",
			Metrics{AverageResponseTime: 1500, ErrorRate: 1, Throughput: 10},
			[]string{ActionIncreaseAgentCount},
		},
		{
			"error storm",
			Metrics{AverageResponseTime: 200, ErrorRate: 25, Throughput: 10},
			[]string{ActionImplementCircuitBreaker},
		},
		{
			"starved throughput",
			Metrics{AverageResponseTime: 200, ErrorRate: 1, Throughput: 0.5},
			[]string{ActionOptimizeTaskDistribution},
		},
		{
			"everything on fire",
			Metrics{AverageResponseTime: 2500, ErrorRate: 15, Throughput: 0.3},
			[]string{ActionIncreaseAgentCount, ActionImplementCircuitBreaker, ActionOptimizeTaskDistribution},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Adapt(tt.metrics))
		})
	}
}

func TestOnAgentFailureSpawnsReplacement(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	agentID, err := c.Spawn(ctx, types.AgentTypeSync, DefaultConfigFor(types.AgentTypeSync))
	require.NoError(t, err)

	plan, err := c.OnAgentFailure(ctx, agentID, "wf-1", errors.New("heartbeat lost"))
	require.NoError(t, err)
	assert.Equal(t, ActionSpawnReplacement, plan.Action)
	assert.Equal(t, agentID, plan.FailedAgentID)
	assert.Equal(t, agentID+"-replacement", plan.ReplacementID)
	assert.Equal(t, "wf-1", plan.WorkflowID)

	// The failed agent is gone; the replacement is live with its type.
	_, ok := c.Shell(agentID)
	assert.False(t, ok)
	replacement, ok := c.Shell(plan.ReplacementID)
	require.True(t, ok)
	assert.Equal(t, types.AgentTypeSync, replacement.Type())
	assert.Equal(t, types.AgentIdle, replacement.Status())
	assert.Equal(t, 1, c.AgentCount())
}

func TestOnAgentFailureRespectsCeiling(t *testing.T) {
	c := newTestCoordinator(t, WithMaxAgents(1))
	ctx := context.Background()

	// The failed agent is unknown to the registry, so no slot is freed
	// and the replacement cannot fit.
	_, err := c.Spawn(ctx, types.AgentTypeWorker, DefaultConfigFor(types.AgentTypeWorker))
	require.NoError(t, err)

	plan, err := c.OnAgentFailure(ctx, "ghost-agent", "wf-1", errors.New("gone"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrLimitExceeded))
	assert.Equal(t, 1, c.AgentCount())

	// The plan is still produced: callers can act on the recovery intent
	// even though the spawn was refused.
	require.NotNil(t, plan)
	assert.Equal(t, ActionSpawnReplacement, plan.Action)
	assert.Equal(t, "ghost-agent", plan.FailedAgentID)
	assert.Equal(t, "ghost-agent-replacement", plan.ReplacementID)
	_, live := c.Shell(plan.ReplacementID)
	assert.False(t, live)
}

func TestDefaultConfigFor(t *testing.T) {
	cfg := DefaultConfigFor(types.AgentTypeReview)
	assert.Contains(t, cfg.Capabilities, "code-review")
	assert.Equal(t, 5*time.Minute, cfg.TaskTimeout)

	// Unknown types fall back to the worker profile.
	fallback := DefaultConfigFor(types.AgentType("mystery"))
	assert.Equal(t, DefaultConfigFor(types.AgentTypeWorker), fallback)
}
