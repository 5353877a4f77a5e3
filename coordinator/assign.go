package coordinator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/agent"
	"github.com/BaSui01/stateflow/types"
)

// Workflow context keys that drive agent assignment.
const (
	contextKeyRepo    = "githubRepoId"
	contextKeyProject = "linearProjectId"
)

// AssignmentReport summarizes one assignment pass.
type AssignmentReport struct {
	WorkflowID       string            `json:"workflowId"`
	AgentsAssigned   []string          `json:"agentsAssigned"`
	TasksDistributed int               `json:"tasksDistributed"`
	AgentTypes       []types.AgentType `json:"agentTypes"`
}

// StrategyDecision is the coordination strategy chosen for a workflow.
type StrategyDecision struct {
	Name      string `json:"name"`
	Reasoning string `json:"reasoning"`
}

// Metrics is the observed performance input to Adapt.
type Metrics struct {
	AverageResponseTime float64 `json:"averageResponseTime"` // milliseconds
	ErrorRate           float64 `json:"errorRate"`           // percent
	Throughput          float64 `json:"throughput"`          // tasks per second
}

// Adaptation actions.
const (
	ActionIncreaseAgentCount       = "increase-agent-count"
	ActionImplementCircuitBreaker  = "implement-circuit-breaker"
	ActionOptimizeTaskDistribution = "optimize-task-distribution"
)

// ActionSpawnReplacement is the recovery action for agent failures.
const ActionSpawnReplacement = "spawn-replacement"

// RecoveryPlan is the coordinator's response to a reported agent failure.
type RecoveryPlan struct {
	Action        string `json:"action"`
	FailedAgentID string `json:"failedAgentId"`
	ReplacementID string `json:"replacementId"`
	WorkflowID    string `json:"workflowId"`
	Reason        string `json:"reason"`
}

// requiredTypes derives the agent types a workflow needs from its
// external-system context. A source-control reference needs review plus a
// dashboard for integration visibility; an issue-tracker reference needs
// sync plus the same dashboard, deduplicated.
func requiredTypes(workflow *types.WorkflowState) []types.AgentType {
	required := make([]types.AgentType, 0, 3)
	seen := make(map[types.AgentType]bool)
	add := func(t types.AgentType) {
		if !seen[t] {
			seen[t] = true
			required = append(required, t)
		}
	}

	if workflow.Context[contextKeyRepo] != "" {
		add(types.AgentTypeReview)
		add(types.AgentTypeDashboard)
	}
	if workflow.Context[contextKeyProject] != "" {
		add(types.AgentTypeSync)
		add(types.AgentTypeDashboard)
	}
	return required
}

// Assign spawns one agent per agent type the workflow's context requires,
// each with its type-default config, and reports the workflow's task
// count. A workflow without external-system references needs no agents.
func (c *Coordinator) Assign(ctx context.Context, workflow *types.WorkflowState) (*AssignmentReport, error) {
	if workflow == nil || workflow.ID == "" {
		return nil, types.NewError(types.ErrValidation, "workflow is required")
	}

	report := &AssignmentReport{
		WorkflowID:       workflow.ID,
		AgentsAssigned:   make([]string, 0),
		TasksDistributed: len(workflow.Tasks),
	}

	for _, agentType := range requiredTypes(workflow) {
		agentID, err := c.Spawn(ctx, agentType, DefaultConfigFor(agentType))
		if err != nil {
			return nil, err
		}
		report.AgentsAssigned = append(report.AgentsAssigned, agentID)
		report.AgentTypes = append(report.AgentTypes, agentType)
	}

	c.logger.Info("workflow assigned",
		zap.String("workflow_id", workflow.ID),
		zap.Int("agents_assigned", len(report.AgentsAssigned)),
		zap.Int("tasks_distributed", report.TasksDistributed),
	)
	return report, nil
}

// Strategy picks a coordination strategy from the workflow's declared
// complexity. The rule is fixed and explainable, not a learned policy.
func (c *Coordinator) Strategy(workflow *types.WorkflowState) StrategyDecision {
	complexity := ""
	if workflow != nil {
		complexity = workflow.Context["complexity"]
	}

	switch complexity {
	case "high":
		return StrategyDecision{
			Name:      "parallel",
			Reasoning: "high declared complexity favors concurrent task execution across agents",
		}
	case "low":
		return StrategyDecision{
			Name:      "sequential",
			Reasoning: "low declared complexity is cheapest to run in order on a single agent",
		}
	default:
		return StrategyDecision{
			Name:      "hybrid",
			Reasoning: fmt.Sprintf("complexity %q gets parallel fan-out with sequential checkpoints", complexity),
		}
	}
}

// Adapt maps observed performance to corrective actions. Multiple actions
// may fire at once.
func (c *Coordinator) Adapt(m Metrics) []string {
	actions := make([]string, 0, 3)
	if m.AverageResponseTime > 1000 {
		actions = append(actions, ActionIncreaseAgentCount)
	}
	if m.ErrorRate > 10 {
		actions = append(actions, ActionImplementCircuitBreaker)
	}
	if m.Throughput < 1 {
		actions = append(actions, ActionOptimizeTaskDistribution)
	}
	if len(actions) > 0 {
		c.logger.Info("adaptation actions selected",
			zap.Strings("actions", actions),
			zap.Float64("avg_response_ms", m.AverageResponseTime),
			zap.Float64("error_rate", m.ErrorRate),
			zap.Float64("throughput", m.Throughput),
		)
	}
	return actions
}

// OnAgentFailure responds to a reported failure by spawning a replacement
// with a deterministic id derived from the failed agent. The plan is a
// best-effort signal and is returned even when the spawn ceiling refuses
// the replacement; the error reports the refusal.
func (c *Coordinator) OnAgentFailure(ctx context.Context, agentID, workflowID string, cause error) (*RecoveryPlan, error) {
	replacementID := agentID + "-replacement"
	plan := &RecoveryPlan{
		Action:        ActionSpawnReplacement,
		FailedAgentID: agentID,
		ReplacementID: replacementID,
		WorkflowID:    workflowID,
		Reason:        fmt.Sprintf("agent %s failed: %v", agentID, cause),
	}

	failedType := types.AgentTypeWorker
	failedCfg := DefaultConfigFor(failedType)
	if shell, ok := c.Shell(agentID); ok {
		failedType = shell.Type()
		failedCfg = shell.Instance().Config
		if err := c.Terminate(ctx, agentID); err != nil {
			c.logger.Warn("failed to terminate failed agent", zap.Error(err))
		}
	}

	if err := c.spawnWithID(ctx, replacementID, failedType, failedCfg); err != nil {
		c.logger.Warn("replacement spawn refused",
			zap.String("failed_agent_id", agentID),
			zap.String("replacement_id", replacementID),
			zap.Error(err),
		)
		return plan, err
	}

	c.logger.Warn("agent failure recovered",
		zap.String("failed_agent_id", agentID),
		zap.String("replacement_id", replacementID),
		zap.String("workflow_id", workflowID),
		zap.NamedError("cause", cause),
	)
	return plan, nil
}

// spawnWithID registers a shell under a caller-chosen id. Used for
// deterministic replacement ids; regular spawns generate their own.
func (c *Coordinator) spawnWithID(ctx context.Context, agentID string, agentType types.AgentType, cfg types.AgentConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.shells) >= c.maxAgents {
		c.collector.RecordAgentSpawn(string(agentType), "rejected")
		return types.NewErrorf(types.ErrLimitExceeded, "agent population at ceiling (%d)", c.maxAgents)
	}
	if _, exists := c.shells[agentID]; exists {
		return types.NewErrorf(types.ErrValidation, "agent %s already exists", agentID)
	}

	now := time.Now()
	shell, err := agent.ResumeShell(&types.AgentInstance{
		ID:            agentID,
		Type:          agentType,
		Config:        cfg,
		Status:        types.AgentIdle,
		LastHeartbeat: now,
		CreatedAt:     now,
		Metadata:      make(map[string]any),
	}, c.executor,
		agent.WithShellStore(c.kv),
		agent.WithShellCollector(c.collector),
		agent.WithShellLogger(c.logger),
	)
	if err != nil {
		return err
	}
	if err := shell.Heartbeat(ctx); err != nil {
		return err
	}

	c.shells[agentID] = shell
	c.collector.RecordAgentSpawn(string(agentType), "spawned")
	return nil
}
