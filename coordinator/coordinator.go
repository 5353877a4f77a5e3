package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/agent"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

// DefaultMaxAgents is the population ceiling when none is configured.
const DefaultMaxAgents = 32

// defaultConfigs maps each agent type to its spawn-time default config.
// Routing dispatches on the closed types.AgentType enum.
var defaultConfigs = map[types.AgentType]types.AgentConfig{
	types.AgentTypeReview: {
		Capabilities:       []string{"code-review", "pull-request-analysis"},
		MaxConcurrentTasks: 2,
		TaskTimeout:        5 * time.Minute,
		MaxRetries:         2,
	},
	types.AgentTypeSync: {
		Capabilities:       []string{"issue-sync", "status-propagation"},
		MaxConcurrentTasks: 4,
		TaskTimeout:        2 * time.Minute,
		MaxRetries:         3,
	},
	types.AgentTypeDashboard: {
		Capabilities:       []string{"progress-aggregation", "reporting"},
		MaxConcurrentTasks: 1,
		TaskTimeout:        time.Minute,
		MaxRetries:         1,
	},
	types.AgentTypeWorker: {
		Capabilities:       []string{"task-execution"},
		MaxConcurrentTasks: 4,
		TaskTimeout:        10 * time.Minute,
		MaxRetries:         3,
	},
}

// DefaultConfigFor returns the default config for an agent type.
func DefaultConfigFor(agentType types.AgentType) types.AgentConfig {
	if cfg, ok := defaultConfigs[agentType]; ok {
		return cfg
	}
	return defaultConfigs[types.AgentTypeWorker]
}

// Coordinator owns the agent population. It spawns shells up to a
// configured ceiling, terminates them, and keeps the registry consistent
// with the persisted instance records.
type Coordinator struct {
	mu     sync.RWMutex
	shells map[string]*agent.Shell

	maxAgents int
	executor  agent.TaskExecutor
	kv        persistence.KVStore
	collector *metrics.Collector
	logger    *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxAgents sets the agent population ceiling.
func WithMaxAgents(n int) Option {
	return func(c *Coordinator) { c.maxAgents = n }
}

// WithStore sets the KV store agent instances persist to.
func WithStore(kv persistence.KVStore) Option {
	return func(c *Coordinator) { c.kv = kv }
}

// WithCollector sets the metrics collector.
func WithCollector(collector *metrics.Collector) Option {
	return func(c *Coordinator) { c.collector = collector }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator creates a coordinator whose spawned shells run tasks
// through executor.
func NewCoordinator(executor agent.TaskExecutor, opts ...Option) *Coordinator {
	c := &Coordinator{
		shells:    make(map[string]*agent.Shell),
		maxAgents: DefaultMaxAgents,
		executor:  executor,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "coordinator"))
	return c
}

// Spawn creates a new idle agent instance of the given type. It fails
// with a limit error when the population is at the configured ceiling.
func (c *Coordinator) Spawn(ctx context.Context, agentType types.AgentType, cfg types.AgentConfig) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.shells) >= c.maxAgents {
		c.collector.RecordAgentSpawn(string(agentType), "rejected")
		return "", types.NewErrorf(types.ErrLimitExceeded, "agent population at ceiling (%d)", c.maxAgents)
	}

	shell := agent.NewShell(agentType, cfg, c.executor,
		agent.WithShellStore(c.kv),
		agent.WithShellCollector(c.collector),
		agent.WithShellLogger(c.logger),
	)
	if err := shell.Heartbeat(ctx); err != nil {
		return "", err
	}

	c.shells[shell.ID()] = shell
	c.collector.RecordAgentSpawn(string(agentType), "spawned")
	c.logger.Info("agent spawned",
		zap.String("agent_id", shell.ID()),
		zap.String("agent_type", string(agentType)),
		zap.Int("population", len(c.shells)),
	)
	return shell.ID(), nil
}

// Terminate stops an agent and removes it from the registry.
func (c *Coordinator) Terminate(ctx context.Context, agentID string) error {
	c.mu.Lock()
	shell, ok := c.shells[agentID]
	if ok {
		delete(c.shells, agentID)
	}
	c.mu.Unlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID)
	}
	return shell.Terminate(ctx)
}

// Shell returns the live shell for an agent id.
func (c *Coordinator) Shell(agentID string) (*agent.Shell, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	shell, ok := c.shells[agentID]
	return shell, ok
}

// Agents returns a sorted list of live agent ids.
func (c *Coordinator) Agents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.shells))
	for id := range c.shells {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AgentCount returns the current population size.
func (c *Coordinator) AgentCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.shells)
}

// agentsOfType returns the live shells of one type.
func (c *Coordinator) agentsOfType(agentType types.AgentType) []*agent.Shell {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*agent.Shell, 0)
	for _, shell := range c.shells {
		if shell.Type() == agentType {
			out = append(out, shell)
		}
	}
	return out
}
