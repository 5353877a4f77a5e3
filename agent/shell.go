package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/persistence"
	"github.com/BaSui01/stateflow/types"
)

// TaskExecutor is the contract every agent type implements. Execution
// outcomes are structured TaskResults; failures are reported through the
// error return and never as raw panics.
type TaskExecutor interface {
	Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error)
}

// TaskExecutorFunc adapts a function to the TaskExecutor interface.
type TaskExecutorFunc func(ctx context.Context, task *types.Task) (*types.TaskResult, error)

// Execute implements TaskExecutor.
func (f TaskExecutorFunc) Execute(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	return f(ctx, task)
}

// agentKey is the KV location of a persisted agent instance.
func agentKey(agentID string) string {
	return "agent:" + agentID
}

// Shell is the runtime wrapper around one agent instance. It owns the
// instance's status machine, heartbeat, and inbound message queue, and
// persists the instance through the KV store so it survives restarts.
type Shell struct {
	mu       sync.Mutex
	instance *types.AgentInstance
	executor TaskExecutor
	queue    *MessageQueue
	draining bool

	kv        persistence.KVStore
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// ShellOption configures a Shell.
type ShellOption func(*Shell)

// WithShellStore sets the KV store the shell persists its instance to.
func WithShellStore(kv persistence.KVStore) ShellOption {
	return func(s *Shell) { s.kv = kv }
}

// WithShellCollector sets the metrics collector.
func WithShellCollector(c *metrics.Collector) ShellOption {
	return func(s *Shell) { s.collector = c }
}

// WithShellLogger sets the logger.
func WithShellLogger(logger *zap.Logger) ShellOption {
	return func(s *Shell) { s.logger = logger }
}

// NewShell creates a runtime shell for the given agent type and config.
// The instance starts idle with a fresh heartbeat.
func NewShell(agentType types.AgentType, cfg types.AgentConfig, executor TaskExecutor, opts ...ShellOption) *Shell {
	s := &Shell{
		executor: executor,
		queue:    NewMessageQueue(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	s.instance = &types.AgentInstance{
		ID:            fmt.Sprintf("%s-%s", agentType, uuid.NewString()[:8]),
		Type:          agentType,
		Config:        cfg,
		Status:        types.AgentIdle,
		LastHeartbeat: now,
		CreatedAt:     now,
		Metadata:      make(map[string]any),
	}
	s.logger = s.logger.With(
		zap.String("component", "agent-shell"),
		zap.String("agent_id", s.instance.ID),
	)
	return s
}

// ResumeShell rebuilds a shell around a previously persisted instance.
// Terminated instances cannot be resumed.
func ResumeShell(instance *types.AgentInstance, executor TaskExecutor, opts ...ShellOption) (*Shell, error) {
	if instance == nil {
		return nil, types.NewError(types.ErrValidation, "instance is nil")
	}
	if instance.Status == types.AgentTerminated {
		return nil, types.NewErrorf(types.ErrInvalidTransition, "agent %s is terminated", instance.ID)
	}

	s := &Shell{
		instance: instance,
		executor: executor,
		queue:    NewMessageQueue(),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(
		zap.String("component", "agent-shell"),
		zap.String("agent_id", instance.ID),
	)
	return s, nil
}

// LoadInstance reads a persisted agent instance from the KV store.
func LoadInstance(ctx context.Context, kv persistence.KVStore, agentID string) (*types.AgentInstance, error) {
	data, err := kv.Get(ctx, agentKey(agentID))
	if err != nil {
		return nil, types.NewErrorf(types.ErrNotFound, "agent %s not found", agentID).WithCause(err)
	}
	var instance types.AgentInstance
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, types.NewError(types.ErrInternalError, "corrupt agent record").WithCause(err)
	}
	return &instance, nil
}

// ID returns the agent instance id.
func (s *Shell) ID() string {
	return s.instance.ID
}

// Type returns the agent type.
func (s *Shell) Type() types.AgentType {
	return s.instance.Type
}

// Status returns the current lifecycle status.
func (s *Shell) Status() types.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance.Status
}

// Health classifies the agent from its heartbeat age.
func (s *Shell) Health() types.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return HealthOf(s.instance.LastHeartbeat, s.now())
}

// Heartbeat refreshes the liveness timestamp and persists the instance.
func (s *Shell) Heartbeat(ctx context.Context) error {
	s.mu.Lock()
	s.instance.LastHeartbeat = s.now()
	s.mu.Unlock()
	return s.persist(ctx)
}

// Instance returns a snapshot copy of the agent instance.
func (s *Shell) Instance() *types.AgentInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *s.instance
	out.CurrentTasks = append([]string(nil), s.instance.CurrentTasks...)
	out.Metadata = make(map[string]any, len(s.instance.Metadata))
	for k, v := range s.instance.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// QueueDepth returns the number of messages waiting for the agent.
func (s *Shell) QueueDepth() int {
	return s.queue.Len()
}

// Deliver hands a message to the agent. Task messages execute through the
// TaskExecutor; other message types are acknowledged and recorded. While
// the agent is busy, messages queue in FIFO order and drain when it
// returns to idle. Delivering to a terminated agent fails.
func (s *Shell) Deliver(ctx context.Context, msg *types.AgentMessage) error {
	if msg == nil {
		return types.NewError(types.ErrValidation, "message is nil")
	}

	s.mu.Lock()
	if s.instance.Status == types.AgentTerminated {
		s.mu.Unlock()
		return types.NewErrorf(types.ErrNotFound, "agent %s is terminated", s.instance.ID)
	}
	s.mu.Unlock()

	if !s.queue.Enqueue(msg) {
		return types.NewErrorf(types.ErrNotFound, "agent %s is terminated", s.instance.ID)
	}
	s.collector.SetQueueDepth(s.instance.ID, s.queue.Len())

	// Always attempt the drain after enqueueing. It returns immediately
	// when the agent is busy or another caller is already draining; the
	// status must be checked after the message is queued, or a delivery
	// racing the end of a drain could strand its message.
	return s.drain(ctx)
}

// drain processes queued messages in order until the queue is empty or the
// agent leaves idle (a failed task parks it in error until terminated).
// Only one caller drains at a time: without that, two concurrent Delivers
// could both dequeue and the loser of the idle->active transition would
// drop its message.
func (s *Shell) drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.draining || s.instance.Status != types.AgentIdle {
			s.mu.Unlock()
			return nil
		}
		s.draining = true
		s.mu.Unlock()

		err := s.drainQueue(ctx)

		s.mu.Lock()
		s.draining = false
		s.mu.Unlock()

		if err != nil {
			return err
		}
		if s.queue.Len() == 0 {
			return nil
		}
		// A message was enqueued while the drain flag was being released;
		// take another pass so it is not stranded.
	}
}

func (s *Shell) drainQueue(ctx context.Context) error {
	for {
		if s.Status() != types.AgentIdle {
			return nil
		}
		msg := s.queue.Dequeue()
		if msg == nil {
			return nil
		}
		s.collector.SetQueueDepth(s.instance.ID, s.queue.Len())
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle dispatches one message.
func (s *Shell) handle(ctx context.Context, msg *types.AgentMessage) error {
	switch msg.Type {
	case types.MessageTypeTask:
		task := taskFromMessage(msg)
		if task == nil {
			s.logger.Warn("task message without task payload", zap.String("message_id", msg.ID))
			return types.NewError(types.ErrValidation, "task message carries no task")
		}
		_, err := s.runTask(ctx, task)
		return err
	default:
		// Data, coordination, and status messages are acknowledged and
		// noted; they carry no work for the executor.
		s.mu.Lock()
		s.instance.Metadata["lastMessageId"] = msg.ID
		s.instance.Metadata["lastMessageType"] = string(msg.Type)
		s.instance.LastHeartbeat = s.now()
		s.mu.Unlock()
		s.logger.Debug("message acknowledged",
			zap.String("message_id", msg.ID),
			zap.String("message_type", string(msg.Type)),
		)
		return s.persist(ctx)
	}
}

// runTask drives one task through the executor with the configured
// timeout, moving idle -> active -> (idle | error).
func (s *Shell) runTask(ctx context.Context, task *types.Task) (*types.TaskResult, error) {
	if err := s.transition(ctx, types.AgentActive); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.instance.CurrentTasks = append(s.instance.CurrentTasks, task.ID)
	s.mu.Unlock()

	execCtx := ctx
	if timeout := s.instance.Config.TaskTimeout; timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := s.executor.Execute(execCtx, task)

	s.mu.Lock()
	s.instance.CurrentTasks = removeString(s.instance.CurrentTasks, task.ID)
	s.instance.LastHeartbeat = s.now()
	s.mu.Unlock()

	if err != nil {
		s.mu.Lock()
		s.instance.Metadata["lastError"] = err.Error()
		s.instance.Metadata["failedTaskId"] = task.ID
		s.mu.Unlock()
		if terr := s.transition(ctx, types.AgentError); terr != nil {
			return nil, terr
		}
		s.logger.Error("task execution failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
		return &types.TaskResult{TaskID: task.ID, Status: types.TaskFailed, Error: err.Error()}, err
	}

	if terr := s.transition(ctx, types.AgentIdle); terr != nil {
		return nil, terr
	}
	if result == nil {
		result = &types.TaskResult{TaskID: task.ID, Status: types.TaskCompleted}
	}
	return result, nil
}

// Terminate moves the agent to its terminal status, clears the queue, and
// removes the persisted instance record. Idempotent.
func (s *Shell) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.instance.Status == types.AgentTerminated {
		s.mu.Unlock()
		return nil
	}
	from := s.instance.Status
	s.instance.Status = types.AgentTerminated
	s.mu.Unlock()

	s.queue.Close()
	s.collector.SetQueueDepth(s.instance.ID, 0)
	s.collector.RecordAgentTransition(string(s.instance.Type), string(from), string(types.AgentTerminated))

	if s.kv != nil {
		if err := s.kv.Delete(ctx, agentKey(s.instance.ID)); err != nil {
			s.logger.Warn("failed to remove persisted agent record", zap.Error(err))
		}
	}
	s.logger.Info("agent terminated", zap.String("from_status", string(from)))
	return nil
}

// transition applies a legal status change, records it, and persists.
func (s *Shell) transition(ctx context.Context, to types.AgentStatus) error {
	s.mu.Lock()
	from := s.instance.Status
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidTransition, "cannot transition agent %s from %s to %s", s.instance.ID, from, to)
	}
	s.instance.Status = to
	s.instance.LastHeartbeat = s.now()
	s.mu.Unlock()

	s.collector.RecordAgentTransition(string(s.instance.Type), string(from), string(to))
	s.logger.Debug("agent status changed",
		zap.String("from_status", string(from)),
		zap.String("to_status", string(to)),
	)
	return s.persist(ctx)
}

// persist writes the instance to the KV store when one is configured.
// Persistence failures on status bookkeeping are logged, not fatal.
func (s *Shell) persist(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	s.mu.Lock()
	data, err := json.Marshal(s.instance)
	id := s.instance.ID
	s.mu.Unlock()
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to encode agent instance").WithCause(err)
	}
	if err := s.kv.Put(ctx, agentKey(id), data); err != nil {
		s.logger.Warn("failed to persist agent instance", zap.Error(err))
	}
	return nil
}

// taskFromMessage extracts the task carried by a task message.
func taskFromMessage(msg *types.AgentMessage) *types.Task {
	raw, ok := msg.Payload["task"]
	if !ok {
		return nil
	}
	switch t := raw.(type) {
	case *types.Task:
		return t
	case types.Task:
		return &t
	default:
		// Payloads that crossed a JSON boundary arrive as generic maps.
		data, err := json.Marshal(raw)
		if err != nil {
			return nil
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil || task.ID == "" {
			return nil
		}
		return &task
	}
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
