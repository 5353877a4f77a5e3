package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/types"
)

// notifierSender is the sender id carried by change notifications.
const notifierSender = "state-store"

// Notifier maintains per-workflow subscriber sets and fans state-change
// notifications out to them. Fan-out is self-healing: an agent that fails
// delivery is pruned from the subscriber set and never blocks delivery to
// the rest.
type Notifier struct {
	transport Transport
	subs      map[string]map[string]struct{} // workflow id -> agent ids
	mu        sync.RWMutex
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewNotifier creates a change notifier delivering through transport.
// collector may be nil.
func NewNotifier(transport Transport, collector *metrics.Collector, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		transport: transport,
		subs:      make(map[string]map[string]struct{}),
		collector: collector,
		logger:    logger.With(zap.String("component", "change_notifier")),
	}
}

// Subscribe adds agentID to the subscriber set of workflowID. Idempotent.
func (n *Notifier) Subscribe(workflowID, agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	set, ok := n.subs[workflowID]
	if !ok {
		set = make(map[string]struct{})
		n.subs[workflowID] = set
	}
	set[agentID] = struct{}{}
}

// Unsubscribe removes agentID from the subscriber set of workflowID.
func (n *Notifier) Unsubscribe(workflowID, agentID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if set, ok := n.subs[workflowID]; ok {
		delete(set, agentID)
		if len(set) == 0 {
			delete(n.subs, workflowID)
		}
	}
}

// Subscribers returns the sorted subscriber ids for workflowID.
func (n *Notifier) Subscribers(workflowID string) []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	set := n.subs[workflowID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast delivers a change notification to every current subscriber of
// workflowID, concurrently. Each subscriber gets its own AgentMessage of
// type "data". A failed delivery removes that subscriber; it does not fail
// the broadcast or delay other recipients.
func (n *Notifier) Broadcast(ctx context.Context, workflowID string, change map[string]any) {
	recipients := n.Subscribers(workflowID)
	if len(recipients) == 0 {
		return
	}

	var failedMu sync.Mutex
	failed := make([]string, 0)

	g, gctx := errgroup.WithContext(ctx)
	for _, agentID := range recipients {
		agentID := agentID
		g.Go(func() error {
			msg := &types.AgentMessage{
				ID:        uuid.New().String(),
				From:      notifierSender,
				To:        agentID,
				Type:      types.MessageTypeData,
				Payload:   change,
				Timestamp: time.Now(),
			}
			if err := n.transport.Deliver(gctx, msg); err != nil {
				n.logger.Warn("notification delivery failed, pruning subscriber",
					zap.String("workflow_id", workflowID),
					zap.String("agent_id", agentID),
					zap.Error(err),
				)
				n.collector.RecordNotification("failed")
				failedMu.Lock()
				failed = append(failed, agentID)
				failedMu.Unlock()
			} else {
				n.collector.RecordNotification("delivered")
			}
			// Individual failures are handled by pruning, never by
			// aborting the group.
			return nil
		})
	}
	_ = g.Wait()

	for _, agentID := range failed {
		n.Unsubscribe(workflowID, agentID)
		n.collector.RecordSubscriberPruned()
	}

	n.logger.Debug("change broadcast completed",
		zap.String("workflow_id", workflowID),
		zap.Int("recipients", len(recipients)),
		zap.Int("pruned", len(failed)),
	)
}
