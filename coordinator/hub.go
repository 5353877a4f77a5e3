package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/stateflow/agent"
	"github.com/BaSui01/stateflow/internal/metrics"
	"github.com/BaSui01/stateflow/types"
)

// ShellResolver resolves a recipient agent id to a live runtime shell.
// *Coordinator satisfies it.
type ShellResolver interface {
	Shell(agentID string) (*agent.Shell, bool)
}

// ChannelHub is the in-process inter-agent transport. It resolves the
// recipient through a ShellResolver and hands the message to the shell's
// inbound queue. Failures are reported to the caller, never retried.
type ChannelHub struct {
	resolver  ShellResolver
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewChannelHub creates a hub routing into resolver's shells.
func NewChannelHub(resolver ShellResolver, collector *metrics.Collector, logger *zap.Logger) *ChannelHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelHub{
		resolver:  resolver,
		collector: collector,
		logger:    logger.With(zap.String("component", "channel-hub")),
	}
}

// Deliver implements the transport contract used by the change notifier.
func (h *ChannelHub) Deliver(ctx context.Context, msg *types.AgentMessage) error {
	if msg == nil || msg.To == "" {
		return types.NewError(types.ErrValidation, "message recipient is required")
	}

	shell, ok := h.resolver.Shell(msg.To)
	if !ok {
		return types.NewErrorf(types.ErrNotFound, "no live agent %s", msg.To)
	}

	if err := shell.Deliver(ctx, msg); err != nil {
		h.logger.Debug("delivery failed",
			zap.String("agent_id", msg.To),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
