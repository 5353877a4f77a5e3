package state

import (
	"context"

	"github.com/BaSui01/stateflow/types"
)

// Transport resolves a recipient agent id and delivers an AgentMessage.
// A delivery failure is reported back to the caller; the transport does
// not retry internally.
type Transport interface {
	Deliver(ctx context.Context, msg *types.AgentMessage) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, msg *types.AgentMessage) error

// Deliver implements Transport.
func (f TransportFunc) Deliver(ctx context.Context, msg *types.AgentMessage) error {
	return f(ctx, msg)
}
