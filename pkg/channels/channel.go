package channels

import (
	"context"
)

// InboundMessage is the normalized ingress payload from any channel.
type InboundMessage struct {
	Channel string
	Sender  string
	Content string
}

// DispatchFunc routes an inbound channel message to the agent runtime and
// returns the reply to deliver back to the sender.
type DispatchFunc func(ctx context.Context, msg InboundMessage) (string, error)

// Channel is a chat transport adapter (terminal, whatsapp, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch DispatchFunc) error
	Stop(ctx context.Context) error
	Send(recipient, text string) error
}
