package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/observability"
)

// WhatsAppName is the registry name of the WhatsApp channel.
const WhatsAppName = "whatsapp"

// ConnState describes the WhatsApp bridge connection lifecycle.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// BridgeClient is the narrow surface this channel needs from a WhatsApp
// bridge implementation. Pairing, reconnects and wire protocol live behind
// it.
type BridgeClient interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SendMessage(recipient, text string) error
	OnMessage(handler func(sender, text string))
}

// WhatsAppConfig configures a WhatsApp channel.
type WhatsAppConfig struct {
	Client BridgeClient
	Logger zerolog.Logger
}

// WhatsAppChannel relays text messages through a WhatsApp bridge client.
type WhatsAppChannel struct {
	client BridgeClient
	logger zerolog.Logger

	mu       sync.RWMutex
	state    ConnState
	dispatch DispatchFunc
}

// NewWhatsAppChannel creates a WhatsApp channel over the given bridge client.
func NewWhatsAppChannel(cfg WhatsAppConfig) (*WhatsAppChannel, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("bridge client is required")
	}

	return &WhatsAppChannel{
		client: cfg.Client,
		logger: cfg.Logger.With().Str("component", "channel.whatsapp").Logger(),
		state:  StateDisconnected,
	}, nil
}

// Name returns the channel name.
func (c *WhatsAppChannel) Name() string {
	return WhatsAppName
}

// State returns the current connection state.
func (c *WhatsAppChannel) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Start connects the bridge and begins relaying inbound messages. Replies
// produced by dispatch are sent back to the originating sender.
func (c *WhatsAppChannel) Start(ctx context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("whatsapp channel already started")
	}
	c.state = StateConnecting
	c.dispatch = dispatch
	c.mu.Unlock()

	if err := c.client.Connect(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.dispatch = nil
		c.mu.Unlock()
		return fmt.Errorf("failed to connect whatsapp bridge: %w", err)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()

	c.client.OnMessage(c.handleInbound)

	c.logger.Info().Msg("whatsapp channel connected")
	return nil
}

// Stop disconnects the bridge.
func (c *WhatsAppChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	state := c.state
	c.state = StateDisconnected
	c.dispatch = nil
	c.mu.Unlock()

	if state != StateConnected {
		return nil
	}

	if err := c.client.Disconnect(); err != nil {
		c.logger.Warn().Err(err).Msg("whatsapp disconnect failed")
	}

	c.logger.Info().Msg("whatsapp channel stopped")
	return nil
}

// Send delivers a text message to a recipient.
func (c *WhatsAppChannel) Send(recipient, text string) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected {
		return fmt.Errorf("whatsapp is not connected")
	}

	if err := c.client.SendMessage(recipient, text); err != nil {
		return fmt.Errorf("failed to send whatsapp message: %w", err)
	}
	return nil
}

func (c *WhatsAppChannel) handleInbound(sender, text string) {
	c.mu.RLock()
	dispatch := c.dispatch
	c.mu.RUnlock()

	if dispatch == nil {
		return
	}

	observability.RecordChannelMessage(WhatsAppName)

	reply, err := dispatch(context.Background(), InboundMessage{
		Channel: WhatsAppName,
		Sender:  sender,
		Content: text,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("sender", sender).Msg("dispatch failed")
		return
	}

	if err := c.Send(sender, reply); err != nil {
		c.logger.Warn().Err(err).Str("sender", sender).Msg("failed to send reply")
	}
}
