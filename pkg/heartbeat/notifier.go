package heartbeat

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/channels"
)

// Notification types routed by the Notifier.
const (
	TypeUrgentEmail      = "urgent_email"
	TypeCalendarReminder = "calendar_reminder"
	TypeDailySummary     = "daily_summary"
)

// DefaultRecipient receives notifications when no recipient is configured.
const DefaultRecipient = "user"

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// Routes maps a notification type to a channel name. Types without a
	// route fall back to DefaultChannel.
	Routes         map[string]string
	DefaultChannel string
	Recipient      string
	Registry       *channels.Registry
	Logger         zerolog.Logger
}

// Notifier routes outbound notifications to a channel by notification type.
type Notifier struct {
	routes         map[string]string
	defaultChannel string
	recipient      string
	registry       *channels.Registry
	logger         zerolog.Logger
}

// NewNotifier creates a notifier over a channel registry.
func NewNotifier(cfg NotifierConfig) (*Notifier, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("channel registry is required")
	}
	if cfg.DefaultChannel == "" {
		return nil, fmt.Errorf("default channel is required")
	}

	recipient := cfg.Recipient
	if recipient == "" {
		recipient = DefaultRecipient
	}

	routes := make(map[string]string, len(cfg.Routes))
	for t, ch := range cfg.Routes {
		routes[t] = ch
	}

	return &Notifier{
		routes:         routes,
		defaultChannel: cfg.DefaultChannel,
		recipient:      recipient,
		registry:       cfg.Registry,
		logger:         cfg.Logger.With().Str("component", "notifier").Logger(),
	}, nil
}

// Notify sends a message through the channel configured for the
// notification type.
func (n *Notifier) Notify(notificationType, message string) error {
	channel := n.resolveChannel(notificationType)

	if err := n.registry.Send(channel, n.recipient, message); err != nil {
		return fmt.Errorf("failed to notify via %q: %w", channel, err)
	}

	n.logger.Debug().
		Str("type", notificationType).
		Str("channel", channel).
		Msg("notification sent")
	return nil
}

func (n *Notifier) resolveChannel(notificationType string) string {
	if channel, ok := n.routes[notificationType]; ok && channel != "" {
		return channel
	}
	return n.defaultChannel
}
