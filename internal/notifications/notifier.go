package notifications

import (
	"context"
	"strings"

	"github.com/ospgroupvn/usage-monitor/internal/config"
	"github.com/ospgroupvn/usage-monitor/pkg/events"
	"go.uber.org/zap"
)

// Notifier forwards operational events to Slack. With no webhook URL
// configured it stays disabled and subscribes to nothing.
type Notifier struct {
	slack  *SlackAdapter
	logger *zap.Logger
}

// NewNotifier creates a notifier from configuration.
func NewNotifier(cfg config.NotificationsConfig, logger *zap.Logger) *Notifier {
	n := &Notifier{logger: logger}

	if cfg.SlackWebhookURL == "" {
		logger.Info("slack notifications disabled")
		return n
	}

	n.slack = NewSlackAdapter(cfg.SlackWebhookURL, cfg.SlackChannel, logger)
	logger.Info("slack notifications enabled", zap.String("webhook_url", maskURL(cfg.SlackWebhookURL)))
	return n
}

// Enabled reports whether a delivery channel is configured.
func (n *Notifier) Enabled() bool {
	return n.slack != nil
}

// SubscribeAll registers the notifier on the bus for the event types it
// cares about. A disabled notifier is a no-op.
func (n *Notifier) SubscribeAll(bus *events.Bus) {
	if !n.Enabled() {
		return
	}

	bus.Subscribe(events.EventTokenRevoked, n.handle)
	bus.Subscribe(events.EventUsageRelayFailed, n.handle)
}

func (n *Notifier) handle(ctx context.Context, event events.Event) error {
	if err := n.slack.Send(ctx, event); err != nil {
		n.logger.Warn("failed to deliver slack notification",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// maskURL hides the webhook path, which embeds a secret.
func maskURL(url string) string {
	if idx := strings.Index(url, "/services/"); idx >= 0 {
		return url[:idx] + "/services/***"
	}
	if len(url) > 30 {
		return url[:30] + "***"
	}
	return url
}
