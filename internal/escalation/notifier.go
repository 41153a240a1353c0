package escalation

import (
	"context"
	"time"

	"task-router/internal/common/logging"
	"task-router/internal/common/utils"
	"task-router/internal/routing"
)

// Notification describes one escalation event for delivery to humans
// (chat, email, paging). Delivery is at-least-once; consumers must tolerate
// duplicates.
type Notification struct {
	RequestID  string                  `json:"request_id"`
	DecisionID string                  `json:"decision_id"`
	Level      int                     `json:"level"`
	Handler    routing.ConcreteHandler `json:"handler"`
	Unresolved bool                    `json:"unresolved"`
	Message    string                  `json:"message"`
	FiredAt    time.Time               `json:"fired_at"`
}

// Notifier delivers escalation notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. It is the default
// when no external notifier is wired.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{
		logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "escalation-notifier"}),
	}
}

func (n *LogNotifier) Notify(ctx context.Context, notification Notification) error {
	n.logger.Warn("escalation notification",
		logging.Field{Key: "request_id", Value: notification.RequestID},
		logging.Field{Key: "decision_id", Value: notification.DecisionID},
		logging.Field{Key: "level", Value: notification.Level},
		logging.Field{Key: "handler", Value: notification.Handler.ID},
		logging.Field{Key: "unresolved", Value: notification.Unresolved},
		logging.Field{Key: "message", Value: notification.Message})
	return nil
}

// retryingNotifier wraps a Notifier with exponential backoff so a flaky
// notification channel does not drop escalations silently.
type retryingNotifier struct {
	inner  Notifier
	config utils.RetryConfig
}

func withRetry(inner Notifier) Notifier {
	config := utils.DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 500 * time.Millisecond
	return &retryingNotifier{inner: inner, config: config}
}

func (r *retryingNotifier) Notify(ctx context.Context, n Notification) error {
	return utils.RetryWithBackoff(ctx, r.config, func() error {
		return r.inner.Notify(ctx, n)
	})
}
