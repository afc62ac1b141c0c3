package alerting

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Emitter publishes events on the event source.
type Emitter interface {
	Publish(ctx context.Context, topic string, ev models.Event) error
}

// Publisher records notifications and announces them with a
// notification-created event so delivery can pick them up.
type Publisher struct {
	store   NotificationStore
	emitter Emitter
	topic   string
	logger  *zap.Logger
	stats   *Stats
}

// NewPublisher creates a Publisher. emitter may be nil when the store itself
// emits notification-created events.
func NewPublisher(store NotificationStore, emitter Emitter, topic string, logger *zap.Logger, stats *Stats) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Publisher{
		store:   store,
		emitter: emitter,
		topic:   topic,
		logger:  logger.With(zap.String("component", "publisher")),
		stats:   stats,
	}
}

// Publish stores n and emits its creation event.
func (p *Publisher) Publish(ctx context.Context, n *models.Notification) error {
	if err := p.store.CreateNotification(ctx, n); err != nil {
		p.stats.PublishErrors.Add(1)
		return fmt.Errorf("create notification: %w", err)
	}
	p.stats.NotificationsPublished.Add(1)
	metrics.NotificationsPublishedTotal.WithLabelValues(n.Spec.Alarm).Inc()
	p.logger.Info("created notification",
		zap.String("notification_id", n.ID),
		zap.String("subject_id", n.SubjectID),
		zap.String("message", n.Message),
	)

	if p.emitter == nil {
		return nil
	}
	if err := p.emitter.Publish(ctx, p.topic, models.NotificationCreated(n)); err != nil {
		p.stats.PublishErrors.Add(1)
		return fmt.Errorf("emit notification %s: %w", n.ID, err)
	}
	return nil
}
