// Package notifier delivers notifications to platform users over the App,
// Email, SMS and WhatsApp channels and keeps delivery configuration health.
package notifier

import (
	"context"
	"errors"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// ErrConfig marks a delivery configuration that cannot be used, such as one
// missing a credential. Attempts through it fail without a network call.
var ErrConfig = errors.New("invalid delivery configuration")

// Sender delivers a notification to one user through one configuration.
type Sender interface {
	// Channel returns the channel the sender serves.
	Channel() models.Channel
	// DeliveryPath is recorded on every receipt the sender produces.
	DeliveryPath(cfg models.DeliveryConfig) string
	// Validate returns an error wrapping ErrConfig when cfg cannot be used.
	Validate(cfg models.DeliveryConfig) error
	// Send performs the delivery.
	Send(ctx context.Context, cfg models.DeliveryConfig, to *models.User, n *models.Notification) error
}

// Store is the state the fan-out reads and writes.
type Store interface {
	ListUsers(ctx context.Context) ([]*models.User, error)
	ListDeliveryConfigs(ctx context.Context, ch models.Channel) ([]models.DeliveryConfig, error)
	CreateDelivery(ctx context.Context, d *models.NotificationDelivery) error
	UpdateProperties(ctx context.Context, objectID string, txID int64, props []models.PropertyValue) error
}
