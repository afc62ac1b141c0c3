package notifier

import (
	"context"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// DefaultAppName is the delivery path of in-app receipts when none is
// configured.
const DefaultAppName = "BlazeAlarm"

// AppSender records in-app deliveries. The receipt itself is what client
// applications consume, so sending always succeeds.
type AppSender struct {
	appName string
}

// NewAppSender creates an in-app sender. An empty name uses DefaultAppName.
func NewAppSender(appName string) *AppSender {
	if appName == "" {
		appName = DefaultAppName
	}
	return &AppSender{appName: appName}
}

func (a *AppSender) Channel() models.Channel { return models.ChannelApp }

func (a *AppSender) DeliveryPath(models.DeliveryConfig) string { return a.appName }

func (a *AppSender) Validate(models.DeliveryConfig) error { return nil }

func (a *AppSender) Send(ctx context.Context, _ models.DeliveryConfig, _ *models.User, _ *models.Notification) error {
	return ctx.Err()
}

// implicitAppConfig stands in for an unprovisioned App channel. It has no
// id, so its health is never tracked.
var implicitAppConfig = models.DeliveryConfig{
	Name:    "in-app",
	Channel: models.ChannelApp,
	Health:  models.HealthOperational,
}
