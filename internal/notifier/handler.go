package notifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// HandlerName is the dispatch handler name of notification delivery.
const HandlerName = "notification_delivery"

// DeliveryHandler runs the fan-out for notification-created events.
type DeliveryHandler struct {
	fanout *Fanout
	logger *zap.Logger
}

// NewDeliveryHandler creates a handler delivering through fanout.
func NewDeliveryHandler(fanout *Fanout, logger *zap.Logger) *DeliveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryHandler{fanout: fanout, logger: logger.With(zap.String("handler", HandlerName))}
}

// Handle delivers the notification carried by ev.
func (h *DeliveryHandler) Handle(ctx context.Context, ev models.Event) error {
	if ev.Shape != models.ShapeNotification || ev.Notification == nil {
		return fmt.Errorf("%s: event carries no notification", HandlerName)
	}
	if ev.Kind != models.EventInsert {
		return nil
	}
	receipts, err := h.fanout.Deliver(ctx, ev.Notification)
	delivered := 0
	for _, r := range receipts {
		if r.Delivered {
			delivered++
		}
	}
	h.logger.Info("notification processed",
		zap.String("notification_id", ev.Notification.ID),
		zap.Int("receipts", len(receipts)),
		zap.Int("delivered", delivered),
	)
	return err
}
