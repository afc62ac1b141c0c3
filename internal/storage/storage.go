// Package storage implements the state store the engine reads entities from
// and writes statuses, notifications and delivery receipts to.
package storage

import (
	"context"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = models.ErrNotFound

// Emitter publishes change events produced by property writes.
type Emitter interface {
	Publish(ctx context.Context, topic string, ev models.Event) error
}

// ReceiptSink receives delivery receipts after they are stored.
type ReceiptSink interface {
	Add(d *models.NotificationDelivery)
}

// ObjectSpec describes an object to provision.
type ObjectSpec struct {
	ID         string
	Name       string
	Enabled    bool
	Tags       []string
	Properties []models.PropertyValue
}
