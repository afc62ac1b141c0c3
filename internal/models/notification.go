package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification spec types and alarm kinds.
const (
	SpecMonitorAlert = "MONITOR_ALERT"
	SpecWidgetAlert  = "WIDGET_ALERT"

	AlarmMonitorItem   = "MONITOR_ITEM"
	AlarmMonitorObject = "MONITOR_OBJECT"
	AlarmWidgetItem    = "WIDGET_ITEM"
)

// NotificationSpec is the structured descriptor of a notification.
type NotificationSpec struct {
	Type     string `json:"type"`
	Alarm    string `json:"alarm"`
	Property string `json:"property,omitempty"`
}

// Notification is a message about an alarm transition.
type Notification struct {
	ID          string           `json:"id"`
	SubjectID   string           `json:"subject"`
	SubjectName string           `json:"subjectName"`
	Tags        []string         `json:"tags"`
	Message     string           `json:"message"`
	Spec        NotificationSpec `json:"spec"`
	Recipient   string           `json:"recipient,omitempty"` // empty means broadcast
	CreatedAt   time.Time        `json:"createdAt"`
}

// NewNotification creates a Notification with a fresh id and timestamp.
func NewNotification(subject ObjectRef, tags []string, message string, spec NotificationSpec) *Notification {
	return &Notification{
		ID:          uuid.NewString(),
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		Tags:        tags,
		Message:     message,
		Spec:        spec,
		CreatedAt:   time.Now().UTC(),
	}
}

// HasTags reports whether the notification carries every tag in filter.
// An empty filter matches everything.
func (n *Notification) HasTags(filter []string) bool {
	return ContainsAllTags(n.Tags, filter)
}

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelApp      Channel = "App"
	ChannelEmail    Channel = "Email"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WhatsApp"
)

// Health is the operational state of a delivery configuration.
type Health string

const (
	HealthOperational Health = "operational"
	HealthDegraded    Health = "degraded"
)

// ParseHealth converts a stored HealthCheck/Status value. Booleans follow
// the platform convention: true is operational, false degraded.
func ParseHealth(v any) Health {
	switch t := v.(type) {
	case bool:
		if t {
			return HealthOperational
		}
		return HealthDegraded
	case string:
		if Health(t) == HealthDegraded || t == "false" || t == "error" {
			return HealthDegraded
		}
	}
	return HealthOperational
}

// Value returns the stored form of the health.
func (h Health) Value() bool {
	return h != HealthDegraded
}

// DeliveryConfig is a provisioned delivery provider configuration.
type DeliveryConfig struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Channel    Channel  `json:"channel"`
	TagsFilter []string `json:"tagsFilter"`
	Health     Health   `json:"health"`

	// Email relay.
	SMTPHost string `json:"smtp,omitempty"`
	SMTPPort int    `json:"port,omitempty"`
	Address  string `json:"address,omitempty"`
	Token    string `json:"-"`
	Subject  string `json:"subject,omitempty"`

	// Twilio.
	AccountSID string `json:"accountSid,omitempty"`
	AuthToken  string `json:"-"`
	WhatsApp   bool   `json:"whatsapp,omitempty"`

	From string `json:"from,omitempty"`
}

// NotificationDelivery is the immutable receipt of one delivery attempt.
type NotificationDelivery struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user"`
	UserLogin      string    `json:"userLogin"`
	NotificationID string    `json:"notification"`
	Channel        Channel   `json:"channel"`
	DeliveryPath   string    `json:"deliveryPath"`
	Delivered      bool      `json:"delivered"`
	Error          string    `json:"error,omitempty"`
	Message        string    `json:"message"`
	ConfigID       string    `json:"config,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
