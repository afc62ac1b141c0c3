package models

import "time"

// EventKind is the change kind carried by an event.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
	EventDelete EventKind = "delete"
)

// EventShape is the node type an event refers to.
type EventShape string

const (
	ShapeObject       EventShape = "object"
	ShapeProperty     EventShape = "property"
	ShapeNotification EventShape = "notification"
)

// ObjectPayload is the object node of an event.
type ObjectPayload struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Tags    []string `json:"tags"`
}

// PropertyPayload is the property node of an event.
type PropertyPayload struct {
	ID               string        `json:"id"`
	ObjectID         string        `json:"objectId"`
	Group            string        `json:"groupName"`
	Property         string        `json:"property"`
	Value            any           `json:"value"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	LinkedPropertyID *string       `json:"linkedPropertyId"`
	Unlinked         bool          `json:"unlinked,omitempty"`
	Object           ObjectPayload `json:"object"`
}

// Key returns the Group/Property key of the payload.
func (p *PropertyPayload) Key() PropertyKey {
	return Key(p.Group, p.Property)
}

// Event is a change pushed by the event source.
type Event struct {
	Kind         EventKind        `json:"kind"`
	Shape        EventShape       `json:"shape"`
	Topic        string           `json:"topic,omitempty"`
	Object       *ObjectPayload   `json:"object,omitempty"`
	Property     *PropertyPayload `json:"property,omitempty"`
	Notification *Notification    `json:"notification,omitempty"`
	Snapshot     bool             `json:"-"`
}

// EntityID returns the id of the entity the event is about.
func (e *Event) EntityID() string {
	switch e.Shape {
	case ShapeProperty:
		if e.Property != nil {
			return e.Property.ObjectID
		}
	case ShapeObject:
		if e.Object != nil {
			return e.Object.ID
		}
	case ShapeNotification:
		if e.Notification != nil {
			return e.Notification.ID
		}
	}
	return ""
}

// Tags returns the tags used for rule matching.
func (e *Event) Tags() []string {
	switch e.Shape {
	case ShapeProperty:
		if e.Property != nil {
			return e.Property.Object.Tags
		}
	case ShapeObject:
		if e.Object != nil {
			return e.Object.Tags
		}
	case ShapeNotification:
		if e.Notification != nil {
			return e.Notification.Tags
		}
	}
	return nil
}

// IsDelete reports whether the event removes its entity.
func (e *Event) IsDelete() bool {
	return e.Kind == EventDelete
}

// NotificationCreated wraps a notification into an insert event.
func NotificationCreated(n *Notification) Event {
	return Event{Kind: EventInsert, Shape: ShapeNotification, Notification: n}
}
