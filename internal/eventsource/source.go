// Package eventsource provides the change-event streams the engine reacts to
// and the publishing side used to announce created notifications.
package eventsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

var (
	// ErrClosed is returned by a Stream or Source after Close.
	ErrClosed = errors.New("event source closed")
	// ErrDisconnected is returned by Stream.Next when the connection to the
	// broker was lost. Callers re-subscribe.
	ErrDisconnected = errors.New("event source disconnected")
)

// Source is a topic-keyed event bus.
type Source interface {
	// Subscribe opens a stream of live events on topic.
	Subscribe(ctx context.Context, topic string) (Stream, error)
	// Publish appends ev to topic.
	Publish(ctx context.Context, topic string, ev models.Event) error
	Close() error
}

// Stream is an open subscription.
type Stream interface {
	// Next blocks until an event arrives, ctx is done or the stream fails.
	Next(ctx context.Context) (models.Event, error)
	Close() error
}

// Encode serializes an event for the wire.
func Encode(ev models.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// Decode parses a wire event received on topic.
func Decode(topic string, data []byte) (models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Kind == "" || ev.Shape == "" {
		return models.Event{}, fmt.Errorf("decode event: missing kind or shape")
	}
	ev.Topic = topic
	return ev, nil
}
