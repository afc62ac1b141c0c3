package eventsource

import (
	"context"
	"sync"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

const memoryBuffer = 256

// Memory is an in-process Source. Publish blocks while a subscriber's buffer
// is full, so no event is dropped.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]map[*memoryStream]struct{}
	closed bool
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[*memoryStream]struct{})}
}

// Subscribe registers a new stream on topic.
func (m *Memory) Subscribe(_ context.Context, topic string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memoryStream{
		bus:   m,
		topic: topic,
		ch:    make(chan models.Event, memoryBuffer),
		done:  make(chan struct{}),
	}
	if m.subs[topic] == nil {
		m.subs[topic] = make(map[*memoryStream]struct{})
	}
	m.subs[topic][s] = struct{}{}
	return s, nil
}

// Publish delivers ev to every current subscriber of topic.
func (m *Memory) Publish(ctx context.Context, topic string, ev models.Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	targets := make([]*memoryStream, 0, len(m.subs[topic]))
	for s := range m.subs[topic] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	ev.Topic = topic
	for _, s := range targets {
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Disconnect fails every open stream on topic with ErrDisconnected, the way
// a broker connection loss would.
func (m *Memory) Disconnect(topic string) {
	m.mu.Lock()
	streams := m.subs[topic]
	delete(m.subs, topic)
	m.mu.Unlock()

	for s := range streams {
		s.fail(ErrDisconnected)
	}
}

// Subscribers returns the number of open streams on topic.
func (m *Memory) Subscribers(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[topic])
}

// Close fails every stream with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, streams := range all {
		for s := range streams {
			s.fail(ErrClosed)
		}
	}
	return nil
}

func (m *Memory) remove(s *memoryStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[s.topic], s)
}

type memoryStream struct {
	bus   *Memory
	topic string
	ch    chan models.Event
	done  chan struct{}

	once sync.Once
	err  error
}

func (s *memoryStream) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *memoryStream) Next(ctx context.Context) (models.Event, error) {
	// Buffered events are drained before a failure is reported.
	select {
	case ev := <-s.ch:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		return models.Event{}, s.err
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	}
}

func (s *memoryStream) Close() error {
	s.bus.remove(s)
	s.fail(ErrClosed)
	return nil
}
