package eventsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// MQTTConfig configures an MQTT source.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string // topic prefix, e.g. "blazealarm/events/"
	QoS      byte
	Timeout  time.Duration
}

// MQTTSource maps topics onto broker topics below a prefix. A lost broker
// connection fails every open stream so the caller re-subscribes.
type MQTTSource struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *zap.Logger

	mu      sync.Mutex
	streams map[*mqttStream]struct{}
}

// NewMQTTSource connects to the broker.
func NewMQTTSource(cfg MQTTConfig, logger *zap.Logger) (*MQTTSource, error) {
	s := newMQTTSource(nil, cfg, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(s.connectionLost)

	s.client = mqtt.NewClient(opts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(s.cfg.Timeout) {
		return nil, fmt.Errorf("connect to mqtt broker %s: timeout", cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker %s: %w", cfg.Broker, err)
	}
	return s, nil
}

func newMQTTSource(client mqtt.Client, cfg MQTTConfig, logger *zap.Logger) *MQTTSource {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSource{
		client:  client,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "mqtt_source")),
		streams: make(map[*mqttStream]struct{}),
	}
}

func (m *MQTTSource) brokerTopic(topic string) string {
	return m.cfg.Prefix + topic
}

func (m *MQTTSource) wait(tok mqtt.Token, op string) error {
	if !tok.WaitTimeout(m.cfg.Timeout) {
		return fmt.Errorf("mqtt %s: timeout", op)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}

// Subscribe subscribes to topic on the broker.
func (m *MQTTSource) Subscribe(_ context.Context, topic string) (Stream, error) {
	if !m.client.IsConnectionOpen() {
		return nil, ErrDisconnected
	}
	s := &mqttStream{
		src:   m,
		topic: topic,
		ch:    make(chan models.Event, memoryBuffer),
		done:  make(chan struct{}),
	}
	bt := m.brokerTopic(topic)
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		ev, err := Decode(topic, msg.Payload())
		if err != nil {
			m.logger.Warn("dropping malformed message", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		select {
		case s.ch <- ev:
		case <-s.done:
		}
	}
	if err := m.wait(m.client.Subscribe(bt, m.cfg.QoS, handler), "subscribe "+bt); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.streams[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

// Publish sends ev to topic.
func (m *MQTTSource) Publish(_ context.Context, topic string, ev models.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	bt := m.brokerTopic(topic)
	return m.wait(m.client.Publish(bt, m.cfg.QoS, false, data), "publish "+bt)
}

func (m *MQTTSource) connectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("mqtt connection lost", zap.Error(err))
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[*mqttStream]struct{})
	m.mu.Unlock()

	for s := range streams {
		s.fail(fmt.Errorf("%w: %v", ErrDisconnected, err))
	}
}

// Close fails open streams and disconnects.
func (m *MQTTSource) Close() error {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[*mqttStream]struct{})
	m.mu.Unlock()
	for s := range streams {
		s.fail(ErrClosed)
	}
	m.client.Disconnect(250)
	return nil
}

type mqttStream struct {
	src   *MQTTSource
	topic string
	ch    chan models.Event
	done  chan struct{}

	once sync.Once
	err  error
}

func (s *mqttStream) fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *mqttStream) Next(ctx context.Context) (models.Event, error) {
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-s.done:
		return models.Event{}, s.err
	case <-ctx.Done():
		return models.Event{}, ctx.Err()
	}
}

func (s *mqttStream) Close() error {
	s.src.mu.Lock()
	delete(s.src.streams, s)
	s.src.mu.Unlock()
	s.fail(ErrClosed)

	bt := s.src.brokerTopic(s.topic)
	if s.src.client.IsConnectionOpen() {
		return s.src.wait(s.src.client.Unsubscribe(bt), "unsubscribe "+bt)
	}
	return nil
}
