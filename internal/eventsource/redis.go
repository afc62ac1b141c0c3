package eventsource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// RedisConfig configures a Redis Streams source.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string        // stream key prefix, e.g. "blazealarm:"
	Group     string        // consumer group
	Consumer  string        // consumer name within the group
	Block     time.Duration // XREADGROUP block per poll
	BatchSize int64
	MaxLen    int64 // approximate stream trim length, 0 keeps everything
}

func (c *RedisConfig) setDefaults() {
	if c.Group == "" {
		c.Group = "blazealarm"
	}
	if c.Consumer == "" {
		c.Consumer = "engine"
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
}

// RedisSource publishes events with XADD and consumes them through a
// consumer group with XREADGROUP. Each event is stored as JSON in the "data"
// field of a stream entry.
type RedisSource struct {
	client *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisSource connects to Redis and checks the connection.
func NewRedisSource(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return NewRedisSourceWithClient(client, cfg, logger), nil
}

// NewRedisSourceWithClient wraps an existing client.
func NewRedisSourceWithClient(client *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisSource {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSource{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "redis_source")),
	}
}

func (r *RedisSource) key(topic string) string {
	return r.cfg.Prefix + topic
}

// ensureGroup creates the consumer group, creating the stream if needed.
// An existing group is not an error.
func (r *RedisSource) ensureGroup(ctx context.Context, stream string) error {
	err := r.client.XGroupCreateMkStream(ctx, stream, r.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", r.cfg.Group, stream, err)
	}
	return nil
}

// Subscribe joins the consumer group of topic's stream.
func (r *RedisSource) Subscribe(ctx context.Context, topic string) (Stream, error) {
	stream := r.key(topic)
	if err := r.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}
	return &redisStream{src: r, topic: topic, stream: stream}, nil
}

// Publish appends ev to topic's stream.
func (r *RedisSource) Publish(ctx context.Context, topic string, ev models.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: r.key(topic),
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisSource) Close() error {
	return r.client.Close()
}

type redisStream struct {
	src    *RedisSource
	topic  string
	stream string

	mu      sync.Mutex
	pending []redis.XMessage
	closed  bool
}

func (s *redisStream) Next(ctx context.Context) (models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.closed {
			return models.Event{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return models.Event{}, err
		}
		if len(s.pending) > 0 {
			msg := s.pending[0]
			s.pending = s.pending[1:]
			ev, err := s.decode(msg)
			if ackErr := s.src.client.XAck(ctx, s.stream, s.src.cfg.Group, msg.ID).Err(); ackErr != nil {
				return models.Event{}, fmt.Errorf("xack %s: %w", msg.ID, ackErr)
			}
			if err != nil {
				s.src.logger.Warn("dropping malformed stream entry",
					zap.String("stream", s.stream),
					zap.String("entry_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			return ev, nil
		}

		res, err := s.src.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.src.cfg.Group,
			Consumer: s.src.cfg.Consumer,
			Streams:  []string{s.stream, ">"},
			Count:    s.src.cfg.BatchSize,
			Block:    s.src.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return models.Event{}, ctx.Err()
			}
			return models.Event{}, fmt.Errorf("%w: xreadgroup %s: %v", ErrDisconnected, s.stream, err)
		}
		for _, xs := range res {
			s.pending = append(s.pending, xs.Messages...)
		}
	}
}

func (s *redisStream) decode(msg redis.XMessage) (models.Event, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return models.Event{}, fmt.Errorf("entry %s has no data field", msg.ID)
	}
	return Decode(s.topic, []byte(raw))
}

func (s *redisStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.pending = nil
	return nil
}
