package dispatch

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealarm/internal/backoff"
	"github.com/good-yellow-bee/blazealarm/internal/eventsource"
	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// SnapshotSource lists the current objects carrying a set of tags. It is
// used to replay state after a (re)subscription.
type SnapshotSource interface {
	Snapshot(ctx context.Context, tags []string) ([]*models.Object, error)
}

// Options configures a Dispatcher.
type Options struct {
	// InitialBackoff is the first reconnect delay (default 1s).
	InitialBackoff time.Duration
	// MaxBackoff caps the reconnect delay (default 30s).
	MaxBackoff time.Duration
	// ShutdownTimeout bounds the wait for running tasks on exit (default 10s).
	ShutdownTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.InitialBackoff == 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
}

// Dispatcher subscribes to the topics of the rule table, matches incoming
// events and spawns handler tasks through the supervisor.
type Dispatcher struct {
	source     eventsource.Source
	rules      *RuleSet
	registry   *Registry
	supervisor *Supervisor
	snapshot   SnapshotSource
	opts       Options
	logger     *zap.Logger

	mu     sync.RWMutex
	states map[string]StreamState
}

// New creates a dispatcher. snapshot may be nil to disable replay.
func New(source eventsource.Source, rules *RuleSet, registry *Registry, snapshot SnapshotSource, opts Options, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()
	logger = logger.With(zap.String("component", "dispatcher"))
	return &Dispatcher{
		source:     source,
		rules:      rules,
		registry:   registry,
		supervisor: NewSupervisor(logger),
		snapshot:   snapshot,
		opts:       opts,
		logger:     logger,
		states:     make(map[string]StreamState),
	}
}

// Supervisor returns the task supervisor.
func (d *Dispatcher) Supervisor() *Supervisor {
	return d.supervisor
}

// Rules returns the active rule set.
func (d *Dispatcher) Rules() *RuleSet {
	return d.rules
}

// StreamStates returns the state of every topic subscription.
func (d *Dispatcher) StreamStates() map[string]StreamState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]StreamState, len(d.states))
	for k, v := range d.states {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) setState(topic string, s StreamState) {
	d.mu.Lock()
	prev := d.states[topic]
	d.states[topic] = s
	d.mu.Unlock()
	if prev == s {
		return
	}
	if s == StreamLive {
		metrics.StreamsLive.Inc()
	} else if prev == StreamLive {
		metrics.StreamsLive.Dec()
	}
	d.logger.Debug("stream state", zap.String("topic", topic), zap.Stringer("state", s))
}

// Run subscribes to every topic of the rule table and dispatches events
// until ctx is done. Running tasks are cancelled and awaited on return.
func (d *Dispatcher) Run(ctx context.Context) error {
	topics := d.rules.Load().Topics()
	if len(topics) == 0 {
		return errors.New("rule table has no enabled rules")
	}
	d.logger.Info("dispatcher starting", zap.Strings("topics", topics))

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range topics {
		topic := topic
		g.Go(func() error {
			d.subscribeLoop(gctx, topic)
			return nil
		})
	}
	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
	defer cancel()
	if serr := d.supervisor.Shutdown(shutdownCtx); serr != nil {
		d.logger.Warn("tasks still running at shutdown", zap.Error(serr))
	}
	d.logger.Info("dispatcher stopped")
	return err
}

// subscribeLoop keeps one subscription alive on topic, reconnecting with
// exponential backoff and replaying the snapshot after each subscription.
func (d *Dispatcher) subscribeLoop(ctx context.Context, topic string) {
	log := d.logger.With(zap.String("topic", topic))
	b := backoff.NewWithConfig(d.opts.InitialBackoff, d.opts.MaxBackoff, 2.0, 0.1)
	defer d.setState(topic, StreamDisconnected)

	d.setState(topic, StreamConnecting)
	for {
		var stream eventsource.Stream
		err := b.Retry(ctx, func(ctx context.Context) error {
			s, err := d.source.Subscribe(ctx, topic)
			if err != nil {
				return err
			}
			stream = s
			return nil
		}, func(attempt int, err error) {
			metrics.ReconnectsTotal.WithLabelValues(topic).Inc()
			log.Warn("subscribe failed", zap.Int("attempt", attempt), zap.Error(err))
		})
		if err != nil {
			return // ctx done
		}

		d.setState(topic, StreamReplaying)
		d.replay(ctx, topic)

		d.setState(topic, StreamLive)
		log.Info("subscribed")
		err = d.consume(ctx, topic, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}

		d.setState(topic, StreamReconnecting)
		metrics.ReconnectsTotal.WithLabelValues(topic).Inc()
		log.Warn("subscription lost, reconnecting", zap.Error(err))
		if werr := b.Wait(ctx); werr != nil {
			return
		}
	}
}

func (d *Dispatcher) consume(ctx context.Context, topic string, stream eventsource.Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if ev.Topic == "" {
			ev.Topic = topic
		}
		d.OnEvent(ctx, ev)
	}
}

// OnEvent matches ev against the rule table and spawns one task per matched
// handler, cancelling any task already running for the same handler and
// entity. Object deletions cancel the entity's tasks instead. It returns the
// number of tasks spawned.
func (d *Dispatcher) OnEvent(ctx context.Context, ev models.Event) int {
	origin := "live"
	if ev.Snapshot {
		origin = "snapshot"
	}
	metrics.EventsReceivedTotal.WithLabelValues(ev.Topic, origin).Inc()

	entity := ev.EntityID()
	if entity == "" {
		d.logger.Warn("event without entity id ignored",
			zap.String("topic", ev.Topic),
			zap.String("kind", string(ev.Kind)),
			zap.String("shape", string(ev.Shape)),
		)
		return 0
	}

	if ev.IsDelete() {
		if ev.Shape == models.ShapeObject {
			if n := d.supervisor.CancelEntity(entity); n > 0 {
				d.logger.Info("entity deleted, tasks cancelled", zap.String("entity_id", entity), zap.Int("tasks", n))
			}
		}
		return 0
	}

	spawned := 0
	for _, r := range d.rules.Load().Match(&ev) {
		name := r.HandlerName()
		h, err := d.registry.Lookup(name)
		if err != nil {
			d.logger.Warn("rule matched but handler missing", zap.String("rule", r.Name), zap.Error(err))
			continue
		}
		d.supervisor.Spawn(ctx, name, entity, h, ev)
		spawned++
	}
	return spawned
}

// replay pushes synthetic events for the current state of every object the
// topic's property and object rules can match.
func (d *Dispatcher) replay(ctx context.Context, topic string) {
	if d.snapshot == nil {
		return
	}
	log := d.logger.With(zap.String("topic", topic))

	objects := make(map[string]*models.Object)
	queried := make(map[string]struct{})
	for _, r := range d.rules.Load().Rules() {
		if !r.IsEnabled() || r.Topic != topic || r.Shape == models.ShapeNotification {
			continue
		}
		for _, tags := range r.snapshotTagSets() {
			qk := tagSetKey(tags)
			if _, done := queried[qk]; done {
				continue
			}
			queried[qk] = struct{}{}
			objs, err := d.snapshot.Snapshot(ctx, tags)
			if err != nil {
				log.Warn("snapshot failed", zap.Strings("tags", tags), zap.Error(err))
				continue
			}
			for _, o := range objs {
				objects[o.ID] = o
			}
		}
	}

	ids := make([]string, 0, len(objects))
	for id := range objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	replayed := 0
	for _, id := range ids {
		for _, ev := range snapshotEvents(topic, objects[id]) {
			if ctx.Err() != nil {
				return
			}
			replayed += d.OnEvent(ctx, ev)
		}
	}
	log.Info("snapshot replayed", zap.Int("objects", len(ids)), zap.Int("tasks", replayed))
}

// snapshotTagSets returns the tag sets to query for the rule's alternatives.
// A wildcard alternative queries every object.
func (r *Rule) snapshotTagSets() [][]string {
	if r.pred.all {
		return [][]string{nil}
	}
	sets := make([][]string, 0, len(r.pred.alts))
	for _, a := range r.pred.alts {
		if a.anyTags {
			return [][]string{nil}
		}
		sets = append(sets, a.tags)
	}
	return sets
}

func tagSetKey(tags []string) string {
	return strings.Join(tags, "\x00")
}

// snapshotEvents converts an object into one object event and one property
// event per stored property, in a stable order.
func snapshotEvents(topic string, obj *models.Object) []models.Event {
	owner := models.ObjectPayload{ID: obj.ID, Name: obj.Name, Enabled: obj.Enabled, Tags: obj.Tags}
	events := []models.Event{{
		Kind:     models.EventUpdate,
		Shape:    models.ShapeObject,
		Topic:    topic,
		Object:   &owner,
		Snapshot: true,
	}}

	keys := make([]models.PropertyKey, 0, len(obj.Properties))
	for k := range obj.Properties {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	for _, k := range keys {
		events = append(events, models.Event{
			Kind:  models.EventUpdate,
			Shape: models.ShapeProperty,
			Topic: topic,
			Property: &models.PropertyPayload{
				ID:        obj.ID + "/" + k.String(),
				ObjectID:  obj.ID,
				Group:     k.Group,
				Property:  k.Property,
				Value:     obj.Properties[k],
				UpdatedAt: obj.UpdatedAt,
				Object:    owner,
			},
			Snapshot: true,
		})
	}
	return events
}
