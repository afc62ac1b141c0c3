package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// Handler names registered with the dispatcher.
const (
	HandlerItemAlarms   = "item_alarms"
	HandlerGeoAlarms    = "geo_alarms"
	HandlerGlobalAlarms = "global_alarms"
	HandlerWidgetAlarms = "widget_alarms"
)

// ErrNotFound is returned by a Store when the entity does not exist.
var ErrNotFound = models.ErrNotFound

// ErrBadEvent marks an event whose payload does not fit the handler.
var ErrBadEvent = errors.New("unexpected event payload")

// Store is the state the alarm handlers read and write.
type Store interface {
	GetItem(ctx context.Context, id string) (*models.MonitoredItem, error)
	GetMonitorObject(ctx context.Context, id string) (*models.MonitorObject, error)
	GetGeoSource(ctx context.Context, id string) (*models.GeoSource, error)
	GetWidget(ctx context.Context, id string) (*models.Widget, error)
	ParentIDs(ctx context.Context, childID string) ([]string, error)
	UpdateProperties(ctx context.Context, objectID string, txID int64, props []models.PropertyValue) error
}

// NotificationPublisher publishes notifications about alarm transitions.
type NotificationPublisher interface {
	Publish(ctx context.Context, n *models.Notification) error
}

// writeStatus persists a status unless ctx was cancelled first.
func writeStatus(ctx context.Context, store Store, objectID string, props ...models.PropertyValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.UpdateProperties(ctx, objectID, models.NewTransactionID(), props); err != nil {
		return fmt.Errorf("update %s: %w", objectID, err)
	}
	return nil
}

func propertyPayload(ev models.Event) (*models.PropertyPayload, error) {
	if ev.Shape != models.ShapeProperty || ev.Property == nil {
		return nil, fmt.Errorf("%w: want property event, got %s", ErrBadEvent, ev.Shape)
	}
	return ev.Property, nil
}

// ItemAlarmHandler evaluates numeric alarms of monitored items on
// State/Value and State/Alarms changes.
type ItemAlarmHandler struct {
	store     Store
	evaluator *ItemEvaluator
	publisher NotificationPublisher
	logger    *zap.Logger
	stats     *Stats
}

// NewItemAlarmHandler creates the handler.
func NewItemAlarmHandler(store Store, evaluator *ItemEvaluator, publisher NotificationPublisher, logger *zap.Logger) *ItemAlarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemAlarmHandler{
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		logger:    logger.With(zap.String("handler", HandlerItemAlarms)),
		stats:     evaluator.stats,
	}
}

// Handle runs one evaluation for the item referenced by ev.
func (h *ItemAlarmHandler) Handle(ctx context.Context, ev models.Event) error {
	p, err := propertyPayload(ev)
	if err != nil {
		return err
	}
	item, err := h.store.GetItem(ctx, p.ObjectID)
	if err != nil {
		return fmt.Errorf("load item %s: %w", p.ObjectID, err)
	}
	log := h.logger.With(zap.String("entity_id", item.ID), zap.String("entity_name", item.Name))

	if p.Unlinked && p.Key() == models.Key(models.GroupState, models.PropValue) {
		return h.unlink(ctx, item, log)
	}

	out, err := h.evaluator.Evaluate(ctx, item)
	if err != nil {
		return err
	}
	if !out.Changed() {
		return nil
	}

	if err := writeStatus(ctx, h.store, item.ID, models.PropertyValue{
		Group: models.GroupState, Property: models.PropAlert, Value: string(out.Status),
	}); err != nil {
		return err
	}
	metrics.StatusTransitionsTotal.WithLabelValues("item", string(out.Status)).Inc()
	log.Info("updated alert status",
		zap.String("from", string(out.Previous)),
		zap.String("status", string(out.Status)),
	)

	spec := models.NotificationSpec{
		Type:     models.SpecMonitorAlert,
		Alarm:    models.AlarmMonitorItem,
		Property: models.Key(models.GroupState, models.PropValue).String(),
	}
	var n *models.Notification
	switch {
	case out.Status == models.StatusTriggered:
		h.stats.Triggered.Add(1)
		n = models.NewNotification(item.DisplayParent(), cloneTags(tagsMonitorTriggered), itemTriggeredMessage(item, out.Rule), spec)
	case out.Previous == models.StatusTriggered:
		h.stats.Cleared.Add(1)
		n = models.NewNotification(item.DisplayParent(), cloneTags(tagsMonitorAlert), itemClearedMessage(item), spec)
	default:
		return nil
	}
	return h.publisher.Publish(ctx, n)
}

func (h *ItemAlarmHandler) unlink(ctx context.Context, item *models.MonitoredItem, log *zap.Logger) error {
	status := Unlink(item)
	var props []models.PropertyValue
	if status != item.Status {
		props = append(props, models.PropertyValue{Group: models.GroupState, Property: models.PropAlert, Value: string(status)})
	}
	if item.Value != nil {
		props = append(props, models.PropertyValue{Group: models.GroupState, Property: models.PropValue, Value: nil})
	}
	if len(props) == 0 {
		return nil
	}
	if err := writeStatus(ctx, h.store, item.ID, props...); err != nil {
		return err
	}
	log.Info("updated alert status on unlink", zap.String("status", string(status)))
	return nil
}

// GeoAlarmHandler evaluates the geo items of a monitored object when its
// position changes.
type GeoAlarmHandler struct {
	store     Store
	evaluator *GeoEvaluator
	publisher NotificationPublisher
	logger    *zap.Logger
	stats     *Stats
}

// NewGeoAlarmHandler creates the handler.
func NewGeoAlarmHandler(store Store, evaluator *GeoEvaluator, publisher NotificationPublisher, logger *zap.Logger) *GeoAlarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeoAlarmHandler{
		store:     store,
		evaluator: evaluator,
		publisher: publisher,
		logger:    logger.With(zap.String("handler", HandlerGeoAlarms)),
		stats:     evaluator.stats,
	}
}

// DecodePosition converts a Position/Point value into a coordinate.
// nil yields nil.
func DecodePosition(v any) (*models.LatLon, error) {
	if v == nil {
		return nil, nil
	}
	var raw []byte
	switch t := v.(type) {
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode position: %w", err)
		}
		raw = b
	}
	var pos models.LatLon
	if err := json.Unmarshal(raw, &pos); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	return &pos, nil
}

// Handle evaluates every geo item linked to the object referenced by ev.
// Geo items are independent and evaluated concurrently.
func (h *GeoAlarmHandler) Handle(ctx context.Context, ev models.Event) error {
	p, err := propertyPayload(ev)
	if err != nil {
		return err
	}
	pos, err := DecodePosition(p.Value)
	if err != nil {
		return err
	}
	obj, err := h.store.GetMonitorObject(ctx, p.ObjectID)
	if err != nil {
		return fmt.Errorf("load object %s: %w", p.ObjectID, err)
	}

	var g errgroup.Group
	for _, gi := range obj.GeoItems {
		if gi.SourceID == "" {
			continue
		}
		g.Go(func() error {
			err := h.evaluateItem(ctx, obj, gi, pos)
			if err != nil && ctx.Err() == nil {
				h.logger.Error("geo item evaluation failed",
					zap.String("entity_id", obj.ID),
					zap.String("geo_item_id", gi.ID),
					zap.Error(err),
				)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (h *GeoAlarmHandler) evaluateItem(ctx context.Context, obj *models.MonitorObject, gi models.GeoItem, pos *models.LatLon) error {
	// Geometry is read on every evaluation; zones may have moved.
	src, err := h.store.GetGeoSource(ctx, gi.SourceID)
	if err != nil {
		return fmt.Errorf("load geo source %s: %w", gi.SourceID, err)
	}
	if src.Kind() == models.GeoUnknown {
		return nil
	}

	out, err := h.evaluator.Evaluate(ctx, gi, src, pos)
	if err != nil {
		return err
	}
	if !out.Changed() {
		return nil
	}
	if err := writeStatus(ctx, h.store, gi.ID, models.PropertyValue{
		Group: models.GroupState, Property: models.PropAlert, Value: string(out.Status),
	}); err != nil {
		return err
	}
	metrics.StatusTransitionsTotal.WithLabelValues("geo", string(out.Status)).Inc()
	h.logger.Info("updated geo alert status",
		zap.String("entity_id", obj.ID),
		zap.String("geo_item_id", gi.ID),
		zap.String("from", string(out.Previous)),
		zap.String("status", string(out.Status)),
	)

	spec := models.NotificationSpec{
		Type:     models.SpecMonitorAlert,
		Alarm:    models.AlarmMonitorItem,
		Property: models.Key(models.GroupPosition, models.PropPoint).String(),
	}
	subject := models.ObjectRef{ID: obj.ID, Name: obj.Name}
	var n *models.Notification
	switch {
	case out.Status == models.StatusTriggered:
		h.stats.Triggered.Add(1)
		n = models.NewNotification(subject, cloneTags(tagsMonitorTriggered), geoMessage(obj.Name, gi, src, out.Rule, true), spec)
	case out.Previous == models.StatusTriggered:
		h.stats.Cleared.Add(1)
		n = models.NewNotification(subject, cloneTags(tagsMonitorAlert), geoMessage(obj.Name, gi, src, out.Rule, false), spec)
	default:
		return nil
	}
	return h.publisher.Publish(ctx, n)
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// GlobalAlarmHandler recomputes the global alarm status of every parent of
// an item whose State/Alert changed.
type GlobalAlarmHandler struct {
	store     Store
	publisher NotificationPublisher
	logger    *zap.Logger
	stats     *Stats
	parents   keyedMutex
}

// NewGlobalAlarmHandler creates the handler.
func NewGlobalAlarmHandler(store Store, publisher NotificationPublisher, logger *zap.Logger, stats *Stats) *GlobalAlarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &GlobalAlarmHandler{
		store:     store,
		publisher: publisher,
		logger:    logger.With(zap.String("handler", HandlerGlobalAlarms)),
		stats:     stats,
	}
}

// Handle aggregates each parent of the changed child.
func (h *GlobalAlarmHandler) Handle(ctx context.Context, ev models.Event) error {
	p, err := propertyPayload(ev)
	if err != nil {
		return err
	}
	parents, err := h.store.ParentIDs(ctx, p.ObjectID)
	if err != nil {
		return fmt.Errorf("load parents of %s: %w", p.ObjectID, err)
	}
	var errs []error
	for _, id := range parents {
		if err := h.aggregate(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Aggregate recomputes one parent. It is exported for bootstrap passes.
func (h *GlobalAlarmHandler) Aggregate(ctx context.Context, parentID string) error {
	return h.aggregate(ctx, parentID)
}

func (h *GlobalAlarmHandler) aggregate(ctx context.Context, parentID string) error {
	unlock := h.parents.lock(parentID)
	defer unlock()

	obj, err := h.store.GetMonitorObject(ctx, parentID)
	if err != nil {
		return fmt.Errorf("load object %s: %w", parentID, err)
	}
	h.stats.Evaluations.Add(1)

	prev := obj.AlarmStatus
	next := Aggregate(ChildStatuses(obj))
	if next == prev {
		return nil
	}
	if err := writeStatus(ctx, h.store, obj.ID, models.PropertyValue{
		Group: models.GroupStatuses, Property: models.PropAlarm, Value: string(next),
	}); err != nil {
		return err
	}
	metrics.StatusTransitionsTotal.WithLabelValues("global", string(next)).Inc()
	h.logger.Info("updated alarm status",
		zap.String("entity_id", obj.ID),
		zap.String("from", string(prev)),
		zap.String("status", string(next)),
	)

	spec := models.NotificationSpec{
		Type:     models.SpecMonitorAlert,
		Alarm:    models.AlarmMonitorObject,
		Property: models.Key(models.GroupStatuses, models.PropAlarm).String(),
	}
	subject := models.ObjectRef{ID: obj.ID, Name: obj.Name}
	switch {
	case next == models.StatusTriggered:
		h.stats.Triggered.Add(1)
		return h.publisher.Publish(ctx, models.NewNotification(subject, cloneTags(tagsMonitorTriggered), objectMessage(obj.Name, true), spec))
	case next == models.StatusOff || prev != models.StatusOff:
		h.stats.Cleared.Add(1)
		return h.publisher.Publish(ctx, models.NewNotification(subject, cloneTags(tagsMonitorAlert), objectMessage(obj.Name, false), spec))
	}
	return nil
}

// WidgetAlarmHandler evaluates board widget alerts on value changes.
type WidgetAlarmHandler struct {
	store     Store
	publisher NotificationPublisher
	logger    *zap.Logger
	stats     *Stats
}

// NewWidgetAlarmHandler creates the handler.
func NewWidgetAlarmHandler(store Store, publisher NotificationPublisher, logger *zap.Logger, stats *Stats) *WidgetAlarmHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &WidgetAlarmHandler{
		store:     store,
		publisher: publisher,
		logger:    logger.With(zap.String("handler", HandlerWidgetAlarms)),
		stats:     stats,
	}
}

// Handle evaluates the widget referenced by ev.
func (h *WidgetAlarmHandler) Handle(ctx context.Context, ev models.Event) error {
	p, err := propertyPayload(ev)
	if err != nil {
		return err
	}
	w, err := h.store.GetWidget(ctx, p.ObjectID)
	if err != nil {
		return fmt.Errorf("load widget %s: %w", p.ObjectID, err)
	}
	h.stats.Evaluations.Add(1)

	value := p.Value
	if value == nil {
		value = w.Value
	}
	next := EvaluateWidget(w, value, h.logger)
	if next == w.Alarm {
		return nil
	}
	if err := writeStatus(ctx, h.store, w.ID, models.PropertyValue{
		Group: models.GroupStatus, Property: models.PropAlarm, Value: string(next),
	}); err != nil {
		return err
	}
	metrics.StatusTransitionsTotal.WithLabelValues("widget", string(next)).Inc()

	spec := models.NotificationSpec{
		Type:     models.SpecWidgetAlert,
		Alarm:    models.AlarmWidgetItem,
		Property: models.Key(models.GroupValue, models.PropValue).String(),
	}
	subject := models.ObjectRef{ID: w.ID, Name: w.Name}
	if next == models.WidgetAlarmTriggered {
		h.stats.Triggered.Add(1)
		return h.publisher.Publish(ctx, models.NewNotification(subject, cloneTags(tagsBoardTriggered), widgetMessage(w.Name, true), spec))
	}
	h.stats.Cleared.Add(1)
	return h.publisher.Publish(ctx, models.NewNotification(subject, cloneTags(tagsBoardAlert), widgetMessage(w.Name, false), spec))
}
