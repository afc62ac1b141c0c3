package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// fakeClock advances virtual time on Wait instead of sleeping.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
	// block makes Wait park until ctx is done.
	block   bool
	waiting chan struct{}
}

func newFakeClock(hour, minute int) *fakeClock {
	return &fakeClock{
		now:     time.Date(2024, 3, 1, hour, minute, 0, 0, time.UTC),
		waiting: make(chan struct{}, 16),
	}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Wait(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	block := c.block && d > 0
	c.mu.Unlock()

	if block {
		c.waiting <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.waits {
		total += d
	}
	return total
}

type update struct {
	objectID string
	txID     int64
	props    []models.PropertyValue
}

// memStore is an in-memory Store for handler tests.
type memStore struct {
	mu      sync.Mutex
	items   map[string]*models.MonitoredItem
	objects map[string]*models.MonitorObject
	sources map[string]*models.GeoSource
	widgets map[string]*models.Widget
	parents map[string][]string
	updates []update
}

func newMemStore() *memStore {
	return &memStore{
		items:   map[string]*models.MonitoredItem{},
		objects: map[string]*models.MonitorObject{},
		sources: map[string]*models.GeoSource{},
		widgets: map[string]*models.Widget{},
		parents: map[string][]string{},
	}
}

func (s *memStore) GetItem(_ context.Context, id string) (*models.MonitoredItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *memStore) GetMonitorObject(_ context.Context, id string) (*models.MonitorObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	cp.Children = append([]models.ChildStatus(nil), o.Children...)
	return &cp, nil
}

func (s *memStore) GetGeoSource(_ context.Context, id string) (*models.GeoSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.sources[id]
	if !ok {
		return nil, ErrNotFound
	}
	return g, nil
}

func (s *memStore) GetWidget(_ context.Context, id string) (*models.Widget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.widgets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) ParentIDs(_ context.Context, childID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parents[childID], nil
}

// UpdateProperties records the write and applies status properties to the
// in-memory entities so follow-up evaluations observe them.
func (s *memStore) UpdateProperties(_ context.Context, objectID string, txID int64, props []models.PropertyValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, update{objectID: objectID, txID: txID, props: props})
	for _, p := range props {
		key := models.Key(p.Group, p.Property)
		switch key {
		case models.Key(models.GroupState, models.PropAlert):
			if it, ok := s.items[objectID]; ok {
				it.Status = models.ParseAlertStatus(p.Value)
			}
			for _, o := range s.objects {
				for i := range o.Children {
					if o.Children[i].ID == objectID {
						o.Children[i].Status = models.ParseAlertStatus(p.Value)
					}
				}
				for i := range o.GeoItems {
					if o.GeoItems[i].ID == objectID {
						o.GeoItems[i].Status = models.ParseAlertStatus(p.Value)
					}
				}
			}
		case models.Key(models.GroupState, models.PropValue):
			if it, ok := s.items[objectID]; ok {
				it.Value = p.Value
			}
		case models.Key(models.GroupStatuses, models.PropAlarm):
			if o, ok := s.objects[objectID]; ok {
				o.AlarmStatus = models.ParseAlertStatus(p.Value)
			}
		case models.Key(models.GroupStatus, models.PropAlarm):
			if w, ok := s.widgets[objectID]; ok {
				w.Alarm = models.ParseWidgetAlarmStatus(p.Value)
			}
		}
	}
	return nil
}

func (s *memStore) writes() []update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]update(nil), s.updates...)
}

// recordingPublisher collects published notifications.
type recordingPublisher struct {
	mu   sync.Mutex
	sent []*models.Notification
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, n *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, n)
	return nil
}

func (p *recordingPublisher) all() []*models.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.Notification(nil), p.sent...)
}

var errBoom = errors.New("boom")

func propertyEvent(objectID, group, property string, value any) models.Event {
	return models.Event{
		Kind:  models.EventUpdate,
		Shape: models.ShapeProperty,
		Property: &models.PropertyPayload{
			ObjectID: objectID,
			Group:    group,
			Property: property,
			Value:    value,
		},
	}
}

func rule(op string, threshold any, seconds int) models.AlarmRule {
	return models.AlarmRule{
		Condition: models.Condition{Operator: op, Value: threshold},
		Timeout:   models.Timeout{Value: seconds, Units: "seconds"},
	}
}
