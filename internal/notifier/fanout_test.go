package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

type healthWrite struct {
	objectID string
	value    any
}

type fakeStore struct {
	mu         sync.Mutex
	users      []*models.User
	configs    map[models.Channel][]models.DeliveryConfig
	configErr  map[models.Channel]error
	deliveries []*models.NotificationDelivery
	writes     []healthWrite
}

func newFakeStore(users ...*models.User) *fakeStore {
	return &fakeStore{
		users:     users,
		configs:   make(map[models.Channel][]models.DeliveryConfig),
		configErr: make(map[models.Channel]error),
	}
}

func (s *fakeStore) ListUsers(context.Context) ([]*models.User, error) {
	return s.users, nil
}

func (s *fakeStore) ListDeliveryConfigs(_ context.Context, ch models.Channel) ([]models.DeliveryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.configErr[ch]; err != nil {
		return nil, err
	}
	return append([]models.DeliveryConfig(nil), s.configs[ch]...), nil
}

func (s *fakeStore) CreateDelivery(_ context.Context, d *models.NotificationDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *fakeStore) UpdateProperties(_ context.Context, objectID string, _ int64, props []models.PropertyValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range props {
		s.writes = append(s.writes, healthWrite{objectID: objectID, value: p.Value})
		for _, cfgs := range s.configs {
			for i := range cfgs {
				if cfgs[i].ID == objectID {
					cfgs[i].Health = models.ParseHealth(p.Value)
				}
			}
		}
	}
	return nil
}

func (s *fakeStore) healthWrites() []healthWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]healthWrite(nil), s.writes...)
}

type fakeSender struct {
	channel models.Channel
	failing atomic.Bool

	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Channel() models.Channel                   { return f.channel }
func (f *fakeSender) DeliveryPath(models.DeliveryConfig) string { return string(f.channel) }
func (f *fakeSender) Validate(models.DeliveryConfig) error      { return nil }

func (f *fakeSender) Send(_ context.Context, cfg models.DeliveryConfig, to *models.User, _ *models.Notification) error {
	f.mu.Lock()
	f.sent = append(f.sent, cfg.ID+"/"+to.Login)
	f.mu.Unlock()
	if f.failing.Load() {
		return errors.New("provider unavailable")
	}
	return nil
}

func (f *fakeSender) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func testUser(login string) *models.User {
	return &models.User{
		ID:        "u-" + login,
		Login:     login,
		Enabled:   true,
		Activated: true,
		Email:     login + "@example.com",
		Phone:     "+15550000",
		Profiles:  []models.UserProfile{{ID: "p-" + login, ViaEmail: true, ViaSMS: true}},
	}
}

func testNotification(tags ...string) *models.Notification {
	return models.NewNotification(
		models.ObjectRef{ID: "item-1", Name: "Boiler temperature"},
		tags,
		"Boiler temperature alarm triggered",
		models.NotificationSpec{Type: models.SpecMonitorAlert, Alarm: models.AlarmMonitorItem},
	)
}

func TestFanout_TagFilterSelectsConfigs(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	store.configs[models.ChannelEmail] = []models.DeliveryConfig{
		{ID: "A", Channel: models.ChannelEmail, TagsFilter: []string{"alert"}},
		{ID: "B", Channel: models.ChannelEmail, TagsFilter: []string{"sms"}},
	}
	sender := &fakeSender{channel: models.ChannelEmail}
	f := NewFanout(store, nil, nil)
	f.Register(sender)

	receipts, err := f.Deliver(context.Background(), testNotification("alert", "board"))
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "A", receipts[0].ConfigID)
	assert.Equal(t, []string{"A/alice"}, sender.calls())
}

func TestFanout_OneReceiptPerRecipientAndConfig(t *testing.T) {
	store := newFakeStore(testUser("alice"), testUser("bob"))
	store.configs[models.ChannelSMS] = []models.DeliveryConfig{
		{ID: "tw-1", Channel: models.ChannelSMS},
		{ID: "tw-2", Channel: models.ChannelSMS, TagsFilter: []string{"alert"}},
	}
	sender := &fakeSender{channel: models.ChannelSMS}
	sender.failing.Store(true)
	f := NewFanout(store, nil, nil)
	f.Register(sender)

	n := testNotification("alert")
	receipts, err := f.Deliver(context.Background(), n)
	require.NoError(t, err)
	require.Len(t, receipts, 4)

	pairs := make(map[string]bool)
	for _, r := range receipts {
		assert.False(t, r.Delivered)
		assert.Equal(t, "provider unavailable", r.Error)
		assert.Equal(t, n.ID, r.NotificationID)
		assert.Equal(t, n.Message, r.Message)
		assert.Equal(t, models.ChannelSMS, r.Channel)
		pairs[r.ConfigID+"/"+r.UserLogin] = true
	}
	assert.Len(t, pairs, 4)
	assert.Len(t, store.deliveries, 4)

	stats := f.Stats()
	assert.EqualValues(t, 4, stats.Attempts)
	assert.EqualValues(t, 4, stats.Failed)
}

func TestFanout_HealthFlapping(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	store.configs[models.ChannelEmail] = []models.DeliveryConfig{
		{ID: "mail", Channel: models.ChannelEmail, Health: models.HealthOperational},
	}
	sender := &fakeSender{channel: models.ChannelEmail}
	f := NewFanout(store, nil, nil)
	f.Register(sender)

	delivered := []bool{false, false, true, true, false}
	for _, ok := range delivered {
		sender.failing.Store(!ok)
		_, err := f.Deliver(context.Background(), testNotification())
		require.NoError(t, err)
	}

	assert.Equal(t, []healthWrite{
		{objectID: "mail", value: false},
		{objectID: "mail", value: true},
		{objectID: "mail", value: false},
	}, store.healthWrites())
	assert.Equal(t, models.HealthDegraded, f.Stats().Health["mail"])
}

func TestFanout_HealthFollowsStoredValue(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	store.configs[models.ChannelEmail] = []models.DeliveryConfig{
		{ID: "mail", Channel: models.ChannelEmail},
	}
	sender := &fakeSender{channel: models.ChannelEmail}
	sender.failing.Store(true)
	f := NewFanout(store, nil, nil)
	f.Register(sender)

	_, err := f.Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	require.Len(t, store.healthWrites(), 1)

	// An operator resets the configuration behind the engine's back.
	store.mu.Lock()
	store.configs[models.ChannelEmail][0].Health = models.HealthOperational
	store.mu.Unlock()

	_, err = f.Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	assert.Equal(t, []healthWrite{
		{objectID: "mail", value: false},
		{objectID: "mail", value: false},
	}, store.healthWrites())
}

func TestFanout_HealthWrittenOncePerDelivery(t *testing.T) {
	store := newFakeStore(testUser("alice"), testUser("bob"), testUser("carol"))
	store.configs[models.ChannelEmail] = []models.DeliveryConfig{
		{ID: "mail", Channel: models.ChannelEmail, Health: models.HealthOperational},
	}
	sender := &fakeSender{channel: models.ChannelEmail}
	sender.failing.Store(true)
	f := NewFanout(store, nil, nil)
	f.Register(sender)

	receipts, err := f.Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	assert.Equal(t, []healthWrite{{objectID: "mail", value: false}}, store.healthWrites())
}

func TestFanout_DegradedConfigRecovers(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	store.configs[models.ChannelEmail] = []models.DeliveryConfig{
		{ID: "mail", Channel: models.ChannelEmail, Health: models.HealthDegraded},
	}
	f := NewFanout(store, nil, nil)
	f.Register(&fakeSender{channel: models.ChannelEmail})

	_, err := f.Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	assert.Equal(t, []healthWrite{{objectID: "mail", value: true}}, store.healthWrites())
}

func TestFanout_MissingCredentialFailsFast(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	store.configs[models.ChannelSMS] = []models.DeliveryConfig{
		{ID: "tw", Channel: models.ChannelSMS, AccountSID: "AC1", From: "+1555"},
	}
	// An unroutable base URL would fail loudly if a request were made.
	f := NewFanout(store, nil, nil)
	f.Register(NewTwilioSender(models.ChannelSMS, "http://127.0.0.1:1", 0))

	receipts, err := f.Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.False(t, receipts[0].Delivered)
	assert.Contains(t, receipts[0].Error, "auth token is required")
	assert.Equal(t, []healthWrite{{objectID: "tw", value: false}}, store.healthWrites())
}

func TestFanout_ImplicitAppConfig(t *testing.T) {
	store := newFakeStore(testUser("alice"), testUser("bob"))
	f := NewFanout(store, nil, nil)
	f.Register(NewAppSender("Fleet Console"))

	receipts, err := f.Deliver(context.Background(), testNotification("alert"))
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	for _, r := range receipts {
		assert.True(t, r.Delivered)
		assert.Equal(t, "Fleet Console", r.DeliveryPath)
		assert.Equal(t, models.ChannelApp, r.Channel)
		assert.Empty(t, r.ConfigID)
	}
	assert.Empty(t, store.healthWrites())
}

func TestFanout_ExplicitRecipient(t *testing.T) {
	store := newFakeStore(testUser("alice"), testUser("bob"))
	f := NewFanout(store, nil, nil)
	f.Register(NewAppSender(""))

	n := testNotification()
	n.Recipient = "bob"
	receipts, err := f.Deliver(context.Background(), n)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "bob", receipts[0].UserLogin)
	assert.Equal(t, DefaultAppName, receipts[0].DeliveryPath)
}

func TestFanout_ChannelErrorDoesNotStopOthers(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	store.configErr[models.ChannelEmail] = errors.New("connection reset")
	f := NewFanout(store, nil, nil)
	f.Register(&fakeSender{channel: models.ChannelEmail})
	f.Register(NewAppSender(""))

	receipts, err := f.Deliver(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.Len(t, receipts, 1)
	assert.Equal(t, models.ChannelApp, receipts[0].Channel)
}

func TestFanout_NoUsers(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{channel: models.ChannelEmail}
	f := NewFanout(store, nil, nil)
	f.Register(sender)

	receipts, err := f.Deliver(context.Background(), testNotification())
	require.NoError(t, err)
	assert.Empty(t, receipts)
	assert.Empty(t, sender.calls())
}

func TestFanout_RegisterReplacesChannel(t *testing.T) {
	f := NewFanout(newFakeStore(), nil, nil)
	f.Register(NewAppSender("one"))
	f.Register(&fakeSender{channel: models.ChannelEmail})
	f.Register(NewAppSender("two"))
	assert.Equal(t, []models.Channel{models.ChannelApp, models.ChannelEmail}, f.Channels())
}

func TestDeliveryHandler(t *testing.T) {
	store := newFakeStore(testUser("alice"))
	f := NewFanout(store, nil, nil)
	f.Register(NewAppSender(""))
	h := NewDeliveryHandler(f, nil)

	n := testNotification()
	require.NoError(t, h.Handle(context.Background(), models.NotificationCreated(n)))
	assert.Len(t, store.deliveries, 1)

	update := models.NotificationCreated(n)
	update.Kind = models.EventUpdate
	require.NoError(t, h.Handle(context.Background(), update))
	assert.Len(t, store.deliveries, 1)

	err := h.Handle(context.Background(), models.Event{Kind: models.EventInsert, Shape: models.ShapeObject})
	assert.Error(t, err)
}
