package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

type recordingEmitter struct {
	mu     sync.Mutex
	topics []string
	events []models.Event
}

func (e *recordingEmitter) Publish(ctx context.Context, topic string, ev models.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.topics = append(e.topics, topic)
	e.events = append(e.events, ev)
	return nil
}

type recordingSink struct {
	receipts []*models.NotificationDelivery
}

func (s *recordingSink) Add(d *models.NotificationDelivery) {
	s.receipts = append(s.receipts, d)
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, SQLConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	n, err := s.Migrate(ctx)
	require.NoError(t, err)
	require.Equal(t, SchemaVersion(), n)
	return s
}

func pv(group, property string, value any) models.PropertyValue {
	return models.PropertyValue{Group: group, Property: property, Value: value}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	n, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestObjects_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateObject(ctx, ObjectSpec{
		ID:      "truck",
		Name:    "Truck 7",
		Enabled: true,
		Tags:    models.TagsMonitorObject,
		Properties: []models.PropertyValue{
			pv(models.GroupStatuses, models.PropAlarm, "OFF"),
		},
	}))

	obj, err := s.GetObject(ctx, "truck")
	require.NoError(t, err)
	assert.Equal(t, "Truck 7", obj.Name)
	assert.True(t, obj.Enabled)
	assert.ElementsMatch(t, models.TagsMonitorObject, obj.Tags)
	assert.Equal(t, "OFF", obj.Prop(models.GroupStatuses, models.PropAlarm))

	objs, err := s.ListObjects(ctx, []string{"monitor", "object"})
	require.NoError(t, err)
	require.Len(t, objs, 1)

	objs, err = s.ListObjects(ctx, []string{"monitor", "zone"})
	require.NoError(t, err)
	assert.Empty(t, objs)

	require.NoError(t, s.DeleteObject(ctx, "truck"))
	_, err = s.GetObject(ctx, "truck")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteObject(ctx, "truck"), ErrNotFound)
}

func TestUpdateProperties_StaleWriteIgnored(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	em := &recordingEmitter{}
	s.SetEmitter(em, "changes")

	require.NoError(t, s.CreateObject(ctx, ObjectSpec{ID: "item", Name: "Temperature", Tags: models.TagsMonitorItem}))

	require.NoError(t, s.UpdateProperties(ctx, "item", 200, []models.PropertyValue{pv(models.GroupState, models.PropAlert, "TRIGGERED")}))
	require.NoError(t, s.UpdateProperties(ctx, "item", 100, []models.PropertyValue{pv(models.GroupState, models.PropAlert, "ON")}))

	obj, err := s.GetObject(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, "TRIGGERED", obj.Prop(models.GroupState, models.PropAlert))

	// Only the applied write is announced.
	require.Len(t, em.events, 1)
	assert.Equal(t, "changes", em.topics[0])
	ev := em.events[0]
	assert.Equal(t, models.EventUpdate, ev.Kind)
	assert.Equal(t, models.ShapeProperty, ev.Shape)
	assert.Equal(t, "item", ev.Property.ObjectID)
	assert.Equal(t, models.Key(models.GroupState, models.PropAlert), ev.Property.Key())
	assert.Equal(t, "TRIGGERED", ev.Property.Value)
	assert.ElementsMatch(t, models.TagsMonitorItem, ev.Property.Object.Tags)
}

func TestUpdateProperties_MissingObject(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateProperties(context.Background(), "ghost", models.NewTransactionID(),
		[]models.PropertyValue{pv(models.GroupState, models.PropAlert, "ON")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func seedMonitor(t *testing.T, s *SQLStore) {
	t.Helper()
	ctx := context.Background()
	specs := []ObjectSpec{
		{ID: "truck", Name: "Truck 7", Enabled: true, Tags: models.TagsMonitorObject,
			Properties: []models.PropertyValue{pv(models.GroupStatuses, models.PropAlarm, "TRIGGERED")}},
		{ID: "temp", Name: "temp", Enabled: true, Tags: models.TagsMonitorItem,
			Properties: []models.PropertyValue{
				pv(models.GroupInfo, models.PropName, "Temperature"),
				pv(models.GroupState, models.PropValue, 5.0),
				pv(models.GroupState, models.PropAlert, "TRIGGERED"),
				pv(models.GroupState, models.PropAlarms, []any{
					map[string]any{
						"condition": map[string]any{"operator": ">", "value": 3},
						"timeout":   map[string]any{"value": 0, "units": "seconds"},
					},
					"garbage",
					map[string]any{},
				}),
			}},
		{ID: "depot", Name: "Depot", Enabled: true, Tags: models.TagsZone,
			Properties: []models.PropertyValue{
				pv(models.GroupPosition, models.PropPoints, [][][2]float64{{{0, 0}, {10, 0}, {10, 10}, {0, 0}}}),
			}},
		{ID: "geo", Name: "In depot", Enabled: true, Tags: models.TagsGeoItem,
			Properties: []models.PropertyValue{
				pv(models.GroupState, models.PropSource, "depot"),
				pv(models.GroupState, models.PropAlert, "ON"),
				pv(models.GroupState, models.PropAlarms, []any{
					map[string]any{"condition": map[string]any{"type": "position", "value": true}},
				}),
			}},
	}
	for _, spec := range specs {
		require.NoError(t, s.CreateObject(ctx, spec))
	}
	require.NoError(t, s.Link(ctx, "truck", "temp"))
	require.NoError(t, s.Link(ctx, "truck", "geo"))
	// Linking twice is a no-op.
	require.NoError(t, s.Link(ctx, "truck", "temp"))
}

func TestGetItem(t *testing.T) {
	s := newTestStore(t)
	seedMonitor(t, s)

	item, err := s.GetItem(context.Background(), "temp")
	require.NoError(t, err)

	assert.Equal(t, "Temperature", item.Info)
	assert.Equal(t, 5.0, item.Value)
	assert.Equal(t, models.StatusTriggered, item.Status)
	// The string element is dropped, the empty placeholder is kept.
	require.Len(t, item.Rules, 2)
	assert.Equal(t, ">", item.Rules[0].Condition.Operator)
	assert.True(t, item.Rules[1].IsEmpty())
	assert.Equal(t, []models.ObjectRef{{ID: "truck", Name: "Truck 7"}}, item.Parents)
}

func TestGetMonitorObject(t *testing.T) {
	s := newTestStore(t)
	seedMonitor(t, s)

	mo, err := s.GetMonitorObject(context.Background(), "truck")
	require.NoError(t, err)

	assert.Equal(t, models.StatusTriggered, mo.AlarmStatus)
	assert.Equal(t, []models.ChildStatus{{ID: "temp", Name: "temp", Status: models.StatusTriggered}}, mo.Children)
	require.Len(t, mo.GeoItems, 1)
	assert.Equal(t, "depot", mo.GeoItems[0].SourceID)
	assert.Equal(t, models.StatusOn, mo.GeoItems[0].Status)
	require.Len(t, mo.GeoItems[0].Rules, 1)
	assert.Equal(t, models.GeoPosition, mo.GeoItems[0].Rules[0].Condition.Type)

	parents, err := s.ParentIDs(context.Background(), "temp")
	require.NoError(t, err)
	assert.Equal(t, []string{"truck"}, parents)

	require.NoError(t, s.Unlink(context.Background(), "truck", "temp"))
	mo, err = s.GetMonitorObject(context.Background(), "truck")
	require.NoError(t, err)
	assert.Empty(t, mo.Children)
}

func TestGetGeoSource(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedMonitor(t, s)
	require.NoError(t, s.CreateObject(ctx, ObjectSpec{ID: "hq", Name: "HQ", Tags: models.TagsLandmark,
		Properties: []models.PropertyValue{
			pv(models.GroupPosition, models.PropCenter, map[string]any{"lat": 1.5, "lon": 2.5}),
			pv(models.GroupPosition, models.PropRadius, 250),
		}}))

	zone, err := s.GetGeoSource(ctx, "depot")
	require.NoError(t, err)
	assert.Equal(t, models.GeoZone, zone.Kind())
	assert.Len(t, zone.Points[0], 4)

	lm, err := s.GetGeoSource(ctx, "hq")
	require.NoError(t, err)
	assert.Equal(t, models.GeoLandmark, lm.Kind())
	assert.Equal(t, &models.LatLon{Lat: 1.5, Lon: 2.5}, lm.Center)
	assert.Equal(t, 250.0, lm.Radius)
}

func TestGetWidget(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateObject(ctx, ObjectSpec{ID: "w", Name: "Fuel", Tags: models.TagsWidget,
		Properties: []models.PropertyValue{
			pv(models.GroupValue, models.PropValue, 12),
			pv(models.GroupStatus, models.PropAlarm, "on"),
			pv(models.GroupAlarms, models.PropAlert2, map[string]any{"condition": map[string]any{"operator": "<", "value": 20}}),
		}}))

	w, err := s.GetWidget(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, 12.0, w.Value)
	assert.Equal(t, models.WidgetAlarmOn, w.Alarm)
	require.Len(t, w.Alerts, 3)
	assert.Equal(t, "", w.Alerts[0].Condition.Operator)
	assert.Equal(t, "<", w.Alerts[1].Condition.Operator)
}

func TestListDeliveryConfigs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	specs := []ObjectSpec{
		{ID: "mail", Name: "Relay", Tags: models.TagsEmailConfig, Properties: []models.PropertyValue{
			pv(models.GroupCreds, models.PropSMTP, "smtp.example.com"),
			pv(models.GroupCreds, models.PropPort, 587),
			pv(models.GroupCreds, models.PropAddress, "alarms@example.com"),
			pv(models.GroupSettings, models.PropSubject, "Alarm"),
			pv(models.GroupNotifyFlt, models.PropTagsFilter, []string{"fleet"}),
		}},
		{ID: "sms", Name: "Twilio SMS", Tags: models.TagsTwilioConfig, Properties: []models.PropertyValue{
			pv(models.GroupCreds, models.PropAccountSID, "AC1"),
			pv(models.GroupSettings, models.PropWhatsApp, false),
			pv(models.GroupHealth, models.PropStatus, false),
		}},
		{ID: "wa", Name: "Twilio WhatsApp", Tags: models.TagsTwilioConfig, Properties: []models.PropertyValue{
			pv(models.GroupSettings, models.PropWhatsApp, true),
		}},
	}
	for _, spec := range specs {
		require.NoError(t, s.CreateObject(ctx, spec))
	}

	email, err := s.ListDeliveryConfigs(ctx, models.ChannelEmail)
	require.NoError(t, err)
	require.Len(t, email, 1)
	assert.Equal(t, "smtp.example.com", email[0].SMTPHost)
	assert.Equal(t, 587, email[0].SMTPPort)
	assert.Equal(t, []string{"fleet"}, email[0].TagsFilter)
	assert.Equal(t, models.HealthOperational, email[0].Health)

	sms, err := s.ListDeliveryConfigs(ctx, models.ChannelSMS)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, "sms", sms[0].ID)
	assert.Equal(t, models.HealthDegraded, sms[0].Health)

	wa, err := s.ListDeliveryConfigs(ctx, models.ChannelWhatsApp)
	require.NoError(t, err)
	require.Len(t, wa, 1)
	assert.Equal(t, "wa", wa[0].ID)

	_, err = s.ListDeliveryConfigs(ctx, models.Channel("Pigeon"))
	assert.Error(t, err)
}

func TestNotificationsAndDeliveries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sink := &recordingSink{}
	s.SetReceiptSink(sink)

	n := models.NewNotification(models.ObjectRef{ID: "truck", Name: "Truck 7"},
		[]string{"triggered"}, "Truck 7, Temperature (5 > 3)",
		models.NotificationSpec{Type: models.SpecMonitorAlert, Alarm: models.AlarmMonitorItem, Property: "State/Value"})
	require.NoError(t, s.CreateNotification(ctx, n))

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Message, got.Message)
	assert.Equal(t, n.Spec, got.Spec)
	assert.Equal(t, []string{"triggered"}, got.Tags)

	list, err := s.ListNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetNotification(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	d := &models.NotificationDelivery{UserID: "u1", UserLogin: "ann", NotificationID: n.ID,
		Channel: models.ChannelSMS, DeliveryPath: "+100", Error: "rejected", Message: n.Message}
	require.NoError(t, s.CreateDelivery(ctx, d))
	assert.NotEmpty(t, d.ID)
	require.Len(t, sink.receipts, 1)

	deliveries, err := s.ListDeliveries(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, models.ChannelSMS, deliveries[0].Channel)
	assert.False(t, deliveries[0].Delivered)
	assert.Equal(t, "rejected", deliveries[0].Error)
	assert.WithinDuration(t, time.Now(), deliveries[0].CreatedAt, time.Minute)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateUser(ctx, &models.User{Login: "bob", Enabled: true, Activated: true, Email: "bob@example.com",
		Profiles: []models.UserProfile{{ViaEmail: true}, {NotificationsMode: models.NotificationsModeMuted}}}))
	require.NoError(t, s.CreateUser(ctx, &models.User{Login: "ann", Phone: "+100"}))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "ann", users[0].Login)
	assert.Empty(t, users[0].Profiles)
	assert.Equal(t, "bob", users[1].Login)
	assert.Len(t, users[1].Profiles, 2)
}
