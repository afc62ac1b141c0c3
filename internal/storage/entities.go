package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// decodeList decodes a JSON array property element by element, dropping
// elements that do not decode into T.
func decodeList[T any](s *SQLStore, obj *models.Object, group, property string) []T {
	v := obj.Prop(group, property)
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("property is not a list",
			zap.String("entity_id", obj.ID),
			zap.String("property", group+"/"+property),
			zap.Error(err),
		)
		return nil
	}
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			s.logger.Warn("skipping malformed list element",
				zap.String("entity_id", obj.ID),
				zap.String("property", group+"/"+property),
				zap.Int("index", i),
				zap.Error(err),
			)
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *SQLStore) linkedObjects(ctx context.Context, ids []string, tags []string) ([]*models.Object, error) {
	var out []*models.Object
	for _, id := range ids {
		obj, err := s.getObject(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if obj.HasTags(tags...) {
			out = append(out, obj)
		}
	}
	return out, nil
}

// GetItem returns a monitored item with its value, status, rules and the
// monitor objects it is linked under.
func (s *SQLStore) GetItem(ctx context.Context, id string) (item *models.MonitoredItem, err error) {
	defer s.observe("get_item", time.Now(), &err)

	obj, err := s.getObject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	item = &models.MonitoredItem{
		ID:        obj.ID,
		Name:      obj.Name,
		Info:      obj.PropString(models.GroupInfo, models.PropName),
		Enabled:   obj.Enabled,
		Tags:      obj.Tags,
		Value:     obj.Prop(models.GroupState, models.PropValue),
		Status:    models.ParseAlertStatus(obj.Prop(models.GroupState, models.PropAlert)),
		Rules:     decodeList[models.AlarmRule](s, obj, models.GroupState, models.PropAlarms),
		UpdatedAt: obj.UpdatedAt,
	}
	if item.Info == "" {
		item.Info = obj.Name
	}

	parentIDs, err := s.ParentIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	parents, err := s.linkedObjects(ctx, parentIDs, models.TagsMonitorObject)
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		item.Parents = append(item.Parents, models.ObjectRef{ID: p.ID, Name: p.Name})
	}
	return item, nil
}

// GetMonitorObject returns a monitor object with the alert statuses of its
// linked items and its geo items.
func (s *SQLStore) GetMonitorObject(ctx context.Context, id string) (mo *models.MonitorObject, err error) {
	defer s.observe("get_monitor_object", time.Now(), &err)

	obj, err := s.getObject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	mo = &models.MonitorObject{
		ID:          obj.ID,
		Name:        obj.Name,
		Enabled:     obj.Enabled,
		Tags:        obj.Tags,
		AlarmStatus: models.ParseAlertStatus(obj.Prop(models.GroupStatuses, models.PropAlarm)),
	}

	childIDs, err := s.childIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.linkedObjects(ctx, childIDs, nil)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		status := models.ParseAlertStatus(c.Prop(models.GroupState, models.PropAlert))
		switch {
		case c.HasTags(models.TagsMonitorItem...):
			mo.Children = append(mo.Children, models.ChildStatus{ID: c.ID, Name: c.Name, Status: status})
		case c.HasTags(models.TagsGeoItem...):
			mo.GeoItems = append(mo.GeoItems, models.GeoItem{
				ID:       c.ID,
				Name:     c.Name,
				SourceID: c.PropString(models.GroupState, models.PropSource),
				Status:   status,
				Rules:    decodeList[models.GeoAlarmRule](s, c, models.GroupState, models.PropAlarms),
			})
		}
	}
	return mo, nil
}

// GetGeoSource returns a zone or landmark geometry.
func (s *SQLStore) GetGeoSource(ctx context.Context, id string) (src *models.GeoSource, err error) {
	defer s.observe("get_geo_source", time.Now(), &err)

	obj, err := s.getObject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	src = &models.GeoSource{ID: obj.ID, Name: obj.Name}
	if err := obj.DecodeProp(models.GroupPosition, models.PropPoints, &src.Points); err != nil {
		s.logger.Warn("malformed zone points", zap.String("entity_id", id), zap.Error(err))
		src.Points = nil
	}
	var center models.LatLon
	if obj.Prop(models.GroupPosition, models.PropCenter) != nil {
		if err := obj.DecodeProp(models.GroupPosition, models.PropCenter, &center); err != nil {
			s.logger.Warn("malformed landmark center", zap.String("entity_id", id), zap.Error(err))
		} else {
			src.Center = &center
		}
	}
	if r, ok := obj.Prop(models.GroupPosition, models.PropRadius).(float64); ok {
		src.Radius = r
	}
	return src, nil
}

// GetWidget returns a board widget with its alert slots.
func (s *SQLStore) GetWidget(ctx context.Context, id string) (w *models.Widget, err error) {
	defer s.observe("get_widget", time.Now(), &err)

	obj, err := s.getObject(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	w = &models.Widget{
		ID:    obj.ID,
		Name:  obj.Name,
		Value: obj.Prop(models.GroupValue, models.PropValue),
		Alarm: models.ParseWidgetAlarmStatus(obj.Prop(models.GroupStatus, models.PropAlarm)),
	}
	for _, slot := range []string{models.PropAlert1, models.PropAlert2, models.PropAlert3} {
		var a models.WidgetAlert
		if err := obj.DecodeProp(models.GroupAlarms, slot, &a); err != nil {
			s.logger.Warn("malformed widget alert", zap.String("entity_id", id), zap.String("slot", slot), zap.Error(err))
			a = models.WidgetAlert{}
		}
		w.Alerts = append(w.Alerts, a)
	}
	return w, nil
}

// configTags returns the schema tags of the configurations serving channel.
func configTags(ch models.Channel) ([]string, error) {
	switch ch {
	case models.ChannelApp:
		return models.TagsAppConfig, nil
	case models.ChannelEmail:
		return models.TagsEmailConfig, nil
	case models.ChannelSMS, models.ChannelWhatsApp:
		return models.TagsTwilioConfig, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", ch)
	}
}

// ListDeliveryConfigs returns the provisioned configurations of a channel.
// Twilio configurations serve SMS or WhatsApp depending on their mode.
func (s *SQLStore) ListDeliveryConfigs(ctx context.Context, ch models.Channel) (cfgs []models.DeliveryConfig, err error) {
	defer s.observe("list_delivery_configs", time.Now(), &err)

	tags, err := configTags(ch)
	if err != nil {
		return nil, err
	}
	objs, err := s.ListObjects(ctx, tags)
	if err != nil {
		return nil, err
	}
	for _, obj := range objs {
		cfg := deliveryConfig(obj, ch)
		if ch == models.ChannelSMS && cfg.WhatsApp || ch == models.ChannelWhatsApp && !cfg.WhatsApp {
			continue
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func deliveryConfig(obj *models.Object, ch models.Channel) models.DeliveryConfig {
	str := func(group, prop string) string {
		v := obj.Prop(group, prop)
		switch t := v.(type) {
		case nil:
			return ""
		case string:
			return t
		case float64:
			return fmt.Sprintf("%.0f", t)
		default:
			return fmt.Sprint(t)
		}
	}
	cfg := models.DeliveryConfig{
		ID:         obj.ID,
		Name:       obj.Name,
		Channel:    ch,
		Health:     models.ParseHealth(obj.Prop(models.GroupHealth, models.PropStatus)),
		SMTPHost:   str(models.GroupCreds, models.PropSMTP),
		Address:    str(models.GroupCreds, models.PropAddress),
		Token:      str(models.GroupCreds, models.PropToken),
		AccountSID: str(models.GroupCreds, models.PropAccountSID),
		AuthToken:  str(models.GroupCreds, models.PropAuthToken),
		From:       str(models.GroupSettings, models.PropFrom),
		Subject:    str(models.GroupSettings, models.PropSubject),
	}
	switch p := obj.Prop(models.GroupCreds, models.PropPort).(type) {
	case float64:
		cfg.SMTPPort = int(p)
	case string:
		fmt.Sscanf(p, "%d", &cfg.SMTPPort)
	}
	switch w := obj.Prop(models.GroupSettings, models.PropWhatsApp).(type) {
	case bool:
		cfg.WhatsApp = w
	case string:
		cfg.WhatsApp = w == "true"
	}
	_ = obj.DecodeProp(models.GroupNotifyFlt, models.PropTagsFilter, &cfg.TagsFilter)
	return cfg
}
