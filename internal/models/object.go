package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Property groups and names read or written by the engine.
const (
	GroupState     = "State"
	GroupStatuses  = "Statuses"
	GroupStatus    = "Status"
	GroupInfo      = "Info"
	GroupPosition  = "Position"
	GroupValue     = "Value"
	GroupSettings  = "Settings"
	GroupCreds     = "Credentials"
	GroupHealth    = "HealthCheck"
	GroupNotifyFlt = "Notifications filter"
	GroupAlarms    = "Alarms"

	PropValue    = "Value"
	PropAlarms   = "Alarms"
	PropAlert    = "Alert"
	PropAlarm    = "Alarm"
	PropName     = "Name"
	PropPoint    = "Point"
	PropPoints   = "Points"
	PropCenter   = "Center"
	PropRadius   = "Radius"
	PropSource   = "Source"
	PropAlert1   = "Alert1"
	PropAlert2   = "Alert2"
	PropAlert3   = "Alert3"

	// Delivery configuration properties.
	PropSMTP       = "SMTP"
	PropPort       = "PORT"
	PropAddress    = "ADDRESS"
	PropToken      = "TOKEN"
	PropAccountSID = "ACCOUNT_SID"
	PropAuthToken  = "AUTH_TOKEN"
	PropFrom       = "FROM"
	PropSubject    = "SUBJECT"
	PropWhatsApp   = "WHATSAPP"
	PropTagsFilter = "TAGS_FILTER"
	PropStatus     = "Status"
)

// Schema tags identifying entity kinds.
var (
	TagsMonitorObject = []string{"application", "monitor", "object"}
	TagsMonitorItem   = []string{"application", "monitor", "object monitoring item"}
	TagsGeoItem       = []string{"application", "monitor", "object geo item"}
	TagsZone          = []string{"application", "monitor", "zone"}
	TagsLandmark      = []string{"application", "monitor", "landmark"}
	TagsWidget        = []string{"application", "board", "widget", "databox"}
	TagsEmailConfig   = []string{"application", "dispatcher", "notification", "email", "configuration"}
	TagsTwilioConfig  = []string{"application", "dispatcher", "notification", "twilio", "configuration"}
	TagsAppConfig     = []string{"application", "dispatcher", "notification", "app", "configuration"}
)

// PropertyKey identifies a property as Group/Property.
type PropertyKey struct {
	Group    string `json:"groupName"`
	Property string `json:"property"`
}

// String returns the Group/Property form.
func (k PropertyKey) String() string {
	return k.Group + "/" + k.Property
}

// Key builds a PropertyKey.
func Key(group, property string) PropertyKey {
	return PropertyKey{Group: group, Property: property}
}

// PropertyValue is one entry of a property batch update.
type PropertyValue struct {
	Group    string `json:"groupName"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// Object is the generic stored entity.
type Object struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Enabled    bool                `json:"enabled"`
	Tags       []string            `json:"tags"`
	Properties map[PropertyKey]any `json:"-"`
	UpdatedAt  time.Time           `json:"updatedAt"`
}

// Prop returns a property value or nil.
func (o *Object) Prop(group, property string) any {
	if o == nil || o.Properties == nil {
		return nil
	}
	return o.Properties[Key(group, property)]
}

// PropString returns a property as a string ("" when absent or not a string).
func (o *Object) PropString(group, property string) string {
	s, _ := o.Prop(group, property).(string)
	return s
}

// DecodeProp re-decodes a JSON property into target.
func (o *Object) DecodeProp(group, property string, target any) error {
	v := o.Prop(group, property)
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", group, property, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s/%s: %w", group, property, err)
	}
	return nil
}

// HasTags reports whether the object carries every tag in want.
func (o *Object) HasTags(want ...string) bool {
	return ContainsAllTags(o.Tags, want)
}

// ContainsAllTags reports whether have ⊇ want.
func ContainsAllTags(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// ObjectRef is a lightweight reference to a linked object.
type ObjectRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MonitoredItem is a monitored property holder with numeric alarms.
type MonitoredItem struct {
	ID        string
	Name      string
	Info      string
	Enabled   bool
	Tags      []string
	Value     any
	Status    AlertStatus
	Rules     []AlarmRule
	UpdatedAt time.Time
	Parents   []ObjectRef
}

// DisplayParent returns the first parent, or the item itself when unparented.
func (i *MonitoredItem) DisplayParent() ObjectRef {
	if len(i.Parents) > 0 {
		return i.Parents[0]
	}
	return ObjectRef{ID: i.ID, Name: i.Name}
}

// ChildStatus is the alert status of an object linked under a parent.
type ChildStatus struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Status AlertStatus `json:"status"`
}

// MonitorObject is a parent object carrying a global alarm status.
type MonitorObject struct {
	ID          string
	Name        string
	Enabled     bool
	Tags        []string
	AlarmStatus AlertStatus
	Children    []ChildStatus
	GeoItems    []GeoItem
}

// GeoItem links a monitored object to a zone or landmark with geo alarms.
type GeoItem struct {
	ID       string
	Name     string
	SourceID string
	Status   AlertStatus
	Rules    []GeoAlarmRule
}

// LatLon is a WGS84 coordinate.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoSourceKind distinguishes zones from landmarks.
type GeoSourceKind string

const (
	GeoZone     GeoSourceKind = "ZONE"
	GeoLandmark GeoSourceKind = "LANDMARK"
	GeoUnknown  GeoSourceKind = "UNKNOWN"
)

// GeoSource is a zone (polygon in EPSG:3857) or a landmark (center + radius).
type GeoSource struct {
	ID     string
	Name   string
	Points [][][2]float64
	Center *LatLon
	Radius float64
}

// Kind returns the source kind based on which geometry is present.
func (g *GeoSource) Kind() GeoSourceKind {
	switch {
	case len(g.Points) > 0 && len(g.Points[0]) > 0:
		return GeoZone
	case g.Center != nil:
		return GeoLandmark
	default:
		return GeoUnknown
	}
}

// Widget is a board widget with up to three alert slots.
type Widget struct {
	ID     string
	Name   string
	Value  any
	Alarm  WidgetAlarmStatus
	Alerts []WidgetAlert
}
