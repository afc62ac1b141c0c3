package models

import (
	"fmt"
	"strings"
	"time"
)

// AlertStatus is the alarm state of a monitored item.
type AlertStatus string

const (
	StatusOff       AlertStatus = "OFF"
	StatusOn        AlertStatus = "ON"
	StatusPending   AlertStatus = "PENDING"
	StatusTriggered AlertStatus = "TRIGGERED"
)

// ParseAlertStatus converts a stored value to AlertStatus.
// Unknown or empty values map to OFF.
func ParseAlertStatus(v any) AlertStatus {
	s, _ := v.(string)
	switch AlertStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusOn:
		return StatusOn
	case StatusPending:
		return StatusPending
	case StatusTriggered:
		return StatusTriggered
	default:
		return StatusOff
	}
}

// Operator is a comparison operator of an alarm condition.
type Operator string

const (
	OpEqual        Operator = "="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpNotEqual     Operator = "!="
	OpContains     Operator = "contains"
)

// ParseOperator normalizes the spellings used by rule editors.
func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case "=", "==":
		return OpEqual, nil
	case "<":
		return OpLess, nil
	case "<=", "≤":
		return OpLessEqual, nil
	case ">":
		return OpGreater, nil
	case ">=", "≥":
		return OpGreaterEqual, nil
	case "!=", "≠", "<>":
		return OpNotEqual, nil
	case "contains", "in":
		return OpContains, nil
	default:
		return "", fmt.Errorf("unknown operator %q", s)
	}
}

// Condition compares the item value against a threshold.
type Condition struct {
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value" yaml:"value"`
}

// Timeout is the debounce delay of a rule.
type Timeout struct {
	Value int    `json:"value" yaml:"value"`
	Units string `json:"units" yaml:"units"` // seconds or minutes
}

// Duration converts the timeout to a time.Duration.
func (t Timeout) Duration() (time.Duration, error) {
	if t.Value < 0 {
		return 0, fmt.Errorf("negative timeout %d", t.Value)
	}
	switch strings.ToLower(t.Units) {
	case "", "seconds", "second", "s":
		return time.Duration(t.Value) * time.Second, nil
	case "minutes", "minute", "m":
		return time.Duration(t.Value) * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown timeout units %q", t.Units)
	}
}

// MinutesPerDay bounds Schedule values.
const MinutesPerDay = 24 * 60

// Schedule is a time-of-day window in minutes since midnight.
// From > To wraps past midnight. From == To means always active.
type Schedule struct {
	From int `json:"from" yaml:"from"`
	To   int `json:"to" yaml:"to"`
}

// Validate checks the window bounds.
func (s Schedule) Validate() error {
	if s.From < 0 || s.From > MinutesPerDay || s.To < 0 || s.To > MinutesPerDay {
		return fmt.Errorf("schedule %d-%d outside 0..%d", s.From, s.To, MinutesPerDay)
	}
	return nil
}

// Contains reports whether minute (0..1439) falls inside the window.
func (s Schedule) Contains(minute int) bool {
	switch {
	case s.From == s.To:
		return true
	case s.From < s.To:
		return minute >= s.From && minute < s.To
	default:
		return minute >= s.From || minute < s.To
	}
}

// MinuteOfDay returns the minutes elapsed since midnight of t.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// AlarmRule is one numeric alarm configured on an item.
type AlarmRule struct {
	Condition Condition `json:"condition"`
	Timeout   Timeout   `json:"timeout"`
	Schedule  Schedule  `json:"timeIntervalInMinutes"`
}

// IsEmpty reports whether the rule is an empty placeholder ({}).
func (r AlarmRule) IsEmpty() bool {
	return r.Condition.Operator == "" && r.Condition.Value == nil && r.Timeout == (Timeout{})
}

// GeoConditionType selects the geometric predicate of a geo rule.
type GeoConditionType string

const (
	GeoPosition GeoConditionType = "position"
	GeoDistance GeoConditionType = "distance"
)

// GeoCondition is the predicate of a geo alarm.
// For position the value is a bool: true alarms when inside, false when outside.
// For distance the value is meters compared with Operator.
type GeoCondition struct {
	Type     GeoConditionType `json:"type"`
	Operator string           `json:"operator,omitempty"`
	Value    any              `json:"value"`
}

// GeoAlarmRule is one geo alarm configured on a geo item.
type GeoAlarmRule struct {
	Condition GeoCondition `json:"condition"`
	Timeout   Timeout      `json:"timeout"`
	Schedule  Schedule     `json:"timeIntervalInMinutes"`
}

// IsEmpty reports whether the rule is an empty placeholder ({}).
func (r GeoAlarmRule) IsEmpty() bool {
	return r.Condition.Type == "" && r.Condition.Value == nil && r.Timeout == (Timeout{})
}

// WidgetAlarmStatus is the lowercase alarm state used by board widgets.
type WidgetAlarmStatus string

const (
	WidgetAlarmOff       WidgetAlarmStatus = "off"
	WidgetAlarmOn        WidgetAlarmStatus = "on"
	WidgetAlarmTriggered WidgetAlarmStatus = "triggered"
)

// ParseWidgetAlarmStatus converts a stored value; unknown values map to off.
func ParseWidgetAlarmStatus(v any) WidgetAlarmStatus {
	s, _ := v.(string)
	switch WidgetAlarmStatus(strings.ToLower(strings.TrimSpace(s))) {
	case WidgetAlarmOn:
		return WidgetAlarmOn
	case WidgetAlarmTriggered:
		return WidgetAlarmTriggered
	default:
		return WidgetAlarmOff
	}
}

// WidgetAlert is one of the alert slots of a board widget.
type WidgetAlert struct {
	Condition Condition `json:"condition"`
}
