package alerting

import (
	"fmt"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// Notification tag sets.
var (
	tagsMonitorAlert     = []string{"application", "monitor", "alert"}
	tagsMonitorTriggered = []string{"application", "monitor", "alert", "triggered"}
	tagsBoardAlert       = []string{"application", "board", "alert"}
	tagsBoardTriggered   = []string{"application", "board", "alert", "triggered"}
)

func cloneTags(tags []string) []string {
	return append([]string(nil), tags...)
}

// itemTriggeredMessage describes a tripped numeric alarm.
func itemTriggeredMessage(item *models.MonitoredItem, rule *models.AlarmRule) string {
	op, _ := models.ParseOperator(rule.Condition.Operator)
	return fmt.Sprintf("%s, %s (%s %s %s)",
		item.DisplayParent().Name, item.Info,
		FormatValue(item.Value), op, FormatValue(rule.Condition.Value))
}

// itemClearedMessage describes a numeric alarm returning to normal.
func itemClearedMessage(item *models.MonitoredItem) string {
	return fmt.Sprintf("%s, %s (current value %s)",
		item.DisplayParent().Name, item.Info, FormatValue(item.Value))
}

// geoMessage phrases a geo transition. triggered selects the phrasing of
// the rule matching; otherwise the inverse is used.
func geoMessage(object string, geoItem models.GeoItem, src *models.GeoSource, rule *models.GeoAlarmRule, triggered bool) string {
	if rule != nil {
		cond := rule.Condition
		switch cond.Type {
		case models.GeoPosition:
			if inside, ok := typecast(cond.Value).(bool); ok && src.Kind() != models.GeoUnknown {
				if inside == triggered {
					return fmt.Sprintf("%s is inside %s", object, src.Name)
				}
				return fmt.Sprintf("%s is outside %s", object, src.Name)
			}
		case models.GeoDistance:
			if src.Kind() == models.GeoLandmark {
				op, _ := models.ParseOperator(cond.Operator)
				more := op == models.OpGreater || op == models.OpGreaterEqual
				less := op == models.OpLess || op == models.OpLessEqual
				if more || less {
					if more == triggered {
						return fmt.Sprintf("%s more than %sm from %s", object, FormatValue(cond.Value), src.Name)
					}
					return fmt.Sprintf("%s less than %sm from %s", object, FormatValue(cond.Value), src.Name)
				}
			}
		}
	}

	verb := "Dismissed"
	if triggered {
		verb = "Triggered"
	}
	if rule == nil {
		return fmt.Sprintf("%s by %s.", verb, geoItem.Name)
	}
	return fmt.Sprintf("%s by %s (%s %s).", verb, geoItem.Name, rule.Condition.Type, FormatValue(rule.Condition.Value))
}

// objectMessage describes a global alarm transition of a parent object.
func objectMessage(name string, triggered bool) string {
	if triggered {
		return name + " triggered"
	}
	return name + " dismissed"
}

// widgetMessage describes a board widget alarm transition.
func widgetMessage(name string, triggered bool) string {
	if triggered {
		return "Alert on widget " + name
	}
	return "Alert dismissed on widget " + name
}
