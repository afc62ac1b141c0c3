package alerting

import (
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// EvaluateWidget decides the next alarm status of a board widget. Alerts are
// evaluated immediately; a widget whose alarm is off, or that has no value,
// is never changed.
func EvaluateWidget(w *models.Widget, value any, logger *zap.Logger) models.WidgetAlarmStatus {
	if w.Alarm == models.WidgetAlarmOff || value == nil {
		return w.Alarm
	}

	matched := false
	for i, a := range w.Alerts {
		if a.Condition.Operator == "" {
			continue
		}
		op, err := models.ParseOperator(a.Condition.Operator)
		if err != nil {
			logger.Info("malformed widget alert, skipped", zap.Int("slot", i+1), zap.Error(err))
			continue
		}
		ok, err := Compare(value, op, a.Condition.Value)
		if err != nil {
			logger.Debug("widget alert not comparable", zap.Int("slot", i+1), zap.Error(err))
			continue
		}
		if ok {
			matched = true
			break
		}
	}

	switch {
	case matched && w.Alarm == models.WidgetAlarmOn:
		return models.WidgetAlarmTriggered
	case !matched && w.Alarm == models.WidgetAlarmTriggered:
		return models.WidgetAlarmOn
	default:
		return w.Alarm
	}
}
