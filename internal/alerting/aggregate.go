package alerting

import "github.com/good-yellow-bee/blazealarm/internal/models"

// Aggregate computes a parent's global alarm status from its children:
// TRIGGERED if any child is TRIGGERED, OFF if every child is OFF (including
// no children at all), ON otherwise.
func Aggregate(children []models.AlertStatus) models.AlertStatus {
	allOff := true
	for _, s := range children {
		if s == models.StatusTriggered {
			return models.StatusTriggered
		}
		if s != models.StatusOff {
			allOff = false
		}
	}
	if allOff {
		return models.StatusOff
	}
	return models.StatusOn
}

// ChildStatuses extracts the statuses of obj's children.
func ChildStatuses(obj *models.MonitorObject) []models.AlertStatus {
	out := make([]models.AlertStatus, len(obj.Children))
	for i, c := range obj.Children {
		out[i] = c.Status
	}
	return out
}
