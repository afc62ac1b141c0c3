package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

func TestAggregateAllPermutations(t *testing.T) {
	statuses := []models.AlertStatus{models.StatusOff, models.StatusOn, models.StatusPending, models.StatusTriggered}

	// Every combination of up to three children.
	var combos [][]models.AlertStatus
	var build func(prefix []models.AlertStatus, depth int)
	build = func(prefix []models.AlertStatus, depth int) {
		combos = append(combos, append([]models.AlertStatus(nil), prefix...))
		if depth == 3 {
			return
		}
		for _, s := range statuses {
			build(append(prefix, s), depth+1)
		}
	}
	build(nil, 0)

	for _, children := range combos {
		got := Aggregate(children)

		anyTriggered, allOff := false, true
		for _, c := range children {
			if c == models.StatusTriggered {
				anyTriggered = true
			}
			if c != models.StatusOff {
				allOff = false
			}
		}
		switch {
		case anyTriggered:
			assert.Equal(t, models.StatusTriggered, got, "children %v", children)
		case allOff:
			assert.Equal(t, models.StatusOff, got, "children %v", children)
		default:
			assert.Equal(t, models.StatusOn, got, "children %v", children)
		}
	}
}

func TestAggregateNoChildren(t *testing.T) {
	assert.Equal(t, models.StatusOff, Aggregate(nil))
	assert.Equal(t, models.StatusOff, Aggregate(ChildStatuses(&models.MonitorObject{})))
}
