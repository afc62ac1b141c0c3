package alerting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// Outcome is the result of one item evaluation.
type Outcome struct {
	Previous models.AlertStatus
	Status   models.AlertStatus
	// Rule is the rule that tripped the alarm, or the rule used to describe
	// a clear. Nil when the transition does not involve a rule.
	Rule *models.AlarmRule
}

// Changed reports whether the evaluation produced a new status.
func (o Outcome) Changed() bool {
	return o.Previous != o.Status
}

// preparedRule is a validated AlarmRule.
type preparedRule struct {
	rule  models.AlarmRule
	op    models.Operator
	delay time.Duration
}

// ItemEvaluator runs the numeric alarm state machine.
type ItemEvaluator struct {
	clock  Clock
	logger *zap.Logger
	stats  *Stats
}

// NewItemEvaluator creates an evaluator. A nil clock uses SystemClock.
func NewItemEvaluator(clock Clock, logger *zap.Logger, stats *Stats) *ItemEvaluator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &ItemEvaluator{clock: clock, logger: logger, stats: stats}
}

// prepare validates rules and sorts them by timeout. Invalid rules are
// logged and dropped.
func (e *ItemEvaluator) prepare(item *models.MonitoredItem) []preparedRule {
	rules := make([]preparedRule, 0, len(item.Rules))
	for i, r := range item.Rules {
		if r.IsEmpty() {
			continue
		}
		p, err := prepareRule(r)
		if err != nil {
			e.stats.RulesSkipped.Add(1)
			metrics.RulesSkippedTotal.WithLabelValues("item").Inc()
			e.logger.Warn("skipping malformed alarm rule",
				zap.String("entity_id", item.ID),
				zap.Int("rule_index", i),
				zap.Error(err),
			)
			continue
		}
		rules = append(rules, p)
	}

	idx := make([]int, len(rules))
	for i := range idx {
		idx[i] = i
	}
	sortByDelay(idx, func(i int) time.Duration { return rules[i].delay })

	sorted := make([]preparedRule, len(rules))
	for i, j := range idx {
		sorted[i] = rules[j]
	}
	return sorted
}

func prepareRule(r models.AlarmRule) (preparedRule, error) {
	op, err := models.ParseOperator(r.Condition.Operator)
	if err != nil {
		return preparedRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	d, err := r.Timeout.Duration()
	if err != nil {
		return preparedRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := r.Schedule.Validate(); err != nil {
		return preparedRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if r.Condition.Value == nil {
		return preparedRule{}, fmt.Errorf("%w: missing threshold", ErrInvalidRule)
	}
	return preparedRule{rule: r, op: op, delay: d}, nil
}

// Evaluate decides the next status of item. For OFF, ON and PENDING items
// it waits out each debounce window on the clock, so it returns ctx.Err()
// when the task is superseded mid-way.
func (e *ItemEvaluator) Evaluate(ctx context.Context, item *models.MonitoredItem) (Outcome, error) {
	e.stats.Evaluations.Add(1)
	out := Outcome{Previous: item.Status, Status: item.Status}
	log := e.logger.With(zap.String("entity_id", item.ID))

	rules := e.prepare(item)
	if len(rules) == 0 {
		if item.Status == models.StatusOn || item.Status == models.StatusTriggered {
			out.Status = models.StatusOff
		}
		log.Debug("no alarms configured", zap.String("status", string(out.Status)))
		return out, nil
	}

	if item.Status == models.StatusTriggered {
		return e.recheck(item, rules, out, log), nil
	}

	delays := make([]time.Duration, len(rules))
	for i, r := range rules {
		delays[i] = r.delay
	}

	err := walkWindows(ctx, e.clock, buildWindows(delays), func(w window, last bool) bool {
		minute := models.MinuteOfDay(e.clock.Now())
		active := 0
		for _, i := range w.members {
			r := rules[i]
			if !r.rule.Schedule.Contains(minute) {
				continue
			}
			active++
			if item.Value == nil {
				continue
			}
			ok, err := Compare(item.Value, r.op, r.rule.Condition.Value)
			if err != nil {
				e.stats.RulesSkipped.Add(1)
				log.Info("malformed condition, skipped alert", zap.Error(err))
				continue
			}
			if ok {
				out.Status = models.StatusTriggered
				out.Rule = &rules[i].rule
				return true
			}
		}
		if last && active > 0 && item.Status != models.StatusOn {
			if item.Value == nil {
				log.Info("no value provided, defaulting alert to ON")
			}
			out.Status = models.StatusOn
		}
		return false
	})
	if err != nil {
		return Outcome{Previous: item.Status, Status: item.Status}, err
	}
	return out, nil
}

// recheck evaluates every rule immediately for a TRIGGERED item and clears
// it to ON only if none match.
func (e *ItemEvaluator) recheck(item *models.MonitoredItem, rules []preparedRule, out Outcome, log *zap.Logger) Outcome {
	if item.Value == nil {
		log.Info("no value provided, keeping alert TRIGGERED")
		return out
	}
	evaluated := 0
	for _, r := range rules {
		ok, err := Compare(item.Value, r.op, r.rule.Condition.Value)
		if err != nil {
			e.stats.RulesSkipped.Add(1)
			log.Info("malformed condition, skipped alert", zap.Error(err))
			continue
		}
		evaluated++
		if ok {
			return out
		}
	}
	if evaluated > 0 {
		out.Status = models.StatusOn
		// The rule that tripped is not stored; only a sole rule can name it.
		if len(rules) == 1 {
			out.Rule = &rules[0].rule
		}
	}
	return out
}

// Unlink returns the status an item takes when its value source is removed.
func Unlink(item *models.MonitoredItem) models.AlertStatus {
	for _, r := range item.Rules {
		if !r.IsEmpty() {
			return models.StatusOn
		}
	}
	return models.StatusOff
}
