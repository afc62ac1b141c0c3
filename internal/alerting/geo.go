package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/project"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// geoFact is the measured relation between a position and a geo source.
type geoFact struct {
	kind     models.GeoSourceKind
	inside   bool
	distance float64 // meters to the landmark center
	radius   float64
}

// measure computes the geometric facts a geo rule can be evaluated against.
// Zone rings are stored in EPSG:3857 and converted to WGS84 first.
func measure(src *models.GeoSource, pos models.LatLon) geoFact {
	point := orb.Point{pos.Lon, pos.Lat}
	switch src.Kind() {
	case models.GeoZone:
		poly := make(orb.Polygon, 0, len(src.Points))
		for _, r := range src.Points {
			ring := make(orb.Ring, 0, len(r))
			for _, xy := range r {
				ring = append(ring, project.Mercator.ToWGS84(orb.Point{xy[0], xy[1]}))
			}
			poly = append(poly, ring)
		}
		return geoFact{kind: models.GeoZone, inside: planar.PolygonContains(poly, point)}
	case models.GeoLandmark:
		d := geo.Distance(point, orb.Point{src.Center.Lon, src.Center.Lat})
		return geoFact{
			kind:     models.GeoLandmark,
			distance: d,
			radius:   src.Radius,
			inside:   d < src.Radius,
		}
	default:
		return geoFact{kind: models.GeoUnknown}
	}
}

// preparedGeoRule is a validated GeoAlarmRule.
type preparedGeoRule struct {
	rule   models.GeoAlarmRule
	op     models.Operator // distance rules only
	inside bool            // position rules only
	delay  time.Duration
}

func prepareGeoRule(r models.GeoAlarmRule) (preparedGeoRule, error) {
	d, err := r.Timeout.Duration()
	if err != nil {
		return preparedGeoRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := r.Schedule.Validate(); err != nil {
		return preparedGeoRule{}, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	p := preparedGeoRule{rule: r, delay: d}

	switch r.Condition.Type {
	case models.GeoPosition:
		b, ok := typecast(r.Condition.Value).(bool)
		if !ok {
			return preparedGeoRule{}, fmt.Errorf("%w: position value must be a bool, got %v", ErrInvalidRule, r.Condition.Value)
		}
		p.inside = b
	case models.GeoDistance:
		op, err := models.ParseOperator(r.Condition.Operator)
		if err != nil || op == models.OpContains {
			return preparedGeoRule{}, fmt.Errorf("%w: distance operator %q", ErrInvalidRule, r.Condition.Operator)
		}
		if _, ok := typecast(r.Condition.Value).(float64); !ok {
			return preparedGeoRule{}, fmt.Errorf("%w: distance value must be a number, got %v", ErrInvalidRule, r.Condition.Value)
		}
		p.op = op
	default:
		return preparedGeoRule{}, fmt.Errorf("%w: unknown condition type %q", ErrInvalidRule, r.Condition.Type)
	}
	return p, nil
}

// matches evaluates the rule against the measured facts.
func (p preparedGeoRule) matches(f geoFact) (bool, error) {
	switch p.rule.Condition.Type {
	case models.GeoPosition:
		switch f.kind {
		case models.GeoZone:
			return f.inside == p.inside, nil
		case models.GeoLandmark:
			if p.inside {
				return f.distance < f.radius, nil
			}
			return f.distance > f.radius, nil
		}
	case models.GeoDistance:
		if f.kind == models.GeoLandmark {
			return Compare(f.distance, p.op, p.rule.Condition.Value)
		}
		return false, fmt.Errorf("%w: distance rules need a landmark", ErrInvalidRule)
	}
	return false, fmt.Errorf("%w: unsupported geo source", ErrInvalidRule)
}

// GeoOutcome is the result of evaluating one geo item.
type GeoOutcome struct {
	Previous models.AlertStatus
	Status   models.AlertStatus
	Rule     *models.GeoAlarmRule
}

// Changed reports whether the evaluation produced a new status.
func (o GeoOutcome) Changed() bool {
	return o.Previous != o.Status
}

// GeoEvaluator runs the geofence variant of the alarm state machine.
type GeoEvaluator struct {
	clock  Clock
	logger *zap.Logger
	stats  *Stats
}

// NewGeoEvaluator creates a geo evaluator. A nil clock uses SystemClock.
func NewGeoEvaluator(clock Clock, logger *zap.Logger, stats *Stats) *GeoEvaluator {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &GeoEvaluator{clock: clock, logger: logger, stats: stats}
}

// Evaluate decides the next status of a geo item for the given position.
// A nil position means "cannot decide".
func (e *GeoEvaluator) Evaluate(ctx context.Context, item models.GeoItem, src *models.GeoSource, pos *models.LatLon) (GeoOutcome, error) {
	e.stats.Evaluations.Add(1)
	out := GeoOutcome{Previous: item.Status, Status: item.Status}
	log := e.logger.With(zap.String("geo_item_id", item.ID), zap.String("source_id", src.ID))

	rules := make([]preparedGeoRule, 0, len(item.Rules))
	for i, r := range item.Rules {
		if r.IsEmpty() {
			continue
		}
		p, err := prepareGeoRule(r)
		if err != nil {
			e.stats.RulesSkipped.Add(1)
			metrics.RulesSkippedTotal.WithLabelValues("geo").Inc()
			log.Warn("skipping malformed geo rule", zap.Int("rule_index", i), zap.Error(err))
			continue
		}
		rules = append(rules, p)
	}
	if len(rules) == 0 {
		if item.Status == models.StatusOn || item.Status == models.StatusTriggered {
			out.Status = models.StatusOff
		}
		return out, nil
	}

	idx := make([]int, len(rules))
	for i := range idx {
		idx[i] = i
	}
	sortByDelay(idx, func(i int) time.Duration { return rules[i].delay })
	sorted := make([]preparedGeoRule, len(rules))
	delays := make([]time.Duration, len(rules))
	for i, j := range idx {
		sorted[i] = rules[j]
		delays[i] = rules[j].delay
	}
	rules = sorted

	var fact geoFact
	if pos != nil {
		fact = measure(src, *pos)
	}

	if item.Status == models.StatusTriggered {
		if pos == nil {
			return out, nil
		}
		evaluated := 0
		for _, r := range rules {
			ok, err := r.matches(fact)
			if err != nil {
				e.stats.RulesSkipped.Add(1)
				log.Info("malformed condition, skipped alert", zap.Error(err))
				continue
			}
			evaluated++
			if ok {
				return out, nil
			}
		}
		if evaluated > 0 {
			out.Status = models.StatusOn
			// The rule that tripped is not stored; only a sole rule can name it.
			if len(rules) == 1 {
				out.Rule = &rules[0].rule
			}
		}
		return out, nil
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
			if pos == nil {
				continue
			}
			ok, err := r.matches(fact)
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
			out.Status = models.StatusOn
			out.Rule = &rules[w.members[0]].rule
		}
		return false
	})
	if err != nil {
		return GeoOutcome{Previous: item.Status, Status: item.Status}, err
	}
	return out, nil
}
