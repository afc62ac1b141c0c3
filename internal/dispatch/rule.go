// Package dispatch routes change events to alarm and delivery handlers.
// A rule table maps event shapes and tag predicates to handler names, and
// a supervisor keeps at most one running task per handler and entity.
package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// Rule maps events to a handler.
type Rule struct {
	// Name is the unique identifier for the rule.
	Name string `yaml:"name"`
	// Description documents what the rule reacts to.
	Description string `yaml:"description,omitempty"`
	// Handler is the registered handler to run. Defaults to Name.
	Handler string `yaml:"handler,omitempty"`
	// Topic restricts the rule to one event source topic.
	Topic string `yaml:"topic"`
	// Shape is the event shape: object, property or notification.
	Shape models.EventShape `yaml:"shape"`
	// Condition is the tag predicate, for example
	// "[application|monitor|object monitoring item]State/Value".
	Condition string `yaml:"condition"`
	// Enabled controls whether the rule is active.
	Enabled *bool `yaml:"enabled,omitempty"`

	pred predicate
}

// RulesConfig is the YAML document holding the rule table.
type RulesConfig struct {
	Rules []*Rule `yaml:"rules"`
}

// IsEnabled returns whether the rule is enabled.
func (r *Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// HandlerName returns the handler the rule spawns.
func (r *Rule) HandlerName() string {
	if r.Handler != "" {
		return r.Handler
	}
	return r.Name
}

// Validate checks the rule and compiles its condition.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Topic == "" {
		return fmt.Errorf("topic is required for rule %q", r.Name)
	}
	switch r.Shape {
	case models.ShapeObject, models.ShapeProperty, models.ShapeNotification:
	case "":
		return fmt.Errorf("shape is required for rule %q", r.Name)
	default:
		return fmt.Errorf("invalid shape %q for rule %q", r.Shape, r.Name)
	}
	pred, err := parseCondition(r.Shape, r.Condition)
	if err != nil {
		return fmt.Errorf("invalid condition %q for rule %q: %w", r.Condition, r.Name, err)
	}
	r.pred = pred
	return nil
}

// Matches reports whether ev triggers the rule.
func (r *Rule) Matches(ev *models.Event) bool {
	if !r.IsEnabled() || ev.Shape != r.Shape || (ev.Topic != "" && ev.Topic != r.Topic) {
		return false
	}
	if r.Shape == models.ShapeProperty {
		if ev.Property == nil {
			return false
		}
		return r.pred.matchProperty(ev.Tags(), ev.Property.Group, ev.Property.Property)
	}
	return r.pred.matchTags(ev.Tags())
}

// alternative is one comma-separated branch of a condition.
type alternative struct {
	tags     []string // all required
	anyTags  bool
	group    string // "*" matches every group
	property string // "*" matches every property
}

func (a alternative) matchTags(tags []string) bool {
	return a.anyTags || (tags != nil && models.ContainsAllTags(tags, a.tags))
}

// predicate is a parsed condition: any alternative must match.
type predicate struct {
	all  bool
	alts []alternative
}

func (p predicate) matchTags(tags []string) bool {
	if p.all {
		return true
	}
	for _, a := range p.alts {
		if a.matchTags(tags) {
			return true
		}
	}
	return false
}

func (p predicate) matchProperty(tags []string, group, property string) bool {
	if p.all {
		return true
	}
	for _, a := range p.alts {
		if !a.matchTags(tags) {
			continue
		}
		if (a.group == "*" || a.group == group) && (a.property == "*" || a.property == property) {
			return true
		}
	}
	return false
}

// parseCondition compiles the condition grammar:
//
//	property:            [t1|t2]Group/Property,[t3]*/Property
//	object/notification: [t1|t2],[t3]   (brackets optional)
//
// A lone "*" matches every event of the shape; a "*" tag matches any tags.
func parseCondition(shape models.EventShape, s string) (predicate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return predicate{}, fmt.Errorf("empty condition")
	}
	if s == "*" {
		return predicate{all: true}, nil
	}

	var p predicate
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return predicate{}, fmt.Errorf("empty alternative")
		}
		var (
			a   alternative
			err error
		)
		if shape == models.ShapeProperty {
			a, err = parsePropertyAlternative(part)
		} else {
			a, err = parseTagAlternative(part)
		}
		if err != nil {
			return predicate{}, err
		}
		if shape != models.ShapeProperty && a.anyTags {
			return predicate{all: true}, nil
		}
		p.alts = append(p.alts, a)
	}
	return p, nil
}

func parseTags(s string) (tags []string, anyTag bool, err error) {
	for _, t := range strings.Split(s, "|") {
		t = strings.TrimSpace(t)
		if t == "*" {
			return nil, true, nil
		}
		if t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) == 0 {
		return nil, false, fmt.Errorf("empty tag list")
	}
	sort.Strings(tags)
	return tags, false, nil
}

func parseTagAlternative(s string) (alternative, error) {
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, "]") {
			return alternative{}, fmt.Errorf("unterminated tag list %q", s)
		}
		s = s[1 : len(s)-1]
	}
	tags, anyTag, err := parseTags(s)
	if err != nil {
		return alternative{}, err
	}
	return alternative{tags: tags, anyTags: anyTag}, nil
}

func parsePropertyAlternative(s string) (alternative, error) {
	if !strings.HasPrefix(s, "[") {
		return alternative{}, fmt.Errorf("property alternative %q must start with a tag list", s)
	}
	end := strings.Index(s, "]")
	if end < 0 {
		return alternative{}, fmt.Errorf("unterminated tag list %q", s)
	}
	tags, anyTag, err := parseTags(s[1:end])
	if err != nil {
		return alternative{}, err
	}
	group, property, ok := strings.Cut(s[end+1:], "/")
	group, property = strings.TrimSpace(group), strings.TrimSpace(property)
	if !ok || group == "" || property == "" {
		return alternative{}, fmt.Errorf("property alternative %q needs Group/Property", s)
	}
	return alternative{tags: tags, anyTags: anyTag, group: group, property: property}, nil
}
