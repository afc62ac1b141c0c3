package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// ErrUnknownHandler is returned when a rule names a handler that is not registered.
var ErrUnknownHandler = errors.New("unknown handler")

// Table is an immutable, validated rule table.
type Table struct {
	rules []*Rule
}

// NewTable validates rules and builds a table. Rule names must be unique.
func NewTable(rules []*Rule) (*Table, error) {
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("invalid rule at index %d: empty", i)
		}
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rule at index %d: %w", i, err)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return &Table{rules: rules}, nil
}

// CheckHandlers verifies that every enabled rule names a known handler.
func (t *Table) CheckHandlers(known func(name string) bool) error {
	var errs []error
	for _, r := range t.rules {
		if r.IsEnabled() && !known(r.HandlerName()) {
			errs = append(errs, fmt.Errorf("rule %q: %w %q", r.Name, ErrUnknownHandler, r.HandlerName()))
		}
	}
	return errors.Join(errs...)
}

// Match returns the enabled rules triggered by ev, at most one per handler.
func (t *Table) Match(ev *models.Event) []*Rule {
	var (
		out  []*Rule
		seen map[string]struct{}
	)
	for _, r := range t.rules {
		if !r.Matches(ev) {
			continue
		}
		if seen == nil {
			seen = make(map[string]struct{})
		}
		if _, dup := seen[r.HandlerName()]; dup {
			continue
		}
		seen[r.HandlerName()] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Rules returns the rules in table order.
func (t *Table) Rules() []*Rule {
	return append([]*Rule(nil), t.rules...)
}

// Topics returns the distinct topics of enabled rules, sorted.
func (t *Table) Topics() []string {
	set := make(map[string]struct{})
	for _, r := range t.rules {
		if r.IsEnabled() {
			set[r.Topic] = struct{}{}
		}
	}
	topics := make([]string, 0, len(set))
	for topic := range set {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// RuleSet holds the active table and allows swapping it atomically.
type RuleSet struct {
	table atomic.Pointer[Table]
}

// NewRuleSet creates a rule set serving t.
func NewRuleSet(t *Table) *RuleSet {
	rs := &RuleSet{}
	rs.table.Store(t)
	return rs
}

// Load returns the active table.
func (rs *RuleSet) Load() *Table {
	return rs.table.Load()
}

// Swap replaces the active table.
func (rs *RuleSet) Swap(t *Table) {
	rs.table.Store(t)
}
