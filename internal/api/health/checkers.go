package health

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/good-yellow-bee/blazealarm/internal/dispatch"
)

// Pinger interface for databases that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker checks state store connectivity.
type StoreChecker struct {
	name   string
	pinger Pinger
}

// NewStoreChecker creates a state store health checker reported as name
// (typically the SQL dialect).
func NewStoreChecker(name string, p Pinger) *StoreChecker {
	return &StoreChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *StoreChecker) Name() string {
	return c.name
}

// Check verifies the store is accessible.
func (c *StoreChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.pinger.Ping(ctx)
}

// ClickHouseChecker checks ClickHouse connectivity.
type ClickHouseChecker struct {
	pinger Pinger
}

// NewClickHouseChecker creates a new ClickHouse health checker.
func NewClickHouseChecker(p Pinger) *ClickHouseChecker {
	return &ClickHouseChecker{pinger: p}
}

// Name returns the checker name.
func (c *ClickHouseChecker) Name() string {
	return "clickhouse"
}

// Check verifies ClickHouse is accessible.
func (c *ClickHouseChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("clickhouse not configured")
	}
	return c.pinger.Ping(ctx)
}

// StreamReporter exposes event stream states.
type StreamReporter interface {
	StreamStates() map[string]dispatch.StreamState
}

// StreamChecker reports not ready until every subscribed topic is live.
type StreamChecker struct {
	streams StreamReporter
}

// NewStreamChecker creates an event stream health checker.
func NewStreamChecker(s StreamReporter) *StreamChecker {
	return &StreamChecker{streams: s}
}

// Name returns the checker name.
func (c *StreamChecker) Name() string {
	return "event_streams"
}

// Check fails when any topic is not live.
func (c *StreamChecker) Check(context.Context) error {
	var down []string
	for topic, state := range c.streams.StreamStates() {
		if state != dispatch.StreamLive {
			down = append(down, topic+"="+state.String())
		}
	}
	if len(down) > 0 {
		sort.Strings(down)
		return fmt.Errorf("streams not live: %s", strings.Join(down, ", "))
	}
	return nil
}
