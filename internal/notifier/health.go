package notifier

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// HealthWriter persists configuration health.
type HealthWriter interface {
	UpdateProperties(ctx context.Context, objectID string, txID int64, props []models.PropertyValue) error
}

// HealthTracker flips configuration health on the first failure after
// success and the first success after failure. Repeated identical outcomes
// write nothing. The stored health carried on each configuration is the
// reference; the tracker only serializes writes per configuration.
type HealthTracker struct {
	store  HealthWriter
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seen  map[string]models.Health
}

// NewHealthTracker creates a tracker writing through store.
func NewHealthTracker(store HealthWriter, logger *zap.Logger) *HealthTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthTracker{
		store:  store,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		seen:   make(map[string]models.Health),
	}
}

func (h *HealthTracker) lockFor(id string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.locks[id]
	if !ok {
		l = &sync.Mutex{}
		h.locks[id] = l
	}
	return l
}

func (h *HealthTracker) observe(id string, v models.Health) {
	h.mu.Lock()
	h.seen[id] = v
	h.mu.Unlock()
}

func storedHealth(cfg models.DeliveryConfig) models.Health {
	if cfg.Health == "" {
		return models.HealthOperational
	}
	return cfg.Health
}

// Record applies the outcome of one attempt through cfg and reports
// whether health was flipped. cfg.Health must be the value read from the
// store for this delivery.
func (h *HealthTracker) Record(ctx context.Context, cfg models.DeliveryConfig, delivered bool) (bool, error) {
	want := models.HealthOperational
	if !delivered {
		want = models.HealthDegraded
	}

	l := h.lockFor(cfg.ID)
	l.Lock()
	defer l.Unlock()

	current := storedHealth(cfg)
	h.observe(cfg.ID, current)
	setHealthGauge(cfg, current)
	if current == want {
		return false, nil
	}

	props := []models.PropertyValue{{
		Group:    models.GroupHealth,
		Property: models.PropStatus,
		Value:    want.Value(),
	}}
	if err := h.store.UpdateProperties(context.WithoutCancel(ctx), cfg.ID, models.NewTransactionID(), props); err != nil {
		return false, fmt.Errorf("update health of %s: %w", cfg.ID, err)
	}
	h.observe(cfg.ID, want)
	setHealthGauge(cfg, want)
	metrics.HealthFlipsTotal.WithLabelValues(string(cfg.Channel), string(want)).Inc()
	h.logger.Info("delivery configuration health changed",
		zap.String("config_id", cfg.ID),
		zap.String("config", cfg.Name),
		zap.String("from", string(current)),
		zap.String("to", string(want)),
	)
	return true, nil
}

// Snapshot returns the health last read or written for every configuration.
func (h *HealthTracker) Snapshot() map[string]models.Health {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]models.Health, len(h.seen))
	for k, v := range h.seen {
		out[k] = v
	}
	return out
}

func setHealthGauge(cfg models.DeliveryConfig, v models.Health) {
	g := 0.0
	if v == models.HealthOperational {
		g = 1
	}
	metrics.ConfigHealth.WithLabelValues(cfg.ID, string(cfg.Channel)).Set(g)
}
