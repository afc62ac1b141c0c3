package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// Fanout routes a notification to every eligible recipient through every
// matching delivery configuration of every registered channel.
type Fanout struct {
	store    Store
	health   *HealthTracker
	throttle *Throttle
	logger   *zap.Logger

	mu      sync.RWMutex
	senders map[models.Channel]Sender
	order   []models.Channel

	notifications atomic.Int64
	attempts      atomic.Int64
	delivered     atomic.Int64
	failed        atomic.Int64
}

// FanoutStats contains delivery counters.
type FanoutStats struct {
	Notifications int64                    `json:"notifications"`
	Attempts      int64                    `json:"attempts"`
	Delivered     int64                    `json:"delivered"`
	Failed        int64                    `json:"failed"`
	Health        map[string]models.Health `json:"health"`
	Throttle      ThrottleStats            `json:"throttle"`
}

// NewFanout creates a fan-out over store. A nil throttle never delays.
func NewFanout(store Store, throttle *Throttle, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "delivery"))
	return &Fanout{
		store:    store,
		health:   NewHealthTracker(store, logger),
		throttle: throttle,
		logger:   logger,
		senders:  make(map[models.Channel]Sender),
	}
}

// Register adds a sender, replacing any previous sender of its channel.
func (f *Fanout) Register(s Sender) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := s.Channel()
	if _, ok := f.senders[ch]; !ok {
		f.order = append(f.order, ch)
	}
	f.senders[ch] = s
}

// Channels returns the registered channels in registration order.
func (f *Fanout) Channels() []models.Channel {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]models.Channel(nil), f.order...)
}

// Stats returns delivery counters.
func (f *Fanout) Stats() FanoutStats {
	return FanoutStats{
		Notifications: f.notifications.Load(),
		Attempts:      f.attempts.Load(),
		Delivered:     f.delivered.Load(),
		Failed:        f.failed.Load(),
		Health:        f.health.Snapshot(),
		Throttle:      f.throttle.Stats(),
	}
}

// Deliver attempts n on every channel and returns the receipts written.
// Delivery failures are recorded on receipts, never returned; the error
// reports store failures only.
func (f *Fanout) Deliver(ctx context.Context, n *models.Notification) ([]*models.NotificationDelivery, error) {
	f.notifications.Add(1)
	log := f.logger.With(zap.String("notification_id", n.ID))

	users, err := f.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		log.Info("no users found on the platform")
		return nil, nil
	}

	f.mu.RLock()
	senders := make([]Sender, 0, len(f.order))
	for _, ch := range f.order {
		senders = append(senders, f.senders[ch])
	}
	f.mu.RUnlock()

	var (
		mu       sync.Mutex
		receipts []*models.NotificationDelivery
		errs     []error
	)
	collect := func(rs []*models.NotificationDelivery, err error) {
		mu.Lock()
		defer mu.Unlock()
		receipts = append(receipts, rs...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	// Channels are independent; one failing to load configs must not stop
	// the others, so errors are collected instead of cancelling the group.
	var g errgroup.Group
	for _, s := range senders {
		g.Go(func() error {
			collect(f.deliverChannel(ctx, s, users, n, log))
			return nil
		})
	}
	_ = g.Wait()

	return receipts, errors.Join(errs...)
}

// configsFor returns the configurations of s whose tag filter n satisfies.
func (f *Fanout) configsFor(ctx context.Context, s Sender, n *models.Notification, log *zap.Logger) ([]models.DeliveryConfig, error) {
	ch := s.Channel()
	cfgs, err := f.store.ListDeliveryConfigs(ctx, ch)
	if err != nil {
		return nil, fmt.Errorf("list %s configurations: %w", ch, err)
	}
	if len(cfgs) == 0 {
		if ch == models.ChannelApp {
			return []models.DeliveryConfig{implicitAppConfig}, nil
		}
		log.Debug("no delivery configurations provisioned", zap.String("channel", string(ch)))
		return nil, nil
	}
	matching := cfgs[:0]
	for _, cfg := range cfgs {
		if !n.HasTags(cfg.TagsFilter) {
			log.Debug("notification filtered out",
				zap.String("config_id", cfg.ID),
				zap.Strings("tags_filter", cfg.TagsFilter),
			)
			continue
		}
		matching = append(matching, cfg)
	}
	return matching, nil
}

func (f *Fanout) deliverChannel(ctx context.Context, s Sender, users []*models.User, n *models.Notification, log *zap.Logger) ([]*models.NotificationDelivery, error) {
	ch := s.Channel()
	log = log.With(zap.String("channel", string(ch)))

	recipients := Recipients(users, ch, n)
	if len(recipients) == 0 {
		log.Debug("no eligible recipients")
		return nil, nil
	}
	cfgs, err := f.configsFor(ctx, s, n, log)
	if err != nil || len(cfgs) == 0 {
		return nil, err
	}

	var (
		receipts []*models.NotificationDelivery
		errs     []error
	)
	for i := range cfgs {
		for _, u := range recipients {
			if ctx.Err() != nil {
				return receipts, errors.Join(append(errs, ctx.Err())...)
			}
			d, err := f.attempt(ctx, s, &cfgs[i], u, n, log)
			if d != nil {
				receipts = append(receipts, d)
			}
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	return receipts, errors.Join(errs...)
}

// attempt performs one delivery and writes its receipt. The receipt and
// health writes outlive ctx cancellation once the attempt has started.
// A health flip is written back to cfg so later attempts compare against it.
func (f *Fanout) attempt(ctx context.Context, s Sender, cfgp *models.DeliveryConfig, u *models.User, n *models.Notification, log *zap.Logger) (*models.NotificationDelivery, error) {
	cfg := *cfgp
	f.attempts.Add(1)
	ch := cfg.Channel
	if ch == "" {
		ch = s.Channel()
	}
	d := &models.NotificationDelivery{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		UserLogin:      u.Login,
		NotificationID: n.ID,
		Channel:        ch,
		DeliveryPath:   s.DeliveryPath(cfg),
		Message:        n.Message,
		ConfigID:       cfg.ID,
	}

	err := s.Validate(cfg)
	if err == nil {
		err = f.throttle.Wait(ctx, cfg.ID)
	}
	if err == nil {
		start := time.Now()
		err = s.Send(ctx, cfg, u, n)
		metrics.DeliveryDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
	}

	d.Delivered = err == nil
	d.CreatedAt = time.Now().UTC()
	fields := []zap.Field{
		zap.String("user", u.Login),
		zap.String("config_id", cfg.ID),
	}
	if err != nil {
		d.Error = err.Error()
		f.failed.Add(1)
		log.Info("delivery failed", append(fields, zap.Error(err))...)
	} else {
		f.delivered.Add(1)
		log.Debug("delivered", fields...)
	}
	metrics.DeliveriesTotal.WithLabelValues(string(ch), metrics.BoolLabel(d.Delivered)).Inc()

	if cfg.ID != "" {
		flipped, herr := f.health.Record(ctx, cfg, d.Delivered)
		if herr != nil {
			log.Warn("failed to persist configuration health", append(fields, zap.Error(herr))...)
		}
		if flipped {
			cfgp.Health = models.HealthDegraded
			if d.Delivered {
				cfgp.Health = models.HealthOperational
			}
		}
	}

	if werr := f.store.CreateDelivery(context.WithoutCancel(ctx), d); werr != nil {
		return nil, fmt.Errorf("record delivery for %s via %s: %w", u.Login, cfg.ID, werr)
	}
	return d, nil
}
