package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealarm/internal/alerting"
	"github.com/good-yellow-bee/blazealarm/internal/api"
	"github.com/good-yellow-bee/blazealarm/internal/api/health"
	"github.com/good-yellow-bee/blazealarm/internal/dispatch"
	"github.com/good-yellow-bee/blazealarm/internal/eventsource"
	"github.com/good-yellow-bee/blazealarm/internal/metrics"
	"github.com/good-yellow-bee/blazealarm/internal/models"
	"github.com/good-yellow-bee/blazealarm/internal/notifier"
	"github.com/good-yellow-bee/blazealarm/internal/storage"
)

// knownHandlers are the handler names a rule table may reference.
var knownHandlers = []string{
	alerting.HandlerItemAlarms,
	alerting.HandlerGeoAlarms,
	alerting.HandlerGlobalAlarms,
	alerting.HandlerWidgetAlarms,
	notifier.HandlerName,
}

// engine holds the wired process components.
type engine struct {
	cfg    *Config
	logger *zap.Logger

	store      *storage.SQLStore
	source     eventsource.Source
	archive    *storage.ReceiptArchive
	receipts   *storage.ReceiptBuffer
	rules      *dispatch.RuleSet
	dispatcher *dispatch.Dispatcher
	watcher    *dispatch.RuleWatcher
	fanout     *notifier.Fanout
	stats      *alerting.Stats
	metrics    *metrics.Server
	admin      *api.Server
}

// newEngine opens every backend and wires the handlers. On error the
// components opened so far are closed.
func newEngine(ctx context.Context, cfg *Config, log *zap.Logger) (_ *engine, err error) {
	e := &engine{cfg: cfg, logger: log, stats: &alerting.Stats{}}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	e.store, err = openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	n, err := e.store.Migrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	log.Info("store ready", zap.String("driver", cfg.Store.Driver), zap.Int("migrations_applied", n))

	e.source, err = openSource(ctx, cfg.Source, log)
	if err != nil {
		return nil, err
	}
	e.store.SetEmitter(e.source, cfg.Dispatch.ObjectsTopic)

	if cfg.Archive.ClickHouse.Enabled {
		e.archive, err = openArchive(ctx, cfg.Archive.ClickHouse)
		if err != nil {
			return nil, err
		}
		e.receipts = storage.NewReceiptBuffer(e.archive, storage.ReceiptBufferConfig{
			BatchSize:     cfg.Archive.ClickHouse.BatchSize,
			FlushInterval: cfg.Archive.ClickHouse.FlushInterval,
		}, log)
		e.store.SetReceiptSink(e.receipts)
	}

	registry, err := e.registerHandlers()
	if err != nil {
		return nil, err
	}

	table, err := loadRuleTable(cfg.Dispatch.RulesFile)
	if err != nil {
		return nil, err
	}
	if err := table.CheckHandlers(registry.Has); err != nil {
		return nil, fmt.Errorf("check rules: %w", err)
	}
	e.rules = dispatch.NewRuleSet(table)

	e.dispatcher = dispatch.New(e.source, e.rules, registry, e.store, dispatch.Options{
		InitialBackoff:  cfg.Dispatch.InitialBackoff,
		MaxBackoff:      cfg.Dispatch.MaxBackoff,
		ShutdownTimeout: cfg.Dispatch.ShutdownTimeout,
	}, log)

	if cfg.Dispatch.WatchRules {
		e.watcher, err = dispatch.NewRuleWatcher(cfg.Dispatch.RulesFile, e.rules, registry.Has, log)
		if err != nil {
			return nil, fmt.Errorf("watch rules: %w", err)
		}
	}

	e.metrics = metrics.NewServer(cfg.Metrics.Address, log)

	if err := e.setupAdmin(); err != nil {
		return nil, err
	}
	return e, nil
}

// registerHandlers builds the alarm handlers and the delivery fan-out.
func (e *engine) registerHandlers() (*dispatch.Registry, error) {
	cfg, log := e.cfg, e.logger
	clock := alerting.SystemClock{}
	publisher := alerting.NewPublisher(e.store, e.source, cfg.Dispatch.NotificationsTopic, log, e.stats)

	registry := dispatch.NewRegistry()
	registry.Register(alerting.HandlerItemAlarms,
		alerting.NewItemAlarmHandler(e.store, alerting.NewItemEvaluator(clock, log, e.stats), publisher, log))
	registry.Register(alerting.HandlerGeoAlarms,
		alerting.NewGeoAlarmHandler(e.store, alerting.NewGeoEvaluator(clock, log, e.stats), publisher, log))
	registry.Register(alerting.HandlerGlobalAlarms,
		alerting.NewGlobalAlarmHandler(e.store, publisher, log, e.stats))
	registry.Register(alerting.HandlerWidgetAlarms,
		alerting.NewWidgetAlarmHandler(e.store, publisher, log, e.stats))

	throttle := notifier.NewThrottle(notifier.ThrottleConfig{
		PerSecond: cfg.Delivery.RatePerSecond,
		Burst:     cfg.Delivery.Burst,
		Enabled:   cfg.Delivery.RatePerSecond > 0,
	})
	e.fanout = notifier.NewFanout(e.store, throttle, log)

	email, err := notifier.NewEmailSender()
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	e.fanout.Register(notifier.NewAppSender(cfg.Delivery.AppName))
	e.fanout.Register(email)
	e.fanout.Register(notifier.NewTwilioSender(models.ChannelSMS, cfg.Delivery.TwilioBaseURL, cfg.Delivery.TwilioTimeout))
	e.fanout.Register(notifier.NewTwilioSender(models.ChannelWhatsApp, cfg.Delivery.TwilioBaseURL, cfg.Delivery.TwilioTimeout))
	registry.Register(notifier.HandlerName, notifier.NewDeliveryHandler(e.fanout, log))

	return registry, nil
}

func (e *engine) setupAdmin() error {
	deps := api.Deps{
		Tasks:    e.dispatcher.Supervisor(),
		Rules:    e.rules,
		Streams:  e.dispatcher,
		Alerting: e.stats,
		Delivery: e.fanout,
	}
	if e.receipts != nil {
		deps.Archive = e.receipts
	}

	admin, err := api.New(&api.Config{
		Address: e.cfg.Admin.Address,
		Verbose: e.cfg.Verbose,
	}, deps, e.logger)
	if err != nil {
		return fmt.Errorf("create admin API: %w", err)
	}
	admin.RegisterHealthChecker(health.NewStoreChecker(string(e.store.Dialect()), e.store))
	admin.RegisterHealthChecker(health.NewStreamChecker(e.dispatcher))
	if e.archive != nil {
		admin.RegisterHealthChecker(health.NewClickHouseChecker(e.archive))
	}
	e.admin = admin
	return nil
}

// Run runs the dispatcher, the rule watcher and both HTTP listeners until
// ctx is done or one of them fails.
func (e *engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.dispatcher.Run(gctx)
	})
	if e.watcher != nil {
		g.Go(func() error {
			return e.watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		return e.admin.Run(gctx)
	})
	g.Go(e.metrics.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.metrics.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the backends. The receipt buffer is flushed before the
// archive connection goes away.
func (e *engine) Close() error {
	var errs []error
	if e.receipts != nil {
		errs = append(errs, e.receipts.Close())
	}
	if e.archive != nil {
		errs = append(errs, e.archive.Close())
	}
	if e.source != nil {
		errs = append(errs, e.source.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		e.logger.Warn("close engine", zap.Error(err))
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg *Config, log *zap.Logger) (*storage.SQLStore, error) {
	store, err := storage.Open(ctx, storage.SQLConfig{
		Driver:      cfg.Store.Driver,
		DSN:         cfg.Store.DSN,
		ChangeTopic: cfg.Dispatch.ObjectsTopic,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func openSource(ctx context.Context, cfg SourceConfig, log *zap.Logger) (eventsource.Source, error) {
	switch cfg.Kind {
	case "redis":
		src, err := eventsource.NewRedisSource(ctx, eventsource.RedisConfig{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Group:    cfg.Redis.Group,
			Consumer: cfg.Redis.Consumer,
			MaxLen:   cfg.Redis.MaxLen,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("open redis source: %w", err)
		}
		return src, nil
	case "mqtt":
		src, err := eventsource.NewMQTTSource(eventsource.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Prefix:   cfg.MQTT.Prefix,
			QoS:      cfg.MQTT.QoS,
			Timeout:  cfg.MQTT.Timeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("open mqtt source: %w", err)
		}
		return src, nil
	case "memory":
		log.Warn("using in-process event source; events are not shared with other processes")
		return eventsource.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func openArchive(ctx context.Context, cfg ClickHouseConfig) (*storage.ReceiptArchive, error) {
	archive := storage.NewReceiptArchive(storage.ClickHouseConfig{
		Addresses:     cfg.Addresses,
		Database:      cfg.Database,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Compression:   cfg.Compression,
		RetentionDays: cfg.RetentionDays,
	})
	if err := archive.Open(ctx); err != nil {
		return nil, fmt.Errorf("open receipt archive: %w", err)
	}
	if err := archive.Migrate(ctx); err != nil {
		archive.Close()
		return nil, fmt.Errorf("migrate receipt archive: %w", err)
	}
	return archive, nil
}

// loadRuleTable reads path, or returns the embedded table when path is empty.
func loadRuleTable(path string) (*dispatch.Table, error) {
	if path == "" {
		return dispatch.DefaultTable(), nil
	}
	t, err := dispatch.LoadRulesFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return t, nil
}
