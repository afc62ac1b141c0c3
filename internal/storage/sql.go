package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Postgres driver.
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	// Pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/good-yellow-bee/blazealarm/internal/metrics"
)

// SQLConfig configures the SQL store.
type SQLConfig struct {
	Driver string // sqlite or postgres
	DSN    string
	// ChangeTopic is the event topic property writes are announced on.
	ChangeTopic string
}

// SQLStore implements the engine's state store on sqlite or postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger

	emitter     Emitter
	changeTopic string
	receipts    ReceiptSink
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	d, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == DialectSQLite {
		// SQLite is single-writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if d == DialectSQLite {
		pragmas := []string{
			"PRAGMA foreign_keys = ON",
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("execute %s: %w", pragma, err)
			}
		}
	}

	s := NewSQLStore(db, d, logger)
	s.changeTopic = cfg.ChangeTopic
	return s, nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, d Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.With(zap.String("component", "store"), zap.String("backend", string(d))),
	}
}

// SetEmitter makes property writes publish change events on topic.
func (s *SQLStore) SetEmitter(e Emitter, topic string) {
	s.emitter = e
	if topic != "" {
		s.changeTopic = topic
	}
}

// SetReceiptSink forwards every stored receipt to sink.
func (s *SQLStore) SetReceiptSink(sink ReceiptSink) {
	s.receipts = sink
}

// Migrate runs database migrations.
func (s *SQLStore) Migrate(ctx context.Context) (int, error) {
	return runMigrations(ctx, s.db, s.dialect)
}

// Ping checks the connection health.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// observe records the duration and outcome of a store operation.
func (s *SQLStore) observe(op string, start time.Time, err *error) {
	metrics.StorageQueryDuration.WithLabelValues(op, string(s.dialect)).Observe(time.Since(start).Seconds())
	if *err != nil {
		metrics.StorageErrors.WithLabelValues(op, string(s.dialect)).Inc()
	}
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
