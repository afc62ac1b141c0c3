package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealarm/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	// Database is the ClickHouse database name.
	Database string

	// Username for authentication.
	Username string

	// Password for authentication.
	Password string

	MaxOpenConns int
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for archived receipts.
	RetentionDays int
}

func (c *ClickHouseConfig) applyDefaults() {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 5
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 90
	}
}

// ReceiptArchive is an append-only ClickHouse copy of delivery receipts
// kept for analytics.
type ReceiptArchive struct {
	config ClickHouseConfig
	db     *sql.DB
}

// NewReceiptArchive creates an archive. Call Open before use.
func NewReceiptArchive(config ClickHouseConfig) *ReceiptArchive {
	config.applyDefaults()
	return &ReceiptArchive{config: config}
}

// NewReceiptArchiveWithDB wraps an already open connection.
func NewReceiptArchiveWithDB(db *sql.DB, config ClickHouseConfig) *ReceiptArchive {
	config.applyDefaults()
	return &ReceiptArchive{config: config, db: db}
}

// Open initializes the ClickHouse connection.
func (a *ReceiptArchive) Open(ctx context.Context) error {
	opts := &clickhouse.Options{
		Addr: a.config.Addresses,
		Auth: clickhouse.Auth{
			Database: a.config.Database,
			Username: a.config.Username,
			Password: a.config.Password,
		},
		DialTimeout:  a.config.DialTimeout,
		MaxOpenConns: a.config.MaxOpenConns,
		MaxIdleConns: a.config.MaxIdleConns,
	}
	if a.config.Compression {
		opts.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(ctx, a.config.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}
	a.db = db
	return nil
}

// Close closes the database connection.
func (a *ReceiptArchive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Ping checks the connection health.
func (a *ReceiptArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Migrate creates the receipts table if it doesn't exist.
func (a *ReceiptArchive) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS notification_receipts (
			id UUID,
			created_at DateTime64(3, 'UTC'),
			notification_id String,
			user_id String,
			user_login String,
			channel LowCardinality(String),
			delivery_path String,
			delivered UInt8,
			error String,
			message String,
			config_id String,
			_date Date DEFAULT toDate(created_at)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (channel, delivered, created_at, id)
		TTL _date + INTERVAL %d DAY DELETE
		SETTINGS index_granularity = 8192
	`, a.config.RetentionDays)

	if _, err := a.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create receipts table: %w", err)
	}
	return nil
}

// InsertBatch inserts receipts using a prepared batch.
func (a *ReceiptArchive) InsertBatch(ctx context.Context, receipts []*models.NotificationDelivery) error {
	if len(receipts) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO notification_receipts (
			id, created_at, notification_id, user_id, user_login, channel,
			delivery_path, delivered, error, message, config_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, d := range receipts {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		var delivered uint8
		if d.Delivered {
			delivered = 1
		}
		_, err := stmt.ExecContext(ctx,
			id,
			d.CreatedAt,
			d.NotificationID,
			d.UserID,
			d.UserLogin,
			string(d.Channel),
			d.DeliveryPath,
			delivered,
			d.Error,
			d.Message,
			d.ConfigID,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ChannelStats is the delivery success count of a channel.
type ChannelStats struct {
	Channel   string `json:"channel"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// StatsSince aggregates archived receipts per channel.
func (a *ReceiptArchive) StatsSince(ctx context.Context, since time.Time) ([]ChannelStats, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT channel, countIf(delivered = 1), countIf(delivered = 0)
		FROM notification_receipts
		WHERE created_at >= ?
		GROUP BY channel
		ORDER BY channel`, since)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []ChannelStats
	for rows.Next() {
		var s ChannelStats
		if err := rows.Scan(&s.Channel, &s.Delivered, &s.Failed); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
