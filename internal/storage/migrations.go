package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      []string
}

// migrations holds all database migrations in order. Statements use types
// both sqlite and postgres accept.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "object_model",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS objects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS object_tags (
				object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
				tag TEXT NOT NULL,
				PRIMARY KEY (object_id, tag)
			)`,
			`CREATE TABLE IF NOT EXISTS object_properties (
				object_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
				group_name TEXT NOT NULL,
				property TEXT NOT NULL,
				value TEXT NOT NULL DEFAULT 'null',
				transaction_id BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (object_id, group_name, property)
			)`,
			`CREATE TABLE IF NOT EXISTS object_links (
				parent_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
				child_id TEXT NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
				PRIMARY KEY (parent_id, child_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_object_tags_tag ON object_tags(tag)`,
			`CREATE INDEX IF NOT EXISTS idx_object_links_child ON object_links(child_id)`,
		},
	},
	{
		Version: 2,
		Name:    "notifications",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS notifications (
				id TEXT PRIMARY KEY,
				subject_id TEXT NOT NULL,
				subject_name TEXT NOT NULL,
				tags TEXT NOT NULL,
				message TEXT NOT NULL,
				spec_type TEXT NOT NULL,
				spec_alarm TEXT NOT NULL,
				spec_property TEXT NOT NULL DEFAULT '',
				recipient TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS notification_deliveries (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				user_login TEXT NOT NULL,
				notification_id TEXT NOT NULL,
				channel TEXT NOT NULL,
				delivery_path TEXT NOT NULL,
				delivered BOOLEAN NOT NULL,
				error TEXT NOT NULL DEFAULT '',
				message TEXT NOT NULL,
				config_id TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_deliveries_notification ON notification_deliveries(notification_id)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at)`,
		},
	},
	{
		Version: 3,
		Name:    "users",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				login TEXT UNIQUE NOT NULL,
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				activated BOOLEAN NOT NULL DEFAULT FALSE,
				email TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_profiles (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				notifications_mode TEXT NOT NULL DEFAULT '',
				via_email BOOLEAN NOT NULL DEFAULT TRUE,
				via_sms BOOLEAN NOT NULL DEFAULT TRUE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_profiles_user ON user_profiles(user_id)`,
		},
	},
}

// SchemaVersion returns the latest migration version.
func SchemaVersion() int {
	return migrations[len(migrations)-1].Version
}

// runMigrations applies all pending migrations and returns how many ran.
func runMigrations(ctx context.Context, db *sql.DB, d Dialect) (int, error) {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}
		if err := applyMigration(ctx, db, d, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, d Dialect, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range m.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	_, err = tx.ExecContext(ctx,
		d.rebind("INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)"),
		m.Version, m.Name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.Version, err)
	}
	return nil
}
