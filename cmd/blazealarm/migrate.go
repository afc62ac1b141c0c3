package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply state store and receipt archive migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer log.Sync()
		return migrate(context.Background(), cfg, log)
	},
}

// migrate brings the SQL store and, when enabled, the ClickHouse archive up
// to the current schema.
func migrate(ctx context.Context, cfg *Config, log *zap.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	log.Info("store migrated", zap.String("driver", cfg.Store.Driver), zap.Int("applied", n))

	if !cfg.Archive.ClickHouse.Enabled {
		return nil
	}
	archive, err := openArchive(ctx, cfg.Archive.ClickHouse)
	if err != nil {
		return err
	}
	defer archive.Close()
	log.Info("receipt archive migrated", zap.Strings("addresses", cfg.Archive.ClickHouse.Addresses))
	return nil
}
