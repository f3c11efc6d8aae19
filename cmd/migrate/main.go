package main

// Run database migrations:
//   go run ./cmd/migrate

import (
	"context"
	"os"

	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/storage/db"
	"claims-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool := db.MigratePool().Override(db.PoolFromConfig(cfg))
	pool.MaxOpenConns = 1
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, pool)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"err": err})
		os.Exit(1)
	}
	defer sqlDB.Close()

	version, err := db.RunMigrations(ctx, sqlDB)
	if err != nil {
		telemetry.Error("migrate.failed", map[string]any{"err": err})
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"version": version})
}
