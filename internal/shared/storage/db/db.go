package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver

	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/telemetry"
)

// Pool sizes the connection pool. Zero fields keep the value they override.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// runOverhead is the connections a batch run holds besides its documents:
// one for counter updates and one for cancel polling.
const runOverhead = 2

var (
	openDB = sql.Open

	sharedMu      sync.Mutex
	sharedReady   = sync.NewCond(&sharedMu)
	sharedDB      *sql.DB
	sharedOpening bool
)

// PoolFor sizes a pool for a process that analyses up to workers documents
// at once. Every in-flight document writes its outcome on its own connection.
func PoolFor(workers int) Pool {
	if workers <= 0 {
		workers = 1
	}
	open := workers + runOverhead
	return Pool{
		MaxOpenConns:    open,
		MaxIdleConns:    max(open/2, 1),
		ConnMaxIdleTime: 2 * time.Minute,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// MigratePool is the single connection goose needs.
func MigratePool() Pool {
	return Pool{
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		PingTimeout:     5 * time.Second,
	}
}

// PoolFromConfig returns the DB_* overrides from cfg.
func PoolFromConfig(cfg config.Config) Pool {
	return Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		PingTimeout:     cfg.DBPingTimeout,
	}
}

// Override returns p with every non-zero field of o applied.
func (p Pool) Override(o Pool) Pool {
	if o.MaxOpenConns > 0 {
		p.MaxOpenConns = o.MaxOpenConns
	}
	if o.MaxIdleConns > 0 {
		p.MaxIdleConns = o.MaxIdleConns
	}
	if o.ConnMaxLifetime > 0 {
		p.ConnMaxLifetime = o.ConnMaxLifetime
	}
	if o.ConnMaxIdleTime > 0 {
		p.ConnMaxIdleTime = o.ConnMaxIdleTime
	}
	if o.PingTimeout > 0 {
		p.PingTimeout = o.PingTimeout
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	return p
}

// Open connects with a pool sized for cfg.WorkerConcurrency. Lambda
// invocations in one execution environment share a pool with short idle
// times.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	pool := PoolFor(cfg.WorkerConcurrency)
	if IsLambdaRuntime() {
		pool.ConnMaxIdleTime = 30 * time.Second
		pool.ConnMaxLifetime = 15 * time.Minute
		pool.PingTimeout = 3 * time.Second
		return Shared(ctx, cfg.DatabaseURL, pool.Override(PoolFromConfig(cfg)))
	}
	return Connect(ctx, cfg.DatabaseURL, pool.Override(PoolFromConfig(cfg)))
}

// IsLambdaRuntime reports whether the current process is running in AWS Lambda.
func IsLambdaRuntime() bool {
	return strings.TrimSpace(os.Getenv("AWS_LAMBDA_FUNCTION_NAME")) != ""
}

// Connect opens a pool on databaseURL and pings it.
func Connect(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := openDB("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.apply(db)

	pingTimeout := pool.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	stats := db.Stats()
	telemetry.Info("db.connected", map[string]any{
		"max_open": stats.MaxOpenConnections,
		"max_idle": pool.MaxIdleConns,
		"open":     stats.OpenConnections,
	})
	return db, nil
}

// Shared returns the process-wide pool, connecting on first use. A failed
// connect is retried by the next caller; concurrent callers wait for the
// one in progress.
func Shared(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	sharedMu.Lock()
	for sharedOpening && sharedDB == nil {
		sharedReady.Wait()
	}
	if sharedDB != nil {
		sharedMu.Unlock()
		return sharedDB, nil
	}
	sharedOpening = true
	sharedMu.Unlock()

	db, err := Connect(ctx, databaseURL, pool)

	sharedMu.Lock()
	if err == nil {
		sharedDB = db
	}
	sharedOpening = false
	sharedReady.Broadcast()
	sharedMu.Unlock()
	return db, err
}

func (p Pool) apply(db *sql.DB) {
	open := p.MaxOpenConns
	if open <= 0 {
		open = PoolFor(0).MaxOpenConns
	}
	idle := p.MaxIdleConns
	if idle <= 0 || idle > open {
		idle = max(open/2, 1)
	}
	lifetime := p.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	db.SetMaxOpenConns(open)
	db.SetMaxIdleConns(idle)
	db.SetConnMaxLifetime(lifetime)
	if p.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(p.ConnMaxIdleTime)
	}
}
