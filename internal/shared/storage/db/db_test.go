package db

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/telemetry"
)

type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (nopConn) Close() error                        { return nil }
func (nopConn) Begin() (driver.Tx, error)           { return nil, driver.ErrSkip }
func (nopConn) Ping(context.Context) error          { return nil }

var registerOnce sync.Once

func useNopDriver(t *testing.T) {
	t.Helper()
	registerOnce.Do(func() { sql.Register("dbtest", nopDriver{}) })
	prev := openDB
	openDB = func(_, dsn string) (*sql.DB, error) { return sql.Open("dbtest", dsn) }
	t.Cleanup(func() { openDB = prev })
}

func resetShared(t *testing.T) {
	t.Helper()
	sharedMu.Lock()
	sharedDB = nil
	sharedOpening = false
	sharedMu.Unlock()
}

func TestPoolForLeavesHeadroomAboveWorkers(t *testing.T) {
	cases := []struct {
		workers, open, idle int
	}{
		{workers: 5, open: 7, idle: 3},
		{workers: 20, open: 22, idle: 11},
		{workers: 0, open: 3, idle: 1},
	}
	for _, tc := range cases {
		p := PoolFor(tc.workers)
		if p.MaxOpenConns != tc.open || p.MaxIdleConns != tc.idle {
			t.Fatalf("PoolFor(%d) = %d/%d, want %d/%d", tc.workers, p.MaxOpenConns, p.MaxIdleConns, tc.open, tc.idle)
		}
	}
}

func TestPoolOverrideKeepsIdleWithinOpen(t *testing.T) {
	p := PoolFor(10).Override(Pool{MaxOpenConns: 4, PingTimeout: time.Second})
	if p.MaxOpenConns != 4 || p.MaxIdleConns != 4 || p.PingTimeout != time.Second {
		t.Fatalf("unexpected pool %+v", p)
	}
	if p.ConnMaxLifetime != time.Hour {
		t.Fatalf("zero override should keep lifetime, got %s", p.ConnMaxLifetime)
	}
}

func TestOpenSizesPoolFromWorkerConcurrency(t *testing.T) {
	useNopDriver(t)
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")

	var buf bytes.Buffer
	prev := telemetry.SetOutput(&buf)
	defer telemetry.SetOutput(prev)

	db, err := Open(context.Background(), config.Config{DatabaseURL: "ignored", WorkerConcurrency: 8})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if got := db.Stats().MaxOpenConnections; got != 10 {
		t.Fatalf("expected 8 workers + 2, got %d", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"max_open":10`)) {
		t.Fatalf("expected pool size in log, got %q", buf.String())
	}
}

func TestOpenAppliesConfiguredPoolOverride(t *testing.T) {
	useNopDriver(t)
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "")

	db, err := Open(context.Background(), config.Config{DatabaseURL: "ignored", WorkerConcurrency: 8, DBMaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if got := db.Stats().MaxOpenConnections; got != 4 {
		t.Fatalf("expected DB_MAX_OPEN_CONNS to win, got %d", got)
	}
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	if _, err := Connect(context.Background(), "  ", MigratePool()); err == nil {
		t.Fatalf("expected error for empty DATABASE_URL")
	}
}

func TestOpenSharesPoolInLambda(t *testing.T) {
	useNopDriver(t)
	resetShared(t)
	t.Cleanup(func() { resetShared(t) })
	t.Setenv("AWS_LAMBDA_FUNCTION_NAME", "claims-worker")

	cfg := config.Config{DatabaseURL: "ignored", WorkerConcurrency: 3}
	db1, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	db2, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if db1 != db2 {
		t.Fatalf("expected one pool per execution environment")
	}
	if got := db1.Stats().MaxOpenConnections; got != 5 {
		t.Fatalf("expected 3 workers + 2, got %d", got)
	}
}

func TestSharedRetriesAfterFailedConnect(t *testing.T) {
	useNopDriver(t)
	resetShared(t)
	t.Cleanup(func() { resetShared(t) })

	var calls atomic.Int32
	working := openDB
	openDB = func(name, dsn string) (*sql.DB, error) {
		if calls.Add(1) == 1 {
			return nil, driver.ErrBadConn
		}
		return working(name, dsn)
	}

	if _, err := Shared(context.Background(), "ignored", PoolFor(1)); err == nil {
		t.Fatalf("expected first connect to fail")
	}
	db, err := Shared(context.Background(), "ignored", PoolFor(1))
	if err != nil || db == nil {
		t.Fatalf("expected retry to connect: %v", err)
	}
}

func TestRunMigrationsWithoutDatabase(t *testing.T) {
	version, err := RunMigrations(context.Background(), nil)
	if err != nil || version != 0 {
		t.Fatalf("expected no-op, got %d %v", version, err)
	}
}

func TestEmbeddedMigrationsAreReversible(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for _, e := range entries {
		raw, err := fs.ReadFile(migrationFiles, migrationsDir+"/"+e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s needs Up and Down sections", e.Name())
		}
	}
	if last := entries[len(entries)-1].Name(); !strings.HasPrefix(last, "00004_") {
		t.Fatalf("expected batch item outcomes to be the latest migration, got %s", last)
	}
}
