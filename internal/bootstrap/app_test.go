package bootstrap

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/server/middleware"
)

const report = `Water damage restoration report
Claim No: CLM-2026-001
Property address: 12 Harbour St
Date of loss: 2026-01-05
Inspection date: 2026-01-07
Moisture readings taken in all affected rooms. Photos attached.
`

func devConfig(dir string) config.Config {
	return config.Config{
		Env:                      "dev",
		LocalStoreDir:            dir,
		ObjectStoreType:          "local",
		SourceProvider:           "object",
		ExtractorProvider:        "heuristic",
		MinConfidence:            0.5,
		WorkerConcurrency:        2,
		RetryMaxAttempts:         2,
		RetryBaseDelay:           time.Millisecond,
		AttemptTimeout:           5 * time.Second,
		SystemicFailureThreshold: 3,
	}
}

func TestBuildRunsBatchEndToEnd(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "march"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, "march", name), []byte(report), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	app, err := Build(devConfig(dir), Options{RunLocally: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()
	if app.DB != nil {
		t.Fatalf("expected in-memory repo in dev without DATABASE_URL")
	}

	body, _ := json.Marshal(map[string]string{"folderId": "march"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.OwnerHeader, "owner-1")
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		BatchID string `json:"batchId"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	app.Batches.Wait()

	batch, err := app.Batches.Get(req.Context(), "owner-1", created.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Status != claims.BatchCompleted || batch.ProcessedFiles != 2 || batch.FailedFiles != 0 {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if _, err := os.Stat(filepath.Join(dir, "march", "a.txt.extracted.txt")); err != nil {
		t.Fatalf("expected cached text beside the source: %v", err)
	}
}

func TestBuildRequiresDatabaseOutsideDev(t *testing.T) {
	cfg := devConfig(t.TempDir())
	cfg.Env = "production"
	cfg.JWTSecret = "secret"
	if _, err := Build(cfg, Options{}); err == nil {
		t.Fatalf("expected error without DATABASE_URL in production")
	}
}

func TestBuildRejectsDriveWithoutCredentials(t *testing.T) {
	cfg := devConfig(t.TempDir())
	cfg.SourceProvider = "drive"
	if _, err := Build(cfg, Options{}); err == nil {
		t.Fatalf("expected drive credentials error")
	}
}

func TestBuildSharesRetryPolicyWithBatchListing(t *testing.T) {
	app, err := Build(devConfig(t.TempDir()), Options{RunLocally: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	got := app.Batches.ListPolicy
	if got.MaxAttempts != 2 || got.BaseDelay != time.Millisecond || got.AttemptTimeout != 5*time.Second {
		t.Fatalf("folder listing should use the configured retry policy, got %+v", got)
	}
	if got.MaxAttempts != app.Worker.Policy.MaxAttempts || got.BaseDelay != app.Worker.Policy.BaseDelay {
		t.Fatalf("listing and document policies differ: %+v vs %+v", got, app.Worker.Policy)
	}
}
