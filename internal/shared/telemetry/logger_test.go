package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestWriteIncludesFieldsAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := SetOutput(&buf)
	defer SetOutput(prev)

	ctx := WithRequestID(context.Background(), "req-1")
	Warn("batch.retry", Fields(ctx, map[string]any{"batch_id": "b1", "err": errors.New("boom"), "msg": "ignored"}))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if entry["level"] != "warn" || entry["msg"] != "batch.retry" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["request_id"] != "req-1" || entry["batch_id"] != "b1" || entry["err"] != "boom" {
		t.Fatalf("missing fields in %v", entry)
	}
}

func TestRequestIDWithoutValue(t *testing.T) {
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
	if _, ok := Fields(context.Background(), nil)["request_id"]; ok {
		t.Fatalf("request_id should be omitted")
	}
}
