package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Options{APIKey: "test-key", BaseURL: server.URL + "/v1", MaxChars: 50, KnownTypes: []string{"moisture_readings"}})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func writeCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func TestExtractSendsJSONModeAndParses(t *testing.T) {
	var (
		mu      sync.Mutex
		payload map[string]any
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeCompletion(w, "```json\n"+`{"fields":{"claimNumber":" CLM-9 ","dateOfLoss":"2024-01-02"},"reportType":"mould","gapCandidates":[{"elementType":"mould_containment","severity":"CRITICAL"}],"confidence":0.8}`+"\n```")
	})

	ext, err := client.Extract(context.Background(), llm.ExtractInput{Text: strings.Repeat("mould everywhere ", 20), ReportTypeHint: claims.ReportMould})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ext.Fields.ClaimNumber != "CLM-9" || ext.Fields.DateOfLoss != "2024-01-02" {
		t.Fatalf("unexpected fields %+v", ext.Fields)
	}
	if ext.ReportType != claims.ReportMould || ext.Confidence != 0.8 || len(ext.GapCandidates) != 1 {
		t.Fatalf("unexpected extraction %+v", ext)
	}

	mu.Lock()
	defer mu.Unlock()
	format, _ := payload["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected json_object response format, got %v", payload["response_format"])
	}
	if payload["model"] != "gpt-4o-mini" {
		t.Fatalf("expected default model, got %v", payload["model"])
	}
	messages, _ := payload["messages"].([]any)
	last, _ := messages[len(messages)-1].(map[string]any)
	content, _ := last["content"].(string)
	if !strings.Contains(content, "[Text truncated for analysis...]") || !strings.Contains(content, "IICRC S520") {
		t.Fatalf("user message should carry the hint and truncated text: %q", content)
	}
}

func TestExtractUnparseableOutput(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(w, "not json at all")
	})
	_, err := client.Extract(context.Background(), llm.ExtractInput{Text: "report"})
	if !errors.Is(err, llm.ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestExtractServerErrorStaysRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	})
	_, err := client.Extract(context.Background(), llm.ExtractInput{Text: "report"})
	if err == nil || errors.Is(err, llm.ErrUnparseable) {
		t.Fatalf("expected a retryable error, got %v", err)
	}
}

func TestExtractBadRequestIsTerminal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"context length exceeded","type":"invalid_request_error"}}`))
	})
	_, err := client.Extract(context.Background(), llm.ExtractInput{Text: "report"})
	if !errors.Is(err, llm.ErrUnparseable) {
		t.Fatalf("expected ErrUnparseable, got %v", err)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
