package batches

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/auth"
	"claims-backend/internal/shared/server/middleware"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	signer, _ := auth.NewSigner("s", false)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.Auth(signer, true))
	NewHandler(svc).RegisterRoutes(api)
	return r
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.OwnerHeader, owner)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestHandlerCreateAndFetchBatch(t *testing.T) {
	f := newFixture(t)
	f.addFiles("folder", 3)
	r := newTestRouter(t, f.svc)

	resp := do(r, http.MethodPost, "/api/v1/batches", map[string]string{"folderId": "folder", "folderName": "March"})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		BatchID string `json:"batchId"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.BatchID == "" || created.Status != string(claims.BatchPending) {
		t.Fatalf("unexpected create response %+v", created)
	}
	f.svc.Wait()

	resp = do(r, http.MethodGet, "/api/v1/batches/"+created.BatchID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var batch claims.Batch
	if err := json.Unmarshal(resp.Body.Bytes(), &batch); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if batch.Status != claims.BatchCompleted || batch.TotalFiles != 3 || batch.FolderName != "March" {
		t.Fatalf("unexpected batch %+v", batch)
	}

	resp = do(r, http.MethodGet, "/api/v1/batches/"+created.BatchID+"/analyses", nil)
	var analyses struct {
		Items []struct {
			ID              string            `json:"id"`
			MissingElements []json.RawMessage `json:"missingElements"`
		} `json:"items"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &analyses); err != nil {
		t.Fatalf("decode analyses: %v", err)
	}
	if len(analyses.Items) != 3 || len(analyses.Items[0].MissingElements) != 1 {
		t.Fatalf("unexpected analyses %s", resp.Body.String())
	}

	resp = do(r, http.MethodGet, "/api/v1/batches?limit=10", nil)
	if resp.Code != http.StatusOK || !bytes.Contains(resp.Body.Bytes(), []byte(created.BatchID)) {
		t.Fatalf("list should include the batch: %d %s", resp.Code, resp.Body.String())
	}
}

func TestHandlerValidation(t *testing.T) {
	f := newFixture(t)
	r := newTestRouter(t, f.svc)

	tests := []struct {
		method, path string
		body         any
		want         int
	}{
		{http.MethodPost, "/api/v1/batches", map[string]string{}, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/batches?limit=0", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/batches/missing", nil, http.StatusNotFound},
		{http.MethodPost, "/api/v1/batches/missing/cancel", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		if resp := do(r, tt.method, tt.path, tt.body); resp.Code != tt.want {
			t.Fatalf("%s %s: expected %d, got %d", tt.method, tt.path, tt.want, resp.Code)
		}
	}
}
