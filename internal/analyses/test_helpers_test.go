package analyses

import (
	"context"
	"testing"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
	"claims-backend/internal/source"
	"claims-backend/internal/source/sourcetest"
)

var fixedNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func completeFields() claims.Fields {
	return claims.Fields{
		ClaimNumber:     "CLM-1",
		PropertyAddress: "1 Test St",
		TechnicianName:  "Sam Lee",
		DateOfLoss:      "2024-03-01",
		InspectionDate:  "2024-03-02",
		InsurerName:     "Harbour Mutual",
	}
}

func staticExtractor(ext llm.Extraction, calls *int) llm.Extractor {
	return llm.ExtractorFunc(func(ctx context.Context, input llm.ExtractInput) (llm.Extraction, error) {
		if calls != nil {
			*calls++
		}
		return ext, nil
	})
}

func recordingPolicy(sleeps *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return p
}

func newTestWorker(repo claims.AnalysisRepo, src source.Source, ext llm.Extractor, sleeps *[]time.Duration) *Worker {
	return &Worker{
		Repo:      repo,
		Source:    src,
		Extractor: ext,
		Policy:    recordingPolicy(sleeps),
		Now:       func() time.Time { return fixedNow },
	}
}

func reserve(t *testing.T, repo claims.AnalysisRepo, batchID string, ref source.FileRef) claims.Analysis {
	t.Helper()
	a, _, err := repo.ReserveAnalysis(context.Background(), claims.Analysis{
		ID:           "an-" + ref.ID,
		BatchID:      batchID,
		OwnerID:      "owner-1",
		SourceFileID: ref.ID,
		FileName:     ref.Name,
		Status:       claims.AnalysisPending,
		CreatedAt:    fixedNow,
		UpdatedAt:    fixedNow,
	})
	if err != nil {
		t.Fatalf("reserve %s: %v", ref.ID, err)
	}
	return a
}

func newFolder() *sourcetest.Fake {
	return sourcetest.New()
}
