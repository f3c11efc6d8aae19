package analyses

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
	"claims-backend/internal/source"
)

func TestProcessDocumentCompletes(t *testing.T) {
	repo := claims.NewMemoryRepo()
	src := newFolder()
	ref := src.Add("folder-1", "f1", "water-job.txt", "report text")
	analysis := reserve(t, repo, "batch-1", ref)

	var sleeps []time.Duration
	ext := staticExtractor(llm.Extraction{
		Fields: completeFields(),
		GapCandidates: []claims.GapCandidate{
			{ElementType: "photo_evidence"},
			{ElementType: "Equipment Log"},
		},
		Confidence: 0.9,
	}, nil)
	w := newTestWorker(repo, src, ext, &sleeps)

	got, err := w.ProcessDocument(context.Background(), analysis, ref)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if got.Status != claims.AnalysisCompleted || got.Attempts != 1 {
		t.Fatalf("unexpected analysis %+v", got)
	}
	if got.ReportType != claims.ReportWaterDamage {
		t.Fatalf("report type should be detected from the file name, got %s", got.ReportType)
	}
	if got.Scores.Completeness != 100 || got.TotalMissing != 2 || got.EstimatedMissingRevenueCents != 33500 {
		t.Fatalf("unexpected scores %+v missing=%d revenue=%d", got.Scores, got.TotalMissing, got.EstimatedMissingRevenueCents)
	}

	stored, err := repo.GetAnalysis(context.Background(), analysis.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if stored.Status != claims.AnalysisCompleted || stored.ProcessedAt == nil {
		t.Fatalf("stored analysis not completed: %+v", stored)
	}
	elements, err := repo.ListMissingElements(context.Background(), []string{analysis.ID})
	if err != nil {
		t.Fatalf("ListMissingElements: %v", err)
	}
	if len(elements[analysis.ID]) != 2 {
		t.Fatalf("expected 2 stored elements, got %+v", elements)
	}
	if len(sleeps) != 0 {
		t.Fatalf("no retries expected, slept %v", sleeps)
	}
}

func TestProcessDocumentRetriesTransientFetch(t *testing.T) {
	repo := claims.NewMemoryRepo()
	src := newFolder()
	ref := src.Add("folder-1", "f1", "job.txt", "text")
	src.FailFetch("f1", source.ErrUnavailable)
	analysis := reserve(t, repo, "batch-1", ref)

	var sleeps []time.Duration
	w := newTestWorker(repo, src, staticExtractor(llm.Extraction{Fields: completeFields(), Confidence: 0.9}, nil), &sleeps)

	got, err := w.ProcessDocument(context.Background(), analysis, ref)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if got.Attempts != 2 || src.Fetches("f1") != 2 {
		t.Fatalf("expected 2 attempts, got %d (fetches %d)", got.Attempts, src.Fetches("f1"))
	}
	if !reflect.DeepEqual(sleeps, []time.Duration{time.Second}) {
		t.Fatalf("unexpected backoff %v", sleeps)
	}
}

func TestProcessDocumentExhaustsRetries(t *testing.T) {
	repo := claims.NewMemoryRepo()
	src := newFolder()
	ref := src.Add("folder-1", "f1", "job.txt", "text")
	src.FailFetch("f1", source.ErrUnavailable, source.ErrUnavailable, source.ErrUnavailable)
	analysis := reserve(t, repo, "batch-1", ref)

	var sleeps []time.Duration
	calls := 0
	w := newTestWorker(repo, src, staticExtractor(llm.Extraction{Fields: completeFields(), Confidence: 0.9}, &calls), &sleeps)

	got, err := w.ProcessDocument(context.Background(), analysis, ref)
	f, ok := AsFailure(err)
	if !ok || f.Kind != KindSourceUnavailable {
		t.Fatalf("expected source unavailable failure, got %v", err)
	}
	if got.Status != claims.AnalysisFailed || got.Attempts != 3 || got.ErrorCode != string(KindSourceUnavailable) {
		t.Fatalf("unexpected analysis %+v", got)
	}
	if !reflect.DeepEqual(sleeps, []time.Duration{time.Second, 2 * time.Second}) {
		t.Fatalf("unexpected backoff %v", sleeps)
	}
	if calls != 0 {
		t.Fatalf("extractor should not run without content, got %d calls", calls)
	}

	stored, _ := repo.GetAnalysis(context.Background(), analysis.ID)
	if stored.Status != claims.AnalysisFailed || stored.Attempts != 3 || stored.ErrorMessage == nil {
		t.Fatalf("stored analysis not failed: %+v", stored)
	}
}

func TestProcessDocumentTerminalErrorsDoNotRetry(t *testing.T) {
	tests := []struct {
		name     string
		fetchErr error
		extract  llm.Extraction
		extErr   error
		want     Kind
	}{
		{name: "permission", fetchErr: source.ErrPermissionDenied, want: KindDocumentUnusable},
		{name: "missing", fetchErr: source.ErrNotFound, want: KindDocumentUnusable},
		{name: "unusable", fetchErr: source.ErrUnusable, want: KindDocumentUnusable},
		{name: "unparseable", extErr: llm.ErrUnparseable, want: KindDocumentUnusable},
		{name: "low confidence", extract: llm.Extraction{Fields: completeFields(), Confidence: 0.2}, want: KindExtractionLowConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := claims.NewMemoryRepo()
			src := newFolder()
			ref := src.Add("folder-1", "f1", "job.txt", "text")
			if tt.fetchErr != nil {
				src.FailFetch("f1", tt.fetchErr)
			}
			analysis := reserve(t, repo, "batch-1", ref)

			calls := 0
			ext := llm.ExtractorFunc(func(ctx context.Context, input llm.ExtractInput) (llm.Extraction, error) {
				calls++
				return tt.extract, tt.extErr
			})
			var sleeps []time.Duration
			w := newTestWorker(repo, src, ext, &sleeps)

			got, err := w.ProcessDocument(context.Background(), analysis, ref)
			f, ok := AsFailure(err)
			if !ok || f.Kind != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
			if got.Attempts != 1 || len(sleeps) != 0 {
				t.Fatalf("terminal failure should not retry: attempts=%d sleeps=%v", got.Attempts, sleeps)
			}
			if calls > 1 {
				t.Fatalf("extractor called %d times", calls)
			}
		})
	}
}

func TestProcessDocumentRetriesExtractorErrors(t *testing.T) {
	repo := claims.NewMemoryRepo()
	src := newFolder()
	ref := src.Add("folder-1", "f1", "job.txt", "text")
	analysis := reserve(t, repo, "batch-1", ref)

	calls := 0
	ext := llm.ExtractorFunc(func(ctx context.Context, input llm.ExtractInput) (llm.Extraction, error) {
		calls++
		if calls == 1 {
			return llm.Extraction{}, errors.New("status code: 503")
		}
		return llm.Extraction{Fields: completeFields(), Confidence: 0.9}, nil
	})
	var sleeps []time.Duration
	w := newTestWorker(repo, src, ext, &sleeps)

	got, err := w.ProcessDocument(context.Background(), analysis, ref)
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if got.Attempts != 2 || calls != 2 {
		t.Fatalf("expected a retried extraction, attempts=%d calls=%d", got.Attempts, calls)
	}
}

func TestProcessDocumentValidation(t *testing.T) {
	tests := map[string]claims.Fields{
		"date order": {DateOfLoss: "2024-03-05", InspectionDate: "2024-03-01"},
		"bad date":   {DateOfLoss: "5th March"},
	}
	for name, fields := range tests {
		t.Run(name, func(t *testing.T) {
			repo := claims.NewMemoryRepo()
			src := newFolder()
			ref := src.Add("folder-1", "f1", "job.txt", "text")
			analysis := reserve(t, repo, "batch-1", ref)

			var sleeps []time.Duration
			w := newTestWorker(repo, src, staticExtractor(llm.Extraction{Fields: fields, Confidence: 0.9}, nil), &sleeps)
			got, err := w.ProcessDocument(context.Background(), analysis, ref)
			f, ok := AsFailure(err)
			if !ok || f.Kind != KindValidationFailure {
				t.Fatalf("expected validation failure, got %v", err)
			}
			if got.Status != claims.AnalysisFailed || got.ErrorCode != string(KindValidationFailure) {
				t.Fatalf("unexpected analysis %+v", got)
			}
		})
	}
}

type failingCompleteRepo struct {
	*claims.MemoryRepo
}

func (r failingCompleteRepo) CompleteAnalysis(ctx context.Context, analysis claims.Analysis, elements []claims.MissingElement) error {
	return errors.New("connection refused")
}

func TestProcessDocumentPersistenceFailure(t *testing.T) {
	mem := claims.NewMemoryRepo()
	repo := failingCompleteRepo{mem}
	src := newFolder()
	ref := src.Add("folder-1", "f1", "job.txt", "text")
	analysis := reserve(t, mem, "batch-1", ref)

	var sleeps []time.Duration
	w := newTestWorker(repo, src, staticExtractor(llm.Extraction{Fields: completeFields(), Confidence: 0.9}, nil), &sleeps)

	_, err := w.ProcessDocument(context.Background(), analysis, ref)
	if !IsPersistence(err) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
	stored, _ := mem.GetAnalysis(context.Background(), analysis.ID)
	if stored.Status != claims.AnalysisFailed || stored.ErrorCode != string(KindPersistenceFailure) {
		t.Fatalf("analysis should be released as failed, got %+v", stored)
	}
	if !strings.Contains(*stored.ErrorMessage, "connection refused") {
		t.Fatalf("unexpected message %q", *stored.ErrorMessage)
	}
}

func TestDetectReportTypePrefersFileName(t *testing.T) {
	if got := detectReportType("mould-inspection.pdf", "water everywhere"); got != claims.ReportMould {
		t.Fatalf("got %s", got)
	}
	if got := detectReportType("report.pdf", "smoke damage in lounge"); got != claims.ReportFireSmoke {
		t.Fatalf("got %s", got)
	}
}
