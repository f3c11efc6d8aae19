package batches

import (
	"testing"
	"time"

	"claims-backend/internal/claims"
)

func TestAggregateExcludesFailedAnalyses(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	batch := claims.Batch{TotalFiles: 3, ProcessedFiles: 2, FailedFiles: 1}
	list := []claims.Analysis{
		{Status: claims.AnalysisCompleted, Scores: claims.SubScores{Completeness: 70, Compliance: 50}, TotalMissing: 2, EstimatedMissingRevenueCents: 12000},
		{Status: claims.AnalysisCompleted, Scores: claims.SubScores{Completeness: 90, Compliance: 75.56}, TotalMissing: 1, EstimatedMissingRevenueCents: 9500},
		{Status: claims.AnalysisFailed, TotalMissing: 40, EstimatedMissingRevenueCents: 1_000_000},
	}

	got := Aggregate(batch, list, now)
	if got.Status != claims.BatchPartial {
		t.Fatalf("expected PARTIAL, got %s", got.Status)
	}
	if got.AverageCompletenessScore != 80 || got.AverageComplianceScore != 62.78 {
		t.Fatalf("unexpected averages %+v", got)
	}
	if got.TotalMissingElements != 3 || got.EstimatedRevenueRecoveryCents != 21500 {
		t.Fatalf("unexpected totals %+v", got)
	}
	if !got.CompletedAt.Equal(now) {
		t.Fatalf("unexpected completedAt %v", got.CompletedAt)
	}
}

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		processed, failed int
		want              claims.BatchStatus
	}{
		{0, 0, claims.BatchCompleted},
		{4, 0, claims.BatchCompleted},
		{3, 2, claims.BatchPartial},
		{0, 2, claims.BatchFailed},
	}
	for _, tt := range tests {
		b := claims.Batch{TotalFiles: tt.processed + tt.failed, ProcessedFiles: tt.processed, FailedFiles: tt.failed}
		if got := terminalStatus(b); got != tt.want {
			t.Fatalf("terminalStatus(%d,%d) = %s, want %s", tt.processed, tt.failed, got, tt.want)
		}
	}
}
