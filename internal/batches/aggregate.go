package batches

import (
	"math"
	"time"

	"claims-backend/internal/claims"
)

// Aggregate computes the terminal summary of a settled batch from its
// counters and the analyses it counts. Averages cover COMPLETED analyses
// only and are 0 when there are none.
func Aggregate(batch claims.Batch, analyses []claims.Analysis, now time.Time) claims.BatchSummary {
	summary := claims.BatchSummary{
		Status:      terminalStatus(batch),
		CompletedAt: now,
	}

	var completeness, compliance float64
	completed := 0
	for _, a := range analyses {
		if a.Status != claims.AnalysisCompleted {
			continue
		}
		completed++
		completeness += a.Scores.Completeness
		compliance += a.Scores.Compliance
		summary.TotalMissingElements += a.TotalMissing
		summary.EstimatedRevenueRecoveryCents += a.EstimatedMissingRevenueCents
	}
	if completed > 0 {
		summary.AverageCompletenessScore = round2(completeness / float64(completed))
		summary.AverageComplianceScore = round2(compliance / float64(completed))
	}
	return summary
}

func terminalStatus(batch claims.Batch) claims.BatchStatus {
	switch {
	case batch.FailedFiles == 0:
		return claims.BatchCompleted
	case batch.ProcessedFiles == 0:
		return claims.BatchFailed
	default:
		return claims.BatchPartial
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
