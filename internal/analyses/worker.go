package analyses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
	"claims-backend/internal/scoring"
	"claims-backend/internal/shared/metrics"
	"claims-backend/internal/shared/telemetry"
	"claims-backend/internal/source"
)

// DefaultMinConfidence is the extraction confidence below which a document fails.
const DefaultMinConfidence = 0.5

// Worker fetches, extracts, scores and persists one document at a time.
// A Worker is stateless between documents and safe for concurrent use.
type Worker struct {
	Repo          claims.AnalysisRepo
	Source        source.Source
	Extractor     llm.Extractor
	Engine        *scoring.Engine
	Policy        RetryPolicy
	MinConfidence float64
	Now           func() time.Time
}

// ProcessDocument drives a reserved analysis to COMPLETED or FAILED.
//
// A nil error means the analysis completed. A *Failure of any kind other than
// KindPersistenceFailure means the analysis was recorded as FAILED. A
// persistence failure means the store rejected a write and the analysis may be
// left in PROCESSING.
func (w *Worker) ProcessDocument(ctx context.Context, analysis claims.Analysis, ref source.FileRef) (claims.Analysis, error) {
	started := time.Now()
	metrics.IncDocumentStarted()
	defer func() {
		metrics.ObserveDocumentDurationMs(float64(time.Since(started).Milliseconds()))
	}()

	logFields := telemetry.Fields(ctx, map[string]any{
		"batch_id":    analysis.BatchID,
		"analysis_id": analysis.ID,
		"file_id":     ref.ID,
		"file_name":   ref.Name,
	})

	if err := w.Repo.MarkAnalysisProcessing(ctx, analysis.ID, w.now()); err != nil {
		telemetry.Error("analysis.mark_processing_failed", telemetry.With(logFields, "err", err))
		metrics.IncDocumentFailed()
		return analysis, newFailure(KindPersistenceFailure, err)
	}
	analysis.Status = claims.AnalysisProcessing
	telemetry.Info("analysis.started", logFields)

	policy := w.policy()
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.IncDocumentRetry()
		telemetry.Warn("analysis.retry", telemetry.With(logFields, "attempt", attempt, "delay_ms", delay.Milliseconds(), "err", err))
	}

	var (
		ext      llm.Extraction
		detected claims.ReportType
	)
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		content, err := w.Source.Fetch(ctx, ref)
		if err != nil {
			return classify(err, stageFetch)
		}
		detected = detectReportType(ref.Name, content.Text)
		out, err := w.Extractor.Extract(ctx, llm.ExtractInput{
			Text:           content.Text,
			FileName:       ref.Name,
			ReportTypeHint: detected,
		})
		if err != nil {
			return classify(err, stageExtract)
		}
		if err := llm.CheckConfidence(out, w.minConfidence()); err != nil {
			return classify(err, stageExtract)
		}
		ext = out
		return nil
	})
	analysis.Attempts = attempts
	if err != nil {
		return w.fail(ctx, analysis, classify(err, stageExtract), logFields)
	}

	if err := validateFields(ext.Fields); err != nil {
		return w.fail(ctx, analysis, newFailure(KindValidationFailure, err), logFields)
	}

	rt := ext.ReportType
	if rt == "" || rt == claims.ReportGeneral {
		rt = detected
	}
	rt = claims.ParseReportType(string(rt))

	result := w.engine().Score(ext.Fields, ext.GapCandidates, rt)
	now := w.now()
	analysis.ReportType = rt
	analysis.Fields = ext.Fields
	analysis.Scores = result.Scores
	analysis.MissingCounts = result.MissingCounts
	analysis.TotalMissing = len(result.Elements)
	analysis.EstimatedMissingRevenueCents = result.RevenueCents
	analysis.EstimatedTimeSavingsHours = result.Hours
	analysis.ErrorCode = ""
	analysis.ErrorMessage = nil
	analysis.ProcessedAt = &now
	analysis.UpdatedAt = now

	if err := w.Repo.CompleteAnalysis(ctx, analysis, result.Elements); err != nil {
		telemetry.Error("analysis.persist_failed", telemetry.With(logFields, "err", err))
		// Release the slot so a later batch can reattach the file.
		failure := claims.AnalysisFailure{Code: string(KindPersistenceFailure), Message: sanitizeError(err), Attempts: attempts}
		if ferr := w.Repo.FailAnalysis(ctx, analysis.ID, failure, now); ferr != nil {
			telemetry.Error("analysis.release_failed", telemetry.With(logFields, "err", ferr))
		}
		metrics.IncDocumentFailed()
		return analysis, newFailure(KindPersistenceFailure, err)
	}
	analysis.Status = claims.AnalysisCompleted

	metrics.IncDocumentCompleted()
	telemetry.Info("analysis.completed", telemetry.With(logFields,
		"report_type", string(rt),
		"missing", analysis.TotalMissing,
		"attempts", attempts))
	return analysis, nil
}

func (w *Worker) fail(ctx context.Context, analysis claims.Analysis, f *Failure, logFields map[string]any) (claims.Analysis, error) {
	now := w.now()
	msg := f.Message()
	failure := claims.AnalysisFailure{Code: string(f.Kind), Message: msg, Attempts: analysis.Attempts}
	if err := w.Repo.FailAnalysis(ctx, analysis.ID, failure, now); err != nil {
		telemetry.Error("analysis.persist_failed", telemetry.With(logFields, "err", err))
		metrics.IncDocumentFailed()
		return analysis, newFailure(KindPersistenceFailure, err)
	}
	analysis.Status = claims.AnalysisFailed
	analysis.ErrorCode = failure.Code
	analysis.ErrorMessage = &msg
	analysis.ProcessedAt = &now
	analysis.UpdatedAt = now

	metrics.IncDocumentFailed()
	telemetry.Warn("analysis.failed", telemetry.With(logFields,
		"code", failure.Code,
		"attempts", failure.Attempts,
		"err", msg))
	return analysis, f
}

func (w *Worker) policy() RetryPolicy {
	if w.Policy.MaxAttempts == 0 {
		return DefaultRetryPolicy()
	}
	return w.Policy
}

func (w *Worker) minConfidence() float64 {
	if w.MinConfidence <= 0 {
		return DefaultMinConfidence
	}
	return w.MinConfidence
}

func (w *Worker) engine() *scoring.Engine {
	if w.Engine == nil {
		return scoring.NewEngine(nil)
	}
	return w.Engine
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return time.Now().UTC()
}

// detectReportType prefers the file name and falls back to the text.
func detectReportType(name, text string) claims.ReportType {
	if rt := scoring.DetectReportType(name); rt != claims.ReportGeneral {
		return rt
	}
	return scoring.DetectReportType(text)
}

var errDateOrder = errors.New("inspection date precedes date of loss")

// validateFields rejects extracted metadata that cannot be trusted.
func validateFields(f claims.Fields) error {
	loss, err := parseDate("dateOfLoss", f.DateOfLoss)
	if err != nil {
		return err
	}
	inspection, err := parseDate("inspectionDate", f.InspectionDate)
	if err != nil {
		return err
	}
	if !loss.IsZero() && !inspection.IsZero() && inspection.Before(loss) {
		return fmt.Errorf("%w: %s < %s", errDateOrder, f.InspectionDate, f.DateOfLoss)
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(claims.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q is not a %s date", field, value, claims.DateLayout)
	}
	return t, nil
}
