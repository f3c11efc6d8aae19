package claims

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const batchColumns = `id, owner_id, folder_id, folder_name, status, total_files, processed_files, failed_files,
       average_completeness_score, average_compliance_score, total_missing_elements,
       estimated_revenue_recovery_cents, cancel_requested, error_message, started_at, completed_at,
       created_at, updated_at`

const analysisColumns = `id, batch_id, owner_id, source_file_id, file_name, report_type,
       claim_number, property_address, technician_name, date_of_loss, inspection_date, insurer_name,
       completeness_score, compliance_score, standardization_score, documentation_score, billing_accuracy_score,
       missing_counts, total_missing, estimated_missing_revenue_cents, estimated_time_savings_hours,
       attempts, status, error_code, error_message, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (Batch, error) {
	var b Batch
	var status string
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	err := row.Scan(
		&b.ID,
		&b.OwnerID,
		&b.FolderID,
		&b.FolderName,
		&status,
		&b.TotalFiles,
		&b.ProcessedFiles,
		&b.FailedFiles,
		&b.AverageCompletenessScore,
		&b.AverageComplianceScore,
		&b.TotalMissingElements,
		&b.EstimatedRevenueRecoveryCents,
		&b.CancelRequested,
		&errorMessage,
		&startedAt,
		&completedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return Batch{}, err
	}
	b.Status = BatchStatus(status)
	if errorMessage.Valid {
		b.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return b, nil
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	return scanAnalysisWith(row)
}

// scanAnalysisWith scans the analysis columns followed by extra destinations.
func scanAnalysisWith(row rowScanner, extra ...any) (Analysis, error) {
	var a Analysis
	var reportType, status string
	var missingCounts []byte
	var errorMessage sql.NullString
	var processedAt sql.NullTime
	dest := []any{
		&a.ID,
		&a.BatchID,
		&a.OwnerID,
		&a.SourceFileID,
		&a.FileName,
		&reportType,
		&a.Fields.ClaimNumber,
		&a.Fields.PropertyAddress,
		&a.Fields.TechnicianName,
		&a.Fields.DateOfLoss,
		&a.Fields.InspectionDate,
		&a.Fields.InsurerName,
		&a.Scores.Completeness,
		&a.Scores.Compliance,
		&a.Scores.Standardization,
		&a.Scores.Documentation,
		&a.Scores.BillingAccuracy,
		&missingCounts,
		&a.TotalMissing,
		&a.EstimatedMissingRevenueCents,
		&a.EstimatedTimeSavingsHours,
		&a.Attempts,
		&status,
		&a.ErrorCode,
		&errorMessage,
		&processedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Analysis{}, err
	}
	a.ReportType = ReportType(reportType)
	a.Status = AnalysisStatus(status)
	if len(missingCounts) > 0 {
		if err := json.Unmarshal(missingCounts, &a.MissingCounts); err != nil {
			return Analysis{}, fmt.Errorf("decode missing_counts: %w", err)
		}
	}
	if errorMessage.Valid {
		a.ErrorMessage = &errorMessage.String
	}
	if processedAt.Valid {
		a.ProcessedAt = &processedAt.Time
	}
	return a, nil
}

// CreateBatch inserts a new batch.
func (r *PGRepo) CreateBatch(ctx context.Context, batch Batch) error {
	const query = `
INSERT INTO claim_analysis_batches (id, owner_id, folder_id, folder_name, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.DB.ExecContext(ctx, query,
		batch.ID,
		batch.OwnerID,
		batch.FolderID,
		batch.FolderName,
		string(batch.Status),
		batch.CreatedAt,
		batch.UpdatedAt,
	)
	return err
}

// GetBatch returns a batch by ID.
func (r *PGRepo) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM claim_analysis_batches WHERE id = $1`
	b, err := scanBatch(r.DB.QueryRowContext(ctx, query, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, ErrNotFound
	}
	return b, err
}

// ListBatches returns an owner's batches newest-first.
func (r *PGRepo) ListBatches(ctx context.Context, ownerID string, limit, offset int) ([]Batch, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + batchColumns + `
FROM claim_analysis_batches
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// MarkBatchProcessing moves a PENDING batch to PROCESSING.
func (r *PGRepo) MarkBatchProcessing(ctx context.Context, batchID string, totalFiles int, startedAt time.Time) error {
	const query = `
UPDATE claim_analysis_batches
SET status = $2, total_files = $3, started_at = $4, updated_at = $4
WHERE id = $1 AND status = $5`
	res, err := r.DB.ExecContext(ctx, query, batchID, string(BatchProcessing), totalFiles, startedAt, string(BatchPending))
	if err != nil {
		return err
	}
	return r.checkBatchTransition(ctx, res, batchID, BatchProcessing)
}

// IncrementBatchCounters atomically adds to the counters; the WHERE clause
// keeps processed+failed within total.
func (r *PGRepo) IncrementBatchCounters(ctx context.Context, batchID string, processed, failed int) (Batch, error) {
	query := `
UPDATE claim_analysis_batches
SET processed_files = processed_files + $2,
    failed_files = failed_files + $3,
    updated_at = $4
WHERE id = $1 AND processed_files + failed_files + $2 + $3 <= total_files
RETURNING ` + batchColumns
	b, err := scanBatch(r.DB.QueryRowContext(ctx, query, batchID, processed, failed, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetBatch(ctx, batchID); getErr != nil {
			return Batch{}, getErr
		}
		return Batch{}, ErrCounterOverflow
	}
	return b, err
}

// FinalizeBatch writes the summary once every file is accounted for.
func (r *PGRepo) FinalizeBatch(ctx context.Context, batchID string, summary BatchSummary) (Batch, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Batch{}, err
	}
	defer tx.Rollback()

	current, err := scanBatch(tx.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM claim_analysis_batches WHERE id = $1 FOR UPDATE`, batchID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Batch{}, ErrNotFound
		}
		return Batch{}, err
	}
	if !current.Settled() {
		return Batch{}, ErrNotSettled
	}
	if !current.Status.CanTransitionTo(summary.Status) {
		return Batch{}, fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(current.Status, summary.Status))
	}

	query := `
UPDATE claim_analysis_batches
SET status = $2,
    average_completeness_score = $3,
    average_compliance_score = $4,
    total_missing_elements = $5,
    estimated_revenue_recovery_cents = $6,
    completed_at = $7,
    updated_at = $7
WHERE id = $1
RETURNING ` + batchColumns
	updated, err := scanBatch(tx.QueryRowContext(ctx, query,
		batchID,
		string(summary.Status),
		summary.AverageCompletenessScore,
		summary.AverageComplianceScore,
		summary.TotalMissingElements,
		summary.EstimatedRevenueRecoveryCents,
		summary.CompletedAt,
	))
	if err != nil {
		return Batch{}, err
	}
	if err := tx.Commit(); err != nil {
		return Batch{}, err
	}
	return updated, nil
}

// FailBatch terminates a PENDING or PROCESSING batch.
func (r *PGRepo) FailBatch(ctx context.Context, batchID, message string, at time.Time) error {
	const query = `
UPDATE claim_analysis_batches
SET status = $2, error_message = $3, completed_at = $4, updated_at = $4
WHERE id = $1 AND status IN ($5, $6)`
	res, err := r.DB.ExecContext(ctx, query, batchID, string(BatchFailed), message, at, string(BatchPending), string(BatchProcessing))
	if err != nil {
		return err
	}
	return r.checkBatchTransition(ctx, res, batchID, BatchFailed)
}

// SetBatchError records a systemic error message.
func (r *PGRepo) SetBatchError(ctx context.Context, batchID, message string) error {
	const query = `UPDATE claim_analysis_batches SET error_message = $2, updated_at = $3 WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, batchID, message, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RequestCancel flags the batch for cancellation.
func (r *PGRepo) RequestCancel(ctx context.Context, batchID string) error {
	const query = `UPDATE claim_analysis_batches SET cancel_requested = TRUE, updated_at = $2 WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query, batchID, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *PGRepo) checkBatchTransition(ctx context.Context, res sql.Result, batchID string, next BatchStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	current, err := r.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(current.Status, next))
}

// ReserveAnalysis claims the (owner, source file) slot inside one transaction.
func (r *PGRepo) ReserveAnalysis(ctx context.Context, candidate Analysis) (Analysis, Reservation, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return Analysis{}, 0, err
	}
	defer tx.Rollback()

	existing, err := scanAnalysis(tx.QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM claim_analyses WHERE owner_id = $1 AND source_file_id = $2 FOR UPDATE`,
		candidate.OwnerID, candidate.SourceFileID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, 0, err
	}

	if errors.Is(err, sql.ErrNoRows) {
		if err := insertAnalysis(ctx, tx, candidate); err != nil {
			return Analysis{}, 0, err
		}
		if err := insertBatchItem(ctx, tx, BatchItem{BatchID: candidate.BatchID, AnalysisID: candidate.ID, SourceFileID: candidate.SourceFileID}); err != nil {
			return Analysis{}, 0, err
		}
		if err := tx.Commit(); err != nil {
			return Analysis{}, 0, err
		}
		return candidate, ReservationCreated, nil
	}

	switch existing.Status {
	case AnalysisCompleted:
		if err := insertBatchItem(ctx, tx, BatchItem{BatchID: candidate.BatchID, AnalysisID: existing.ID, SourceFileID: existing.SourceFileID, Reused: true}); err != nil {
			return Analysis{}, 0, err
		}
		if err := tx.Commit(); err != nil {
			return Analysis{}, 0, err
		}
		return existing, ReservationReused, nil
	case AnalysisFailed:
		const reset = `
UPDATE claim_analyses
SET batch_id = $2, file_name = $3, status = $4, error_code = '', error_message = NULL,
    attempts = 0, processed_at = NULL, updated_at = $5
WHERE id = $1`
		if _, err := tx.ExecContext(ctx, reset, existing.ID, candidate.BatchID, candidate.FileName, string(AnalysisPending), candidate.CreatedAt); err != nil {
			return Analysis{}, 0, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM missing_elements WHERE analysis_id = $1`, existing.ID); err != nil {
			return Analysis{}, 0, err
		}
		if err := insertBatchItem(ctx, tx, BatchItem{BatchID: candidate.BatchID, AnalysisID: existing.ID, SourceFileID: existing.SourceFileID}); err != nil {
			return Analysis{}, 0, err
		}
		if err := tx.Commit(); err != nil {
			return Analysis{}, 0, err
		}
		existing.BatchID = candidate.BatchID
		existing.FileName = candidate.FileName
		existing.Status = AnalysisPending
		existing.ErrorCode = ""
		existing.ErrorMessage = nil
		existing.Attempts = 0
		existing.ProcessedAt = nil
		existing.UpdatedAt = candidate.CreatedAt
		return existing, ReservationReattached, nil
	default:
		return existing, 0, fmt.Errorf("%w: batch %s", ErrAnalysisInFlight, existing.BatchID)
	}
}

func insertAnalysis(ctx context.Context, tx *sql.Tx, a Analysis) error {
	const query = `
INSERT INTO claim_analyses (id, batch_id, owner_id, source_file_id, file_name, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.ExecContext(ctx, query,
		a.ID,
		a.BatchID,
		a.OwnerID,
		a.SourceFileID,
		a.FileName,
		string(a.Status),
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

func insertBatchItem(ctx context.Context, tx *sql.Tx, item BatchItem) error {
	const query = `
INSERT INTO batch_items (batch_id, analysis_id, source_file_id, reused)
VALUES ($1, $2, $3, $4)
ON CONFLICT (batch_id, analysis_id) DO NOTHING`
	_, err := tx.ExecContext(ctx, query, item.BatchID, item.AnalysisID, item.SourceFileID, item.Reused)
	return err
}

// GetAnalysis returns an analysis by ID.
func (r *PGRepo) GetAnalysis(ctx context.Context, analysisID string) (Analysis, error) {
	a, err := scanAnalysis(r.DB.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM claim_analyses WHERE id = $1`, analysisID))
	if errors.Is(err, sql.ErrNoRows) {
		return Analysis{}, ErrNotFound
	}
	return a, err
}

// MarkAnalysisProcessing moves a PENDING analysis to PROCESSING.
func (r *PGRepo) MarkAnalysisProcessing(ctx context.Context, analysisID string, at time.Time) error {
	const query = `UPDATE claim_analyses SET status = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.DB.ExecContext(ctx, query, analysisID, string(AnalysisProcessing), at, string(AnalysisPending))
	if err != nil {
		return err
	}
	return r.checkAnalysisTransition(ctx, res, analysisID, AnalysisProcessing)
}

// CompleteAnalysis writes scores, elements and the COMPLETED status in one transaction.
func (r *PGRepo) CompleteAnalysis(ctx context.Context, analysis Analysis, elements []MissingElement) error {
	counts, err := json.Marshal(analysis.MissingCounts)
	if err != nil {
		return fmt.Errorf("encode missing_counts: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const update = `
UPDATE claim_analyses
SET report_type = $2, claim_number = $3, property_address = $4, technician_name = $5,
    date_of_loss = $6, inspection_date = $7, insurer_name = $8,
    completeness_score = $9, compliance_score = $10, standardization_score = $11,
    documentation_score = $12, billing_accuracy_score = $13,
    missing_counts = $14, total_missing = $15, estimated_missing_revenue_cents = $16,
    estimated_time_savings_hours = $17, attempts = $18, status = $19,
    error_code = '', error_message = NULL, processed_at = $20, updated_at = $20
WHERE id = $1 AND status = $21`
	processedAt := time.Now().UTC()
	if analysis.ProcessedAt != nil {
		processedAt = *analysis.ProcessedAt
	}
	res, err := tx.ExecContext(ctx, update,
		analysis.ID,
		string(analysis.ReportType),
		analysis.Fields.ClaimNumber,
		analysis.Fields.PropertyAddress,
		analysis.Fields.TechnicianName,
		analysis.Fields.DateOfLoss,
		analysis.Fields.InspectionDate,
		analysis.Fields.InsurerName,
		analysis.Scores.Completeness,
		analysis.Scores.Compliance,
		analysis.Scores.Standardization,
		analysis.Scores.Documentation,
		analysis.Scores.BillingAccuracy,
		counts,
		analysis.TotalMissing,
		analysis.EstimatedMissingRevenueCents,
		analysis.EstimatedTimeSavingsHours,
		analysis.Attempts,
		string(AnalysisCompleted),
		processedAt,
		string(AnalysisProcessing),
	)
	if err != nil {
		return err
	}
	if err := requireRow(res); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: analysis %s is not PROCESSING", ErrInvalidTransition, analysis.ID)
		}
		return err
	}

	const insert = `
INSERT INTO missing_elements (
	id, analysis_id, element_type, description, category, severity, is_billable,
	estimated_cost_cents, estimated_hours, standard_reference, suggested_line_item
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	for _, el := range elements {
		if el.ID == "" {
			el.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, insert,
			el.ID,
			analysis.ID,
			el.ElementType,
			el.Description,
			string(el.Category),
			string(el.Severity),
			el.IsBillable,
			el.EstimatedCostCents,
			el.EstimatedHours,
			el.StandardReference,
			el.SuggestedLineItem,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FailAnalysis marks an analysis FAILED from PENDING or PROCESSING and
// records the failure on its current batch item in the same transaction.
func (r *PGRepo) FailAnalysis(ctx context.Context, analysisID string, failure AnalysisFailure, at time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	const query = `
UPDATE claim_analyses
SET status = $2, error_code = $3, error_message = $4, attempts = $5, processed_at = $6, updated_at = $6
WHERE id = $1 AND status IN ($7, $8)
RETURNING batch_id`
	var batchID string
	err = tx.QueryRowContext(ctx, query,
		analysisID,
		string(AnalysisFailed),
		failure.Code,
		failure.Message,
		failure.Attempts,
		at,
		string(AnalysisPending),
		string(AnalysisProcessing),
	).Scan(&batchID)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		current, getErr := r.GetAnalysis(ctx, analysisID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(current.Status, AnalysisFailed))
	}
	if err != nil {
		return err
	}

	const item = `
UPDATE batch_items SET error_code = $3, error_message = $4
WHERE batch_id = $1 AND analysis_id = $2`
	if _, err := tx.ExecContext(ctx, item, batchID, analysisID, failure.Code, failure.Message); err != nil {
		return err
	}
	return tx.Commit()
}

// RecordItemFailure upserts a failed batch item.
func (r *PGRepo) RecordItemFailure(ctx context.Context, item BatchItem) error {
	const query = `
INSERT INTO batch_items (batch_id, analysis_id, source_file_id, reused, error_code, error_message)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (batch_id, analysis_id) DO UPDATE
SET error_code = EXCLUDED.error_code, error_message = EXCLUDED.error_message`
	var msg sql.NullString
	if item.ErrorMessage != nil {
		msg = sql.NullString{String: *item.ErrorMessage, Valid: true}
	}
	_, err := r.DB.ExecContext(ctx, query, item.BatchID, item.AnalysisID, item.SourceFileID, item.Reused, item.ErrorCode, msg)
	return err
}

func (r *PGRepo) checkAnalysisTransition(ctx context.Context, res sql.Result, analysisID string, next AnalysisStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	current, err := r.GetAnalysis(ctx, analysisID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(current.Status, next))
}

// ListBatchAnalyses returns the analyses counted by a batch, overlaid with
// the failures recorded on its items.
func (r *PGRepo) ListBatchAnalyses(ctx context.Context, batchID string) ([]Analysis, error) {
	query := `SELECT ` + prefixColumns("a", analysisColumns) + `, bi.error_code, bi.error_message
FROM batch_items bi
JOIN claim_analyses a ON a.id = bi.analysis_id
WHERE bi.batch_id = $1
ORDER BY a.created_at ASC, a.id ASC`
	rows, err := r.DB.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		var item BatchItem
		var itemMessage sql.NullString
		a, err := scanAnalysisWith(rows, &item.ErrorCode, &itemMessage)
		if err != nil {
			return nil, err
		}
		if itemMessage.Valid {
			item.ErrorMessage = &itemMessage.String
		}
		out = append(out, item.Outcome(a))
	}
	return out, rows.Err()
}

// ListCompletedByOwner returns an owner's COMPLETED analyses.
func (r *PGRepo) ListCompletedByOwner(ctx context.Context, ownerID string) ([]Analysis, error) {
	query := `SELECT ` + analysisColumns + `
FROM claim_analyses
WHERE owner_id = $1 AND status = $2
ORDER BY id ASC`
	return r.queryAnalyses(ctx, query, ownerID, string(AnalysisCompleted))
}

func (r *PGRepo) queryAnalyses(ctx context.Context, query string, args ...any) ([]Analysis, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListMissingElements returns elements keyed by analysis ID.
func (r *PGRepo) ListMissingElements(ctx context.Context, analysisIDs []string) (map[string][]MissingElement, error) {
	out := make(map[string][]MissingElement, len(analysisIDs))
	if len(analysisIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(analysisIDs))
	args := make([]any, len(analysisIDs))
	for i, id := range analysisIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := `
SELECT id, analysis_id, element_type, description, category, severity, is_billable,
       estimated_cost_cents, estimated_hours, standard_reference, suggested_line_item
FROM missing_elements
WHERE analysis_id IN (` + strings.Join(placeholders, ", ") + `)
ORDER BY analysis_id, category, element_type`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var el MissingElement
		var category, severity string
		if err := rows.Scan(
			&el.ID,
			&el.AnalysisID,
			&el.ElementType,
			&el.Description,
			&category,
			&severity,
			&el.IsBillable,
			&el.EstimatedCostCents,
			&el.EstimatedHours,
			&el.StandardReference,
			&el.SuggestedLineItem,
		); err != nil {
			return nil, err
		}
		el.Category = Category(category)
		el.Severity = Severity(severity)
		out[el.AnalysisID] = append(out[el.AnalysisID], el)
	}
	return out, rows.Err()
}

// UpsertTemplate inserts or replaces the template for (owner, type).
func (r *PGRepo) UpsertTemplate(ctx context.Context, tmpl Template) (Template, error) {
	structure, err := json.Marshal(tmpl.Structure)
	if err != nil {
		return Template{}, fmt.Errorf("encode template structure: %w", err)
	}
	const query = `
INSERT INTO standard_templates (
	id, owner_id, template_type, structure, generated_from_batch_id, based_on_analysis_count,
	threshold, is_default, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (owner_id, template_type) DO UPDATE
SET structure = EXCLUDED.structure,
    generated_from_batch_id = EXCLUDED.generated_from_batch_id,
    based_on_analysis_count = EXCLUDED.based_on_analysis_count,
    threshold = EXCLUDED.threshold,
    is_default = standard_templates.is_default OR EXCLUDED.is_default,
    updated_at = EXCLUDED.updated_at
RETURNING id, is_default, created_at`
	if err := r.DB.QueryRowContext(ctx, query,
		tmpl.ID,
		tmpl.OwnerID,
		tmpl.TemplateType,
		structure,
		tmpl.GeneratedFromBatchID,
		tmpl.BasedOnAnalysisCount,
		tmpl.Threshold,
		tmpl.IsDefault,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
	).Scan(&tmpl.ID, &tmpl.IsDefault, &tmpl.CreatedAt); err != nil {
		return Template{}, err
	}
	return tmpl, nil
}

// ListTemplates returns an owner's templates, optionally filtered by type.
func (r *PGRepo) ListTemplates(ctx context.Context, ownerID, templateType string) ([]Template, error) {
	query := `
SELECT id, owner_id, template_type, structure, generated_from_batch_id, based_on_analysis_count,
       threshold, is_default, created_at, updated_at
FROM standard_templates
WHERE owner_id = $1 AND ($2 = '' OR template_type = $2)
ORDER BY template_type ASC`
	rows, err := r.DB.QueryContext(ctx, query, ownerID, templateType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		var t Template
		var structure []byte
		if err := rows.Scan(
			&t.ID,
			&t.OwnerID,
			&t.TemplateType,
			&structure,
			&t.GeneratedFromBatchID,
			&t.BasedOnAnalysisCount,
			&t.Threshold,
			&t.IsDefault,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(structure, &t.Structure); err != nil {
			return nil, fmt.Errorf("decode template structure: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

var _ Repo = (*PGRepo)(nil)
