package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var batchCols = []string{
	"id", "owner_id", "folder_id", "folder_name", "status", "total_files", "processed_files", "failed_files",
	"average_completeness_score", "average_compliance_score", "total_missing_elements",
	"estimated_revenue_recovery_cents", "cancel_requested", "error_message", "started_at", "completed_at",
	"created_at", "updated_at",
}

var analysisCols = []string{
	"id", "batch_id", "owner_id", "source_file_id", "file_name", "report_type",
	"claim_number", "property_address", "technician_name", "date_of_loss", "inspection_date", "insurer_name",
	"completeness_score", "compliance_score", "standardization_score", "documentation_score", "billing_accuracy_score",
	"missing_counts", "total_missing", "estimated_missing_revenue_cents", "estimated_time_savings_hours",
	"attempts", "status", "error_code", "error_message", "processed_at", "created_at", "updated_at",
}

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func batchRow(status BatchStatus, total, processed, failed int) *sqlmock.Rows {
	now := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(batchCols).AddRow(
		"batch-1", "owner-1", "folder-1", "Claims 2025", string(status), total, processed, failed,
		0.0, 0.0, 0, int64(0), false, nil, now, nil, now, now,
	)
}

func TestPGRepoCreateBatch(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	batch := Batch{ID: "batch-1", OwnerID: "owner-1", FolderID: "folder-1", FolderName: "Claims", Status: BatchPending, CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec("INSERT INTO claim_analysis_batches").
		WithArgs("batch-1", "owner-1", "folder-1", "Claims", "PENDING", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.CreateBatch(context.Background(), batch); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoIncrementBatchCountersReturnsUpdatedRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("UPDATE claim_analysis_batches").
		WithArgs("batch-1", 1, 0, sqlmock.AnyArg()).
		WillReturnRows(batchRow(BatchProcessing, 5, 3, 2))

	b, err := repo.IncrementBatchCounters(context.Background(), "batch-1", 1, 0)
	if err != nil {
		t.Fatalf("IncrementBatchCounters: %v", err)
	}
	if !b.Settled() || b.Status != BatchProcessing {
		t.Fatalf("unexpected batch: %+v", b)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoIncrementBatchCountersOverflow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("UPDATE claim_analysis_batches").
		WithArgs("batch-1", 0, 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(batchCols))
	mock.ExpectQuery("SELECT (.+) FROM claim_analysis_batches WHERE id").
		WithArgs("batch-1").
		WillReturnRows(batchRow(BatchProcessing, 2, 2, 0))

	_, err := repo.IncrementBatchCounters(context.Background(), "batch-1", 0, 1)
	if !errors.Is(err, ErrCounterOverflow) {
		t.Fatalf("expected ErrCounterOverflow, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFailBatchRejectsTerminal(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE claim_analysis_batches").
		WithArgs("batch-1", "FAILED", "listing failed", sqlmock.AnyArg(), "PENDING", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM claim_analysis_batches WHERE id").
		WithArgs("batch-1").
		WillReturnRows(batchRow(BatchCompleted, 0, 0, 0))

	err := repo.FailBatch(context.Background(), "batch-1", "listing failed", time.Now().UTC())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFailBatchFromProcessing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE claim_analysis_batches").
		WithArgs("batch-1", "FAILED", "dispatch lost", sqlmock.AnyArg(), "PENDING", "PROCESSING").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.FailBatch(context.Background(), "batch-1", "dispatch lost", time.Now().UTC()); err != nil {
		t.Fatalf("FailBatch on a PROCESSING batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFailAnalysisRecordsBatchItem(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE claim_analyses").
		WithArgs("a-1", "FAILED", "SOURCE_UNAVAILABLE", "drive timeout", 3, at, "PENDING", "PROCESSING").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id"}).AddRow("batch-1"))
	mock.ExpectExec("UPDATE batch_items").
		WithArgs("batch-1", "a-1", "SOURCE_UNAVAILABLE", "drive timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	failure := AnalysisFailure{Code: "SOURCE_UNAVAILABLE", Message: "drive timeout", Attempts: 3}
	if err := repo.FailAnalysis(context.Background(), "a-1", failure, at); err != nil {
		t.Fatalf("FailAnalysis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFailAnalysisRejectsCompleted(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE claim_analyses").
		WillReturnRows(sqlmock.NewRows([]string{"batch_id"}))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT (.+) FROM claim_analyses WHERE id").
		WithArgs("a-1").
		WillReturnRows(sqlmock.NewRows(analysisCols).AddRow(
			"a-1", "batch-1", "owner-1", "file-1", "report.pdf", "WATER_DAMAGE",
			"", "", "", "", "", "",
			90.0, 80.0, 70.0, 60.0, 50.0,
			[]byte(`{}`), 0, int64(0), 0.0,
			1, "COMPLETED", "", nil, now, now, now,
		))

	err := repo.FailAnalysis(context.Background(), "a-1", AnalysisFailure{Code: "CANCELLED"}, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListBatchAnalysesReportsItemFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	cols := append(append([]string{}, analysisCols...), "error_code", "error_message")

	mock.ExpectQuery("SELECT (.+) FROM batch_items bi").
		WithArgs("batch-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(
				"a-1", "batch-2", "owner-1", "file-1", "report.pdf", "WATER_DAMAGE",
				"", "", "", "", "", "",
				90.0, 80.0, 70.0, 60.0, 50.0,
				[]byte(`{}`), 0, int64(0), 0.0,
				1, "COMPLETED", "", nil, now, now, now,
				"SOURCE_UNAVAILABLE", "drive timeout",
			).
			AddRow(
				"a-2", "batch-1", "owner-1", "file-2", "notes.pdf", "WATER_DAMAGE",
				"", "", "", "", "", "",
				90.0, 80.0, 70.0, 60.0, 50.0,
				[]byte(`{}`), 0, int64(0), 0.0,
				1, "COMPLETED", "", nil, now, now, now,
				"", nil,
			))

	list, err := repo.ListBatchAnalyses(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("ListBatchAnalyses: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 analyses, got %d", len(list))
	}
	if list[0].Status != AnalysisFailed || list[0].ErrorCode != "SOURCE_UNAVAILABLE" || list[0].ErrorMessage == nil || *list[0].ErrorMessage != "drive timeout" {
		t.Fatalf("earlier failure should be reported for this batch, got %+v", list[0])
	}
	if list[1].Status != AnalysisCompleted || list[1].ErrorCode != "" {
		t.Fatalf("unexpected second analysis %+v", list[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoRecordItemFailureUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)
	msg := "file is being analysed by batch batch-0"

	mock.ExpectExec("INSERT INTO batch_items (.+) ON CONFLICT").
		WithArgs("batch-1", "a-0", "file-1", false, "IN_FLIGHT_ELSEWHERE", msg).
		WillReturnResult(sqlmock.NewResult(1, 1))

	item := BatchItem{BatchID: "batch-1", AnalysisID: "a-0", SourceFileID: "file-1", ErrorCode: "IN_FLIGHT_ELSEWHERE", ErrorMessage: &msg}
	if err := repo.RecordItemFailure(context.Background(), item); err != nil {
		t.Fatalf("RecordItemFailure: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoFinalizeBatchNotSettled(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM claim_analysis_batches WHERE id = \\$1 FOR UPDATE").
		WithArgs("batch-1").
		WillReturnRows(batchRow(BatchProcessing, 5, 2, 1))
	mock.ExpectRollback()

	_, err := repo.FinalizeBatch(context.Background(), "batch-1", BatchSummary{Status: BatchPartial, CompletedAt: time.Now().UTC()})
	if !errors.Is(err, ErrNotSettled) {
		t.Fatalf("expected ErrNotSettled, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoReserveAnalysisCreatesRowAndMembership(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	candidate := Analysis{
		ID:           "a-1",
		BatchID:      "batch-1",
		OwnerID:      "owner-1",
		SourceFileID: "file-1",
		FileName:     "report.pdf",
		Status:       AnalysisPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM claim_analyses WHERE owner_id = \\$1 AND source_file_id = \\$2 FOR UPDATE").
		WithArgs("owner-1", "file-1").
		WillReturnRows(sqlmock.NewRows(analysisCols))
	mock.ExpectExec("INSERT INTO claim_analyses").
		WithArgs("a-1", "batch-1", "owner-1", "file-1", "report.pdf", "PENDING", now, now).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO batch_items").
		WithArgs("batch-1", "a-1", "file-1", false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, res, err := repo.ReserveAnalysis(context.Background(), candidate)
	if err != nil {
		t.Fatalf("ReserveAnalysis: %v", err)
	}
	if res != ReservationCreated || got.ID != "a-1" {
		t.Fatalf("unexpected reservation: res=%v got=%+v", res, got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoReserveAnalysisReusesCompleted(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM claim_analyses WHERE owner_id").
		WithArgs("owner-1", "file-1").
		WillReturnRows(sqlmock.NewRows(analysisCols).AddRow(
			"a-old", "batch-0", "owner-1", "file-1", "report.pdf", "WATER_DAMAGE",
			"CLM-1", "1 Main St", "Sam", "2025-01-02", "2025-01-03", "Acme Mutual",
			90.0, 80.0, 70.0, 60.0, 50.0,
			[]byte(`{"DOCUMENTATION":1}`), 1, int64(12500), 1.5,
			1, "COMPLETED", "", nil, now, now, now,
		))
	mock.ExpectExec("INSERT INTO batch_items").
		WithArgs("batch-2", "a-old", "file-1", true).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, res, err := repo.ReserveAnalysis(context.Background(), Analysis{ID: "a-new", BatchID: "batch-2", OwnerID: "owner-1", SourceFileID: "file-1", CreatedAt: now})
	if err != nil {
		t.Fatalf("ReserveAnalysis: %v", err)
	}
	if res != ReservationReused || got.ID != "a-old" {
		t.Fatalf("expected reuse of a-old, got res=%v id=%s", res, got.ID)
	}
	if got.MissingCounts[CategoryDocumentation] != 1 {
		t.Fatalf("expected decoded missing counts, got %+v", got.MissingCounts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteAnalysisWritesElements(t *testing.T) {
	repo, mock := newMockRepo(t)
	processedAt := time.Now().UTC()
	analysis := Analysis{
		ID:                           "a-1",
		ReportType:                   ReportWaterDamage,
		Scores:                       SubScores{Completeness: 100, Compliance: 80, Standardization: 100, Documentation: 90, BillingAccuracy: 70},
		MissingCounts:                map[Category]int{CategoryDocumentation: 1},
		TotalMissing:                 1,
		EstimatedMissingRevenueCents: 15000,
		EstimatedTimeSavingsHours:    0.5,
		Attempts:                     1,
		ProcessedAt:                  &processedAt,
	}
	elements := []MissingElement{{ID: "el-1", ElementType: "moisture_map", Category: CategoryDocumentation, Severity: SeverityHigh, IsBillable: true, EstimatedCostCents: 15000, EstimatedHours: 0.5}}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE claim_analyses").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO missing_elements").
		WithArgs("el-1", "a-1", "moisture_map", "", "DOCUMENTATION", "HIGH", true, int64(15000), 0.5, "", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.CompleteAnalysis(context.Background(), analysis, elements); err != nil {
		t.Fatalf("CompleteAnalysis: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteAnalysisRollsBackWhenNotProcessing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE claim_analyses").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CompleteAnalysis(context.Background(), Analysis{ID: "a-1"}, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetBatchNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT (.+) FROM claim_analysis_batches").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(batchCols))

	if _, err := repo.GetBatch(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
