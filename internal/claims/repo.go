package claims

import (
	"context"
	"time"
)

// BatchRepo persists batches. Counter and status writes are atomic.
type BatchRepo interface {
	CreateBatch(ctx context.Context, batch Batch) error
	GetBatch(ctx context.Context, batchID string) (Batch, error)
	ListBatches(ctx context.Context, ownerID string, limit, offset int) ([]Batch, error)
	// MarkBatchProcessing moves a PENDING batch to PROCESSING and fixes its file total.
	MarkBatchProcessing(ctx context.Context, batchID string, totalFiles int, startedAt time.Time) error
	// IncrementBatchCounters adds to the counters and returns the updated batch.
	// Exactly one caller observes the increment that settles the batch.
	IncrementBatchCounters(ctx context.Context, batchID string, processed, failed int) (Batch, error)
	// FinalizeBatch writes the aggregated summary and terminal status.
	FinalizeBatch(ctx context.Context, batchID string, summary BatchSummary) (Batch, error)
	// FailBatch terminates a PENDING or PROCESSING batch with a message.
	FailBatch(ctx context.Context, batchID, message string, at time.Time) error
	SetBatchError(ctx context.Context, batchID, message string) error
	RequestCancel(ctx context.Context, batchID string) error
}

// AnalysisRepo persists analyses, their missing elements and batch membership.
type AnalysisRepo interface {
	// ReserveAnalysis claims the (owner, source file) slot for candidate.BatchID
	// and records batch membership. It returns ErrAnalysisInFlight when another
	// batch is still working on the file.
	ReserveAnalysis(ctx context.Context, candidate Analysis) (Analysis, Reservation, error)
	GetAnalysis(ctx context.Context, analysisID string) (Analysis, error)
	MarkAnalysisProcessing(ctx context.Context, analysisID string, at time.Time) error
	// CompleteAnalysis stores scores and elements and marks the analysis COMPLETED in one write.
	CompleteAnalysis(ctx context.Context, analysis Analysis, elements []MissingElement) error
	// FailAnalysis marks the analysis FAILED and records the failure on its
	// current batch's item.
	FailAnalysis(ctx context.Context, analysisID string, failure AnalysisFailure, at time.Time) error
	// RecordItemFailure stores a failed outcome for a file the batch could not
	// claim, creating the item if needed.
	RecordItemFailure(ctx context.Context, item BatchItem) error
	// ListBatchAnalyses returns every analysis counted by the batch, including
	// reused ones, with failed items reported as this batch saw them.
	ListBatchAnalyses(ctx context.Context, batchID string) ([]Analysis, error)
	ListCompletedByOwner(ctx context.Context, ownerID string) ([]Analysis, error)
	ListMissingElements(ctx context.Context, analysisIDs []string) (map[string][]MissingElement, error)
}

// TemplateRepo persists synthesized templates.
type TemplateRepo interface {
	// UpsertTemplate replaces the template for (owner, type), creating it if absent.
	UpsertTemplate(ctx context.Context, tmpl Template) (Template, error)
	ListTemplates(ctx context.Context, ownerID, templateType string) ([]Template, error)
}

// Repo is the full persistence boundary of the pipeline.
type Repo interface {
	BatchRepo
	AnalysisRepo
	TemplateRepo
}
