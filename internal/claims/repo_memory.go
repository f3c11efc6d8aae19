package claims

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo stores pipeline state in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu        sync.RWMutex
	batches   map[string]Batch
	analyses  map[string]Analysis
	bySource  map[string]string
	elements  map[string][]MissingElement
	items     map[string][]BatchItem
	templates map[string]Template
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		batches:   make(map[string]Batch),
		analyses:  make(map[string]Analysis),
		bySource:  make(map[string]string),
		elements:  make(map[string][]MissingElement),
		items:     make(map[string][]BatchItem),
		templates: make(map[string]Template),
	}
}

func sourceKey(ownerID, sourceFileID string) string {
	return ownerID + "\x00" + sourceFileID
}

// CreateBatch stores a new batch.
func (r *MemoryRepo) CreateBatch(ctx context.Context, batch Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	r.batches[batch.ID] = batch
	return nil
}

// GetBatch returns a batch by ID.
func (r *MemoryRepo) GetBatch(ctx context.Context, batchID string) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	return batch, nil
}

// ListBatches returns an owner's batches newest-first.
func (r *MemoryRepo) ListBatches(ctx context.Context, ownerID string, limit, offset int) ([]Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Batch
	for _, b := range r.batches {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

// MarkBatchProcessing moves a PENDING batch to PROCESSING.
func (r *MemoryRepo) MarkBatchProcessing(ctx context.Context, batchID string, totalFiles int, startedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if !batch.Status.CanTransitionTo(BatchProcessing) {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(batch.Status, BatchProcessing))
	}
	batch.Status = BatchProcessing
	batch.TotalFiles = totalFiles
	batch.StartedAt = &startedAt
	batch.UpdatedAt = startedAt
	r.batches[batchID] = batch
	return nil
}

// IncrementBatchCounters adds to the batch counters under the write lock.
func (r *MemoryRepo) IncrementBatchCounters(ctx context.Context, batchID string, processed, failed int) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	if batch.ProcessedFiles+batch.FailedFiles+processed+failed > batch.TotalFiles {
		return Batch{}, ErrCounterOverflow
	}
	batch.ProcessedFiles += processed
	batch.FailedFiles += failed
	batch.UpdatedAt = time.Now().UTC()
	r.batches[batchID] = batch
	return batch, nil
}

// FinalizeBatch writes the summary of a settled batch.
func (r *MemoryRepo) FinalizeBatch(ctx context.Context, batchID string, summary BatchSummary) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return Batch{}, ErrNotFound
	}
	if !batch.Settled() {
		return Batch{}, ErrNotSettled
	}
	if !batch.Status.CanTransitionTo(summary.Status) {
		return Batch{}, fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(batch.Status, summary.Status))
	}
	completedAt := summary.CompletedAt
	batch.Status = summary.Status
	batch.AverageCompletenessScore = summary.AverageCompletenessScore
	batch.AverageComplianceScore = summary.AverageComplianceScore
	batch.TotalMissingElements = summary.TotalMissingElements
	batch.EstimatedRevenueRecoveryCents = summary.EstimatedRevenueRecoveryCents
	batch.CompletedAt = &completedAt
	batch.UpdatedAt = completedAt
	r.batches[batchID] = batch
	return batch, nil
}

// FailBatch terminates a PENDING or PROCESSING batch.
func (r *MemoryRepo) FailBatch(ctx context.Context, batchID, message string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	if !batch.Status.CanTransitionTo(BatchFailed) {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(batch.Status, BatchFailed))
	}
	batch.Status = BatchFailed
	batch.ErrorMessage = &message
	batch.CompletedAt = &at
	batch.UpdatedAt = at
	r.batches[batchID] = batch
	return nil
}

// SetBatchError records a systemic error without changing status.
func (r *MemoryRepo) SetBatchError(ctx context.Context, batchID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.ErrorMessage = &message
	batch.UpdatedAt = time.Now().UTC()
	r.batches[batchID] = batch
	return nil
}

// RequestCancel flags a batch so dispatchers stop scheduling new files.
func (r *MemoryRepo) RequestCancel(ctx context.Context, batchID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	batch, ok := r.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	batch.CancelRequested = true
	batch.UpdatedAt = time.Now().UTC()
	r.batches[batchID] = batch
	return nil
}

// ReserveAnalysis claims the (owner, source file) slot for the candidate's batch.
func (r *MemoryRepo) ReserveAnalysis(ctx context.Context, candidate Analysis) (Analysis, Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sourceKey(candidate.OwnerID, candidate.SourceFileID)
	existingID, found := r.bySource[key]
	if !found {
		r.analyses[candidate.ID] = candidate
		r.bySource[key] = candidate.ID
		r.addItemLocked(BatchItem{BatchID: candidate.BatchID, AnalysisID: candidate.ID, SourceFileID: candidate.SourceFileID})
		return candidate, ReservationCreated, nil
	}

	existing := r.analyses[existingID]
	switch existing.Status {
	case AnalysisCompleted:
		r.addItemLocked(BatchItem{BatchID: candidate.BatchID, AnalysisID: existing.ID, SourceFileID: existing.SourceFileID, Reused: true})
		return existing, ReservationReused, nil
	case AnalysisFailed:
		existing.BatchID = candidate.BatchID
		existing.FileName = candidate.FileName
		existing.Status = AnalysisPending
		existing.ErrorCode = ""
		existing.ErrorMessage = nil
		existing.Attempts = 0
		existing.ProcessedAt = nil
		existing.UpdatedAt = candidate.CreatedAt
		r.analyses[existing.ID] = existing
		delete(r.elements, existing.ID)
		r.addItemLocked(BatchItem{BatchID: candidate.BatchID, AnalysisID: existing.ID, SourceFileID: existing.SourceFileID})
		return existing, ReservationReattached, nil
	default:
		return existing, 0, fmt.Errorf("%w: batch %s", ErrAnalysisInFlight, existing.BatchID)
	}
}

func (r *MemoryRepo) addItemLocked(item BatchItem) {
	for _, it := range r.items[item.BatchID] {
		if it.AnalysisID == item.AnalysisID {
			return
		}
	}
	r.items[item.BatchID] = append(r.items[item.BatchID], item)
}

// GetAnalysis returns an analysis by ID.
func (r *MemoryRepo) GetAnalysis(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.analyses[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

// MarkAnalysisProcessing moves a PENDING analysis to PROCESSING.
func (r *MemoryRepo) MarkAnalysisProcessing(ctx context.Context, analysisID string, at time.Time) error {
	return r.transitionAnalysis(ctx, analysisID, AnalysisProcessing, func(a *Analysis) {
		a.UpdatedAt = at
	})
}

// CompleteAnalysis stores the scored analysis and its elements.
func (r *MemoryRepo) CompleteAnalysis(ctx context.Context, analysis Analysis, elements []MissingElement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.analyses[analysis.ID]
	if !ok {
		return ErrNotFound
	}
	if !current.Status.CanTransitionTo(AnalysisCompleted) {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(current.Status, AnalysisCompleted))
	}
	analysis.Status = AnalysisCompleted
	analysis.CreatedAt = current.CreatedAt
	r.analyses[analysis.ID] = analysis
	stored := make([]MissingElement, len(elements))
	for i, el := range elements {
		if el.ID == "" {
			el.ID = uuid.NewString()
		}
		el.AnalysisID = analysis.ID
		stored[i] = el
	}
	r.elements[analysis.ID] = stored
	return nil
}

// FailAnalysis marks an analysis FAILED with its error and records the
// failure on the item of the analysis's current batch.
func (r *MemoryRepo) FailAnalysis(ctx context.Context, analysisID string, failure AnalysisFailure, at time.Time) error {
	return r.transitionAnalysis(ctx, analysisID, AnalysisFailed, func(a *Analysis) {
		msg := failure.Message
		a.ErrorCode = failure.Code
		a.ErrorMessage = &msg
		a.Attempts = failure.Attempts
		a.ProcessedAt = &at
		a.UpdatedAt = at
		r.markItemLocked(BatchItem{
			BatchID:      a.BatchID,
			AnalysisID:   a.ID,
			SourceFileID: a.SourceFileID,
			ErrorCode:    failure.Code,
			ErrorMessage: &msg,
		})
	})
}

// RecordItemFailure stores a failed outcome on a batch item.
func (r *MemoryRepo) RecordItemFailure(ctx context.Context, item BatchItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[item.BatchID]; !ok {
		return ErrNotFound
	}
	if _, ok := r.analyses[item.AnalysisID]; !ok {
		return ErrNotFound
	}
	r.markItemLocked(item)
	return nil
}

func (r *MemoryRepo) markItemLocked(item BatchItem) {
	items := r.items[item.BatchID]
	for i, it := range items {
		if it.AnalysisID == item.AnalysisID {
			items[i].ErrorCode = item.ErrorCode
			items[i].ErrorMessage = item.ErrorMessage
			return
		}
	}
	r.items[item.BatchID] = append(items, item)
}

func (r *MemoryRepo) transitionAnalysis(ctx context.Context, analysisID string, next AnalysisStatus, apply func(*Analysis)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.analyses[analysisID]
	if !ok {
		return ErrNotFound
	}
	if !analysis.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s", ErrInvalidTransition, Transition(analysis.Status, next))
	}
	analysis.Status = next
	apply(&analysis)
	r.analyses[analysisID] = analysis
	return nil
}

// ListBatchAnalyses returns the analyses counted by a batch in membership order.
func (r *MemoryRepo) ListBatchAnalyses(ctx context.Context, batchID string) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.items[batchID]
	out := make([]Analysis, 0, len(items))
	for _, it := range items {
		if a, ok := r.analyses[it.AnalysisID]; ok {
			out = append(out, it.Outcome(a))
		}
	}
	return out, nil
}

// ListCompletedByOwner returns every COMPLETED analysis of an owner.
func (r *MemoryRepo) ListCompletedByOwner(ctx context.Context, ownerID string) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Analysis
	for _, a := range r.analyses {
		if a.OwnerID == ownerID && a.Status == AnalysisCompleted {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMissingElements returns elements keyed by analysis ID.
func (r *MemoryRepo) ListMissingElements(ctx context.Context, analysisIDs []string) (map[string][]MissingElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]MissingElement, len(analysisIDs))
	for _, id := range analysisIDs {
		if els, ok := r.elements[id]; ok {
			out[id] = append([]MissingElement(nil), els...)
		}
	}
	return out, nil
}

// UpsertTemplate stores the template for (owner, type).
func (r *MemoryRepo) UpsertTemplate(ctx context.Context, tmpl Template) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := tmpl.OwnerID + "\x00" + tmpl.TemplateType
	if existing, ok := r.templates[key]; ok {
		tmpl.ID = existing.ID
		tmpl.CreatedAt = existing.CreatedAt
		tmpl.IsDefault = existing.IsDefault || tmpl.IsDefault
	}
	r.templates[key] = tmpl
	return tmpl, nil
}

// ListTemplates returns an owner's templates, optionally filtered by type.
func (r *MemoryRepo) ListTemplates(ctx context.Context, ownerID, templateType string) ([]Template, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	var out []Template
	for _, t := range r.templates {
		if t.OwnerID != ownerID {
			continue
		}
		if templateType != "" && t.TemplateType != templateType {
			continue
		}
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateType < out[j].TemplateType })
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Repo = (*MemoryRepo)(nil)
