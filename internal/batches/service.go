package batches

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"claims-backend/internal/analyses"
	"claims-backend/internal/claims"
	"claims-backend/internal/shared/metrics"
	"claims-backend/internal/shared/telemetry"
	"claims-backend/internal/source"
)

var (
	ErrNotFound     = errors.New("batch not found")
	ErrInvalidInput = errors.New("invalid batch request")
	// ErrResumeTooEarly means a PROCESSING batch may still be running
	// elsewhere. The caller should retry later.
	ErrResumeTooEarly = errors.New("batch is still making progress")
)

const (
	DefaultConcurrency              = 5
	DefaultSystemicFailureThreshold = 3
)

// Store is the persistence the orchestrator needs.
type Store interface {
	claims.BatchRepo
	claims.AnalysisRepo
}

// Processor runs one reserved document to a terminal state.
type Processor interface {
	ProcessDocument(ctx context.Context, analysis claims.Analysis, ref source.FileRef) (claims.Analysis, error)
}

// Dispatcher hands a created batch to a remote runner instead of running it
// in this process.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch claims.Batch) error
}

// Service creates, runs and reports on batches.
type Service struct {
	Repo                     Store
	Source                   source.Source
	Worker                   Processor
	Dispatcher               Dispatcher
	Concurrency              int
	SystemicFailureThreshold int
	ListPolicy               analyses.RetryPolicy
	// StaleAfter is how long a PROCESSING batch or document may go without
	// progress before a resume treats it as interrupted.
	StaleAfter time.Duration
	Now        func() time.Time
	NewID      func() string

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// CreateBatch records a PENDING batch for a folder.
func (s *Service) CreateBatch(ctx context.Context, ownerID, folderID, folderName string) (claims.Batch, error) {
	ownerID = strings.TrimSpace(ownerID)
	folderID = strings.TrimSpace(folderID)
	if ownerID == "" || folderID == "" {
		return claims.Batch{}, fmt.Errorf("%w: owner and folder are required", ErrInvalidInput)
	}
	now := s.now()
	batch := claims.Batch{
		ID:         s.newID(),
		OwnerID:    ownerID,
		FolderID:   folderID,
		FolderName: strings.TrimSpace(folderName),
		Status:     claims.BatchPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Repo.CreateBatch(ctx, batch); err != nil {
		return claims.Batch{}, err
	}
	telemetry.Info("batch.created", telemetry.Fields(ctx, map[string]any{
		"batch_id":  batch.ID,
		"owner_id":  ownerID,
		"folder_id": folderID,
	}))
	return batch, nil
}

// StartBatch creates a batch and runs it asynchronously, either through the
// Dispatcher or on a goroutine tracked by Wait.
func (s *Service) StartBatch(ctx context.Context, ownerID, folderID, folderName string) (claims.Batch, error) {
	batch, err := s.CreateBatch(ctx, ownerID, folderID, folderName)
	if err != nil {
		return claims.Batch{}, err
	}

	if s.Dispatcher != nil {
		if err := s.Dispatcher.Dispatch(ctx, batch); err != nil {
			msg := fmt.Sprintf("dispatch batch: %v", err)
			if ferr := s.Repo.FailBatch(ctx, batch.ID, msg, s.now()); ferr != nil {
				telemetry.Error("batch.fail_write_failed", map[string]any{"batch_id": batch.ID, "error": ferr})
			}
			return claims.Batch{}, fmt.Errorf("dispatch batch %s: %w", batch.ID, err)
		}
		return batch, nil
	}

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunBatch(runCtx, batch.ID); err != nil {
			telemetry.Error("batch.run_failed", telemetry.Fields(runCtx, map[string]any{"batch_id": batch.ID, "error": err}))
		}
	}()
	return batch, nil
}

// Wait blocks until batches started in this process have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// RunBatch lists the folder, dispatches every file and returns the terminal
// batch. A terminal batch is returned unchanged. A PROCESSING batch whose run
// was interrupted is resumed; one that is still progressing returns
// ErrResumeTooEarly.
func (s *Service) RunBatch(ctx context.Context, batchID string) (claims.Batch, error) {
	batch, err := s.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return claims.Batch{}, mapNotFound(err)
	}
	if batch.Status.Terminal() {
		return batch, nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !s.track(batchID, cancel) {
		return batch, fmt.Errorf("%w: %s is running in this process", ErrResumeTooEarly, batchID)
	}
	defer s.untrack(batchID)

	r := &run{
		svc:    s,
		batch:  batch,
		ctx:    runCtx,
		cancel: cancel,
		store:  context.WithoutCancel(ctx),
		fields: telemetry.Fields(ctx, map[string]any{"batch_id": batch.ID, "owner_id": batch.OwnerID}),
	}
	if batch.Status == claims.BatchProcessing {
		return r.resume()
	}
	return r.execute()
}

// CancelBatch stops dispatching new files. In-flight documents finish.
func (s *Service) CancelBatch(ctx context.Context, ownerID, batchID string) (claims.Batch, error) {
	batch, err := s.Get(ctx, ownerID, batchID)
	if err != nil {
		return claims.Batch{}, err
	}
	if batch.Status.Terminal() {
		return batch, nil
	}
	if err := s.Repo.RequestCancel(ctx, batchID); err != nil {
		return claims.Batch{}, mapNotFound(err)
	}
	s.mu.Lock()
	cancel, local := s.running[batchID]
	s.mu.Unlock()
	if local {
		cancel()
	}
	telemetry.Info("batch.cancel_requested", telemetry.Fields(ctx, map[string]any{"batch_id": batchID, "local": local}))
	return s.Repo.GetBatch(ctx, batchID)
}

// Get returns a batch owned by ownerID.
func (s *Service) Get(ctx context.Context, ownerID, batchID string) (claims.Batch, error) {
	batch, err := s.Repo.GetBatch(ctx, batchID)
	if err != nil {
		return claims.Batch{}, mapNotFound(err)
	}
	if batch.OwnerID != ownerID {
		return claims.Batch{}, ErrNotFound
	}
	return batch, nil
}

// List returns an owner's batches, newest first.
func (s *Service) List(ctx context.Context, ownerID string, limit, offset int) ([]claims.Batch, error) {
	return s.Repo.ListBatches(ctx, ownerID, limit, offset)
}

// ListAnalyses returns the analyses a batch counts with their missing elements.
func (s *Service) ListAnalyses(ctx context.Context, ownerID, batchID string) ([]analyses.Detail, error) {
	if _, err := s.Get(ctx, ownerID, batchID); err != nil {
		return nil, err
	}
	list, err := s.Repo.ListBatchAnalyses(ctx, batchID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, a := range list {
		ids[i] = a.ID
	}
	elements, err := s.Repo.ListMissingElements(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]analyses.Detail, len(list))
	for i, a := range list {
		els := elements[a.ID]
		if els == nil {
			els = []claims.MissingElement{}
		}
		out[i] = analyses.Detail{Analysis: a, MissingElements: els}
	}
	return out, nil
}

// track registers a local run. It reports false when one is already running.
func (s *Service) track(batchID string, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		s.running = make(map[string]context.CancelFunc)
	}
	if _, ok := s.running[batchID]; ok {
		return false
	}
	s.running[batchID] = cancel
	return true
}

func (s *Service) untrack(batchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, batchID)
}

func (s *Service) concurrency() int {
	if s.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return s.Concurrency
}

func (s *Service) systemicThreshold() int32 {
	if s.SystemicFailureThreshold <= 0 {
		return DefaultSystemicFailureThreshold
	}
	return int32(s.SystemicFailureThreshold)
}

func (s *Service) listPolicy() analyses.RetryPolicy {
	p := s.ListPolicy
	if p.MaxAttempts == 0 {
		p = analyses.DefaultRetryPolicy()
	}
	p.Retryable = source.Retryable
	return p
}

// counterPolicy retries counter writes. The store's overflow guard keeps a
// repeated increment from counting past the total.
func (s *Service) counterPolicy() analyses.RetryPolicy {
	p := s.listPolicy()
	p.AttemptTimeout = 0
	p.Retryable = func(err error) bool {
		return !errors.Is(err, claims.ErrCounterOverflow) &&
			!errors.Is(err, claims.ErrNotFound) &&
			!errors.Is(err, context.Canceled)
	}
	return p
}

func (s *Service) staleAfter() time.Duration {
	if s.StaleAfter > 0 {
		return s.StaleAfter
	}
	p := s.listPolicy()
	if p.AttemptTimeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(p.MaxAttempts) * (p.AttemptTimeout + p.MaxDelay)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func mapNotFound(err error) error {
	if errors.Is(err, claims.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// run is the state of one RunBatch call.
type run struct {
	svc    *Service
	batch  claims.Batch
	ctx    context.Context
	cancel context.CancelFunc
	// store outlives cancellation so outcomes are always recorded.
	store  context.Context
	fields map[string]any

	// deferCounts leaves counting to settle, which rebuilds the counters
	// from stored outcomes. Resumed runs cannot tell which outcomes the
	// interrupted run already counted.
	deferCounts bool

	consecutive atomic.Int32
	aborted     atomic.Bool
}

type job struct {
	analysis claims.Analysis
	ref      source.FileRef
}

func (r *run) execute() (claims.Batch, error) {
	s := r.svc
	metrics.IncBatchStarted()

	refs, err := r.list()
	if err != nil {
		msg := fmt.Sprintf("list folder %s: %v", r.batch.FolderID, err)
		if ferr := s.Repo.FailBatch(r.store, r.batch.ID, msg, s.now()); ferr != nil {
			return r.batch, ferr
		}
		r.logTransition(claims.BatchPending, claims.BatchFailed, map[string]any{"error": msg})
		metrics.IncBatchFinished(string(claims.BatchFailed))
		return s.Repo.GetBatch(r.store, r.batch.ID)
	}
	refs = dedupe(refs)

	if len(refs) == 0 {
		return r.settle()
	}

	if err := s.Repo.MarkBatchProcessing(r.store, r.batch.ID, len(refs), s.now()); err != nil {
		return r.batch, err
	}
	r.logTransition(claims.BatchPending, claims.BatchProcessing, map[string]any{"total_files": len(refs)})

	r.dispatch(r.reserve(refs))
	return r.settle()
}

func (r *run) list() ([]source.FileRef, error) {
	var refs []source.FileRef
	_, err := r.svc.listPolicy().Do(r.ctx, func(ctx context.Context, attempt int) error {
		out, err := r.svc.Source.List(ctx, r.batch.FolderID)
		if err != nil {
			telemetry.Warn("batch.list_failed", telemetry.With(r.fields, "attempt", attempt, "error", err))
			return err
		}
		refs = out
		return nil
	})
	return refs, err
}

// reserve claims every file for this batch and returns the ones to process.
func (r *run) reserve(refs []source.FileRef) []job {
	s := r.svc
	var jobs []job
	for _, ref := range refs {
		now := s.now()
		candidate := claims.Analysis{
			ID:           s.newID(),
			BatchID:      r.batch.ID,
			OwnerID:      r.batch.OwnerID,
			SourceFileID: ref.ID,
			FileName:     ref.Name,
			Status:       claims.AnalysisPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		analysis, res, err := s.Repo.ReserveAnalysis(r.store, candidate)
		switch {
		case errors.Is(err, claims.ErrAnalysisInFlight):
			telemetry.Warn("batch.file_in_flight", telemetry.With(r.fields, "source_file_id", ref.ID, "error", err))
			r.recordInFlight(analysis, ref, err)
			r.record(false, false)
		case err != nil:
			telemetry.Error("batch.reserve_failed", telemetry.With(r.fields, "source_file_id", ref.ID, "error", err))
			r.record(false, true)
		case res == claims.ReservationReused:
			metrics.IncDocumentReused()
			telemetry.Info("batch.file_reused", telemetry.With(r.fields, "source_file_id", ref.ID, "analysis_id", analysis.ID))
			r.record(true, false)
		default:
			jobs = append(jobs, job{analysis: analysis, ref: ref})
		}
	}
	return jobs
}

func (r *run) dispatch(jobs []job) {
	var g errgroup.Group
	g.SetLimit(r.svc.concurrency())
	for i, j := range jobs {
		if code := r.stopReason(true); code != "" {
			r.skip(jobs[i:], code)
			break
		}
		g.Go(func() error {
			if code := r.stopReason(false); code != "" {
				r.skip([]job{j}, code)
				return nil
			}
			_, err := r.svc.Worker.ProcessDocument(context.WithoutCancel(r.ctx), j.analysis, j.ref)
			switch {
			case err == nil:
				r.record(true, false)
			case analyses.IsPersistence(err):
				r.record(false, true)
			default:
				r.record(false, false)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// stopReason returns the failure code for files that must not be dispatched.
// pollStore also honours a cancel flag written by another process.
func (r *run) stopReason(pollStore bool) string {
	if r.aborted.Load() {
		return analyses.CodeAborted
	}
	if r.ctx.Err() != nil {
		return analyses.CodeCancelled
	}
	if pollStore {
		if b, err := r.svc.Repo.GetBatch(r.store, r.batch.ID); err == nil && b.CancelRequested {
			r.cancel()
			return analyses.CodeCancelled
		}
	}
	return ""
}

func (r *run) skip(jobs []job, code string) {
	msg := "cancelled before dispatch"
	if code == analyses.CodeAborted {
		msg = "aborted after repeated persistence failures"
	}
	for _, j := range jobs {
		failure := claims.AnalysisFailure{Code: code, Message: msg}
		if err := r.svc.Repo.FailAnalysis(r.store, j.analysis.ID, failure, r.svc.now()); err != nil {
			telemetry.Error("batch.skip_write_failed", telemetry.With(r.fields, "analysis_id", j.analysis.ID, "error", err))
		}
		metrics.IncDocumentFailed()
		r.record(false, false)
	}
	telemetry.Info("batch.skipped", telemetry.With(r.fields, "code", code, "files", len(jobs)))
}

// recordInFlight stores the conflict on this batch so the failure stays
// visible next to the batch's own analyses.
func (r *run) recordInFlight(owning claims.Analysis, ref source.FileRef, cause error) {
	if owning.ID == "" {
		return
	}
	msg := fmt.Sprintf("file is being analysed by batch %s", owning.BatchID)
	item := claims.BatchItem{
		BatchID:      r.batch.ID,
		AnalysisID:   owning.ID,
		SourceFileID: ref.ID,
		ErrorCode:    analyses.CodeInFlightElsewhere,
		ErrorMessage: &msg,
	}
	if err := r.svc.Repo.RecordItemFailure(r.store, item); err != nil {
		telemetry.Error("batch.item_write_failed", telemetry.With(r.fields, "source_file_id", ref.ID, "error", err, "cause", cause))
	}
}

// record counts one file outcome. The increment that settles the batch
// triggers aggregation. Lost counter writes count as persistence failures.
func (r *run) record(processed, persistenceFailure bool) {
	counted := true
	if !r.deferCounts {
		p, f := 0, 1
		if processed {
			p, f = 1, 0
		}
		b, err := r.increment(p, f)
		switch {
		case err != nil:
			// settle rebuilds the lost outcome from the stored analyses.
			telemetry.Error("batch.count_failed", telemetry.With(r.fields, "processed", p, "failed", f, "error", err))
			counted = false
		case b.Settled():
			if err := r.finalize(b); err != nil {
				telemetry.Error("batch.finalize_failed", telemetry.With(r.fields, "error", err))
			}
		}
	}
	if persistenceFailure || !counted {
		r.notePersistenceFailure()
		return
	}
	r.consecutive.Store(0)
}

func (r *run) increment(processed, failed int) (claims.Batch, error) {
	policy := r.svc.counterPolicy()
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		telemetry.Warn("batch.count_retry", telemetry.With(r.fields, "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err))
	}
	var out claims.Batch
	_, err := policy.Do(r.store, func(ctx context.Context, attempt int) error {
		b, err := r.svc.Repo.IncrementBatchCounters(ctx, r.batch.ID, processed, failed)
		if err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

func (r *run) notePersistenceFailure() {
	n := r.consecutive.Add(1)
	if n < r.svc.systemicThreshold() || !r.aborted.CompareAndSwap(false, true) {
		return
	}
	msg := fmt.Sprintf("aborted after %d consecutive persistence failures", n)
	if err := r.svc.Repo.SetBatchError(r.store, r.batch.ID, msg); err != nil {
		telemetry.Error("batch.error_write_failed", telemetry.With(r.fields, "error", err))
	}
	telemetry.Error("batch.aborted", telemetry.With(r.fields, "error", msg))
}

func (r *run) finalize(b claims.Batch) error {
	list, err := r.svc.Repo.ListBatchAnalyses(r.store, b.ID)
	if err != nil {
		return fmt.Errorf("aggregate batch %s: %w", b.ID, err)
	}
	summary := Aggregate(b, list, r.svc.now())
	if _, err := r.svc.Repo.FinalizeBatch(r.store, b.ID, summary); err != nil {
		return fmt.Errorf("finalize batch %s: %w", b.ID, err)
	}
	r.logTransition(b.Status, summary.Status, map[string]any{
		"processed_files":  b.ProcessedFiles,
		"failed_files":     b.FailedFiles,
		"total_missing":    summary.TotalMissingElements,
		"revenue_cents":    summary.EstimatedRevenueRecoveryCents,
		"avg_completeness": summary.AverageCompletenessScore,
		"avg_compliance":   summary.AverageComplianceScore,
	})
	metrics.IncBatchFinished(string(summary.Status))
	return nil
}

// settle brings the batch to its terminal status once dispatch is over.
// Documents this run left PENDING or PROCESSING are failed, counters that
// lost outcomes are rebuilt from the stored analyses, and the batch is
// finalized through Aggregate. A batch whose counters cannot be written
// stays PROCESSING and is picked up again by a later RunBatch.
func (r *run) settle() (claims.Batch, error) {
	s := r.svc
	b, err := s.Repo.GetBatch(r.store, r.batch.ID)
	if err != nil || b.Status.Terminal() {
		return b, err
	}

	if b.Status == claims.BatchProcessing {
		list, err := s.Repo.ListBatchAnalyses(r.store, b.ID)
		if err != nil {
			return b, err
		}
		list = r.releaseOrphans(list)
		if !b.Settled() {
			if b, err = r.reconcile(b, list); err != nil {
				return b, err
			}
		}
	}

	if err := r.finalize(b); err != nil {
		return b, err
	}
	return s.Repo.GetBatch(r.store, r.batch.ID)
}

// releaseOrphans fails analyses of this batch that never reached a terminal
// state, so later batches can reattach their files.
func (r *run) releaseOrphans(list []claims.Analysis) []claims.Analysis {
	for i, a := range list {
		if a.BatchID != r.batch.ID || (a.Status != claims.AnalysisPending && a.Status != claims.AnalysisProcessing) {
			continue
		}
		failure := claims.AnalysisFailure{
			Code:     string(analyses.KindPersistenceFailure),
			Message:  "no outcome was recorded for this document",
			Attempts: a.Attempts,
		}
		if err := r.svc.Repo.FailAnalysis(r.store, a.ID, failure, r.svc.now()); err != nil {
			telemetry.Error("batch.release_failed", telemetry.With(r.fields, "analysis_id", a.ID, "error", err))
			continue
		}
		list[i].Status = claims.AnalysisFailed
		list[i].ErrorCode = failure.Code
	}
	return list
}

// reconcile counts the outcomes missing from the counters. Every COMPLETED
// analysis the counters do not cover is counted processed and the rest of
// the remainder failed.
func (r *run) reconcile(b claims.Batch, list []claims.Analysis) (claims.Batch, error) {
	completed := 0
	for _, a := range list {
		if a.Status == claims.AnalysisCompleted {
			completed++
		}
	}
	remaining := b.TotalFiles - b.ProcessedFiles - b.FailedFiles
	processed := min(max(completed-b.ProcessedFiles, 0), remaining)
	failed := remaining - processed

	settled, err := r.increment(processed, failed)
	if err != nil {
		telemetry.Error("batch.reconcile_failed", telemetry.With(r.fields, "remaining", remaining, "error", err))
		return b, fmt.Errorf("reconcile batch %s: %w", b.ID, err)
	}
	metrics.IncBatchReconciled()
	telemetry.Warn("batch.reconciled", telemetry.With(r.fields,
		"remaining", remaining,
		"processed", processed,
		"failed", failed))

	if failed > 0 && !r.deferCounts {
		msg := fmt.Sprintf("%d files had no recorded outcome and were counted as failed", failed)
		if settled.ErrorMessage != nil {
			msg = *settled.ErrorMessage + "; " + msg
		}
		if err := r.svc.Repo.SetBatchError(r.store, b.ID, msg); err != nil {
			telemetry.Error("batch.error_write_failed", telemetry.With(r.fields, "error", err))
		}
	}
	return settled, nil
}

// resume picks up a PROCESSING batch whose run died. Documents stuck in
// PROCESSING are failed as interrupted, PENDING ones are dispatched again,
// files the dead run never claimed are claimed now and the counters are
// rebuilt in settle.
func (r *run) resume() (claims.Batch, error) {
	s := r.svc
	now := s.now()
	stale := s.staleAfter()
	if now.Sub(r.batch.UpdatedAt) < stale {
		return r.batch, fmt.Errorf("%w: %s progressed at %s", ErrResumeTooEarly, r.batch.ID, r.batch.UpdatedAt.Format(time.RFC3339))
	}

	list, err := s.Repo.ListBatchAnalyses(r.store, r.batch.ID)
	if err != nil {
		return r.batch, err
	}
	var (
		jobs        []job
		interrupted []claims.Analysis
		claimed     = make(map[string]bool, len(list))
	)
	for _, a := range list {
		claimed[a.SourceFileID] = true
		if a.BatchID != r.batch.ID {
			continue
		}
		switch a.Status {
		case claims.AnalysisProcessing:
			if now.Sub(a.UpdatedAt) < stale {
				return r.batch, fmt.Errorf("%w: analysis %s progressed at %s", ErrResumeTooEarly, a.ID, a.UpdatedAt.Format(time.RFC3339))
			}
			interrupted = append(interrupted, a)
		case claims.AnalysisPending:
			jobs = append(jobs, job{analysis: a, ref: source.FileRef{ID: a.SourceFileID, Name: a.FileName}})
		}
	}

	r.deferCounts = true
	metrics.IncBatchResumed()
	telemetry.Warn("batch.resumed", telemetry.With(r.fields,
		"claimed", len(list),
		"pending", len(jobs),
		"interrupted", len(interrupted),
		"total_files", r.batch.TotalFiles))

	for _, a := range interrupted {
		failure := claims.AnalysisFailure{
			Code:     analyses.CodeInterrupted,
			Message:  "processing was interrupted before an outcome was recorded",
			Attempts: a.Attempts,
		}
		if err := s.Repo.FailAnalysis(r.store, a.ID, failure, now); err != nil {
			telemetry.Error("batch.release_failed", telemetry.With(r.fields, "analysis_id", a.ID, "error", err))
		}
	}

	if unclaimed := r.batch.TotalFiles - len(list); unclaimed > 0 {
		refs, err := r.list()
		if err != nil {
			telemetry.Warn("batch.resume_list_failed", telemetry.With(r.fields, "unclaimed", unclaimed, "error", err))
		} else {
			var fresh []source.FileRef
			for _, ref := range dedupe(refs) {
				if !claimed[ref.ID] && len(fresh) < unclaimed {
					fresh = append(fresh, ref)
				}
			}
			jobs = append(jobs, r.reserve(fresh)...)
		}
	}

	r.dispatch(jobs)
	return r.settle()
}

func (r *run) logTransition(from, to claims.BatchStatus, extra map[string]any) {
	fields := telemetry.With(r.fields, "status_transition", claims.Transition(from, to))
	for k, v := range extra {
		fields[k] = v
	}
	telemetry.Info("batch.transition", fields)
}

func dedupe(refs []source.FileRef) []source.FileRef {
	seen := make(map[string]bool, len(refs))
	out := make([]source.FileRef, 0, len(refs))
	for _, ref := range refs {
		if seen[ref.ID] {
			continue
		}
		seen[ref.ID] = true
		out = append(out, ref)
	}
	return out
}
