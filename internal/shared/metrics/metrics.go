package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	documentStartedTotal   atomic.Uint64
	documentCompletedTotal atomic.Uint64
	documentFailedTotal    atomic.Uint64
	documentRetriesTotal   atomic.Uint64
	documentReusedTotal    atomic.Uint64
	batchStartedTotal      atomic.Uint64
	batchResumedTotal      atomic.Uint64
	batchReconciledTotal   atomic.Uint64

	batchJobsReceivedTotal      atomic.Uint64
	batchJobsCompletedTotal     atomic.Uint64
	batchJobsFailedTotal        atomic.Uint64
	batchJobsUnrecoverableTotal atomic.Uint64

	batchFinished = newLabeledCounter()

	documentDuration = newHistogram([]float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000, 180000})
)

func IncDocumentStarted()   { documentStartedTotal.Add(1) }
func IncDocumentCompleted() { documentCompletedTotal.Add(1) }
func IncDocumentFailed()    { documentFailedTotal.Add(1) }
func IncDocumentReused()    { documentReusedTotal.Add(1) }

// IncDocumentRetry counts attempts beyond the first.
func IncDocumentRetry() { documentRetriesTotal.Add(1) }

func IncBatchStarted() { batchStartedTotal.Add(1) }

// IncBatchResumed counts PROCESSING batches picked up again after an interruption.
func IncBatchResumed() { batchResumedTotal.Add(1) }

// IncBatchReconciled counts batches whose counters were rebuilt from stored outcomes.
func IncBatchReconciled() { batchReconciledTotal.Add(1) }

// IncBatchFinished counts terminal batches by status.
func IncBatchFinished(status string) {
	batchFinished.Inc(status)
}

// Queue-driven batch runs.
func IncBatchJobsReceived()      { batchJobsReceivedTotal.Add(1) }
func IncBatchJobsCompleted()     { batchJobsCompletedTotal.Add(1) }
func IncBatchJobsFailed()        { batchJobsFailedTotal.Add(1) }
func IncBatchJobsUnrecoverable() { batchJobsUnrecoverableTotal.Add(1) }

// ObserveDocumentDurationMs records a document processing duration in milliseconds.
func ObserveDocumentDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	documentDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "claim_documents_started_total", "Documents dispatched to a worker", documentStartedTotal.Load())
	writeCounter(&buf, "claim_documents_completed_total", "Documents analysed successfully", documentCompletedTotal.Load())
	writeCounter(&buf, "claim_documents_failed_total", "Documents that ended FAILED", documentFailedTotal.Load())
	writeCounter(&buf, "claim_documents_reused_total", "Documents covered by an earlier completed analysis", documentReusedTotal.Load())
	writeCounter(&buf, "claim_document_retries_total", "Document attempts beyond the first", documentRetriesTotal.Load())
	writeCounter(&buf, "claim_batches_started_total", "Batches started", batchStartedTotal.Load())
	writeCounter(&buf, "claim_batches_resumed_total", "Interrupted batches resumed", batchResumedTotal.Load())
	writeCounter(&buf, "claim_batches_reconciled_total", "Batches whose counters were rebuilt from stored outcomes", batchReconciledTotal.Load())
	writeCounter(&buf, "claim_batch_jobs_received_total", "Batch run messages received from the queue", batchJobsReceivedTotal.Load())
	writeCounter(&buf, "claim_batch_jobs_completed_total", "Batch run messages handled and deleted", batchJobsCompletedTotal.Load())
	writeCounter(&buf, "claim_batch_jobs_failed_total", "Batch run messages left for redelivery", batchJobsFailedTotal.Load())
	writeCounter(&buf, "claim_batch_jobs_unrecoverable_total", "Batch run messages deleted without running", batchJobsUnrecoverableTotal.Load())
	writeLabeledCounter(&buf, "claim_batches_finished_total", "Batches reaching a terminal status", "status", batchFinished.Snapshot())
	writeHistogram(&buf, "claim_document_duration_ms", "Document processing duration in milliseconds", documentDuration.Snapshot())
	return buf.String()
}

type labeledCounter struct {
	mu     sync.Mutex
	values map[string]uint64
}

func newLabeledCounter() *labeledCounter {
	return &labeledCounter{values: map[string]uint64{}}
}

func (l *labeledCounter) Inc(label string) {
	l.mu.Lock()
	l.values[label]++
	l.mu.Unlock()
}

func (l *labeledCounter) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]uint64, len(l.values))
	for k, v := range l.values {
		out[k] = v
	}
	return out
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe records value in the first bucket that holds it; Render accumulates.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeLabeledCounter(buf *bytes.Buffer, name, help, label string, values map[string]uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
