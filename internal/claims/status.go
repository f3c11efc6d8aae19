package claims

// BatchStatus is the lifecycle state of a ClaimAnalysisBatch.
type BatchStatus string

const (
	BatchPending    BatchStatus = "PENDING"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchPartial    BatchStatus = "PARTIAL"
	BatchFailed     BatchStatus = "FAILED"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	// PENDING may jump straight to a terminal state: an empty folder completes
	// without work and a folder that cannot be listed fails before dispatch.
	BatchPending:    {BatchProcessing, BatchCompleted, BatchFailed},
	BatchProcessing: {BatchCompleted, BatchPartial, BatchFailed},
}

// Valid reports whether s is one of the known batch states.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchProcessing, BatchCompleted, BatchPartial, BatchFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchPartial || s == BatchFailed
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AnalysisStatus is the lifecycle state of a single ClaimAnalysis.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "PENDING"
	AnalysisProcessing AnalysisStatus = "PROCESSING"
	AnalysisCompleted  AnalysisStatus = "COMPLETED"
	AnalysisFailed     AnalysisStatus = "FAILED"
)

var analysisTransitions = map[AnalysisStatus][]AnalysisStatus{
	AnalysisPending:    {AnalysisProcessing, AnalysisFailed},
	AnalysisProcessing: {AnalysisCompleted, AnalysisFailed},
	// A failed document is re-queued when a later batch covers the same file.
	AnalysisFailed: {AnalysisPending},
}

// Valid reports whether s is one of the known analysis states.
func (s AnalysisStatus) Valid() bool {
	switch s {
	case AnalysisPending, AnalysisProcessing, AnalysisCompleted, AnalysisFailed:
		return true
	}
	return false
}

// Terminal reports whether the worker is done with the document.
func (s AnalysisStatus) Terminal() bool {
	return s == AnalysisCompleted || s == AnalysisFailed
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s AnalysisStatus) CanTransitionTo(next AnalysisStatus) bool {
	for _, allowed := range analysisTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition renders a status change the way log lines record it.
func Transition[S ~string](from, to S) string {
	return string(from) + "->" + string(to)
}
