package claims

import "testing"

func TestBatchStatusTransitions(t *testing.T) {
	tests := []struct {
		from BatchStatus
		to   BatchStatus
		want bool
	}{
		{BatchPending, BatchProcessing, true},
		{BatchPending, BatchCompleted, true},
		{BatchPending, BatchFailed, true},
		{BatchPending, BatchPartial, false},
		{BatchProcessing, BatchCompleted, true},
		{BatchProcessing, BatchPartial, true},
		{BatchProcessing, BatchFailed, true},
		{BatchProcessing, BatchPending, false},
		{BatchCompleted, BatchProcessing, false},
		{BatchPartial, BatchCompleted, false},
		{BatchFailed, BatchPending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Fatalf("%s: got %v, want %v", Transition(tt.from, tt.to), got, tt.want)
		}
	}
}

func TestAnalysisStatusTransitions(t *testing.T) {
	if !AnalysisPending.CanTransitionTo(AnalysisProcessing) {
		t.Fatalf("expected PENDING->PROCESSING")
	}
	if AnalysisPending.CanTransitionTo(AnalysisCompleted) {
		t.Fatalf("PENDING must not complete without processing")
	}
	if AnalysisCompleted.CanTransitionTo(AnalysisPending) {
		t.Fatalf("COMPLETED is final")
	}
	if !AnalysisFailed.CanTransitionTo(AnalysisPending) {
		t.Fatalf("expected FAILED->PENDING for re-runs")
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []BatchStatus{BatchCompleted, BatchPartial, BatchFailed} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []BatchStatus{BatchPending, BatchProcessing} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestParseTaxonomy(t *testing.T) {
	if got := ParseCategory("working at heights"); got != CategoryWorkingAtHeights {
		t.Fatalf("ParseCategory: got %s", got)
	}
	if got := ParseCategory("something-new"); got != CategoryOther {
		t.Fatalf("unknown category should map to OTHER, got %s", got)
	}
	if got := ParseSeverity(" high "); got != SeverityHigh {
		t.Fatalf("ParseSeverity: got %s", got)
	}
	if got := ParseSeverity(""); got != SeverityMedium {
		t.Fatalf("empty severity should default to MEDIUM, got %s", got)
	}
	if got := MaxSeverity(SeverityLow, SeverityCritical); got != SeverityCritical {
		t.Fatalf("MaxSeverity: got %s", got)
	}
	if len(Categories) != 13 {
		t.Fatalf("expected 13 categories, got %d", len(Categories))
	}
}
