package claims

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAnalysisInFlight  = errors.New("analysis already in progress")
	ErrCounterOverflow   = errors.New("batch counters exceed total files")
	ErrNotSettled        = errors.New("batch has unsettled files")
)
