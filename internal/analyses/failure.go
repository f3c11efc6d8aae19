package analyses

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"claims-backend/internal/llm"
	"claims-backend/internal/source"
)

// Kind is the failure taxonomy of a document.
type Kind string

const (
	KindSourceUnavailable       Kind = "SOURCE_UNAVAILABLE"
	KindExtractionFailure       Kind = "EXTRACTION_FAILED"
	KindExtractionLowConfidence Kind = "LOW_CONFIDENCE"
	KindValidationFailure       Kind = "VALIDATION_FAILED"
	KindDocumentUnusable        Kind = "DOCUMENT_UNUSABLE"
	// KindPersistenceFailure is a store failure; it is reported to the batch
	// rather than attributed to the document.
	KindPersistenceFailure Kind = "PERSISTENCE_FAILED"
)

// Codes recorded by the orchestrator for files that never reached a worker.
const (
	CodeInFlightElsewhere = "IN_FLIGHT_ELSEWHERE"
	CodeCancelled         = "CANCELLED"
	CodeAborted           = "ABORTED"
	// CodeInterrupted marks a document left PROCESSING by a run that died.
	CodeInterrupted = "INTERRUPTED"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindSourceUnavailable || k == KindExtractionFailure
}

// Failure is a classified document error.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Message is the human readable part recorded on the analysis.
func (f *Failure) Message() string {
	if f.Err == nil {
		return string(f.Kind)
	}
	return sanitizeError(f.Err)
}

func newFailure(kind Kind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsPersistence reports whether err is a store failure.
func IsPersistence(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == KindPersistenceFailure
}

type stage int

const (
	stageFetch stage = iota
	stageExtract
)

// classify maps a collaborator error onto the taxonomy.
func classify(err error, at stage) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}
	switch {
	case errors.Is(err, source.ErrNotFound),
		errors.Is(err, source.ErrPermissionDenied),
		errors.Is(err, source.ErrUnusable),
		errors.Is(err, llm.ErrUnparseable):
		return newFailure(KindDocumentUnusable, err)
	case errors.Is(err, source.ErrUnavailable):
		return newFailure(KindSourceUnavailable, err)
	case errors.Is(err, llm.ErrLowConfidence):
		return newFailure(KindExtractionLowConfidence, err)
	}
	if at == stageFetch {
		return newFailure(KindSourceUnavailable, err)
	}
	// Unknown extractor errors are retried; the attempt cap bounds them.
	return newFailure(KindExtractionFailure, err)
}

func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"status code: 5", "server_error", "rate limit", "timeout",
		"connection reset", "connection refused", "broken pipe", "eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// retryableError is the predicate used by the default retry policy.
func retryableError(err error) bool {
	if f, ok := AsFailure(err); ok {
		return f.Kind.Retryable()
	}
	return transient(err)
}

func sanitizeError(err error) string {
	msg := strings.TrimSpace(err.Error())
	msg = strings.ReplaceAll(msg, "\n", " ")
	return truncateRunes(msg, maxErrorRunes)
}

const maxErrorRunes = 500

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
