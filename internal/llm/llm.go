package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"claims-backend/internal/claims"
)

// Extractor turns document text into structured fields and gap candidates.
type Extractor interface {
	Extract(ctx context.Context, input ExtractInput) (Extraction, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, input ExtractInput) (Extraction, error)

func (f ExtractorFunc) Extract(ctx context.Context, input ExtractInput) (Extraction, error) {
	return f(ctx, input)
}

// ExtractInput captures the inputs needed for one extraction.
type ExtractInput struct {
	Text           string
	FileName       string
	ReportTypeHint claims.ReportType
}

// Extraction is the structured output of an extractor.
type Extraction struct {
	Fields        claims.Fields         `json:"fields"`
	GapCandidates []claims.GapCandidate `json:"gapCandidates"`
	ReportType    claims.ReportType     `json:"reportType,omitempty"`
	Confidence    float64               `json:"confidence"`
}

var (
	// ErrLowConfidence means the extractor produced output it does not trust.
	ErrLowConfidence = errors.New("extraction confidence below threshold")
	// ErrUnparseable means the input or the model output could not be interpreted.
	ErrUnparseable = errors.New("extraction input unparseable")
)

// DefaultMaxChars bounds the text sent to an extractor.
const DefaultMaxChars = 16000

const truncationMarker = "\n\n[Text truncated for analysis...]"

// Truncate cuts text to maxChars runes and appends a marker when it did.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + truncationMarker
}

// CheckConfidence rejects extractions scored below min.
func CheckConfidence(ext Extraction, min float64) error {
	if ext.Confidence < min {
		return fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, ext.Confidence, min)
	}
	return nil
}

// StripCodeFence removes a surrounding markdown code fence from model output.
func StripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return ""
	}
	lines = lines[1:]
	if last := strings.TrimSpace(lines[len(lines)-1]); strings.HasPrefix(last, "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
