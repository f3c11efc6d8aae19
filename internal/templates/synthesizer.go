package templates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"claims-backend/internal/claims"
	"claims-backend/internal/shared/telemetry"
)

var (
	ErrEmptyCorpus      = errors.New("no completed analyses to synthesize from")
	ErrBatchNotFound    = errors.New("batch not found")
	ErrInvalidThreshold = errors.New("threshold must be in (0, 1]")
)

// DefaultThreshold is the share of analyses that must miss an element for
// it to enter the template.
const DefaultThreshold = 0.6

// Options tunes one synthesis run.
type Options struct {
	Threshold      float64
	IncludeHistory bool
	// TemplateType defaults to the most common report type of the corpus.
	TemplateType string
}

// Synthesizer promotes recurring gaps into a canonical template.
type Synthesizer struct {
	Repo  claims.Repo
	Now   func() time.Time
	NewID func() string
}

// Synthesize builds and upserts the owner's template for a batch's corpus.
func (s *Synthesizer) Synthesize(ctx context.Context, ownerID, batchID string, opts Options) (claims.Template, error) {
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return claims.Template{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}

	batch, err := s.Repo.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, claims.ErrNotFound) {
			return claims.Template{}, ErrBatchNotFound
		}
		return claims.Template{}, err
	}
	if batch.OwnerID != ownerID {
		return claims.Template{}, ErrBatchNotFound
	}

	corpus, err := s.corpus(ctx, ownerID, batchID, opts.IncludeHistory)
	if err != nil {
		return claims.Template{}, err
	}
	if len(corpus) == 0 {
		return claims.Template{}, ErrEmptyCorpus
	}

	ids := make([]string, len(corpus))
	for i, a := range corpus {
		ids[i] = a.ID
	}
	elements, err := s.Repo.ListMissingElements(ctx, ids)
	if err != nil {
		return claims.Template{}, fmt.Errorf("list missing elements: %w", err)
	}

	templateType := strings.TrimSpace(opts.TemplateType)
	if templateType == "" {
		templateType = string(dominantReportType(corpus))
	}

	existing, err := s.Repo.ListTemplates(ctx, ownerID, templateType)
	if err != nil {
		return claims.Template{}, fmt.Errorf("list templates: %w", err)
	}

	now := s.now()
	tmpl := claims.Template{
		ID:                   s.newID(),
		OwnerID:              ownerID,
		TemplateType:         templateType,
		Structure:            Build(corpus, elements, threshold),
		GeneratedFromBatchID: batchID,
		BasedOnAnalysisCount: len(corpus),
		Threshold:            threshold,
		IsDefault:            len(existing) == 0,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	saved, err := s.Repo.UpsertTemplate(ctx, tmpl)
	if err != nil {
		return claims.Template{}, fmt.Errorf("upsert template: %w", err)
	}

	telemetry.Info("template.synthesized", telemetry.Fields(ctx, map[string]any{
		"batch_id":       batchID,
		"owner_id":       ownerID,
		"template_type":  templateType,
		"analyses":       len(corpus),
		"checklist_size": len(saved.Structure.Checklist),
		"line_items":     len(saved.Structure.LineItems),
	}))
	return saved, nil
}

// List returns an owner's templates, optionally of one type.
func (s *Synthesizer) List(ctx context.Context, ownerID, templateType string) ([]claims.Template, error) {
	return s.Repo.ListTemplates(ctx, ownerID, strings.TrimSpace(templateType))
}

func (s *Synthesizer) corpus(ctx context.Context, ownerID, batchID string, includeHistory bool) ([]claims.Analysis, error) {
	batchAnalyses, err := s.Repo.ListBatchAnalyses(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("list batch analyses: %w", err)
	}
	all := batchAnalyses
	if includeHistory {
		history, err := s.Repo.ListCompletedByOwner(ctx, ownerID)
		if err != nil {
			return nil, fmt.Errorf("list owner history: %w", err)
		}
		all = append(append([]claims.Analysis(nil), batchAnalyses...), history...)
	}

	seen := make(map[string]bool, len(all))
	var out []claims.Analysis
	for _, a := range all {
		if a.Status != claims.AnalysisCompleted || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out, nil
}

func (s *Synthesizer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Synthesizer) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

type tally struct {
	entry     claims.ChecklistEntry
	lineItem  string
	billable  bool
	costCents int64
	hours     float64
	seen      map[string]bool
}

// Build computes the template structure for a corpus. An element type enters
// the checklist when it is missing from at least threshold of the analyses.
func Build(corpus []claims.Analysis, elements map[string][]claims.MissingElement, threshold float64) claims.TemplateStructure {
	n := len(corpus)
	tallies := map[string]*tally{}
	for _, a := range corpus {
		for _, el := range elements[a.ID] {
			key := string(el.Category) + "\x00" + el.ElementType
			t, ok := tallies[key]
			if !ok {
				t = &tally{
					entry: claims.ChecklistEntry{
						ElementType: el.ElementType,
						Category:    el.Category,
						Severity:    el.Severity,
					},
					seen: map[string]bool{},
				}
				tallies[key] = t
			}
			if t.seen[a.ID] {
				continue
			}
			t.seen[a.ID] = true
			t.entry.Severity = claims.MaxSeverity(t.entry.Severity, el.Severity)
			if t.entry.Description == "" {
				t.entry.Description = el.Description
			}
			if t.entry.StandardReference == "" {
				t.entry.StandardReference = el.StandardReference
			}
			if t.lineItem == "" {
				t.lineItem = el.SuggestedLineItem
			}
			if el.IsBillable {
				t.billable = true
				t.costCents += el.EstimatedCostCents
				t.hours += el.EstimatedHours
			}
		}
	}

	structure := claims.TemplateStructure{
		Checklist: []claims.ChecklistEntry{},
		LineItems: []claims.LineItem{},
	}
	keys := make([]string, 0, len(tallies))
	for k := range tallies {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		t := tallies[k]
		count := len(t.seen)
		if float64(count) < threshold*float64(n)-1e-9 {
			continue
		}
		t.entry.Occurrences = count
		t.entry.Frequency = math.Round(float64(count)/float64(n)*10000) / 10000
		structure.Checklist = append(structure.Checklist, t.entry)

		if t.billable {
			desc := t.lineItem
			if desc == "" {
				desc = t.entry.Description
			}
			structure.LineItems = append(structure.LineItems, claims.LineItem{
				ElementType:        t.entry.ElementType,
				Description:        desc,
				EstimatedCostCents: (t.costCents + int64(count)/2) / int64(count),
				EstimatedHours:     math.Round(t.hours/float64(count)*100) / 100,
			})
		}
	}
	return structure
}

func dominantReportType(corpus []claims.Analysis) claims.ReportType {
	counts := map[claims.ReportType]int{}
	for _, a := range corpus {
		rt := a.ReportType
		if rt == "" {
			rt = claims.ReportGeneral
		}
		counts[rt]++
	}
	best := claims.ReportGeneral
	bestCount := 0
	for rt, c := range counts {
		if c > bestCount || (c == bestCount && rt < best) {
			best, bestCount = rt, c
		}
	}
	return best
}
