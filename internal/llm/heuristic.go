package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/scoring"
)

// Heuristic is an offline extractor: labelled-field regexes for metadata and
// checklist keyword absence for gaps. It needs no network access.
type Heuristic struct {
	Table *scoring.Table
}

var fieldPatterns = []struct {
	re  *regexp.Regexp
	set func(*claims.Fields, string)
}{
	{regexp.MustCompile(`(?im)^\s*claim\s*(?:no\.?|number|#|ref(?:erence)?)\s*[:#]?\s*([A-Za-z0-9][A-Za-z0-9\-/]*)`), func(f *claims.Fields, v string) { f.ClaimNumber = v }},
	{regexp.MustCompile(`(?im)^\s*(?:property|site|loss)\s*address\s*:\s*(.+)$`), func(f *claims.Fields, v string) { f.PropertyAddress = v }},
	{regexp.MustCompile(`(?im)^\s*(?:technician|assessor|inspected by)(?:\s*name)?\s*:\s*(.+)$`), func(f *claims.Fields, v string) { f.TechnicianName = v }},
	{regexp.MustCompile(`(?im)^\s*date\s*of\s*loss\s*:\s*(.+)$`), func(f *claims.Fields, v string) { f.DateOfLoss = normalizeDate(v) }},
	{regexp.MustCompile(`(?im)^\s*(?:inspection|attendance)\s*date\s*:\s*(.+)$`), func(f *claims.Fields, v string) { f.InspectionDate = normalizeDate(v) }},
	{regexp.MustCompile(`(?im)^\s*(?:insurer|insurance company)\s*:\s*(.+)$`), func(f *claims.Fields, v string) { f.InsurerName = v }},
}

var dateLayouts = []string{
	claims.DateLayout,
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

func normalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(claims.DateLayout)
		}
	}
	// Left as-is so validation can reject it.
	return s
}

func (h Heuristic) Extract(ctx context.Context, input ExtractInput) (Extraction, error) {
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return Extraction{}, fmt.Errorf("%w: empty document text", ErrUnparseable)
	}
	table := h.Table
	if table == nil {
		table = scoring.DefaultTable()
	}

	var ext Extraction
	found := 0
	for _, p := range fieldPatterns {
		m := p.re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if v := strings.TrimSpace(m[1]); v != "" {
			p.set(&ext.Fields, v)
			found++
		}
	}

	rt := input.ReportTypeHint
	if rt == "" {
		rt = scoring.DetectReportType(text)
	}
	ext.ReportType = rt

	lower := strings.ToLower(text)
	for _, el := range table.Checklist(rt) {
		if mentionsAny(lower, el.Keywords) {
			continue
		}
		ext.GapCandidates = append(ext.GapCandidates, claims.GapCandidate{
			ElementType: el.Type,
			Description: el.Description,
			Category:    el.Category,
			Severity:    el.Severity,
		})
	}

	ext.Confidence = 0.3
	if found > 0 {
		ext.Confidence = 0.9
	}
	return ext, nil
}

func mentionsAny(lower string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			return true
		}
	}
	return false
}

var _ Extractor = Heuristic{}
