package scoring

import (
	"math"
	"sort"
	"strings"

	"claims-backend/internal/claims"
)

// Group is a sub-score bucket of gap categories.
type Group string

const (
	GroupCompliance      Group = "compliance"
	GroupStandardization Group = "standardization"
	GroupDocumentation   Group = "documentation"
	GroupBillingAccuracy Group = "billingAccuracy"
)

var categoryGroups = map[claims.Category]Group{
	claims.CategoryIICRCCompliance:       GroupCompliance,
	claims.CategoryOHSPolicy:             GroupCompliance,
	claims.CategoryWorkingAtHeights:      GroupCompliance,
	claims.CategoryConfinedSpaces:        GroupCompliance,
	claims.CategoryPPE:                   GroupCompliance,
	claims.CategoryEnvironmentalControls: GroupCompliance,
	claims.CategoryWasteDisposal:         GroupCompliance,
	claims.CategoryDocumentation:         GroupDocumentation,
	claims.CategoryBillingItem:           GroupBillingAccuracy,
	claims.CategoryJobCosting:            GroupBillingAccuracy,
	claims.CategoryScopeOfWorks:          GroupStandardization,
	claims.CategoryQualityControl:        GroupStandardization,
	claims.CategoryOther:                 GroupStandardization,
}

// GroupOf returns the sub-score a category contributes to.
func GroupOf(c claims.Category) Group {
	if g, ok := categoryGroups[c]; ok {
		return g
	}
	return GroupStandardization
}

var fieldAccessors = map[string]func(claims.Fields) string{
	"claimNumber":     func(f claims.Fields) string { return f.ClaimNumber },
	"propertyAddress": func(f claims.Fields) string { return f.PropertyAddress },
	"technicianName":  func(f claims.Fields) string { return f.TechnicianName },
	"dateOfLoss":      func(f claims.Fields) string { return f.DateOfLoss },
	"inspectionDate":  func(f claims.Fields) string { return f.InspectionDate },
	"insurerName":     func(f claims.Fields) string { return f.InsurerName },
}

// Result is the scored outcome for one document.
type Result struct {
	Scores          claims.SubScores
	Elements        []claims.MissingElement
	MissingCounts   map[claims.Category]int
	MissingRequired []string
	RevenueCents    int64
	Hours           float64
}

// Engine scores extracted fields and gap candidates against a reference table.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	table *Table
}

func NewEngine(table *Table) *Engine {
	if table == nil {
		table = DefaultTable()
	}
	return &Engine{table: table}
}

func (e *Engine) Table() *Table { return e.table }

// Score classifies the candidates and computes the bounded sub-scores.
func (e *Engine) Score(fields claims.Fields, candidates []claims.GapCandidate, rt claims.ReportType) Result {
	res := Result{MissingCounts: map[claims.Category]int{}}

	for _, name := range e.table.RequiredFields {
		if strings.TrimSpace(fieldAccessors[name](fields)) == "" {
			res.MissingRequired = append(res.MissingRequired, name)
		}
	}
	required := len(e.table.RequiredFields)
	res.Scores.Completeness = bounded(100 - float64(len(res.MissingRequired))/float64(required)*100)

	res.Elements = e.Classify(candidates)

	deficit := map[Group]int{}
	for _, el := range res.Elements {
		deficit[GroupOf(el.Category)] += el.Severity.Weight()
		res.MissingCounts[el.Category]++
		if el.IsBillable {
			res.RevenueCents += el.EstimatedCostCents
		}
		res.Hours += el.EstimatedHours
	}
	res.Hours = round2(res.Hours)

	maxWeight := e.MaxWeights(rt)
	res.Scores.Compliance = groupScore(deficit[GroupCompliance], maxWeight[GroupCompliance])
	res.Scores.Standardization = groupScore(deficit[GroupStandardization], maxWeight[GroupStandardization])
	res.Scores.Documentation = groupScore(deficit[GroupDocumentation], maxWeight[GroupDocumentation])
	res.Scores.BillingAccuracy = groupScore(deficit[GroupBillingAccuracy], maxWeight[GroupBillingAccuracy])
	return res
}

// MaxWeights sums the default severity weights of the checklist per group.
func (e *Engine) MaxWeights(rt claims.ReportType) map[Group]int {
	out := map[Group]int{}
	for _, el := range e.table.Checklist(rt) {
		cat := claims.ParseCategory(el.Category)
		out[GroupOf(cat)] += claims.ParseSeverity(el.Severity).Weight()
	}
	return out
}

// Classify maps candidates onto the reference table, collapses duplicates
// and sorts by (category, elementType).
func (e *Engine) Classify(candidates []claims.GapCandidate) []claims.MissingElement {
	byType := make(map[string]claims.MissingElement, len(candidates))
	for _, c := range candidates {
		key := normalizeType(c.ElementType)
		if key == "" {
			continue
		}
		el := e.classifyOne(key, c)
		if prev, ok := byType[key]; ok {
			prev.Severity = claims.MaxSeverity(prev.Severity, el.Severity)
			if prev.Description == "" {
				prev.Description = el.Description
			}
			byType[key] = prev
			continue
		}
		byType[key] = el
	}

	out := make([]claims.MissingElement, 0, len(byType))
	for _, el := range byType {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ElementType < out[j].ElementType
	})
	return out
}

func (e *Engine) classifyOne(key string, c claims.GapCandidate) claims.MissingElement {
	if std, ok := e.table.Lookup(key); ok {
		el := claims.MissingElement{
			ElementType:       key,
			Description:       std.Description,
			Category:          claims.ParseCategory(std.Category),
			Severity:          claims.ParseSeverity(std.Severity),
			IsBillable:        std.Billable,
			StandardReference: std.StandardReference,
		}
		if std.Billable {
			el.EstimatedCostCents = std.CostCents
			el.EstimatedHours = std.Hours
			el.SuggestedLineItem = std.LineItem
		}
		return el
	}
	return claims.MissingElement{
		ElementType: key,
		Description: strings.TrimSpace(c.Description),
		Category:    claims.ParseCategory(c.Category),
		Severity:    claims.ParseSeverity(c.Severity),
	}
}

func groupScore(deficit, limit int) float64 {
	if limit <= 0 {
		if deficit > 0 {
			return 0
		}
		return 100
	}
	return bounded(100 - float64(deficit)/float64(limit)*100)
}

func bounded(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return round2(math.Max(0, math.Min(100, v)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
