package claims

import "strings"

// Category classifies a missing element.
type Category string

const (
	CategoryIICRCCompliance       Category = "IICRC_COMPLIANCE"
	CategoryOHSPolicy             Category = "OHS_POLICY"
	CategoryWorkingAtHeights      Category = "WORKING_AT_HEIGHTS"
	CategoryConfinedSpaces        Category = "CONFINED_SPACES"
	CategoryPPE                   Category = "PPE"
	CategoryBillingItem           Category = "BILLING_ITEM"
	CategoryDocumentation         Category = "DOCUMENTATION"
	CategoryScopeOfWorks          Category = "SCOPE_OF_WORKS"
	CategoryJobCosting            Category = "JOB_COSTING"
	CategoryEnvironmentalControls Category = "ENVIRONMENTAL_CONTROLS"
	CategoryWasteDisposal         Category = "WASTE_DISPOSAL"
	CategoryQualityControl        Category = "QUALITY_CONTROL"
	CategoryOther                 Category = "OTHER"
)

// Categories lists every category in a stable order.
var Categories = []Category{
	CategoryIICRCCompliance,
	CategoryOHSPolicy,
	CategoryWorkingAtHeights,
	CategoryConfinedSpaces,
	CategoryPPE,
	CategoryBillingItem,
	CategoryDocumentation,
	CategoryScopeOfWorks,
	CategoryJobCosting,
	CategoryEnvironmentalControls,
	CategoryWasteDisposal,
	CategoryQualityControl,
	CategoryOther,
}

// ParseCategory normalizes free-form input. Unknown values map to OTHER.
func ParseCategory(raw string) Category {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	for _, c := range Categories {
		if string(c) == normalized {
			return c
		}
	}
	return CategoryOther
}

// Severity is the ordinal urgency of a gap.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Weight is the deficit a gap of this severity costs its sub-score.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 20
	case SeverityMedium:
		return 10
	case SeverityLow:
		return 5
	}
	return 0
}

// Rank orders severities; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// MaxSeverity returns the more urgent of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// ParseSeverity normalizes free-form input. Unknown values map to MEDIUM.
func ParseSeverity(raw string) Severity {
	switch s := Severity(strings.ToUpper(strings.TrimSpace(raw))); s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return s
	}
	return SeverityMedium
}

// ReportType is the kind of restoration job a document describes.
type ReportType string

const (
	ReportWaterDamage ReportType = "WATER_DAMAGE"
	ReportMould       ReportType = "MOULD"
	ReportFireSmoke   ReportType = "FIRE_SMOKE"
	ReportBiohazard   ReportType = "BIOHAZARD"
	ReportGeneral     ReportType = "GENERAL"
)

// Standard returns the IICRC standard that governs the report type.
func (r ReportType) Standard() string {
	switch r {
	case ReportWaterDamage:
		return "IICRC S500"
	case ReportMould:
		return "IICRC S520"
	case ReportFireSmoke:
		return "IICRC S700"
	case ReportBiohazard:
		return "IICRC S540"
	}
	return "General"
}

// ParseReportType normalizes free-form input. Unknown values map to GENERAL.
func ParseReportType(raw string) ReportType {
	switch r := ReportType(strings.ToUpper(strings.TrimSpace(raw))); r {
	case ReportWaterDamage, ReportMould, ReportFireSmoke, ReportBiohazard:
		return r
	}
	return ReportGeneral
}
