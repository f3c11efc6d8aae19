package scoring

import (
	"strings"

	"claims-backend/internal/claims"
)

var reportKeywords = []struct {
	words []string
	rt    claims.ReportType
}{
	{[]string{"water"}, claims.ReportWaterDamage},
	{[]string{"mould", "mold"}, claims.ReportMould},
	{[]string{"fire", "smoke"}, claims.ReportFireSmoke},
	{[]string{"bio", "crime"}, claims.ReportBiohazard},
}

// DetectReportType guesses the report type from document text or a file
// name. First match wins; no match is GENERAL.
func DetectReportType(text string) claims.ReportType {
	lower := strings.ToLower(text)
	for _, k := range reportKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				return k.rt
			}
		}
	}
	return claims.ReportGeneral
}
