package cli

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"claims-backend/internal/analyses"
	"claims-backend/internal/claims"
)

type batchView struct {
	ID                   string     `yaml:"id"`
	Folder               string     `yaml:"folder"`
	Status               string     `yaml:"status"`
	TotalFiles           int        `yaml:"totalFiles"`
	ProcessedFiles       int        `yaml:"processedFiles"`
	FailedFiles          int        `yaml:"failedFiles"`
	AverageCompleteness  float64    `yaml:"averageCompleteness"`
	AverageCompliance    float64    `yaml:"averageCompliance"`
	TotalMissingElements int        `yaml:"totalMissingElements"`
	RevenueRecovery      string     `yaml:"estimatedRevenueRecovery"`
	Error                string     `yaml:"error,omitempty"`
	Files                []fileView `yaml:"files,omitempty"`
}

type fileView struct {
	Name         string  `yaml:"name"`
	Status       string  `yaml:"status"`
	ReportType   string  `yaml:"reportType,omitempty"`
	Completeness float64 `yaml:"completeness"`
	Compliance   float64 `yaml:"compliance"`
	Missing      int     `yaml:"missing"`
	Error        string  `yaml:"error,omitempty"`
}

type templateView struct {
	ID            string          `yaml:"id"`
	Type          string          `yaml:"type"`
	BasedOn       int             `yaml:"basedOnAnalyses"`
	Threshold     float64         `yaml:"threshold"`
	Default       bool            `yaml:"default"`
	Checklist     []checklistView `yaml:"checklist"`
	LineItems     []lineItemView  `yaml:"lineItems,omitempty"`
	SourceBatchID string          `yaml:"sourceBatch"`
}

type checklistView struct {
	Element   string  `yaml:"element"`
	Category  string  `yaml:"category"`
	Severity  string  `yaml:"severity"`
	Frequency float64 `yaml:"frequency"`
}

type lineItemView struct {
	Element string  `yaml:"element"`
	Item    string  `yaml:"item"`
	Cost    string  `yaml:"cost"`
	Hours   float64 `yaml:"hours"`
}

type analysisLister interface {
	ListAnalyses(ctx context.Context, ownerID, batchID string) ([]analyses.Detail, error)
}

func newBatchView(b claims.Batch) batchView {
	v := batchView{
		ID:                   b.ID,
		Folder:               b.FolderID,
		Status:               string(b.Status),
		TotalFiles:           b.TotalFiles,
		ProcessedFiles:       b.ProcessedFiles,
		FailedFiles:          b.FailedFiles,
		AverageCompleteness:  b.AverageCompletenessScore,
		AverageCompliance:    b.AverageComplianceScore,
		TotalMissingElements: b.TotalMissingElements,
		RevenueRecovery:      dollars(b.EstimatedRevenueRecoveryCents),
	}
	if b.ErrorMessage != nil {
		v.Error = *b.ErrorMessage
	}
	return v
}

func withFiles(ctx context.Context, svc analysisLister, ownerID string, v batchView) (batchView, error) {
	details, err := svc.ListAnalyses(ctx, ownerID, v.ID)
	if err != nil {
		return v, err
	}
	for _, d := range details {
		f := fileView{
			Name:         d.FileName,
			Status:       string(d.Status),
			ReportType:   string(d.ReportType),
			Completeness: d.Scores.Completeness,
			Compliance:   d.Scores.Compliance,
			Missing:      d.TotalMissing,
		}
		if d.ErrorMessage != nil {
			f.Error = d.ErrorCode + ": " + *d.ErrorMessage
		}
		v.Files = append(v.Files, f)
	}
	return v, nil
}

func newTemplateView(t claims.Template) templateView {
	v := templateView{
		ID:            t.ID,
		Type:          t.TemplateType,
		BasedOn:       t.BasedOnAnalysisCount,
		Threshold:     t.Threshold,
		Default:       t.IsDefault,
		Checklist:     []checklistView{},
		SourceBatchID: t.GeneratedFromBatchID,
	}
	for _, e := range t.Structure.Checklist {
		v.Checklist = append(v.Checklist, checklistView{
			Element:   e.ElementType,
			Category:  string(e.Category),
			Severity:  string(e.Severity),
			Frequency: e.Frequency,
		})
	}
	for _, li := range t.Structure.LineItems {
		v.LineItems = append(v.LineItems, lineItemView{
			Element: li.ElementType,
			Item:    li.Description,
			Cost:    dollars(li.EstimatedCostCents),
			Hours:   li.EstimatedHours,
		})
	}
	return v
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func dollars(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
