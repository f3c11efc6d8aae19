package claims

import "time"

// Batch is one analysis run over one source folder.
type Batch struct {
	ID                            string      `json:"id"`
	OwnerID                       string      `json:"ownerId"`
	FolderID                      string      `json:"folderId"`
	FolderName                    string      `json:"folderName,omitempty"`
	Status                        BatchStatus `json:"status"`
	TotalFiles                    int         `json:"totalFiles"`
	ProcessedFiles                int         `json:"processedFiles"`
	FailedFiles                   int         `json:"failedFiles"`
	AverageCompletenessScore      float64     `json:"averageCompletenessScore"`
	AverageComplianceScore        float64     `json:"averageComplianceScore"`
	TotalMissingElements          int         `json:"totalMissingElements"`
	EstimatedRevenueRecoveryCents int64       `json:"estimatedRevenueRecoveryCents"`
	CancelRequested               bool        `json:"cancelRequested"`
	ErrorMessage                  *string     `json:"errorMessage,omitempty"`
	StartedAt                     *time.Time  `json:"startedAt,omitempty"`
	CompletedAt                   *time.Time  `json:"completedAt,omitempty"`
	CreatedAt                     time.Time   `json:"createdAt"`
	UpdatedAt                     time.Time   `json:"updatedAt"`
}

// Settled reports whether every file has produced an outcome.
func (b Batch) Settled() bool {
	return b.ProcessedFiles+b.FailedFiles == b.TotalFiles
}

// BatchSummary is the terminal write produced by aggregation.
type BatchSummary struct {
	Status                        BatchStatus `json:"status"`
	AverageCompletenessScore      float64     `json:"averageCompletenessScore"`
	AverageComplianceScore        float64     `json:"averageComplianceScore"`
	TotalMissingElements          int         `json:"totalMissingElements"`
	EstimatedRevenueRecoveryCents int64       `json:"estimatedRevenueRecoveryCents"`
	CompletedAt                   time.Time   `json:"completedAt"`
}

// Fields is the metadata extracted from a claim document.
// Dates use the YYYY-MM-DD layout; empty means not found.
type Fields struct {
	ClaimNumber     string `json:"claimNumber"`
	PropertyAddress string `json:"propertyAddress"`
	TechnicianName  string `json:"technicianName"`
	DateOfLoss      string `json:"dateOfLoss"`
	InspectionDate  string `json:"inspectionDate"`
	InsurerName     string `json:"insurerName"`
}

// DateLayout is the layout used for extracted dates.
const DateLayout = "2006-01-02"

// SubScores are the five bounded quality scores of a document.
type SubScores struct {
	Completeness    float64 `json:"completenessScore"`
	Compliance      float64 `json:"complianceScore"`
	Standardization float64 `json:"standardizationScore"`
	Documentation   float64 `json:"documentationScore"`
	BillingAccuracy float64 `json:"billingAccuracyScore"`
}

// GapCandidate is an unclassified gap reported by the extractor.
type GapCandidate struct {
	ElementType string `json:"elementType"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// Analysis is the result of processing one document within a batch.
type Analysis struct {
	ID                           string           `json:"id"`
	BatchID                      string           `json:"batchId"`
	OwnerID                      string           `json:"ownerId"`
	SourceFileID                 string           `json:"sourceFileId"`
	FileName                     string           `json:"fileName"`
	ReportType                   ReportType       `json:"reportType,omitempty"`
	Fields                       Fields           `json:"fields"`
	Scores                       SubScores        `json:"scores"`
	MissingCounts                map[Category]int `json:"missingCounts,omitempty"`
	TotalMissing                 int              `json:"totalMissing"`
	EstimatedMissingRevenueCents int64            `json:"estimatedMissingRevenueCents"`
	EstimatedTimeSavingsHours    float64          `json:"estimatedTimeSavingsHours"`
	Attempts                     int              `json:"attempts"`
	Status                       AnalysisStatus   `json:"status"`
	ErrorCode                    string           `json:"errorCode,omitempty"`
	ErrorMessage                 *string          `json:"errorMessage,omitempty"`
	ProcessedAt                  *time.Time       `json:"processedAt,omitempty"`
	CreatedAt                    time.Time        `json:"createdAt"`
	UpdatedAt                    time.Time        `json:"updatedAt"`
}

// MissingElement is one classified gap in one analysis.
type MissingElement struct {
	ID                 string   `json:"id"`
	AnalysisID         string   `json:"analysisId"`
	ElementType        string   `json:"elementType"`
	Description        string   `json:"description"`
	Category           Category `json:"category"`
	Severity           Severity `json:"severity"`
	IsBillable         bool     `json:"isBillable"`
	EstimatedCostCents int64    `json:"estimatedCostCents"`
	EstimatedHours     float64  `json:"estimatedHours"`
	StandardReference  string   `json:"standardReference,omitempty"`
	SuggestedLineItem  string   `json:"suggestedLineItem,omitempty"`
}

// AnalysisFailure is the terminal error recorded on a document.
type AnalysisFailure struct {
	Code     string
	Message  string
	Attempts int
}

// BatchItem records that an analysis counts towards a batch. Reused items
// point at analyses completed by an earlier batch. A failed item keeps the
// error this batch saw even after a later batch reattaches the analysis.
type BatchItem struct {
	BatchID      string  `json:"batchId"`
	AnalysisID   string  `json:"analysisId"`
	SourceFileID string  `json:"sourceFileId"`
	Reused       bool    `json:"reused"`
	ErrorCode    string  `json:"errorCode,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}

// Outcome returns the analysis as this batch recorded it.
func (it BatchItem) Outcome(a Analysis) Analysis {
	if it.ErrorCode == "" {
		return a
	}
	a.Status = AnalysisFailed
	a.ErrorCode = it.ErrorCode
	a.ErrorMessage = it.ErrorMessage
	return a
}

// Reservation describes how a file was claimed for a batch.
type Reservation int

const (
	// ReservationCreated means a new PENDING analysis was inserted.
	ReservationCreated Reservation = iota
	// ReservationReattached means a FAILED analysis was reset to PENDING.
	ReservationReattached
	// ReservationReused means a COMPLETED analysis already covers the file.
	ReservationReused
)

// Template is a synthesized canonical checklist and line-item set.
type Template struct {
	ID                   string            `json:"id"`
	OwnerID              string            `json:"ownerId"`
	TemplateType         string            `json:"templateType"`
	Structure            TemplateStructure `json:"structure"`
	GeneratedFromBatchID string            `json:"generatedFromBatchId"`
	BasedOnAnalysisCount int               `json:"basedOnAnalysisCount"`
	Threshold            float64           `json:"threshold"`
	IsDefault            bool              `json:"isDefault"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// TemplateStructure is the persisted body of a template.
type TemplateStructure struct {
	Checklist []ChecklistEntry `json:"checklist"`
	LineItems []LineItem       `json:"lineItems"`
}

// ChecklistEntry is a recurring gap promoted to a first-class template field.
type ChecklistEntry struct {
	ElementType       string   `json:"elementType"`
	Description       string   `json:"description,omitempty"`
	Category          Category `json:"category"`
	Severity          Severity `json:"severity"`
	StandardReference string   `json:"standardReference,omitempty"`
	Occurrences       int      `json:"occurrences"`
	Frequency         float64  `json:"frequency"`
}

// LineItem is a billable entry suggested by the template.
type LineItem struct {
	ElementType        string  `json:"elementType"`
	Description        string  `json:"description"`
	EstimatedCostCents int64   `json:"estimatedCostCents"`
	EstimatedHours     float64 `json:"estimatedHours"`
}
