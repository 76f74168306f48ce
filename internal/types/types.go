package types

import "time"

// DataKind is the declared content of an uploaded file.
type DataKind string

const (
	DataFitments DataKind = "fitments"
	DataProducts DataKind = "products"
)

// Valid reports whether k is one of the known data kinds.
func (k DataKind) Valid() bool { return k == DataFitments || k == DataProducts }

// Upload is the record created by the transform service on the first successful upload call.
type Upload struct {
	ID       string   `json:"id" validate:"required"`
	DataKind DataKind `json:"dataType,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Size     int64    `json:"size,omitempty"`
}

// MappingSuggestion is one raw column suggestion from the AI mapping service.
type MappingSuggestion struct {
	Source     string  `json:"source" validate:"required"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// AIMapResponse is the body of POST /uploads/{id}/ai-map.
type AIMapResponse struct {
	Suggestions struct {
		ColumnMappings []MappingSuggestion `json:"columnMappings" validate:"dive"`
	} `json:"suggestions"`
}

// Transformation is one preview record of a change applied during transform.
type Transformation struct {
	Type   string `json:"type"`
	Row    int    `json:"row"`
	Field  string `json:"field,omitempty"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// TransformationResult is the body of POST /uploads/{id}/transform.
type TransformationResult struct {
	OriginalRows           *int             `json:"originalRows" validate:"required"`
	TransformedRows        *int             `json:"transformedRows" validate:"required"`
	TransformationsApplied int              `json:"transformationsApplied"`
	Transformations        []Transformation `json:"transformations"`
	ExtractionMetadata     map[string]any   `json:"extractionMetadata,omitempty"`
}

// Issue is a validation error or warning attached to a row.
type Issue struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidationResult is the body of POST /uploads/{id}/validate.
type ValidationResult struct {
	TotalRows     *int     `json:"totalRows" validate:"required"`
	ValidRows     *int     `json:"validRows" validate:"required"`
	Errors        []Issue  `json:"errors"`
	Warnings      []Issue  `json:"warnings"`
	UniquePartIDs []string `json:"uniquePartIds"`
}

// ConfidenceBreakdown explains a candidate's relevance. Components are explanatory; Total is authoritative.
type ConfidenceBreakdown struct {
	BaseVehicleMatch float64  `json:"baseVehicleMatch"`
	PartTypeMatch    float64  `json:"partTypeMatch"`
	YearProximity    float64  `json:"yearProximity"`
	AttributeMatches float64  `json:"attributeMatches"`
	Total            *float64 `json:"total,omitempty"`
}

// SourceEvidence names a prior fitment the candidate was derived from.
type SourceEvidence struct {
	FitmentID         string          `json:"fitmentId"`
	Description       string          `json:"description,omitempty"`
	MatchedAttributes map[string]bool `json:"matchedAttributes"`
}

// Candidate is one potential fitment recommendation for a part.
type Candidate struct {
	ID                  string               `json:"id"`
	Vehicle             string               `json:"vehicle,omitempty"`
	Relevance           float64              `json:"relevance"`
	ConfidenceBreakdown *ConfidenceBreakdown `json:"confidenceBreakdown,omitempty"`
	SourceEvidence      []SourceEvidence     `json:"sourceEvidence,omitempty"`
}

// ReviewData is what the Review stage holds: validation output plus recommendations per part id.
type ReviewData struct {
	TotalRows       int                    `json:"totalRows"`
	ValidRows       int                    `json:"validRows"`
	Errors          []Issue                `json:"errors"`
	Warnings        []Issue                `json:"warnings"`
	Recommendations map[string][]Candidate `json:"recommendations,omitempty"`
}

// PublishResponse is the body of POST /uploads/{id}/publish.
type PublishResponse struct {
	Result struct {
		PublishedCount int `json:"publishedCount"`
	} `json:"result"`
	CreatedCount int    `json:"createdCount"`
	ErrorCount   int    `json:"errorCount"`
	JobID        string `json:"jobId,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// Job is a server-owned asynchronous job as returned by GET /jobs.
type Job struct {
	ID         string         `json:"id" validate:"required"`
	JobType    string         `json:"job_type"`
	Status     string         `json:"status" validate:"required"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
}

// JobFilter narrows a job listing.
type JobFilter struct {
	JobType string
	Status  string
	Page    int
	PerPage int
}

// JobPage is the body of GET /jobs.
type JobPage struct {
	Items      []Job `json:"items" validate:"dive"`
	TotalPages int   `json:"totalPages"`
}

// Row is a free-form record as returned in job review data.
type Row map[string]any

// JobReviewData is the body of GET /jobs/{id}/review.
type JobReviewData struct {
	DataType        DataKind `json:"dataType"`
	TotalRows       int      `json:"totalRows"`
	OriginalRows    []Row    `json:"originalRows"`
	AIGeneratedRows []Row    `json:"aiGeneratedRows"`
	ErrorRows       []Row    `json:"errorRows"`
}

// ApproveResponse is the body of POST /jobs/{id}/approve.
type ApproveResponse struct {
	ApprovedCount int `json:"approvedCount"`
}

// PipelineParams is the input of the headless pipeline workflow.
type PipelineParams struct {
	TenantID string   `json:"tenant_id"`
	FileURI  string   `json:"file_uri"` // file:// or s3://
	DataKind DataKind `json:"data_kind"`
	// ArchiveURI, when set, receives the publish download.
	ArchiveURI string `json:"archive_uri,omitempty"`
}

// PublishSignal is delivered to a waiting pipeline workflow.
type PublishSignal struct {
	Force bool `json:"force"`
}
