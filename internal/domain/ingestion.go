package domain

import "time"

type IngestionStatus string

const (
	IngestionStatusQueued     IngestionStatus = "queued"
	IngestionStatusProcessing IngestionStatus = "processing"
	IngestionStatusCompleted  IngestionStatus = "completed"
	IngestionStatusFailed     IngestionStatus = "failed"
	IngestionStatusCancelled  IngestionStatus = "cancelled"
)

// Terminal reports whether no further status transitions are permitted.
func (s IngestionStatus) Terminal() bool {
	switch s {
	case IngestionStatusCompleted, IngestionStatusFailed, IngestionStatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the ingestion still occupies the per-document
// processing slot.
func (s IngestionStatus) Active() bool {
	return s == IngestionStatusQueued || s == IngestionStatusProcessing
}

// Ingestion is one processing attempt for a document. Reprocessing creates a
// fresh ingestion; the prior one keeps whatever terminal state it reached.
type Ingestion struct {
	ID          string
	DocumentID  string
	UserID      string
	Status      IngestionStatus
	Progress    int
	Config      ProcessingConfig
	Error       string
	Logs        IngestionLogs
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProcessingConfig carries caller-supplied processing options. Booleans are
// tri-state: nil means "use the default" declared in Resolved.
type ProcessingConfig struct {
	AutoProcess     *bool `json:"auto_process,omitempty"`
	ExtractText     *bool `json:"extract_text,omitempty"`
	PerformOCR      *bool `json:"perform_ocr,omitempty"`
	ExtractKeywords *bool `json:"extract_keywords,omitempty"`
	GenerateSummary *bool `json:"generate_summary,omitempty"`
	DetectLanguage  *bool `json:"detect_language,omitempty"`
	EnableSearch    *bool `json:"enable_search,omitempty"`
	Priority        int   `json:"priority,omitempty"`
	ChunkSize       int   `json:"chunk_size,omitempty"`
	ChunkOverlap    int   `json:"chunk_overlap,omitempty"`
}

// ResolvedConfig is a ProcessingConfig with every default applied, suitable
// for handing to the worker fleet.
type ResolvedConfig struct {
	ExtractText     bool `json:"extract_text"`
	PerformOCR      bool `json:"perform_ocr"`
	ExtractKeywords bool `json:"extract_keywords"`
	GenerateSummary bool `json:"generate_summary"`
	DetectLanguage  bool `json:"detect_language"`
	EnableSearch    bool `json:"enable_search"`
	Priority        int  `json:"priority"`
	ChunkSize       int  `json:"chunk_size,omitempty"`
	ChunkOverlap    int  `json:"chunk_overlap,omitempty"`
}

// Resolved applies processing defaults to unset options.
func (c ProcessingConfig) Resolved() ResolvedConfig {
	return ResolvedConfig{
		ExtractText:     boolOrDefault(c.ExtractText, true),
		PerformOCR:      boolOrDefault(c.PerformOCR, false),
		ExtractKeywords: boolOrDefault(c.ExtractKeywords, true),
		GenerateSummary: boolOrDefault(c.GenerateSummary, true),
		DetectLanguage:  boolOrDefault(c.DetectLanguage, true),
		EnableSearch:    boolOrDefault(c.EnableSearch, true),
		Priority:        c.Priority,
		ChunkSize:       c.ChunkSize,
		ChunkOverlap:    c.ChunkOverlap,
	}
}

// AutoDispatch reports whether creation should immediately trigger dispatch.
// Only an explicit false disables it.
func (c ProcessingConfig) AutoDispatch() bool {
	return boolOrDefault(c.AutoProcess, true)
}

func boolOrDefault(value *bool, fallback bool) bool {
	if value == nil {
		return fallback
	}
	return *value
}

// IngestionLogs is the supplementary payload attached to an ingestion: the
// queue job id once dispatched, and the worker's result once delivered.
type IngestionLogs struct {
	JobID            string            `json:"job_id,omitempty"`
	ProcessingResult *ProcessingResult `json:"processing_result,omitempty"`
}

// ProcessingResult is the worker fleet's report for one ingestion.
type ProcessingResult struct {
	Success        bool     `json:"success"`
	ProcessingTime float64  `json:"processing_time,omitempty"`
	ExtractedText  string   `json:"extracted_text,omitempty"`
	OCRText        string   `json:"ocr_text,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	Keywords       []string `json:"keywords,omitempty"`
	Language       string   `json:"language,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// CallbackPayload is the inbound message from the worker fleet, addressed by
// document rather than ingestion.
type CallbackPayload struct {
	DocumentID string           `json:"document_id"`
	Result     ProcessingResult `json:"result"`
}

// ProcessingJob is the transport format forwarded to worker backends.
type ProcessingJob struct {
	IngestionID string         `json:"ingestion_id"`
	DocumentID  string         `json:"document_id"`
	UserID      string         `json:"user_id"`
	FileName    string         `json:"file_name"`
	FileType    string         `json:"file_type"`
	FilePath    string         `json:"file_path"`
	Config      ResolvedConfig `json:"config"`
	RequestedAt time.Time      `json:"requested_at"`
}

// IngestionFilter narrows repository queries.
type IngestionFilter struct {
	UserID     string
	DocumentID string
	Statuses   []IngestionStatus
	Limit      int
}

// IngestionStats aggregates a filtered set of ingestions.
type IngestionStats struct {
	Total                 int `json:"total"`
	Queued                int `json:"queued"`
	Processing            int `json:"processing"`
	Completed             int `json:"completed"`
	Failed                int `json:"failed"`
	Cancelled             int `json:"cancelled"`
	SuccessRate           int `json:"success_rate"`
	AverageProcessingTime int `json:"average_processing_time_seconds"`
}
