package domain

import "time"

type DocumentStatus string

const (
	DocumentStatusPending   DocumentStatus = "pending"
	DocumentStatusProcessed DocumentStatus = "processed"
	DocumentStatusFailed    DocumentStatus = "failed"
)

// Document is the uploaded file this service tracks ingestions for. Upload
// mechanics live elsewhere; the pipeline only reads metadata and mirrors the
// ingestion outcome into Status.
type Document struct {
	ID        string
	UserID    string
	Title     string
	FileName  string
	FileType  string
	FilePath  string
	Status    DocumentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SearchMatchType string

const (
	SearchMatchTitle    SearchMatchType = "title"
	SearchMatchContent  SearchMatchType = "content"
	SearchMatchSummary  SearchMatchType = "summary"
	SearchMatchKeywords SearchMatchType = "keywords"
)

// SearchResult is one ranked hit returned by the relevance search.
type SearchResult struct {
	DocumentID     string          `json:"document_id"`
	Title          string          `json:"title,omitempty"`
	RelevanceScore float64         `json:"relevance_score"`
	Excerpt        string          `json:"excerpt"`
	MatchType      SearchMatchType `json:"match_type"`
}
