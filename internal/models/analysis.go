package models

import "time"

// ScopeItem is one unit of work extracted from a transcript, categorized by
// construction cost code.
type ScopeItem struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Details string `json:"details"`
}

// ProjectSummary is the structured overview produced alongside scope items.
type ProjectSummary struct {
	Overview        string   `json:"overview"`
	KeyRequirements []string `json:"key_requirements"`
	Concerns        []string `json:"concerns"`
	DecisionPoints  []string `json:"decision_points"`
	ImportantNotes  []string `json:"important_notes"`
}

// ScopeAnalysis is what the scope-extraction collaborator returns.
type ScopeAnalysis struct {
	Items   []ScopeItem    `json:"scope_items"`
	Summary ProjectSummary `json:"project_summary"`
}

// DocumentSet holds generated artifact locations. A nil entry means the
// document stage failed or was skipped; the job still completes.
type DocumentSet struct {
	Docx *string `json:"docx"`
	PDF  *string `json:"pdf"`
}

// Analysis is the durable record of a completed job. It outlives the job's
// Redis TTL and is only removed by explicit user action.
type Analysis struct {
	ID             string         `json:"id"`
	Filename       string         `json:"filename"`
	CreatedAt      time.Time      `json:"created_at"`
	Transcript     string         `json:"transcript"`
	ScopeItems     []ScopeItem    `json:"scope_items"`
	ProjectSummary ProjectSummary `json:"project_summary"`
	FileSizeMB     float64        `json:"file_size_mb"`
	Documents      DocumentSet    `json:"documents"`
}
