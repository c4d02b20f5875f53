package models

// JobStatus tracks a processing job through its lifecycle.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusDebug      JobStatus = "debug"
)

// Job is the authoritative per-session processing record kept in Redis.
// The worker running the job is its only writer; everything else reads.
type Job struct {
	ID       string    `json:"id"`
	Status   JobStatus `json:"status"`
	Percent  int       `json:"pct"`
	Message  string    `json:"msg"`
	FilePath string    `json:"file_path,omitempty"`
	Result   string    `json:"result,omitempty"`
}

// Event types pushed over a job's progress channel.
const (
	EventProgress = "progress"
	EventSnapshot = "snapshot"
	EventPing     = "ping"
)

// ProgressEvent is the ephemeral message broadcast to live viewers. It is
// never persisted; the Job record is the source of truth for late joiners.
type ProgressEvent struct {
	Type    string `json:"type"`
	Percent int    `json:"pct"`
	Message string `json:"msg"`
	Status  string `json:"status,omitempty"`
}
