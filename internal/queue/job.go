package queue

import (
	"time"
)

// JobStatus represents the state of an extraction job
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusRunning  JobStatus = "running"
	StatusDone     JobStatus = "done"
	StatusFailed   JobStatus = "failed"
	StatusDeferred JobStatus = "deferred"
)

// Statuses lists every job status
var Statuses = []JobStatus{StatusPending, StatusRunning, StatusDeferred, StatusDone, StatusFailed}

// Job is one queued extraction of an uploaded PDF
type Job struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	IssueDate   string    `json:"issue_date"`
	TargetList  string    `json:"target_list"`
	PDFText     string    `json:"pdf_text,omitempty"` // dropped once the job finishes
	Status      JobStatus `json:"status"`
	Stage       string    `json:"stage,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`
	RetryCount  int       `json:"retry_count"`
	LastError   string    `json:"last_error,omitempty"`
	ClientIP    string    `json:"client_ip,omitempty"`
}

// Finished reports whether the job reached a terminal status
func (j *Job) Finished() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}

// Stats counts jobs per status
type Stats struct {
	Pending  int64 `json:"pending"`
	Running  int64 `json:"running"`
	Deferred int64 `json:"deferred"`
	Done     int64 `json:"done"`
	Failed   int64 `json:"failed"`
	Total    int64 `json:"total"`
}

// ListFilter represents filter options for listing jobs
type ListFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
