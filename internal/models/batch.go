package models

import (
	"time"
)

// Batch is the saved result of one extraction run
type Batch struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	IssueDate  string            `json:"issueDate"`
	TargetList string            `json:"targetList"`
	FileName   string            `json:"fileName,omitempty"`
	Generator  string            `json:"generator,omitempty"` // provider:model that produced the batch
	Projects   []Project         `json:"projects"`
	Contacts   ContactDictionary `json:"contacts"`
}

// BatchSummary is a short description of a batch for history listings
type BatchSummary struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	IssueDate    string    `json:"issueDate"`
	FileName     string    `json:"fileName,omitempty"`
	ProjectCount int       `json:"projectCount"`
	ContactCount int       `json:"contactCount"`
	TargetCount  int       `json:"targetCount"`
}

// Summary returns the listing view of the batch
func (b *Batch) Summary() BatchSummary {
	return BatchSummary{
		ID:           b.ID,
		Timestamp:    b.Timestamp,
		IssueDate:    b.IssueDate,
		FileName:     b.FileName,
		ProjectCount: len(b.Projects),
		ContactCount: len(b.Contacts),
		TargetCount:  len(ParseTargetList(b.TargetList)),
	}
}
