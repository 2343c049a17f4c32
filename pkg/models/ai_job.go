package models

import (
	"time"

	"github.com/Ramsey-B/thistle/pkg/database"
)

// JobStatus is the lifecycle state of an AI job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// AIJob records one webhook-triggered content generation request
type AIJob struct {
	ID            int64                           `db:"id" json:"id"`
	IntegrationID *string                         `db:"integration_id" json:"integration_id"`
	Provider      string                          `db:"provider" json:"provider"`
	Payload       database.JSONB[map[string]any]  `db:"payload" json:"payload"`
	Status        JobStatus                       `db:"status" json:"status"`
	Result        *database.JSONB[map[string]any] `db:"result" json:"result,omitempty"`
	ErrorMessage  *string                         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time                       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time                       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (AIJob) TableName() string {
	return "ai_jobs"
}
