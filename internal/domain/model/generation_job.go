package model

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSucceeded  JobStatus = "succeeded"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// GenerationJob is the persisted unit of work. Inputs (TemplateID, OutputFormat,
// Data) are captured at submission time and never mutated afterwards; only the
// worker holding a valid lease may change the lifecycle fields.
type GenerationJob struct {
	ID            string
	RequestHash   string
	Status        JobStatus
	Attempts      int
	Priority      int
	LockedUntil   *time.Time
	CorrelationID string
	LastError     string
	OutputRef     string

	TemplateID   string
	OutputFormat string
	ContextID    string
	Data         json.RawMessage

	RetainMergeArtifact bool
	ParentIDs           []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Claimable reports whether a worker may take the job at the given instant:
// queued with no backoff gate (or an elapsed one), or processing with an
// expired lease.
func (j *GenerationJob) Claimable(now time.Time) bool {
	switch j.Status {
	case JobStatusQueued:
		return j.LockedUntil == nil || !j.LockedUntil.After(now)
	case JobStatusProcessing:
		return j.LockedUntil != nil && !j.LockedUntil.After(now)
	default:
		return false
	}
}

// Terminal reports whether the job can no longer change state.
func (j *GenerationJob) Terminal() bool {
	switch j.Status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}
