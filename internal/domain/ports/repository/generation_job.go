package repository

import (
	"context"
	"time"

	"document-generation-service/internal/domain/model"
)

// JobPatch carries the mutable lifecycle fields a worker may write back after
// an attempt. Nil pointers leave the corresponding column untouched.
type JobPatch struct {
	Status      *model.JobStatus
	Attempts    *int
	LockedUntil *time.Time // nil pointer target clears the gate via ClearLockedUntil
	OutputRef   *string
	LastError   *string

	ClearLockedUntil bool
}

// GenerationJobRepository is the contract the core needs from job persistence.
// ClaimNext and Update are the only mechanisms preventing double-processing
// across replicas: both must be atomic against concurrent callers.
type GenerationJobRepository interface {
	Create(ctx context.Context, job *model.GenerationJob) error
	FindByID(ctx context.Context, id string) (*model.GenerationJob, error)
	FindByHash(ctx context.Context, requestHash string) (*model.GenerationJob, error)

	// ClaimNext atomically selects one claimable job (queued past its backoff
	// gate, or processing with an expired lease), marks it processing with
	// lockedUntil = now + lease, and returns it. domain.ErrNotFound when the
	// backlog is empty.
	ClaimNext(ctx context.Context, now time.Time, lease time.Duration) (*model.GenerationJob, error)

	// Update applies patch only while the lease token still matches
	// expectedLockedUntil. Returns false (and no error) when another worker
	// has reclaimed the job; the caller must abandon the attempt.
	Update(ctx context.Context, jobID string, expectedLockedUntil time.Time, patch JobPatch) (bool, error)

	// CancelQueued flips a queued job to canceled. Returns false when the job
	// is no longer queued.
	CancelQueued(ctx context.Context, jobID string) (bool, error)

	// Revive requeues a failed or canceled job under the same request hash
	// (attempts reset, error cleared). Returns false when the job is in any
	// other state.
	Revive(ctx context.Context, jobID string) (bool, error)

	CountByStatus(ctx context.Context, status model.JobStatus) (int, error)
}
