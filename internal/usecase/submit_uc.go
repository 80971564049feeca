package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/repository"
	red "document-generation-service/internal/infra/redis"
)

// Waker lets the submission path nudge an in-process poller so a fresh job is
// picked up without waiting a full poll interval.
type Waker interface {
	Wake()
}

// SubmitRequest carries one generation request. Either inline Data, a
// ContextID resolved through the template's data source, or both.
type SubmitRequest struct {
	TemplateID          string
	OutputFormat        string
	Data                json.RawMessage
	ContextID           string
	RequestHash         string // optional; computed when empty
	Priority            int
	RetainMergeArtifact bool
	ParentIDs           []string
}

// SubmitUseCase deduplicates and enqueues generation jobs.
type SubmitUseCase struct {
	repo    repository.GenerationJobRepository
	results *red.ResultCache
	waker   Waker
	log     *zerolog.Logger
}

func NewSubmitUseCase(repo repository.GenerationJobRepository, results *red.ResultCache, logger *zerolog.Logger) *SubmitUseCase {
	subLog := logger.With().Str("component", "SubmitUseCase").Logger()
	return &SubmitUseCase{
		repo:    repo,
		results: results,
		log:     &subLog,
	}
}

// AttachWaker wires the in-process poller; optional, submissions work without it.
func (uc *SubmitUseCase) AttachWaker(w Waker) { uc.waker = w }

// Submit validates the request and resolves it to a job: an existing one when
// the request hash is already known (at-most-one generation per logical
// request), a revived one when the previous run failed permanently or was
// canceled, or a freshly queued one.
func (uc *SubmitUseCase) Submit(ctx context.Context, req SubmitRequest) (*model.GenerationJob, error) {
	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	hash := req.RequestHash
	if hash == "" {
		var err error
		hash, err = model.ComputeRequestHash(req.TemplateID, req.OutputFormat, req.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
	}

	// Dedup fast path: a finished result inside the TTL short-circuits the
	// store entirely.
	if cached, err := uc.results.Get(ctx, hash); err == nil && cached != nil {
		if job, err := uc.repo.FindByHash(ctx, hash); err == nil {
			return job, nil
		}
	}

	existing, err := uc.repo.FindByHash(ctx, hash)
	switch {
	case err == nil:
		return uc.resolveExisting(ctx, existing, hash)
	case errors.Is(err, domain.ErrNotFound):
		// fall through to create
	default:
		return nil, err
	}

	job := &model.GenerationJob{
		ID:                  uuid.NewString(),
		RequestHash:         hash,
		Status:              model.JobStatusQueued,
		Priority:            req.Priority,
		CorrelationID:       ulid.Make().String(),
		TemplateID:          req.TemplateID,
		OutputFormat:        req.OutputFormat,
		ContextID:           req.ContextID,
		Data:                req.Data,
		RetainMergeArtifact: req.RetainMergeArtifact,
		ParentIDs:           req.ParentIDs,
	}
	if err := uc.repo.Create(ctx, job); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			// Lost the insert race: the other submission's job wins.
			return uc.repo.FindByHash(ctx, hash)
		}
		return nil, err
	}

	uc.log.Info().
		Str("job_id", job.ID).
		Str("correlation_id", job.CorrelationID).
		Str("template_id", job.TemplateID).
		Str("request_hash", hash).
		Msg("job queued")
	uc.wake()
	return job, nil
}

// resolveExisting applies the dedup rules to a job already holding the hash:
// live and succeeded jobs are simply returned; a failed or canceled one is
// revived under the same record so hash uniqueness holds.
func (uc *SubmitUseCase) resolveExisting(ctx context.Context, existing *model.GenerationJob, hash string) (*model.GenerationJob, error) {
	if existing.Status != model.JobStatusFailed && existing.Status != model.JobStatusCanceled {
		return existing, nil
	}

	ok, err := uc.repo.Revive(ctx, existing.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Someone else revived or the state moved on; return what is there now.
		return uc.repo.FindByID(ctx, existing.ID)
	}
	if err := uc.results.Invalidate(ctx, hash); err != nil {
		uc.log.Warn().Err(err).Str("request_hash", hash).Msg("result cache invalidation failed")
	}
	uc.log.Info().
		Str("job_id", existing.ID).
		Str("request_hash", hash).
		Str("prior_status", string(existing.Status)).
		Msg("job revived")
	uc.wake()
	return uc.repo.FindByID(ctx, existing.ID)
}

// SubmitAndWait is the interactive path: it submits and then watches the job
// record until it is terminal or ctx expires. On timeout the in-flight attempt
// is left alone (partial external effects are not easily undoable); the caller
// gets the current snapshot.
func (uc *SubmitUseCase) SubmitAndWait(ctx context.Context, req SubmitRequest) (*model.GenerationJob, error) {
	job, err := uc.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if job.Terminal() {
		return job, nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return job, nil
		case <-ticker.C:
			latest, err := uc.repo.FindByID(ctx, job.ID)
			if err != nil {
				return job, nil
			}
			job = latest
			if job.Terminal() {
				return job, nil
			}
		}
	}
}

// GetJob returns one job record.
func (uc *SubmitUseCase) GetJob(ctx context.Context, id string) (*model.GenerationJob, error) {
	return uc.repo.FindByID(ctx, id)
}

// Cancel withdraws a queued job. Processing and terminal jobs are not
// cancelable: in-flight external effects are never torn down mid-attempt.
func (uc *SubmitUseCase) Cancel(ctx context.Context, id string) (*model.GenerationJob, error) {
	job, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusQueued {
		return nil, domain.ErrJobNotCancelable
	}
	ok, err := uc.repo.CancelQueued(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrJobNotCancelable
	}
	return uc.repo.FindByID(ctx, id)
}

func (uc *SubmitUseCase) wake() {
	if uc.waker != nil {
		uc.waker.Wake()
	}
}

func validateSubmit(req SubmitRequest) error {
	if req.TemplateID == "" {
		return fmt.Errorf("%w: templateId is required", domain.ErrInvalidArgument)
	}
	if req.OutputFormat == "" {
		return fmt.Errorf("%w: outputFormat is required", domain.ErrInvalidArgument)
	}
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return fmt.Errorf("%w: data is not valid JSON", domain.ErrInvalidArgument)
	}
	if len(req.Data) == 0 && req.ContextID == "" {
		return fmt.Errorf("%w: either data or contextId is required", domain.ErrInvalidArgument)
	}
	return nil
}
