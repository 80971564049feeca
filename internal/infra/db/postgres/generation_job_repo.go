package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/repository"
)

var _ repository.GenerationJobRepository = (*generationJobRepo)(nil)

type generationJobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewGenerationJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *generationJobRepo {
	return &generationJobRepo{
		pool: pool,
		tm:   tm,
	}
}

const jobColumns = `id, request_hash, status, attempts, priority, locked_until,
correlation_id, last_error, output_ref, template_id, output_format, context_id,
payload, retain_merge, parent_ids, created_at, updated_at`

func (r *generationJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	const q = `
INSERT INTO generation_jobs
  (id, request_hash, status, attempts, priority, locked_until, correlation_id,
   last_error, output_ref, template_id, output_format, context_id, payload,
   retain_merge, parent_ids, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17);`

	_, err := execSQL(ctx, r.pool, nil, q,
		job.ID, job.RequestHash, job.Status, job.Attempts, job.Priority, job.LockedUntil,
		job.CorrelationID, job.LastError, job.OutputRef, job.TemplateID, job.OutputFormat,
		job.ContextID, job.Data, job.RetainMergeArtifact, job.ParentIDs,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// request_hash unique index: the caller fetches the existing job.
			return domain.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (r *generationJobRepo) FindByID(ctx context.Context, id string) (*model.GenerationJob, error) {
	q := fmt.Sprintf(`SELECT %s FROM generation_jobs WHERE id = $1;`, jobColumns)
	return r.findOne(ctx, q, id)
}

func (r *generationJobRepo) FindByHash(ctx context.Context, requestHash string) (*model.GenerationJob, error) {
	q := fmt.Sprintf(`SELECT %s FROM generation_jobs WHERE request_hash = $1;`, jobColumns)
	return r.findOne(ctx, q, requestHash)
}

func (r *generationJobRepo) findOne(ctx context.Context, q string, arg interface{}) (*model.GenerationJob, error) {
	row, err := pickRow(ctx, r.pool, nil, q, arg)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

// ClaimNext selects one claimable job under FOR UPDATE SKIP LOCKED and stamps
// the lease inside the same transaction. The row lock plus the conditional
// semantics of Update are the only things preventing double-processing across
// replicas.
func (r *generationJobRepo) ClaimNext(ctx context.Context, now time.Time, lease time.Duration) (*model.GenerationJob, error) {
	var job *model.GenerationJob

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		fetchQuery := fmt.Sprintf(`
SELECT %s
FROM generation_jobs
WHERE (status = 'queued' AND (locked_until IS NULL OR locked_until <= $1))
   OR (status = 'processing' AND locked_until <= $1)
ORDER BY priority DESC, created_at
LIMIT 1
FOR UPDATE SKIP LOCKED;`, jobColumns)

		row, err := pickRow(ctx, r.pool, tx, fetchQuery, now)
		if err != nil {
			return err
		}
		claimed, err := scanJob(row)
		if err != nil {
			return err
		}

		until := now.Add(lease)
		claimed.Status = model.JobStatusProcessing
		claimed.LockedUntil = &until
		claimed.UpdatedAt = now

		const stamp = `
UPDATE generation_jobs
SET status = $2, locked_until = $3, updated_at = $4
WHERE id = $1;`
		if _, err := execSQL(ctx, r.pool, tx, stamp, claimed.ID, claimed.Status, until, now); err != nil {
			return err
		}

		job = claimed
		return nil
	})

	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	return job, err
}

// Update applies patch only while locked_until still equals the lease token
// the worker was granted. Zero rows affected means the lease was reclaimed.
func (r *generationJobRepo) Update(ctx context.Context, jobID string, expectedLockedUntil time.Time, patch repository.JobPatch) (bool, error) {
	sets := []string{"updated_at = now()"}
	args := []interface{}{jobID, expectedLockedUntil}
	next := 3

	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, next))
		args = append(args, val)
		next++
	}

	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Attempts != nil {
		add("attempts", *patch.Attempts)
	}
	if patch.ClearLockedUntil {
		sets = append(sets, "locked_until = NULL")
	} else if patch.LockedUntil != nil {
		add("locked_until", *patch.LockedUntil)
	}
	if patch.OutputRef != nil {
		add("output_ref", *patch.OutputRef)
	}
	if patch.LastError != nil {
		add("last_error", *patch.LastError)
	}

	q := fmt.Sprintf(`
UPDATE generation_jobs
SET %s
WHERE id = $1 AND status = 'processing' AND locked_until = $2;`, strings.Join(sets, ", "))

	tag, err := execSQL(ctx, r.pool, nil, q, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *generationJobRepo) CancelQueued(ctx context.Context, jobID string) (bool, error) {
	const q = `
UPDATE generation_jobs
SET status = 'canceled', updated_at = now()
WHERE id = $1 AND status = 'queued';`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *generationJobRepo) Revive(ctx context.Context, jobID string) (bool, error) {
	const q = `
UPDATE generation_jobs
SET status = 'queued', attempts = 0, last_error = '', locked_until = NULL, updated_at = now()
WHERE id = $1 AND status IN ('failed', 'canceled');`
	tag, err := execSQL(ctx, r.pool, nil, q, jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *generationJobRepo) CountByStatus(ctx context.Context, status model.JobStatus) (int, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT count(*) FROM generation_jobs WHERE status = $1;`, status)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanJob(row pgx.Row) (*model.GenerationJob, error) {
	var job model.GenerationJob
	var statusStr string
	err := row.Scan(
		&job.ID, &job.RequestHash, &statusStr, &job.Attempts, &job.Priority, &job.LockedUntil,
		&job.CorrelationID, &job.LastError, &job.OutputRef, &job.TemplateID, &job.OutputFormat,
		&job.ContextID, &job.Data, &job.RetainMergeArtifact, &job.ParentIDs,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	job.Status = model.JobStatus(statusStr)
	return &job, nil
}
