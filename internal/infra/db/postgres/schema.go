package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
)

const jobSchema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
    id             TEXT PRIMARY KEY,
    request_hash   TEXT NOT NULL,
    status         TEXT NOT NULL,
    attempts       INT NOT NULL DEFAULT 0,
    priority       INT NOT NULL DEFAULT 0,
    locked_until   TIMESTAMPTZ,
    correlation_id TEXT NOT NULL DEFAULT '',
    last_error     TEXT NOT NULL DEFAULT '',
    output_ref     TEXT NOT NULL DEFAULT '',
    template_id    TEXT NOT NULL,
    output_format  TEXT NOT NULL,
    context_id     TEXT NOT NULL DEFAULT '',
    payload        JSONB,
    retain_merge   BOOLEAN NOT NULL DEFAULT FALSE,
    parent_ids     TEXT[] NOT NULL DEFAULT '{}',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS generation_jobs_request_hash_idx
    ON generation_jobs (request_hash);

-- Claim selection scans claimable rows in priority order.
CREATE INDEX IF NOT EXISTS generation_jobs_claim_idx
    ON generation_jobs (status, priority DESC, created_at);
`

// EnsureSchema creates the job table and its indexes if missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, jobSchema)
	return err
}
