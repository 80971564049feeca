package adapter

import (
	"context"
	"encoding/json"

	"document-generation-service/internal/domain/model"
)

// RecordSystem is the boundary to the upstream system that owns templates and
// merge data and receives links to finished artifacts.
type RecordSystem interface {
	// FetchTemplate returns the template content and data-source descriptor.
	// domain.ErrTemplateNotFound when the ID is unknown.
	FetchTemplate(ctx context.Context, templateID string) (*model.Template, error)

	// FetchMergeData resolves structured merge data for one context record
	// through the template's data-source descriptor.
	FetchMergeData(ctx context.Context, dataSource, contextID string) (json.RawMessage, error)

	// LinkArtifact attaches a published artifact to a parent record.
	// Best-effort per parent: callers must not fail a job because one link
	// failed.
	LinkArtifact(ctx context.Context, outputRef, parentID string) error
}
