package adapter

import (
	"context"
	"encoding/json"

	"document-generation-service/internal/domain/model"
)

// MergeResult is the artifact produced by merging a template with data.
type MergeResult struct {
	Content []byte
	// Format of the produced artifact; when it differs from the job's
	// requested output format the pipeline sends it through the conversion
	// pool.
	Format string
}

// MergeEngine resolves template placeholders against merge data. The
// templating syntax itself is an external concern; implementations may be as
// thin as placeholder substitution.
type MergeEngine interface {
	Merge(ctx context.Context, tmpl *model.Template, data json.RawMessage) (*MergeResult, error)
}
