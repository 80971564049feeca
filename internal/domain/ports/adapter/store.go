package adapter

import "context"

// ArtifactMeta accompanies a published artifact.
type ArtifactMeta struct {
	Filename      string
	ContentType   string
	TemplateID    string
	CorrelationID string
}

// ArtifactStore publishes finished artifacts and returns an opaque reference
// used for later retrieval.
type ArtifactStore interface {
	Publish(ctx context.Context, content []byte, meta ArtifactMeta) (outputRef string, err error)
}
