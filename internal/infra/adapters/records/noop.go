package records

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
)

var (
	_ adapter.RecordSystem  = (*NoopAdapter)(nil)
	_ adapter.ArtifactStore = (*NoopAdapter)(nil)
)

// NoopAdapter implements the record-system ports for local/dev runs. Templates
// can be registered up front; published artifacts live in memory.
type NoopAdapter struct {
	mu        sync.Mutex
	templates map[string]*model.Template
	artifacts map[string][]byte
}

func NewNoopAdapter() *NoopAdapter {
	return &NoopAdapter{
		templates: make(map[string]*model.Template),
		artifacts: make(map[string][]byte),
	}
}

// RegisterTemplate makes a template resolvable for dev runs.
func (a *NoopAdapter) RegisterTemplate(tmpl *model.Template) {
	a.mu.Lock()
	a.templates[tmpl.ID] = tmpl
	a.mu.Unlock()
}

func (a *NoopAdapter) FetchTemplate(ctx context.Context, templateID string) (*model.Template, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tmpl, ok := a.templates[templateID]
	if !ok {
		return nil, domain.ErrTemplateNotFound
	}
	return tmpl, nil
}

func (a *NoopAdapter) FetchMergeData(ctx context.Context, dataSource, contextID string) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(`{"contextId":%q}`, contextID)), nil
}

func (a *NoopAdapter) Publish(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error) {
	ref := "noop://" + uuid.NewString()
	a.mu.Lock()
	a.artifacts[ref] = content
	a.mu.Unlock()
	log.Printf("[noop-records] published %s (%d bytes) as %s\n", meta.Filename, len(content), ref)
	return ref, nil
}

func (a *NoopAdapter) LinkArtifact(ctx context.Context, outputRef, parentID string) error {
	log.Printf("[noop-records] linked %s -> parent %s\n", outputRef, parentID)
	return nil
}
