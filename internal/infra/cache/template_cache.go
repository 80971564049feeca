package cache

import (
	"sync"

	"document-generation-service/internal/domain/model"
)

// TemplateCache mirrors record-system templates in process. Template content
// is immutable once referenced by an ID, so entries never expire implicitly;
// invalidation is explicit only.
type TemplateCache struct {
	mu        sync.RWMutex
	templates map[string]*model.Template
}

func NewTemplateCache() *TemplateCache {
	return &TemplateCache{templates: make(map[string]*model.Template)}
}

func (c *TemplateCache) Get(templateID string) (*model.Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.templates[templateID]
	return tmpl, ok
}

func (c *TemplateCache) Put(tmpl *model.Template) {
	if tmpl == nil || tmpl.ID == "" {
		return
	}
	c.mu.Lock()
	c.templates[tmpl.ID] = tmpl
	c.mu.Unlock()
}

func (c *TemplateCache) Invalidate(templateID string) {
	c.mu.Lock()
	delete(c.templates, templateID)
	c.mu.Unlock()
}

func (c *TemplateCache) InvalidateAll() {
	c.mu.Lock()
	c.templates = make(map[string]*model.Template)
	c.mu.Unlock()
}

func (c *TemplateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.templates)
}
