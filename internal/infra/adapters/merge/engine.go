package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
)

var _ adapter.MergeEngine = (*PlaceholderEngine)(nil)

// PlaceholderEngine is a minimal merge implementation: it substitutes
// {{field}} placeholders in the template content with top-level values from
// the merge data. The real templating language lives outside this service;
// this engine exists so the pipeline is runnable end to end without it.
type PlaceholderEngine struct{}

func NewPlaceholderEngine() *PlaceholderEngine {
	return &PlaceholderEngine{}
}

func (e *PlaceholderEngine) Merge(ctx context.Context, tmpl *model.Template, data json.RawMessage) (*adapter.MergeResult, error) {
	if tmpl == nil || len(tmpl.Content) == 0 {
		return nil, fmt.Errorf("%w: empty template", domain.ErrInvalidArgument)
	}

	values := map[string]interface{}{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("%w: merge data is not a JSON object", domain.ErrInvalidArgument)
		}
	}

	content := tmpl.Content
	for key, val := range values {
		placeholder := []byte("{{" + key + "}}")
		if !bytes.Contains(content, placeholder) {
			continue
		}
		content = bytes.ReplaceAll(content, placeholder, []byte(stringify(val)))
	}

	format := tmpl.MergeFormat
	if format == "" {
		format = "html"
	}
	return &adapter.MergeResult{Content: content, Format: format}, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
