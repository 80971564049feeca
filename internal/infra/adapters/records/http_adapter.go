package records

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"document-generation-service/internal/config"
	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/infra/logging"
)

var (
	_ adapter.RecordSystem  = (*HTTPAdapter)(nil)
	_ adapter.ArtifactStore = (*HTTPAdapter)(nil)
)

// HTTPAdapter talks to the record system's REST API for templates, merge data,
// the file store and artifact links.
type HTTPAdapter struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPAdapter(cfg *config.RecordsConfig) (*HTTPAdapter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("records base url empty")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid records base url: %w", err)
	}
	return &HTTPAdapter{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout.Std()},
	}, nil
}

func (a *HTTPAdapter) FetchTemplate(ctx context.Context, templateID string) (*model.Template, error) {
	var out struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Content     []byte `json:"content"`
		MergeFormat string `json:"mergeFormat"`
		DataSource  string `json:"dataSource"`
	}
	status, err := a.getJSON(ctx, "/api/templates/"+url.PathEscape(templateID), &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrTemplateNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch template: unexpected status %d", status)
	}
	return &model.Template{
		ID:          out.ID,
		Name:        out.Name,
		Content:     out.Content,
		MergeFormat: out.MergeFormat,
		DataSource:  out.DataSource,
	}, nil
}

func (a *HTTPAdapter) FetchMergeData(ctx context.Context, dataSource, contextID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/api/merge-data/%s?context=%s",
		url.PathEscape(dataSource), url.QueryEscape(contextID))
	var out json.RawMessage
	status, err := a.getJSON(ctx, path, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch merge data: unexpected status %d", status)
	}
	return out, nil
}

// Publish uploads the artifact to the record system's file store.
func (a *HTTPAdapter) Publish(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error) {
	payload := map[string]interface{}{
		"filename":      meta.Filename,
		"contentType":   meta.ContentType,
		"templateId":    meta.TemplateID,
		"correlationId": meta.CorrelationID,
		"content":       base64.StdEncoding.EncodeToString(content),
	}
	var out struct {
		Ref string `json:"ref"`
	}
	status, err := a.postJSON(ctx, "/api/files", payload, &out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", fmt.Errorf("%w: unexpected status %d", domain.ErrUploadFailed, status)
	}
	return out.Ref, nil
}

func (a *HTTPAdapter) LinkArtifact(ctx context.Context, outputRef, parentID string) error {
	payload := map[string]string{
		"ref":           outputRef,
		"parentId":      parentID,
		"correlationId": logging.CorrelationID(ctx),
	}
	status, err := a.postJSON(ctx, "/api/links", payload, nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("link artifact: unexpected status %d", status)
	}
	return nil
}

func (a *HTTPAdapter) getJSON(ctx context.Context, path string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	return a.do(req, out)
}

func (a *HTTPAdapter) postJSON(ctx context.Context, path string, payload, out interface{}) (int, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, out)
}

func (a *HTTPAdapter) do(req *http.Request, out interface{}) (int, error) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	if cid := logging.CorrelationID(req.Context()); cid != "" {
		req.Header.Set("X-Correlation-Id", cid)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
