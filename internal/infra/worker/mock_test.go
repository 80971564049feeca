//go:build !integration

package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/domain/ports/repository"
	"document-generation-service/internal/infra/cache"
	"document-generation-service/internal/infra/convert"
	red "document-generation-service/internal/infra/redis"
	"document-generation-service/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// MockJobRepo is an in-memory GenerationJobRepository. Claim and Update honor
// the same token semantics as the Postgres implementation.
type MockJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.GenerationJob

	UpdateFunc    func(ctx context.Context, jobID string, expected time.Time, patch repository.JobPatch) (bool, error)
	ClaimNextFunc func(ctx context.Context, now time.Time, lease time.Duration) (*model.GenerationJob, error)
}

func NewMockJobRepo() *MockJobRepo {
	return &MockJobRepo{jobs: make(map[string]*model.GenerationJob)}
}

func (m *MockJobRepo) clone(j *model.GenerationJob) *model.GenerationJob {
	cp := *j
	if j.LockedUntil != nil {
		t := *j.LockedUntil
		cp.LockedUntil = &t
	}
	return &cp
}

func (m *MockJobRepo) Put(j *model.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now()
	}
	m.jobs[j.ID] = j
}

func (m *MockJobRepo) Get(id string) *model.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clone(m.jobs[id])
}

func (m *MockJobRepo) Create(_ context.Context, job *model.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = m.clone(job)
	return nil
}

func (m *MockJobRepo) FindByID(_ context.Context, id string) (*model.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m.clone(j), nil
}

func (m *MockJobRepo) FindByHash(_ context.Context, hash string) (*model.GenerationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.RequestHash == hash {
			return m.clone(j), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockJobRepo) ClaimNext(ctx context.Context, now time.Time, lease time.Duration) (*model.GenerationJob, error) {
	if m.ClaimNextFunc != nil {
		return m.ClaimNextFunc(ctx, now, lease)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.GenerationJob
	for _, j := range m.jobs {
		if !j.Claimable(now) {
			continue
		}
		if best == nil || j.Priority > best.Priority || (j.Priority == best.Priority && j.CreatedAt.Before(best.CreatedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	until := now.Add(lease)
	best.Status = model.JobStatusProcessing
	best.LockedUntil = &until
	return m.clone(best), nil
}

func (m *MockJobRepo) Update(ctx context.Context, jobID string, expected time.Time, patch repository.JobPatch) (bool, error) {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, jobID, expected, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return false, nil
	}
	if j.Status != model.JobStatusProcessing || j.LockedUntil == nil || !j.LockedUntil.Equal(expected) {
		return false, nil
	}
	if patch.Status != nil {
		j.Status = *patch.Status
	}
	if patch.Attempts != nil {
		j.Attempts = *patch.Attempts
	}
	if patch.ClearLockedUntil {
		j.LockedUntil = nil
	} else if patch.LockedUntil != nil {
		t := *patch.LockedUntil
		j.LockedUntil = &t
	}
	if patch.OutputRef != nil {
		j.OutputRef = *patch.OutputRef
	}
	if patch.LastError != nil {
		j.LastError = *patch.LastError
	}
	return true, nil
}

func (m *MockJobRepo) CancelQueued(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != model.JobStatusQueued {
		return false, nil
	}
	j.Status = model.JobStatusCanceled
	return true, nil
}

func (m *MockJobRepo) Revive(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || (j.Status != model.JobStatusFailed && j.Status != model.JobStatusCanceled) {
		return false, nil
	}
	j.Status = model.JobStatusQueued
	j.Attempts = 0
	j.LastError = ""
	j.LockedUntil = nil
	return true, nil
}

func (m *MockJobRepo) CountByStatus(_ context.Context, status model.JobStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

// MockRedisClient backs the result cache.
type MockRedisClient struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{data: make(map[string]string)}
}

func (m *MockRedisClient) Ping(context.Context) error { return nil }

func (m *MockRedisClient) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := value.(type) {
	case string:
		m.data[key] = v
	case []byte:
		m.data[key] = string(v)
	}
	return nil
}

func (m *MockRedisClient) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *MockRedisClient) Incr(context.Context, string) (int64, error) { return 1, nil }

func (m *MockRedisClient) Expire(context.Context, string, time.Duration) error { return nil }

func (m *MockRedisClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MockRedisClient) Close() error { return nil }

// -----------------------------
// Pipeline fixture: a real GenerationPipeline on controllable adapters
// -----------------------------

type stubRecords struct {
	FetchTemplateFunc func(ctx context.Context, id string) (*model.Template, error)
}

func (s *stubRecords) FetchTemplate(ctx context.Context, id string) (*model.Template, error) {
	if s.FetchTemplateFunc != nil {
		return s.FetchTemplateFunc(ctx, id)
	}
	return &model.Template{ID: id, Name: "doc", Content: []byte("body"), MergeFormat: "html"}, nil
}

func (s *stubRecords) FetchMergeData(context.Context, string, string) (json.RawMessage, error) {
	return nil, domain.ErrNotFound
}

func (s *stubRecords) LinkArtifact(context.Context, string, string) error { return nil }

type stubEngine struct{}

func (stubEngine) Merge(_ context.Context, tmpl *model.Template, _ json.RawMessage) (*adapter.MergeResult, error) {
	return &adapter.MergeResult{Content: tmpl.Content, Format: "html"}, nil
}

type stubStore struct {
	PublishFunc func(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error)
}

func (s *stubStore) Publish(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error) {
	if s.PublishFunc != nil {
		return s.PublishFunc(ctx, content, meta)
	}
	return "ref://" + meta.Filename, nil
}

type noopConverter struct{}

func (noopConverter) Convert(_ context.Context, req adapter.ConvertRequest) (string, error) {
	return req.InputPath, nil
}

// newPipeline builds a pipeline with controllable failure points at the
// template fetch and the artifact store. Jobs sent through it request html so
// no conversion runs.
func newPipeline(workDir string, records *stubRecords, store *stubStore) *usecase.GenerationPipeline {
	pool := convert.NewPool(noopConverter{}, 1, time.Second, workDir, newTestLogger())
	return usecase.NewGenerationPipeline(records, stubEngine{}, pool, store, cache.NewTemplateCache(), newTestLogger())
}

func newResultCache() (*red.ResultCache, *MockRedisClient) {
	client := NewMockRedisClient()
	return red.NewResultCache(client, time.Hour), client
}
