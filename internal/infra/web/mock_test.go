//go:build !integration

package web_test

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"document-generation-service/internal/config"
	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/domain/ports/repository"
	"document-generation-service/internal/infra/cache"
	"document-generation-service/internal/infra/convert"
	red "document-generation-service/internal/infra/redis"
	"document-generation-service/internal/infra/web"
	"document-generation-service/internal/infra/worker"
	"document-generation-service/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type MockJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.GenerationJob
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

func (m *MockJobRepo) Create(_ context.Context, job *model.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.RequestHash == job.RequestHash {
			return domain.ErrAlreadyExists
		}
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
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

func (m *MockJobRepo) ClaimNext(_ context.Context, now time.Time, lease time.Duration) (*model.GenerationJob, error) {
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

func (m *MockJobRepo) Update(_ context.Context, jobID string, expected time.Time, patch repository.JobPatch) (bool, error) {
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

type stubRecords struct{}

func (stubRecords) FetchTemplate(_ context.Context, id string) (*model.Template, error) {
	return &model.Template{ID: id, Name: "doc", Content: []byte("body"), MergeFormat: "html"}, nil
}

func (stubRecords) FetchMergeData(context.Context, string, string) (json.RawMessage, error) {
	return nil, domain.ErrNotFound
}

func (stubRecords) LinkArtifact(context.Context, string, string) error { return nil }

type stubEngine struct{}

func (stubEngine) Merge(_ context.Context, tmpl *model.Template, _ json.RawMessage) (*adapter.MergeResult, error) {
	return &adapter.MergeResult{Content: tmpl.Content, Format: "html"}, nil
}

type stubStore struct{}

func (stubStore) Publish(_ context.Context, _ []byte, meta adapter.ArtifactMeta) (string, error) {
	return "ref://" + meta.Filename, nil
}

type noopConverter struct{}

func (noopConverter) Convert(_ context.Context, req adapter.ConvertRequest) (string, error) {
	return req.InputPath, nil
}

const testAPIKey = "test-api-key"

// serverFixture wires a full server on in-memory dependencies.
type serverFixture struct {
	repo   *MockJobRepo
	poller *worker.Poller
	server *web.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	repo := NewMockJobRepo()
	results := red.NewResultCache(NewMockRedisClient(), time.Hour)
	pool := convert.NewPool(noopConverter{}, 2, time.Second, t.TempDir(), newTestLogger())
	pipeline := usecase.NewGenerationPipeline(stubRecords{}, stubEngine{}, pool, stubStore{}, cache.NewTemplateCache(), newTestLogger())
	poller := worker.NewPoller(repo, pipeline, results, 50*time.Millisecond, time.Minute, 3, nil, newTestLogger())
	submitUC := usecase.NewSubmitUseCase(repo, results, newTestLogger())
	submitUC.AttachWaker(poller)

	cfg := &config.ServerConfig{Port: 0, APIKey: testAPIKey}
	return &serverFixture{
		repo:   repo,
		poller: poller,
		server: web.NewServer(submitUC, poller, pool, nil, cfg, newTestLogger()),
	}
}
