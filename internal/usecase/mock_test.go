//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// -----------------------------
// MockJobRepo: in-memory GenerationJobRepository with Func overrides
// -----------------------------

type MockJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.GenerationJob

	CreateFunc     func(ctx context.Context, job *model.GenerationJob) error
	FindByHashFunc func(ctx context.Context, hash string) (*model.GenerationJob, error)
	UpdateFunc     func(ctx context.Context, jobID string, expected time.Time, patch repository.JobPatch) (bool, error)
	ClaimNextFunc  func(ctx context.Context, now time.Time, lease time.Duration) (*model.GenerationJob, error)
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

func (m *MockJobRepo) Create(ctx context.Context, job *model.GenerationJob) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, job)
	}
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

func (m *MockJobRepo) FindByHash(ctx context.Context, hash string) (*model.GenerationJob, error) {
	if m.FindByHashFunc != nil {
		return m.FindByHashFunc(ctx, hash)
	}
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
	best.UpdatedAt = now
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
	j.UpdatedAt = time.Now()
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

// Get returns the stored job without copying, for direct state assertions.
func (m *MockJobRepo) Get(id string) *model.GenerationJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// Put seeds a job directly, bypassing Create's uniqueness check.
func (m *MockJobRepo) Put(j *model.GenerationJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
}

// -----------------------------
// MockRedisClient backs ResultCache in tests
// -----------------------------

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

func (m *MockRedisClient) Incr(_ context.Context, key string) (int64, error) {
	return 1, nil
}

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
// Adapter mocks for the pipeline
// -----------------------------

type MockRecordSystem struct {
	FetchTemplateFunc  func(ctx context.Context, templateID string) (*model.Template, error)
	FetchMergeDataFunc func(ctx context.Context, dataSource, contextID string) (json.RawMessage, error)
	LinkArtifactFunc   func(ctx context.Context, outputRef, parentID string) error

	mu    sync.Mutex
	Links [][2]string // outputRef, parentID pairs seen
}

func (m *MockRecordSystem) FetchTemplate(ctx context.Context, templateID string) (*model.Template, error) {
	if m.FetchTemplateFunc != nil {
		return m.FetchTemplateFunc(ctx, templateID)
	}
	return nil, domain.ErrTemplateNotFound
}

func (m *MockRecordSystem) FetchMergeData(ctx context.Context, dataSource, contextID string) (json.RawMessage, error) {
	if m.FetchMergeDataFunc != nil {
		return m.FetchMergeDataFunc(ctx, dataSource, contextID)
	}
	return nil, domain.ErrNotFound
}

func (m *MockRecordSystem) LinkArtifact(ctx context.Context, outputRef, parentID string) error {
	m.mu.Lock()
	m.Links = append(m.Links, [2]string{outputRef, parentID})
	m.mu.Unlock()
	if m.LinkArtifactFunc != nil {
		return m.LinkArtifactFunc(ctx, outputRef, parentID)
	}
	return nil
}

type MockMergeEngine struct {
	MergeFunc func(ctx context.Context, tmpl *model.Template, data json.RawMessage) (*adapter.MergeResult, error)
}

func (m *MockMergeEngine) Merge(ctx context.Context, tmpl *model.Template, data json.RawMessage) (*adapter.MergeResult, error) {
	if m.MergeFunc != nil {
		return m.MergeFunc(ctx, tmpl, data)
	}
	return &adapter.MergeResult{Content: tmpl.Content, Format: "html"}, nil
}

type MockArtifactStore struct {
	PublishFunc func(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error)

	mu        sync.Mutex
	Published []adapter.ArtifactMeta
}

func (m *MockArtifactStore) Publish(ctx context.Context, content []byte, meta adapter.ArtifactMeta) (string, error) {
	m.mu.Lock()
	m.Published = append(m.Published, meta)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, content, meta)
	}
	return "ref://" + meta.Filename, nil
}

// stubConverter writes a fixed output file next to the input, standing in for
// the external converter binary.
type stubConverter struct {
	Output []byte
	Err    error
}

func (s *stubConverter) Convert(_ context.Context, req adapter.ConvertRequest) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	out := req.InputPath + "." + req.TargetFormat
	if err := os.WriteFile(out, s.Output, 0o644); err != nil {
		return "", err
	}
	return out, nil
}
