package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/infra/metrics"
)

// ConversionJob is one pool execution: input artifact bytes in, converted
// artifact bytes out. It lives exactly as long as its pool slot.
type ConversionJob struct {
	Input         []byte
	InputFormat   string // file extension of the merged artifact, e.g. "html"
	TargetFormat  string // requested output format, e.g. "pdf"
	Timeout       time.Duration
	WorkDir       string
	CorrelationID string
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Pool bounds concurrent invocations of the external converter. The converter
// is memory- and CPU-heavy per run; the bound is static configuration sized to
// the host, not discovered at runtime. Saturated submissions queue and are
// granted slots in FIFO order (blocked channel sends are served in arrival
// order by the runtime).
type Pool struct {
	conv           adapter.Converter
	sem            chan struct{}
	defaultTimeout time.Duration
	workDir        string
	log            *zerolog.Logger

	mu        sync.Mutex
	active    int
	queued    int
	completed int64
	failed    int64
}

func NewPool(conv adapter.Converter, maxConcurrent int, defaultTimeout time.Duration, workDir string, logger *zerolog.Logger) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	poolLog := logger.With().Str("component", "ConversionPool").Logger()
	return &Pool{
		conv:           conv,
		sem:            make(chan struct{}, maxConcurrent),
		defaultTimeout: defaultTimeout,
		workDir:        workDir,
		log:            &poolLog,
	}
}

// Submit runs one conversion, suspending the caller while the pool is
// saturated. ctx cancellation only applies while waiting for a slot; once the
// external process starts it is terminated solely by the job's own timeout.
func (p *Pool) Submit(ctx context.Context, job ConversionJob) ([]byte, error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	workDir := job.WorkDir
	if workDir == "" {
		workDir = p.workDir
	}

	p.addQueued(1)
	select {
	case p.sem <- struct{}{}:
		p.addQueued(-1)
	case <-ctx.Done():
		p.addQueued(-1)
		return nil, fmt.Errorf("waiting for conversion slot: %w", ctx.Err())
	}
	p.addActive(1)
	defer func() {
		p.addActive(-1)
		<-p.sem
	}()

	out, err := p.execute(job, workDir, timeout)

	p.mu.Lock()
	if err != nil {
		p.failed++
	} else {
		p.completed++
	}
	p.mu.Unlock()
	return out, err
}

func (p *Pool) execute(job ConversionJob, workDir string, timeout time.Duration) ([]byte, error) {
	scratch := filepath.Join(workDir, "convert-"+uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		metrics.IncConversion("failed")
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	// The scratch directory goes away on every exit path. A failed removal is
	// logged, never surfaced as the conversion's error.
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			p.log.Error().Err(err).
				Str("correlation_id", job.CorrelationID).
				Str("dir", scratch).
				Msg("scratch cleanup failed")
		}
	}()

	inputPath := filepath.Join(scratch, "input."+job.InputFormat)
	if err := os.WriteFile(inputPath, job.Input, 0o644); err != nil {
		metrics.IncConversion("failed")
		return nil, fmt.Errorf("write input artifact: %w", err)
	}

	// Detached from the caller: an upstream cancellation must not kill a
	// running conversion, only the pool's own timeout may.
	runCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	outPath, err := p.conv.Convert(runCtx, adapter.ConvertRequest{
		WorkDir:      scratch,
		InputPath:    inputPath,
		TargetFormat: job.TargetFormat,
		Timeout:      timeout,
	})
	elapsed := time.Since(start)
	metrics.ObserveConversionLatency(float64(elapsed.Milliseconds()))

	if err != nil {
		if runCtx.Err() != nil {
			metrics.IncConversion("timeout")
			p.log.Warn().
				Str("correlation_id", job.CorrelationID).
				Dur("timeout", timeout).
				Msg("conversion timed out, process killed")
			return nil, fmt.Errorf("%w after %s", ErrConvertTimeout, timeout)
		}
		metrics.IncConversion("failed")
		return nil, err
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		metrics.IncConversion("failed")
		return nil, fmt.Errorf("read output artifact: %w", err)
	}

	p.log.Debug().
		Str("correlation_id", job.CorrelationID).
		Str("target_format", job.TargetFormat).
		Dur("duration", elapsed).
		Int("bytes", len(out)).
		Msg("conversion finished")
	metrics.IncConversion("completed")
	return out, nil
}

// Stats returns a snapshot without blocking active work.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Active:    p.active,
		Queued:    p.queued,
		Completed: p.completed,
		Failed:    p.failed,
	}
}

func (p *Pool) addQueued(d int) {
	p.mu.Lock()
	p.queued += d
	metrics.SetPoolQueued(p.queued)
	p.mu.Unlock()
}

func (p *Pool) addActive(d int) {
	p.mu.Lock()
	p.active += d
	metrics.SetPoolActive(p.active)
	p.mu.Unlock()
}
