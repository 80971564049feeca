package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/repository"
	"document-generation-service/internal/infra/logging"
	"document-generation-service/internal/infra/metrics"
	red "document-generation-service/internal/infra/redis"
	"document-generation-service/internal/usecase"
)

// PollerStats are cumulative since process start.
type PollerStats struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	LeaseLost int64 `json:"leaseLost"`
}

// PollerStatus is the operator-facing view of the loop.
type PollerStatus struct {
	Running     bool        `json:"running"`
	Backlog     int         `json:"backlog"`
	LastPoll    time.Time   `json:"lastPoll"`
	NextPoll    time.Time   `json:"nextPoll"`
	Stats       PollerStats `json:"stats"`
	SuccessRate float64     `json:"successRate"`
}

// Poller drains the shared job backlog. Multiple replicas may run against one
// store; safety comes entirely from ClaimNext/Update atomicity, never from
// in-process coordination.
type Poller struct {
	repo     repository.GenerationJobRepository
	pipeline *usecase.GenerationPipeline
	results  *red.ResultCache

	interval     time.Duration
	lease        time.Duration
	retryCeiling int
	backoff      []time.Duration
	log          *zerolog.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
	lastPoll time.Time
	nextPoll time.Time
	stats    PollerStats

	wake chan struct{}
}

func NewPoller(
	repo repository.GenerationJobRepository,
	pipeline *usecase.GenerationPipeline,
	results *red.ResultCache,
	interval, lease time.Duration,
	retryCeiling int,
	backoff []time.Duration,
	logger *zerolog.Logger,
) *Poller {
	pollLog := logger.With().Str("component", "Poller").Logger()
	return &Poller{
		repo:         repo,
		pipeline:     pipeline,
		results:      results,
		interval:     interval,
		lease:        lease,
		retryCeiling: retryCeiling,
		backoff:      backoff,
		log:          &pollLog,
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the poll loop. Starting a running poller is a reported
// conflict, not a crash.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return domain.ErrAlreadyRunning
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(loopCtx)
	p.log.Info().Dur("interval", p.interval).Dur("lease", p.lease).Msg("poller started")
	return nil
}

// Stop is graceful: claiming stops immediately, an in-flight job finishes.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return domain.ErrNotRunning
	}
	// Flipped under the same hold so a concurrent Stop reports the conflict
	// instead of also draining.
	p.running = false
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	<-done
	p.inflight.Wait()
	p.log.Info().Msg("poller stopped")
	return nil
}

// Wake nudges an idle loop to poll immediately.
func (p *Poller) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	for {
		if ctx.Err() != nil {
			return
		}

		p.mu.Lock()
		p.lastPoll = time.Now()
		p.mu.Unlock()

		job, err := p.repo.ClaimNext(ctx, time.Now(), p.lease)
		switch {
		case err == nil:
			p.process(job)
			// Drain immediately while the backlog is non-empty.
			continue
		case errors.Is(err, domain.ErrNotFound):
			// empty backlog
		case ctx.Err() != nil:
			return
		default:
			p.log.Error().Err(err).Msg("claim failed")
		}

		p.mu.Lock()
		p.nextPoll = time.Now().Add(p.interval)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		case <-time.After(p.interval):
		}
	}
}

// process runs one attempt. It is detached from the loop context (a graceful
// stop lets it finish) but bounded by the lease window: an attempt that cannot
// finish inside its lease has already forfeited the job.
func (p *Poller) process(job *model.GenerationJob) {
	p.inflight.Add(1)
	defer p.inflight.Done()

	token := *job.LockedUntil
	ctx, cancel := context.WithDeadline(context.Background(), token)
	defer cancel()
	ctx = logging.WithCorrelationID(ctx, job.CorrelationID)
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, p.log)

	log.Info().Int("attempt", job.Attempts+1).Msg("processing job")
	start := time.Now()
	outputRef, err := p.pipeline.Run(ctx, job)
	elapsed := time.Since(start)

	if err == nil {
		p.finishSuccess(ctx, job, token, outputRef, log, elapsed)
		return
	}
	p.finishFailure(ctx, job, token, err, log, elapsed)
}

func (p *Poller) finishSuccess(_ context.Context, job *model.GenerationJob, token time.Time, outputRef string, log *zerolog.Logger, elapsed time.Duration) {
	// The final write must not die with the lease deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := model.JobStatusSucceeded
	empty := ""
	ok, err := p.repo.Update(ctx, job.ID, token, repository.JobPatch{
		Status:           &status,
		OutputRef:        &outputRef,
		LastError:        &empty,
		ClearLockedUntil: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("final update failed")
		return
	}
	if !ok {
		p.noteLeaseLost(log)
		return
	}

	p.mu.Lock()
	p.stats.Processed++
	p.stats.Succeeded++
	p.mu.Unlock()
	metrics.IncJob("succeeded")

	if err := p.results.Store(ctx, job.RequestHash, red.CachedResult{
		JobID:     job.ID,
		OutputRef: outputRef,
	}); err != nil {
		log.Warn().Err(err).Msg("result cache store failed")
	}
	log.Info().Str("output_ref", outputRef).Dur("duration", elapsed).Msg("job succeeded")
}

func (p *Poller) finishFailure(_ context.Context, job *model.GenerationJob, token time.Time, runErr error, log *zerolog.Logger, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	attempts := job.Attempts + 1
	msg := runErr.Error()

	// The orchestrator classified the failure; anything else (e.g. the lease
	// deadline firing mid-step) counts as transient.
	canRetry := true
	var pErr *usecase.PipelineError
	if errors.As(runErr, &pErr) {
		canRetry = pErr.Retryable
	}

	if canRetry && attempts < p.retryCeiling {
		status := model.JobStatusQueued
		gate := time.Now().Add(p.backoffFor(attempts))
		ok, err := p.repo.Update(ctx, job.ID, token, repository.JobPatch{
			Status:      &status,
			Attempts:    &attempts,
			LastError:   &msg,
			LockedUntil: &gate,
		})
		if err != nil {
			log.Error().Err(err).Msg("requeue update failed")
			return
		}
		if !ok {
			p.noteLeaseLost(log)
			return
		}
		p.mu.Lock()
		p.stats.Processed++
		p.stats.Retried++
		p.mu.Unlock()
		metrics.IncJobRetried()
		log.Warn().Err(runErr).Int("attempt", attempts).Time("retry_after", gate).Dur("duration", elapsed).Msg("job attempt failed, requeued")
		return
	}

	status := model.JobStatusFailed
	ok, err := p.repo.Update(ctx, job.ID, token, repository.JobPatch{
		Status:           &status,
		Attempts:         &attempts,
		LastError:        &msg,
		ClearLockedUntil: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("final update failed")
		return
	}
	if !ok {
		p.noteLeaseLost(log)
		return
	}
	p.mu.Lock()
	p.stats.Processed++
	p.stats.Failed++
	p.mu.Unlock()
	metrics.IncJob("failed")
	log.Error().Err(runErr).Int("attempt", attempts).Dur("duration", elapsed).Msg("job failed permanently")
}

// noteLeaseLost records expected contention: another worker reclaimed the job
// after our lease expired, so this attempt just stops.
func (p *Poller) noteLeaseLost(log *zerolog.Logger) {
	p.mu.Lock()
	p.stats.LeaseLost++
	p.mu.Unlock()
	metrics.IncLeaseLost()
	log.Debug().Msg("lease lost, attempt abandoned")
}

func (p *Poller) backoffFor(attempt int) time.Duration {
	if len(p.backoff) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.backoff) {
		idx = len(p.backoff) - 1
	}
	return p.backoff[idx]
}

// Status reports the loop state plus current backlog depth.
func (p *Poller) Status(ctx context.Context) (PollerStatus, error) {
	backlog, err := p.repo.CountByStatus(ctx, model.JobStatusQueued)
	if err != nil {
		return PollerStatus{}, err
	}
	metrics.SetBacklogDepth(backlog)

	p.mu.Lock()
	defer p.mu.Unlock()
	st := PollerStatus{
		Running:  p.running,
		Backlog:  backlog,
		LastPoll: p.lastPoll,
		NextPoll: p.nextPoll,
		Stats:    p.stats,
	}
	if done := p.stats.Succeeded + p.stats.Failed; done > 0 {
		st.SuccessRate = float64(p.stats.Succeeded) / float64(done)
	}
	return st, nil
}
