package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/domain/ports/adapter"
	"document-generation-service/internal/infra/cache"
	"document-generation-service/internal/infra/convert"
	"document-generation-service/internal/infra/logging"
)

// PipelineError classifies a step failure at the orchestrator boundary. The
// poller never inspects the underlying error, only Retryable and the attempt
// counter.
type PipelineError struct {
	Step      string
	Retryable bool
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func retryable(step string, err error) *PipelineError {
	return &PipelineError{Step: step, Retryable: true, Err: err}
}

func terminal(step string, err error) *PipelineError {
	return &PipelineError{Step: step, Retryable: false, Err: err}
}

// GenerationPipeline sequences fetch-template, merge, convert, publish and
// link for one job. Retry lives at the job level in the poller; no step here
// loops on its own.
type GenerationPipeline struct {
	records   adapter.RecordSystem
	engine    adapter.MergeEngine
	pool      *convert.Pool
	store     adapter.ArtifactStore
	templates *cache.TemplateCache
	log       *zerolog.Logger
}

func NewGenerationPipeline(
	records adapter.RecordSystem,
	engine adapter.MergeEngine,
	pool *convert.Pool,
	store adapter.ArtifactStore,
	templates *cache.TemplateCache,
	logger *zerolog.Logger,
) *GenerationPipeline {
	plLog := logger.With().Str("component", "GenerationPipeline").Logger()
	return &GenerationPipeline{
		records:   records,
		engine:    engine,
		pool:      pool,
		store:     store,
		templates: templates,
		log:       &plLog,
	}
}

// Run executes the pipeline for one claimed job and returns the outputRef.
// Failures come back as *PipelineError.
func (p *GenerationPipeline) Run(ctx context.Context, job *model.GenerationJob) (string, error) {
	ctx = logging.WithCorrelationID(ctx, job.CorrelationID)
	ctx = logging.WithJobID(ctx, job.ID)
	log := logging.With(ctx, p.log)
	defer logging.TraceDuration(log, "GenerationPipeline.Run")()

	// 1. Resolve template: in-process cache first, record system on miss.
	tmpl, ok := p.templates.Get(job.TemplateID)
	if !ok {
		var err error
		tmpl, err = p.records.FetchTemplate(ctx, job.TemplateID)
		if err != nil {
			if errors.Is(err, domain.ErrTemplateNotFound) {
				// Retrying cannot make a missing template appear.
				return "", terminal("fetch-template", err)
			}
			return "", retryable("fetch-template", err)
		}
		p.templates.Put(tmpl)
	}
	log.Debug().Str("template_id", tmpl.ID).Msg("template resolved")

	// 2. Assemble merge data: record-system data when the template declares a
	// source and the job carries a context, with inline fields on top.
	data, err := p.assembleData(ctx, tmpl, job)
	if err != nil {
		return "", err
	}

	// 3. Merge.
	merged, err := p.engine.Merge(ctx, tmpl, data)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return "", terminal("merge", err)
		}
		return "", retryable("merge", err)
	}
	log.Debug().Str("merge_format", merged.Format).Int("bytes", len(merged.Content)).Msg("merge finished")

	// 4. Convert when the requested format differs from what the merge produced.
	artifact := merged.Content
	format := merged.Format
	converted := false
	if job.OutputFormat != "" && !strings.EqualFold(format, job.OutputFormat) {
		artifact, err = p.pool.Submit(ctx, convert.ConversionJob{
			Input:         merged.Content,
			InputFormat:   merged.Format,
			TargetFormat:  job.OutputFormat,
			CorrelationID: job.CorrelationID,
		})
		if err != nil {
			// Timeouts, non-zero exits and scratch IO all point at transient
			// resource pressure.
			return "", retryable("convert", err)
		}
		format = job.OutputFormat
		converted = true

		if strings.EqualFold(format, "pdf") {
			if err := convert.ValidatePDF(artifact); err != nil {
				return "", retryable("convert", err)
			}
			if pages, err := convert.PDFPageCount(artifact); err == nil {
				log.Debug().Int("pages", pages).Msg("pdf validated")
			}
		}
	}

	// 5. Publish, optionally retaining the pre-conversion artifact.
	outputRef, err := p.store.Publish(ctx, artifact, adapter.ArtifactMeta{
		Filename:      artifactFilename(tmpl, job.ID, format),
		ContentType:   contentTypeFor(format),
		TemplateID:    tmpl.ID,
		CorrelationID: job.CorrelationID,
	})
	if err != nil {
		return "", retryable("publish", err)
	}
	if job.RetainMergeArtifact && converted {
		if _, err := p.store.Publish(ctx, merged.Content, adapter.ArtifactMeta{
			Filename:      artifactFilename(tmpl, job.ID, merged.Format),
			ContentType:   contentTypeFor(merged.Format),
			TemplateID:    tmpl.ID,
			CorrelationID: job.CorrelationID,
		}); err != nil {
			return "", retryable("publish", err)
		}
	}

	// 6. Link to parent records, best-effort per parent.
	for _, parentID := range job.ParentIDs {
		if err := p.records.LinkArtifact(ctx, outputRef, parentID); err != nil {
			log.Warn().Err(err).Str("parent_id", parentID).Msg("artifact link failed")
		}
	}

	log.Info().Str("output_ref", outputRef).Str("format", format).Msg("generation finished")
	return outputRef, nil
}

func (p *GenerationPipeline) assembleData(ctx context.Context, tmpl *model.Template, job *model.GenerationJob) (json.RawMessage, error) {
	if tmpl.DataSource == "" || job.ContextID == "" {
		return job.Data, nil
	}

	fetched, err := p.records.FetchMergeData(ctx, tmpl.DataSource, job.ContextID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, terminal("fetch-merge-data", err)
		}
		return nil, retryable("fetch-merge-data", err)
	}
	if len(job.Data) == 0 {
		return fetched, nil
	}

	merged, err := overlayJSON(fetched, job.Data)
	if err != nil {
		return nil, terminal("fetch-merge-data", err)
	}
	return merged, nil
}

// overlayJSON merges two JSON objects, with fields from over winning.
func overlayJSON(base, over json.RawMessage) (json.RawMessage, error) {
	var b, o map[string]json.RawMessage
	if err := json.Unmarshal(base, &b); err != nil {
		return nil, fmt.Errorf("merge data is not a JSON object: %w", err)
	}
	if err := json.Unmarshal(over, &o); err != nil {
		return nil, fmt.Errorf("inline data is not a JSON object: %w", err)
	}
	for k, v := range o {
		b[k] = v
	}
	return json.Marshal(b)
}

func artifactFilename(tmpl *model.Template, jobID, format string) string {
	name := tmpl.Name
	if name == "" {
		name = jobID
	}
	return name + "." + strings.ToLower(format)
}

func contentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "pdf":
		return "application/pdf"
	case "html":
		return "text/html"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case "odt":
		return "application/vnd.oasis.opendocument.text"
	case "txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
