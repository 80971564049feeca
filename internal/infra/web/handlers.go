package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"document-generation-service/internal/domain"
	"document-generation-service/internal/domain/model"
	"document-generation-service/internal/usecase"
)

var validate = validator.New()

// syncWaitBudget bounds how long a wait=1 submission keeps the connection
// open. The job itself is untouched when the budget runs out.
const syncWaitBudget = 90 * time.Second

type submitPayload struct {
	TemplateID          string          `json:"templateId" validate:"required"`
	OutputFormat        string          `json:"outputFormat" validate:"required,oneof=pdf docx odt html txt"`
	Data                json.RawMessage `json:"data,omitempty"`
	ContextID           string          `json:"contextId,omitempty"`
	RequestHash         string          `json:"requestHash,omitempty" validate:"omitempty,len=64,hexadecimal"`
	Priority            int             `json:"priority,omitempty" validate:"gte=0,lte=100"`
	RetainMergeArtifact bool            `json:"retainMergeArtifact,omitempty"`
	ParentIDs           []string        `json:"parentIds,omitempty"`
}

type jobResponse struct {
	ID            string          `json:"id"`
	RequestHash   string          `json:"requestHash"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	TemplateID    string          `json:"templateId"`
	OutputFormat  string          `json:"outputFormat"`
	ContextID     string          `json:"contextId,omitempty"`
	Priority      int             `json:"priority"`
	CorrelationID string          `json:"correlationId"`
	OutputRef     string          `json:"outputRef,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	ParentIDs     []string        `json:"parentIds,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toJobResponse(job *model.GenerationJob) jobResponse {
	return jobResponse{
		ID:            job.ID,
		RequestHash:   job.RequestHash,
		Status:        string(job.Status),
		Attempts:      job.Attempts,
		TemplateID:    job.TemplateID,
		OutputFormat:  job.OutputFormat,
		ContextID:     job.ContextID,
		Priority:      job.Priority,
		CorrelationID: job.CorrelationID,
		OutputRef:     job.OutputRef,
		LastError:     job.LastError,
		ParentIDs:     job.ParentIDs,
		Data:          job.Data,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := usecase.SubmitRequest{
		TemplateID:          payload.TemplateID,
		OutputFormat:        payload.OutputFormat,
		Data:                payload.Data,
		ContextID:           payload.ContextID,
		RequestHash:         payload.RequestHash,
		Priority:            payload.Priority,
		RetainMergeArtifact: payload.RetainMergeArtifact,
		ParentIDs:           payload.ParentIDs,
	}

	if r.URL.Query().Get("wait") == "1" {
		ctx, cancel := context.WithTimeout(r.Context(), syncWaitBudget)
		defer cancel()

		job, err := s.submitUC.SubmitAndWait(ctx, req)
		if err != nil {
			s.writeSubmitError(w, err)
			return
		}
		if job.Terminal() {
			writeJSON(w, http.StatusOK, toJobResponse(job))
			return
		}
		// Wait budget elapsed; the job keeps running in the background.
		writeJSON(w, http.StatusAccepted, toJobResponse(job))
		return
	}

	job, err := s.submitUC.Submit(r.Context(), req)
	if err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResponse(job))
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "generation did not finish in time")
	default:
		s.log.Error().Err(err).Msg("submission failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.submitUC.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error().Err(err).Str("job_id", id).Msg("failed to load job")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.submitUC.Cancel(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, domain.ErrJobNotCancelable):
			writeError(w, http.StatusConflict, "only queued jobs can be canceled")
		default:
			s.log.Error().Err(err).Str("job_id", id).Msg("cancel failed")
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handlePollerStart(w http.ResponseWriter, r *http.Request) {
	// The loop must outlive this request.
	if err := s.poller.Start(context.Background()); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "poller already running")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handlePollerStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.poller.Stop(); err != nil {
		if errors.Is(err, domain.ErrNotRunning) {
			writeError(w, http.StatusConflict, "poller not running")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handlePollerStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.poller.Status(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read poller status")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.Stats())
}
