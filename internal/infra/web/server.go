package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"document-generation-service/internal/config"
	"document-generation-service/internal/infra/convert"
	red "document-generation-service/internal/infra/redis"
	"document-generation-service/internal/infra/worker"
	"document-generation-service/internal/usecase"
)

type Server struct {
	submitUC *usecase.SubmitUseCase
	poller   *worker.Poller
	pool     *convert.Pool
	limiter  *red.RateLimiter

	apiKey    string
	rateLimit int
	log       *zerolog.Logger
}

func NewServer(
	submitUC *usecase.SubmitUseCase,
	poller *worker.Poller,
	pool *convert.Pool,
	limiter *red.RateLimiter,
	cfg *config.ServerConfig,
	logger *zerolog.Logger,
) *Server {
	webLog := logger.With().Str("component", "web").Logger()
	return &Server{
		submitUC:  submitUC,
		poller:    poller,
		pool:      pool,
		limiter:   limiter,
		apiKey:    cfg.APIKey,
		rateLimit: cfg.RateLimit,
		log:       &webLog,
	}
}

// Router builds the chi routing tree. /metrics and /health stay open;
// everything under /api/v1 sits behind the API key.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.rateLimitMiddleware).Post("/generations", s.handleSubmit)
		r.Get("/generations/{id}", s.handleGetJob)
		r.Post("/generations/{id}/cancel", s.handleCancel)

		r.Post("/poller/start", s.handlePollerStart)
		r.Post("/poller/stop", s.handlePollerStop)
		r.Get("/poller/status", s.handlePollerStatus)

		r.Get("/pool/stats", s.handlePoolStats)
	})
	return r
}

// authMiddleware provides simple Bearer token authentication for the API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("server.api_key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware caps submissions per client per minute. Disabled when
// the limit is zero or no limiter is wired.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimit <= 0 || s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		allowed, err := s.limiter.Allow(r.Context(), red.SubmitKey(clientKey(r)), s.rateLimit, time.Minute)
		if err != nil {
			// A broken limiter must not block submissions.
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.Split(ip, ",")[0]
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}
