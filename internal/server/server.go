// Package server exposes the essay pipeline over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/essay-grader/internal/entity"
	"github.com/joseph-ayodele/essay-grader/internal/repository"
)

// EssayService is what the handlers need from pipeline.Orchestrator.
type EssayService interface {
	Submit(ctx context.Context, title string, image []byte, mime string) (*entity.Essay, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Essay, error)
	List(ctx context.Context, filter repository.ListFilter) ([]entity.Essay, error)
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) (*entity.Essay, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CurrentAnalysis(ctx context.Context, id uuid.UUID) (*entity.Analysis, error)
	History(ctx context.Context, id uuid.UUID) ([]entity.Analysis, error)
	Reanalyze(ctx context.Context, id uuid.UUID, text string) (*entity.Analysis, error)
	ReanalyzeText(ctx context.Context, text string) (*entity.Analysis, error)
	Image(ctx context.Context, id uuid.UUID) ([]byte, string, error)
}

// Exporter builds spreadsheet downloads.
type Exporter interface {
	ExportAnalysesXLSX(ctx context.Context, essayID uuid.UUID) ([]byte, error)
	ExportEssaysXLSX(ctx context.Context, filter repository.ListFilter) ([]byte, error)
}

// HealthChecker is anything /healthz should ping.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Tokens         []string
	CORSOrigins    []string
	MaxBodyBytes   int64
	MaxImageBytes  int64
	RateLimitEvery time.Duration // zero disables per-client rate limiting
	RateLimitBurst int
	RetryAfter     time.Duration // advertised on 409
	HealthTimeout  time.Duration
}

type Server struct {
	essays  EssayService
	exports Exporter
	checks  map[string]HealthChecker
	limiter *clientLimiter
	cfg     Config
	logger  *slog.Logger
}

func New(essays EssayService, exports Exporter, checks map[string]HealthChecker, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 2 * time.Second
	}
	s := &Server{essays: essays, exports: exports, checks: checks, cfg: cfg, logger: logger}
	if cfg.RateLimitEvery > 0 {
		s.limiter = newClientLimiter(cfg.RateLimitEvery, cfg.RateLimitBurst)
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Retry-After", "X-Request-ID", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/redacoes", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.bearerAuth)

		r.Get("/", s.wrap(s.handleList))
		r.Post("/", s.wrap(s.handleCreate))
		r.Get("/export.xlsx", s.wrap(s.handleExportEssays))
		r.Post("/reanalyze", s.wrap(s.handleReanalyze))
		r.Post("/reanalisar", s.wrap(s.handleReanalyze))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.wrap(s.handleGet))
			r.Put("/", s.wrap(s.handleUpdate))
			r.Delete("/", s.wrap(s.handleDelete))
			r.Get("/imagem", s.wrap(s.handleImage))
			r.Get("/analise", s.wrap(s.handleTextReport))
			r.Get("/analise-enem", s.wrap(s.handleCurrentAnalysis))
			r.Get("/analises", s.wrap(s.handleHistory))
			r.Get("/analises.xlsx", s.wrap(s.handleExportAnalyses))
		})
	})
	return r
}
