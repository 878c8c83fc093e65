// Package api exposes the ThreatFlow HTTP surface: playbook
// generation and lifecycle, compliance reporting, and SOAR
// integration management.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/threatflow/threatflow/internal/compliance"
	"github.com/threatflow/threatflow/internal/observability"
	"github.com/threatflow/threatflow/internal/playbook"
	"github.com/threatflow/threatflow/internal/soar"
	"github.com/threatflow/threatflow/internal/store"
)

// PlaybookGenerator produces playbooks from generation requests.
type PlaybookGenerator interface {
	Generate(ctx context.Context, req playbook.Request) (*playbook.Playbook, error)
}

// PlaybookStore serves the read and lifecycle side of playbooks.
type PlaybookStore interface {
	LoadPlaybook(ctx context.Context, id string) (*playbook.Playbook, error)
	ListPlaybooks(ctx context.Context, limit, offset int) ([]store.PlaybookSummary, error)
	UpdatePlaybookStatus(ctx context.Context, id string, status playbook.Status) error
	DeletePlaybook(ctx context.Context, id string) error
}

// ComplianceScorer produces compliance coverage reports.
type ComplianceScorer interface {
	GenerateReport(ctx context.Context, jobID string, framework compliance.Framework) (*compliance.Report, error)
}

// SOARService drives the integration lifecycle.
type SOARService interface {
	CreateIntegration(ctx context.Context, req soar.CreateRequest) (*soar.Integration, error)
	GetIntegration(ctx context.Context, integrationID string) (*soar.Integration, error)
	SyncPlaybook(ctx context.Context, integrationID string) (*soar.Integration, error)
	ExecutePlaybook(ctx context.Context, integrationID string, params map[string]any) (*soar.Execution, error)
	Disconnect(ctx context.Context, integrationID string) error
}

// MappingReloader swaps the in-memory compliance mapping table.
type MappingReloader interface {
	Reload(ctx context.Context) error
	LoadedAt() time.Time
}

// Pinger reports backend reachability for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handler dependencies.
type Server struct {
	generator PlaybookGenerator
	playbooks PlaybookStore
	scorer    ComplianceScorer
	soar      SOARService
	mappings  MappingReloader
	db        Pinger
	limiter   *RateLimiter
	metrics   *observability.Metrics
	soarDefs  soar.Defaults
	logger    *zap.Logger
	version   string
}

// Options configures optional server dependencies.
type Options struct {
	Mappings MappingReloader
	DB       Pinger
	Limiter  *RateLimiter
	Metrics  *observability.Metrics
	SOAR     soar.Defaults
	Version  string
}

// NewServer wires the HTTP surface.
func NewServer(gen PlaybookGenerator, pbs PlaybookStore, scorer ComplianceScorer, soarSvc SOARService, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		generator: gen,
		playbooks: pbs,
		scorer:    scorer,
		soar:      soarSvc,
		mappings:  opts.Mappings,
		db:        opts.DB,
		limiter:   opts.Limiter,
		metrics:   opts.Metrics,
		soarDefs:  opts.SOAR,
		logger:    logger,
		version:   version,
	}
}

// Router assembles the chi router with the full middleware chain.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.instrument)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware())
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/playbooks", func(r chi.Router) {
			r.Post("/", s.handleGeneratePlaybook)
			r.Get("/", s.handleListPlaybooks)
			r.Get("/{id}", s.handleGetPlaybook)
			r.Get("/{id}/export", s.handleExportPlaybook)
			r.Patch("/{id}/status", s.handleUpdatePlaybookStatus)
			r.Delete("/{id}", s.handleDeletePlaybook)
		})

		r.Route("/compliance", func(r chi.Router) {
			r.Get("/frameworks", s.handleListFrameworks)
			r.Post("/reports", s.handleGenerateReport)
			r.Post("/mappings/reload", s.handleReloadMappings)
		})

		r.Route("/integrations", func(r chi.Router) {
			r.Post("/", s.handleCreateIntegration)
			r.Get("/{id}", s.handleGetIntegration)
			r.Post("/{id}/sync", s.handleSyncIntegration)
			r.Post("/{id}/execute", s.handleExecuteIntegration)
			r.Delete("/{id}", s.handleDeleteIntegration)
		})
	})

	return r
}

// instrument records request counts and latencies when metrics are
// wired, and logs each request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}

		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			s.metrics.RequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())
		}

		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", elapsed),
		)
	})
}
