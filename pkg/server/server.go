package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Layr-Labs/eigenx-esign-go/pkg/auth"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/metrics"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/signing"
	"github.com/Layr-Labs/eigenx-esign-go/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

/*
Server exposes the signing service over HTTP.

	POST /v1/otp                    bearer   issue a one-time code and deliver it
	POST /v1/documents/sign         bearer   multipart signing transaction
	GET  /v1/evidence/{term}        public   first matching record (?all=true for every match)
	GET  /v1/evidence/{term}/verify public   recompute signature and timestamp checks
	GET  /healthz                   public   primary store health
	GET  /metrics                   public   Prometheus exposition

Every error body is {"error": "...", "state": "..."} where state is the
terminal transaction state, when there is one.
*/

const (
	defaultRequestTimeout    = 60 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	multipartOverheadBytes   = 1 << 20
	multipartMemoryBytes     = 8 << 20
)

// SigningService is the transaction surface served over HTTP
type SigningService interface {
	RequestOTP(ctx context.Context, in signing.RequestOTPInput) (*signing.RequestOTPResult, error)
	SignDocument(ctx context.Context, in signing.SignDocumentInput) (*signing.SignDocumentResult, error)
	GetEvidence(ctx context.Context, term string) (*types.EvidenceRecord, error)
	ListEvidence(ctx context.Context, term string) ([]*types.EvidenceRecord, error)
	VerifyEvidence(ctx context.Context, term string) (*types.VerifyEvidenceResponse, error)
}

// HealthChecker reports whether the backing store is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config tunes the HTTP server
type Config struct {
	Port              int
	RequestTimeout    time.Duration
	ReadHeaderTimeout time.Duration
	// MaxBodyBytes caps a signing request body; it should cover the largest
	// document plus the largest rubric
	MaxBodyBytes int64
}

// Server handles HTTP requests for the signing service
type Server struct {
	svc        SigningService
	verifier   auth.Verifier
	health     HealthChecker
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        Config
	httpServer *http.Server
}

// NewServer builds the router and the underlying http.Server
func NewServer(cfg Config, svc SigningService, verifier auth.Verifier, health HealthChecker, m *metrics.Metrics, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = signing.DefaultMaxDocumentBytes + signing.DefaultMaxRubricBytes
	}

	s := &Server{
		svc:      svc,
		verifier: verifier,
		health:   health,
		metrics:  m,
		logger:   logger,
		cfg:      cfg,
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.verifier, s.logger))
			r.Post("/otp", s.handleRequestOTP)
			r.Post("/documents/sign", s.handleSignDocument)
		})
		r.Get("/evidence/{term}", s.handleGetEvidence)
		r.Get("/evidence/{term}/verify", s.handleVerifyEvidence)
	})

	return r
}

// requestLogger logs one line per request
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Sugar().Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Start serves in the background
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx is done
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
