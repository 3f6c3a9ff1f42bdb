package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/FairForge/cryptgate/internal/config"
	"github.com/FairForge/cryptgate/internal/metrics"
	"github.com/FairForge/cryptgate/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Service is the orchestration layer behind the HTTP handlers
type Service interface {
	Encrypt(ctx context.Context, req service.EncryptRequest) (*service.EncryptResponse, error)
	Decrypt(ctx context.Context, req service.DecryptRequest) (*service.DecryptResponse, error)
	BatchEncrypt(ctx context.Context, reqs []service.EncryptRequest) ([]service.EncryptResponse, error)
	BatchDecrypt(ctx context.Context, reqs []service.DecryptRequest) ([]service.DecryptResponse, error)
	HealthCheck() error
	Status() service.Status
	ServiceID() string
	Role() config.ServiceRole
}

type Server struct {
	config     *config.Config
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server
	service    Service
	collector  *metrics.Collector
	limiter    *RateLimiter
	auth       *Authenticator
	startTime  time.Time
}

// Option configures the server
type Option func(*Server)

// WithMetrics records request metrics
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.collector = c
	}
}

// WithRateLimiter replaces the limiter built from config
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) {
		s.limiter = rl
	}
}

func NewServer(cfg *config.Config, svc Service, logger *zap.Logger, opts ...Option) *Server {
	s := &Server{
		config:    cfg,
		logger:    logger,
		service:   svc,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.limiter == nil {
		s.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.JWT.AuthEnabled {
		s.auth = NewAuthenticator(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiresIn)*time.Second)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware(s.collector))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		// auth runs first so the limiter can key on the token subject
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Use(RateLimitMiddleware(s.limiter))

		r.Get("/status", s.handleStatus)
		r.Post("/encrypt", s.handleEncrypt)
		r.Post("/decrypt", s.handleDecrypt)
		r.Route("/batch", func(r chi.Router) {
			r.Post("/encrypt", s.handleBatchEncrypt)
			r.Post("/decrypt", s.handleBatchDecrypt)
		})
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("starting server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("service_id", s.service.ServiceID()),
		zap.String("service_role", string(s.service.Role())))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
