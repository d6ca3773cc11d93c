package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/screenocr/internal/api"
	"github.com/jackzampolin/screenocr/internal/config"
	"github.com/jackzampolin/screenocr/internal/device"
	"github.com/jackzampolin/screenocr/internal/engine"
	"github.com/jackzampolin/screenocr/internal/home"
	"github.com/jackzampolin/screenocr/internal/inference"
	"github.com/jackzampolin/screenocr/internal/metrics"
	"github.com/jackzampolin/screenocr/internal/models"
	"github.com/jackzampolin/screenocr/internal/progress"
	"github.com/jackzampolin/screenocr/internal/server/endpoints"
	"github.com/jackzampolin/screenocr/internal/svcctx"
)

// First-use requests block while the models load, so writes get a long deadline.
const (
	readTimeout     = 30 * time.Second
	writeTimeout    = 10 * time.Minute
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Server is the screenocr HTTP server.
// It owns the model registry and inference service and serves them over HTTP.
type Server struct {
	httpServer *http.Server
	configMgr  *config.Manager
	logger     *slog.Logger
	levelVar   *slog.LevelVar
	preload    bool

	models *models.Registry

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu       sync.RWMutex
	running  bool
	listener net.Listener
}

// Config holds server configuration.
type Config struct {
	// ConfigManager provides configuration with hot-reload support (required)
	ConfigManager *config.Manager
	// Home locates the model cache, with models.cache_dir already applied
	// (default: the install directory)
	Home *home.Dir
	// Logger is the structured logger to use
	Logger *slog.Logger
	// LevelVar, if set, follows log.level on config reload
	LevelVar *slog.LevelVar
	// Backend replaces the configured OCR engine
	Backend engine.Backend
	// Prober replaces accelerator probing
	Prober device.Prober
}

// New creates a new Server and the services behind it. Models are not loaded
// until the first OCR request, or in the background at Start when
// models.preload is set.
func New(cfg Config) (*Server, error) {
	if cfg.ConfigManager == nil {
		return nil, errors.New("server: config manager is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, err
		}
		cfg.Home = h
	}

	c := cfg.ConfigManager.Get()

	backend := cfg.Backend
	if backend == nil {
		var err error
		backend, err = engine.New(c.Models.Engine, engine.Config{
			CacheDir: cfg.Home.ModelCacheDir(),
			Logger:   cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OCR engine: %w", err)
		}
	}

	rec := metrics.NewRecorder()

	reg, err := models.NewRegistry(models.Config{
		Backend: backend,
		Selector: device.NewSelector(device.Config{
			Prober:   cfg.Prober,
			Override: c.Models.Device,
			Logger:   cfg.Logger,
		}),
		Tracker:     progress.NewTracker(),
		Metrics:     rec,
		Logger:      cfg.Logger,
		SkipWarmup:  !c.Models.Warmup,
		WarmupLangs: c.Inference.DefaultLangs,
	})
	if err != nil {
		return nil, err
	}

	svc, err := inference.NewService(inference.Config{
		Models:         reg,
		Metrics:        rec,
		Logger:         cfg.Logger,
		MaxConcurrency: c.Inference.MaxConcurrency,
		DefaultLangs:   c.Inference.DefaultLangs,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
		levelVar:  cfg.LevelVar,
		preload:   c.Models.Preload,
		models:    reg,
		services:  &svcctx.Services{
			Models:    reg,
			Inference: svc,
			Metrics:   rec,
			Home:      cfg.Home,
			Logger:    cfg.Logger,
		},
	}

	cfg.ConfigManager.OnChange(s.reload)

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         c.Server.Addr(),
		Handler:      s.middleware(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return s, nil
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
// It blocks; the listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server already running")
	}
	s.running = true
	s.listener = ln
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if s.preload {
		go s.preloadModels(ctx)
	}

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// preloadModels loads the models in the background so the first request does
// not pay for it. Failures leave the registry retryable.
func (s *Server) preloadModels(ctx context.Context) {
	s.logger.Info("preloading models")
	if !s.models.EnsureLoaded(ctx) {
		s.logger.Warn("model preload failed; the next OCR request will retry", "error", s.models.LastError())
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

// reload applies settings that can change while running. Everything else
// takes effect on restart.
func (s *Server) reload(c *config.Config) {
	if s.levelVar != nil {
		if lvl, err := c.Log.SlogLevel(); err == nil {
			s.levelVar.Set(lvl)
		}
	}
	s.logger.Info("config reloaded", "file", s.configMgr.ConfigFile(), "log_level", c.Log.Level)
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.listener = nil
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the address being served, or the configured address when not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Models returns the model registry.
func (s *Server) Models() *models.Registry {
	return s.models
}

// requireInit is middleware that ensures the OCR services are available.
// Returns 503 Service Unavailable otherwise.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Models == nil || s.services.Inference == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "server not fully initialized"})
			return
		}
		next(w, r)
	}
}
