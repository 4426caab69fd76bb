// Package http exposes the growth and risk analytics over a REST API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/alem-hub/growth-hub/internal/application/command"
	"github.com/alem-hub/growth-hub/internal/application/query"
	"github.com/alem-hub/growth-hub/internal/application/validation"
	"github.com/alem-hub/growth-hub/internal/interface/http/handlers"
	"github.com/alem-hub/growth-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// BodyLimit caps request bodies, e.g. "8M".
	BodyLimit string

	// EnableCORS - enable CORS headers.
	EnableCORS bool

	// AllowedOrigins - allowed origins for CORS.
	AllowedOrigins []string

	// APIKeyHeader - header carrying the API key.
	APIKeyHeader string

	// APIKeyHashes - bcrypt hashes of accepted API keys. Empty disables auth.
	APIKeyHashes []string

	// Timezone for plain-date query bounds.
	Timezone *time.Location

	// Debug exposes internal error messages in responses.
	Debug bool

	// DisableScaleValidation removes the grading-scale validation route.
	DisableScaleValidation bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		BodyLimit:      "8M",
		EnableCORS:     true,
		AllowedOrigins: []string{"*"},
		APIKeyHeader:   "X-API-Key",
		Timezone:       time.UTC,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// GrowthRunner runs a persisted growth analysis.
type GrowthRunner interface {
	Handle(ctx context.Context, cmd command.RunGrowthAnalysisCommand) (*command.RunGrowthAnalysisResult, error)
}

// InputIngester stores analysis inputs.
type InputIngester interface {
	Handle(ctx context.Context, cmd command.IngestInputsCommand) (*command.IngestInputsResult, error)
}

// Dependencies contains all dependencies required by HTTP handlers.
type Dependencies struct {
	AnalyzeGrowth *query.AnalyzeGrowthHandler
	AnalyzeRisk   *query.AnalyzeRiskHandler
	ListResults   *query.ListResultsHandler
	GetRun        *query.GetRunHandler
	GetRisk       *query.GetRiskAnalysisHandler
	RunGrowth     GrowthRunner
	Ingest        InputIngester

	Validator *validation.Validator
	Logger    *logger.Logger

	// HealthChecker is optional; without it /health reports only uptime.
	HealthChecker handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config Config
	deps   Dependencies
	app    *echo.Echo
	logger *logger.Logger
	keys   *apiKeyVerifier

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if deps.Validator == nil {
		deps.Validator = validation.New()
	}
	if config.Timezone == nil {
		config.Timezone = time.UTC
	}
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}

	s := &Server{
		config: config,
		deps:   deps,
		app:    echo.New(),
		logger: deps.Logger.With(logger.Component("http")),
		keys:   newAPIKeyVerifier(config.APIKeyHashes),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	e := s.app
	e.HideBanner = true
	e.HidePort = true
	e.Debug = s.config.Debug
	e.Validator = s.deps.Validator
	e.HTTPErrorHandler = newHTTPErrorHandler(s.logger, s.deps.Validator)

	e.Server.ReadTimeout = s.config.ReadTimeout
	e.Server.WriteTimeout = s.config.WriteTimeout
	e.Server.IdleTimeout = s.config.IdleTimeout

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.RequestID())
	e.Use(s.loggingMiddleware)
	e.Use(s.recoveryMiddleware)
	if s.config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(s.config.BodyLimit))
	}
	if s.config.EnableCORS {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.AllowedOrigins,
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, s.config.APIKeyHeader},
		}))
	}

	s.setupRoutes()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health
	// ─────────────────────────────────────────────────────────────────────────
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 (API key required when keys are configured)
	// ─────────────────────────────────────────────────────────────────────────
	v1 := s.app.Group("/api/v1", s.apiKeyMiddleware)

	// A nil handler leaves its route unregistered (feature switched off).
	if s.deps.AnalyzeGrowth != nil {
		v1.POST("/growth/analyze", s.handleAnalyzeGrowth)
	}
	if s.deps.RunGrowth != nil {
		v1.POST("/growth/runs", s.handleRunGrowth)
	}
	if s.deps.Ingest != nil {
		v1.POST("/inputs", s.handleIngest)
	}
	v1.GET("/growth/runs/:id", s.handleGetRun)
	v1.GET("/results/:dimension", s.handleListResults)

	if s.deps.AnalyzeRisk != nil {
		v1.POST("/risk/analyze", s.handleAnalyzeRisk)
	}
	if s.deps.GetRisk != nil {
		v1.GET("/risk/:scope", s.handleGetRisk)
		v1.GET("/risk/:scope/:target", s.handleGetRisk)
	}

	if !s.config.DisableScaleValidation {
		v1.POST("/config/grading-scale/validate", s.handleValidateGradingScale)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.app.Start(s.config.Address()); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.app.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Page      int       `json:"page,omitempty"`
	PageSize  int       `json:"page_size,omitempty"`
	HasMore   bool      `json:"has_more,omitempty"`
	Cached    bool      `json:"cached,omitempty"`
}

func respond(c echo.Context, status int, data interface{}, meta *ResponseMeta) error {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"
	return c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: requestID(c),
	})
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
