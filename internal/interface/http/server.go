// Package http implements the worker status API for Guild Activity Hub:
// health probes, JSON and plain-text report reads, run history, and the
// admin-guarded manual trigger. The API is read-mostly and optional; the
// worker runs fine with it disabled.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coolio-hub/guild-activity-hub/internal/application/query"
	"github.com/coolio-hub/guild-activity-hub/internal/interface/http/handlers"
	"github.com/coolio-hub/guild-activity-hub/internal/interface/presenter"
	"github.com/coolio-hub/guild-activity-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server settings.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes caps request body size; the API only accepts tiny
	// trigger payloads.
	MaxBodyBytes int64

	EnableCORS     bool
	AllowedOrigins []string

	// RateLimitPerMinute is requests per minute per client IP, 0 disables.
	RateLimitPerMinute int

	// ManualTriggers registers the POST trigger endpoint. The endpoint
	// additionally requires AdminPasswordHash; a missing hash disables it
	// even when the flag is on.
	ManualTriggers    bool
	AdminPasswordHash string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		RequestTimeout:     25 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       64 << 10,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		RateLimitPerMinute: 100,
	}
}

// Address returns the host:port the server binds to.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Dependencies holds everything the routes need. Nil handlers turn their
// endpoints into 501 responses instead of panics, so the API can run with
// a partial wiring (for example, Postgres disabled).
type Dependencies struct {
	GetActivityReportHandler      *query.GetActivityReportHandler
	GetPromotionCandidatesHandler *query.GetPromotionCandidatesHandler
	GetRunHistoryHandler          *query.GetRunHistoryHandler
	GetRunDetailHandler           *query.GetRunDetailHandler

	Logger *logger.Logger

	HealthChecker handlers.HealthChecker
	TriggerRunner handlers.TriggerRunner
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the worker status API server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *logger.Logger

	reportPresenter *presenter.ActivityReportPresenter

	limiter   *ipRateLimiter
	adminAuth *handlers.AdminAuth

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer assembles the router and middleware stack. It does not listen
// yet; call Start or StartAsync.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config:          config,
		deps:            deps,
		router:          http.NewServeMux(),
		logger:          deps.Logger,
		reportPresenter: presenter.NewActivityReportPresenter(),
	}

	if s.logger == nil {
		s.logger = logger.Default()
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newIPRateLimiter(config.RateLimitPerMinute)
	}
	if config.ManualTriggers && config.AdminPasswordHash != "" {
		s.adminAuth = handlers.NewAdminAuth(config.AdminPasswordHash)
	}

	s.registerRoutes()

	// Innermost: shared hardening around the router.
	handler := handlers.ChainHandler(s.router,
		handlers.SecurityHeadersMiddleware,
		handlers.NoCacheMiddleware,
		handlers.RequestSizeLimitMiddleware(config.MaxBodyBytes),
	)
	if config.RequestTimeout > 0 {
		handler = handlers.TimeoutMiddleware(config.RequestTimeout)(handler)
	}

	// Outermost first: rate limit rejects before CORS, recovery catches
	// everything below it, request IDs exist before logging reads them.
	if s.limiter != nil {
		handler = s.withRateLimit(handler)
	}
	if config.EnableCORS {
		handler = s.withCORS(handler)
	}
	handler = s.withRecovery(s.withLogging(s.withRequestID(handler)))

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

func (s *Server) registerRoutes() {
	// Probes
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth) // kubernetes alias
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)
	s.router.HandleFunc("GET /", s.handleRoot)

	// Read side
	s.router.HandleFunc("GET /api/v1/report", s.handleGetReport)
	s.router.HandleFunc("GET /api/v1/report/active", s.handleGetActiveList)
	s.router.HandleFunc("GET /api/v1/classification", s.handleGetClassification)
	s.router.HandleFunc("GET /api/v1/promotions", s.handleGetPromotions)
	s.router.HandleFunc("GET /api/v1/runs", s.handleGetRuns)
	s.router.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)

	// Admin
	if s.adminAuth != nil {
		s.router.Handle("POST /api/v1/runs",
			s.adminAuth.Middleware(http.HandlerFunc(s.handleTriggerRun)))
	} else if s.config.ManualTriggers {
		s.logger.Warn("manual triggers requested but no admin password hash configured, endpoint disabled")
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER-LEVEL MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Int64("duration_ms", time.Since(start).Milliseconds()),
			logger.String("ip", getClientIP(r)),
			logger.String("request_id", getRequestID(r.Context())),
		)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					logger.Any("error", err),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
					logger.String("request_id", getRequestID(r.Context())),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		for _, o := range s.config.AllowedOrigins {
			if o == "*" || o == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Token, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				break
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(getClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens and blocks until Shutdown or a listener error.
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

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The returned channel yields
// at most one error and closes when the server stops.
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

// Shutdown drains in-flight requests. Safe to call when never started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns how long the server has been running, zero when stopped.
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

// JSONResponse is the envelope every JSON endpoint returns.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      interface{}   `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError carries a stable machine-readable code plus a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, resp JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	resp.Success = status >= 200 && status < 300
	if resp.Meta == nil {
		resp.Meta = &ResponseMeta{}
	}
	resp.Meta.Timestamp = time.Now().UTC()

	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, JSONResponse{
		Data: data,
		Meta: &ResponseMeta{Version: "v1"},
	})
}

func writeJSONWithMeta(w http.ResponseWriter, r *http.Request, status int, data interface{}, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Version = "v1"
	writeEnvelope(w, status, JSONResponse{
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, JSONResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// getClientIP resolves the client address, preferring proxy headers over
// RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func getQueryParam(r *http.Request, key, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	var n int
	if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
		return defaultValue
	}
	return n
}

func getQueryParamBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func getQueryParamDuration(r *http.Request, key string, defaultValue time.Duration) time.Duration {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Fixed one-minute windows per client IP. Coarser than a sliding window,
// but state is one counter per IP and stale entries are swept inline, so
// no janitor goroutine is needed.
// ══════════════════════════════════════════════════════════════════════════════

type ipWindow struct {
	start time.Time
	count int
}

type ipRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*ipWindow
	limit   int
}

func newIPRateLimiter(limit int) *ipRateLimiter {
	return &ipRateLimiter{
		windows: make(map[string]*ipWindow),
		limit:   limit,
	}
}

// Allow reports whether the client may proceed and counts the request.
func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	w, ok := rl.windows[key]
	if !ok || now.Sub(w.start) >= time.Minute {
		// Piggyback a sweep on window rollover so the map cannot grow
		// unbounded with one-off clients.
		if len(rl.windows) > 1024 {
			for k, ww := range rl.windows {
				if now.Sub(ww.start) >= time.Minute {
					delete(rl.windows, k)
				}
			}
		}
		rl.windows[key] = &ipWindow{start: now, count: 1}
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}
