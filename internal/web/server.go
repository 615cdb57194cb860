// Package web exposes the job manager and the paginated viewer over HTTP.
//
// Requests that return promptly run behind a timeout and compression.
// Event streams (SSE and WebSocket) and the blocking result fetch run
// without either, since they stay open for the lifetime of a job.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/kcoder666/sheetflow/internal/config"
	"github.com/kcoder666/sheetflow/internal/core"
	"github.com/kcoder666/sheetflow/internal/jobs"
	"github.com/kcoder666/sheetflow/internal/viewer"
	webmw "github.com/kcoder666/sheetflow/internal/web/middleware"
)

// Deps are the services the server exposes.
type Deps struct {
	Jobs *jobs.Manager

	// NewViewer builds the reader behind each viewer context.
	NewViewer func() *viewer.Viewer

	// Limiter is reported on the status page; may be nil.
	Limiter *core.ProcessLimiter
}

// Server is the HTTP server.
type Server struct {
	cfg      *config.Config
	jobs     *jobs.Manager
	viewers  *viewerRegistry
	limiter  *core.ProcessLimiter
	router   *chi.Mux
	server   *http.Server
	upgrader websocket.Upgrader
	rate     *rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		jobs:    deps.Jobs,
		viewers: newViewerRegistry(deps.NewViewer),
		limiter: deps.Limiter,
		router:  chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(webmw.TrustedRealIP(s.cfg.Security.Proxies()))
	s.router.Use(webmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Security.RateLimit > 0 {
		s.rate = newRateLimiter(s.cfg.Security.RateLimit, time.Minute)
		s.router.Use(s.rate.middleware)
	}
	s.router.Use(webmw.APIKeyAuth(s.cfg.Security.Keys(), "/healthz"))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Prompt requests
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))
		if s.cfg.Server.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
		}

		r.Get("/status", s.handleStatus)

		// Jobs
		r.Post("/api/worksheets", s.handleListWorksheets)
		r.Post("/api/convert", s.handleConvert)
		r.Get("/api/jobs", s.handleListJobs)
		r.Get("/api/jobs/{jobID}", s.handleJob)
		r.Post("/api/jobs/{jobID}/cancel", s.handleCancelJob)
		r.Post("/api/cancel", s.handleCancelAll)

		// Viewers
		r.Post("/api/viewers", s.handleCreateViewer)
		r.Post("/api/viewers/{viewerID}/open", s.handleOpenFile)
		r.Post("/api/viewers/{viewerID}/sheet", s.handleSelectSheet)
		r.Get("/api/viewers/{viewerID}/page", s.handleReadPage)
		r.Delete("/api/viewers/{viewerID}", s.handleCloseViewer)
	})

	// Long-lived requests
	s.router.Group(func(r chi.Router) {
		r.Get("/api/jobs/{jobID}/result", s.handleJobResult)
		r.Get("/api/jobs/{jobID}/events", s.handleJobEvents)
		r.Get("/api/jobs/{jobID}/ws", s.handleJobSocket)
		r.Get("/api/events/ws", s.handleEventsSocket)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps event streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every viewer session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rate != nil {
		s.rate.stop()
	}
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.viewers.closeAll()
	return err
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		// The status page carries its own inline styles
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window request budget per client address.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a rate limiter with the specified rate per window.
func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries once per window until stopped.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
		}
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists || time.Since(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: time.Now()}
		return true
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware rate limits by client address. Event streams count once, when
// they connect.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port TrustedRealIP leaves on direct connections.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeError writes a bare JSON error for failures that happen before a
// handler runs.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, ErrorResponse{Error: message, Message: message, Code: httpCode(status)})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
