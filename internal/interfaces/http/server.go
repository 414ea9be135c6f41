package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/factorrun/internal/attribution"
	"github.com/sawpanic/factorrun/internal/cache"
	"github.com/sawpanic/factorrun/internal/config"
	"github.com/sawpanic/factorrun/internal/dataset"
	"github.com/sawpanic/factorrun/internal/metrics"
	"github.com/sawpanic/factorrun/internal/net/ratelimit"
	"github.com/sawpanic/factorrun/internal/persistence"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// Deps are the collaborators the handlers need. Runs may be nil when
// persistence is disabled.
type Deps struct {
	Engine  *attribution.Engine
	Reader  *dataset.CSVReader
	Cache   cache.ResultCache
	Runs    persistence.RunRepo
	Metrics *metrics.Registry
}

// Server is the attribution HTTP surface
type Server struct {
	router  *mux.Router
	server  *http.Server
	deps    Deps
	limiter *ratelimit.Limiter
	config  config.HTTPConfig
}

// NewServer wires routes and middleware; it does not listen yet
func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	if deps.Reader == nil {
		deps.Reader = dataset.NewCSVReader()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(time.Hour)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}

	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		limiter: ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		config:  cfg,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/attribution", s.attribute).Methods(http.MethodPost)
	api.HandleFunc("/runs", s.recentRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", s.getRun).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
	})
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Address is host:port
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Start listens until Shutdown; http.ErrServerClosed is not an error
func (s *Server) Start() error {
	log.Info().Str("addr", s.Address()).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// PruneLimiter drops rate-limit state for clients idle longer than idle
func (s *Server) PruneLimiter(idle time.Duration) int {
	return s.limiter.Prune(idle)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.deps.Metrics.RecordRequest(route, wrapper.statusCode)

		log.Info().
			Str("request_id", requestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.limiter.Allow(key) {
			wait := s.limiter.RetryAfter(key)
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)+1))
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests from "+key)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
