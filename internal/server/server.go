// Package server implements the HTTP host that exposes the course assistant
// via a small JSON API, together with health, readiness and metrics
// endpoints. The server is started by the `courserag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/courserag-go/internal/assistant"
	"github.com/54b3r/courserag-go/internal/logging"
)

// maxBodyBytes caps the POST /api/query body.
const maxBodyBytes = 64 << 10

// New constructs a Server around coord.
func New(coord coordinator, cfg *Config) (*Server, error) {
	if coord == nil {
		return nil, fmt.Errorf("server: coordinator must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 2 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.QueryTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		coordinator: coord,
		cfg:         cfg,
		log:         cfg.Logger,
		pingers:     cfg.Pingers,
		metrics:     newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	rl.onReject = s.metrics.rateLimitedTotal.Inc
	s.stopRL = stop

	mux := http.NewServeMux()
	mux.Handle("POST /api/query", s.instrument("query", rl.middleware(http.HandlerFunc(s.handleQuery))))
	mux.Handle("GET /api/courses", s.instrument("courses", http.HandlerFunc(s.handleCourses)))
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req queryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	s.metrics.queryInFlight.Inc()
	defer s.metrics.queryInFlight.Dec()
	start := time.Now()

	resp, err := s.coordinator.Handle(ctx, req.Query, req.SessionID)
	if err != nil {
		s.observeQuery("cancelled", start)
		log.Warn("query abandoned", slog.Any("error", err))
		writeJSON(w, log, http.StatusServiceUnavailable, errorResponse{Error: "the session is busy; try again"})
		return
	}
	s.observeQuery(string(resp.Outcome), start)

	status := http.StatusOK
	switch resp.Outcome {
	case assistant.OutcomeRejected:
		status = http.StatusBadRequest
	case assistant.OutcomeGenerationFailed:
		status = http.StatusBadGateway
	}

	body := queryResponse{
		Answer:    resp.Answer,
		Sources:   make([]sourceResponse, 0, len(resp.Sources)),
		SessionID: resp.SessionID,
	}
	for _, src := range resp.Sources {
		body.Sources = append(body.Sources, sourceResponse{Title: src.Label(), URL: src.Link})
	}
	writeJSON(w, log, status, body)
}

// handleCourses handles GET /api/courses.
func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	st, err := s.coordinator.Stats(r.Context())
	if err != nil {
		log.Error("course stats failed", slog.Any("error", err))
		writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "course catalog unavailable"})
		return
	}
	if st.CourseTitles == nil {
		st.CourseTitles = []string{}
	}
	writeJSON(w, log, http.StatusOK, st)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, logging.FromContext(r.Context()), http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) observeQuery(outcome string, start time.Time) {
	s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}
