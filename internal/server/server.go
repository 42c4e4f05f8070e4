// Package server provides the admin HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/metrics"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/notify"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

const (
	defaultRequestTimeout = 5 * time.Minute

	// UserHeader carries the name of the admin performing a request.
	UserHeader = "X-Admin-User"
)

// Tracker is the sync tracker surface exposed over HTTP.
type Tracker interface {
	// Eligible returns the records that need to be pushed.
	Eligible(ctx context.Context) ([]establishment.Record, error)

	// RetryFailedRun re-processes the failed IDs of the last run.
	RetryFailedRun(ctx context.Context) (*sync.RunResult, error)

	// StartRun starts a sync run.
	StartRun(ctx context.Context) (*sync.RunResult, error)

	// Status returns the persisted status.
	Status(ctx context.Context) (sync.Status, error)
}

// Config holds the dependencies of the admin API.
type Config struct {
	// Audit records admin activity. Optional.
	Audit *audit.Trail

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics is exported on /metrics. Optional.
	Metrics *metrics.Recorder

	// Notifications is the admin notification center. Optional.
	Notifications *notify.Center

	// Registry runs the approval workflow.
	Registry *establishment.Registry

	// RequestTimeout bounds each request. Defaults to five minutes so a full run fits.
	RequestTimeout time.Duration

	// Schedule stores the automatic sync settings.
	Schedule schedule.Store

	// Tracker runs and reports sync.
	Tracker Tracker
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Registry == nil {
		errs = append(errs, errors.New("registry is required"))
	}
	if c.Schedule == nil {
		errs = append(errs, errors.New("schedule store is required"))
	}
	if c.Tracker == nil {
		errs = append(errs, errors.New("tracker is required"))
	}
	if c.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("request timeout cannot be negative, got %v", c.RequestTimeout))
	}
	return errors.Join(errs...)
}

// Server holds the handler dependencies.
type Server struct {
	audit         *audit.Trail
	logger        *slog.Logger
	metrics       *metrics.Recorder
	notifications *notify.Center
	registry      *establishment.Registry
	schedule      schedule.Store
	tracker       Tracker
}

// New builds the admin API router.
func New(cfg Config) (http.Handler, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		audit:         cfg.Audit,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		notifications: cfg.Notifications,
		registry:      cfg.Registry,
		schedule:      cfg.Schedule,
		tracker:       cfg.Tracker,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		s.loggingMiddleware,
	)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/status", s.getStatus)
	r.Post("/sync", s.startRun)
	r.Post("/sync/retry", s.retryFailedRun)

	r.Route("/establishments", func(r chi.Router) {
		r.Get("/", s.listEstablishments)
		r.Post("/", s.submitEstablishment)
		r.Get("/eligible", s.listEligible)
		r.Post("/{id}/approve", s.approveEstablishment)
		r.Post("/{id}/reject", s.rejectEstablishment)
		r.Post("/{id}/request-update", s.requestUpdate)
	})

	r.Get("/schedule", s.getSchedule)
	r.Put("/schedule", s.putSchedule)

	if s.notifications != nil {
		r.Get("/notifications", s.listNotifications)
		r.Post("/notifications/read", s.markAllNotificationsRead)
		r.Post("/notifications/{id}/read", s.markNotificationRead)
		r.Delete("/notifications/{id}", s.removeNotification)
	}

	if s.audit != nil {
		r.Get("/audit", s.listAudit)
	}

	return r, nil
}

// loggingMiddleware logs every request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes data as a JSON response.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeError writes {"error": message}.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}

// internalError logs err and writes a generic 500 response.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeError(w, "internal error", http.StatusInternalServerError)
}

// decodeJSON reads the request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// user returns the admin named in the request, empty for the system user.
func user(r *http.Request) string {
	return r.Header.Get(UserHeader)
}
