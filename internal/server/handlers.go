package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/audit"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/establishment"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/notify"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/schedule"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/sync"
)

// runResponse is the JSON form of a sync.RunResult.
type runResponse struct {
	Error          string       `json:"error,omitempty"`
	Errors         []string     `json:"errors"`
	FailedSync     []string     `json:"failed_sync"`
	Message        string       `json:"message"`
	Outcome        sync.Outcome `json:"outcome"`
	Retry          bool         `json:"retry"`
	RunID          string       `json:"run_id,omitempty"`
	Success        bool         `json:"success"`
	TotalFailed    int          `json:"total_failed"`
	TotalProcessed int          `json:"total_processed"`
	TotalSuccess   int          `json:"total_success"`
}

func newRunResponse(result *sync.RunResult) runResponse {
	resp := runResponse{
		Errors:         make([]string, 0, len(result.Errors)),
		FailedSync:     result.FailedSync,
		Message:        result.Message,
		Outcome:        result.Outcome,
		Retry:          result.Retry,
		RunID:          result.RunID,
		Success:        result.Success,
		TotalFailed:    result.TotalFailed,
		TotalProcessed: result.TotalProcessed,
		TotalSuccess:   result.TotalSuccess,
	}
	if resp.FailedSync == nil {
		resp.FailedSync = []string{}
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	for _, err := range result.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	return resp
}

// runStatusCode maps a run outcome to an HTTP status.
func runStatusCode(result *sync.RunResult) int {
	switch {
	case errors.Is(result.Err, sync.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(result.Err, sync.ErrAPIUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(result.Err, sync.ErrNothingToRetry):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.Status(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, status, http.StatusOK)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.tracker.StartRun(r.Context())
	s.writeRun(w, r, result, err)
}

func (s *Server) retryFailedRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.tracker.RetryFailedRun(r.Context())
	s.writeRun(w, r, result, err)
}

func (s *Server) writeRun(w http.ResponseWriter, r *http.Request, result *sync.RunResult, err error) {
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	// Rejected requests persist nothing, so listeners never see them.
	if s.metrics != nil && (result.Outcome == sync.OutcomeAlreadyRunning || result.Outcome == sync.OutcomeNothingToRetry) {
		s.metrics.ObserveResult(result)
	}

	writeJSON(w, newRunResponse(result), runStatusCode(result))
}

func (s *Server) listEligible(w http.ResponseWriter, r *http.Request) {
	records, err := s.tracker.Eligible(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if records == nil {
		records = []establishment.Record{}
	}
	if s.metrics != nil {
		s.metrics.SetEligible(len(records))
	}
	writeJSON(w, records, http.StatusOK)
}

func (s *Server) listEstablishments(w http.ResponseWriter, r *http.Request) {
	bucket := establishment.Bucket(r.URL.Query().Get("bucket"))
	if bucket == "" {
		bucket = establishment.BucketPending
	}

	switch bucket {
	case establishment.BucketPending, establishment.BucketApproved, establishment.BucketRejected:
	default:
		writeError(w, fmt.Sprintf("unknown bucket %q", bucket), http.StatusBadRequest)
		return
	}

	records, err := s.registry.List(r.Context(), bucket)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, records, http.StatusOK)
}

// submitRequest is the registration form.
type submitRequest struct {
	AcceptsLightning bool    `json:"accepts_lightning"`
	AcceptsOnchain   bool    `json:"accepts_onchain"`
	Address          string  `json:"address"`
	Description      string  `json:"description"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	Municipality     string  `json:"municipality"`
	Name             string  `json:"name"`
	Phone            string  `json:"phone"`
	Website          string  `json:"website"`
}

func (s *Server) submitEstablishment(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.registry.Submit(r.Context(), establishment.Record{
		AcceptsLightning: req.AcceptsLightning,
		AcceptsOnchain:   req.AcceptsOnchain,
		Address:          req.Address,
		Description:      req.Description,
		Lat:              req.Lat,
		Lon:              req.Lon,
		Municipality:     req.Municipality,
		Name:             req.Name,
		Phone:            req.Phone,
		Website:          req.Website,
	})
	if err != nil {
		if errors.Is(err, establishment.ErrInvalidRecord) {
			writeError(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.internalError(w, r, err)
		return
	}

	if s.audit != nil {
		desc := "Establishment submitted: " + strings.TrimSpace(req.Name)
		if _, err := s.audit.Record(r.Context(), audit.CategorySubmission, user(r), desc, map[string]string{"establishment_id": id}); err != nil {
			s.logger.Warn("failed to record submission", "id", id, "error", err)
		}
	}

	writeJSON(w, map[string]string{"id": id}, http.StatusCreated)
}

// rejectRequest carries the optional rejection reason.
type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) approveEstablishment(w http.ResponseWriter, r *http.Request) {
	record, err := s.registry.Approve(r.Context(), chi.URLParam(r, "id"))
	s.writeTransition(w, r, record, err)
}

func (s *Server) rejectEstablishment(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	record, err := s.registry.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	s.writeTransition(w, r, record, err)
}

func (s *Server) requestUpdate(w http.ResponseWriter, r *http.Request) {
	record, err := s.registry.RequestUpdate(r.Context(), chi.URLParam(r, "id"))
	s.writeTransition(w, r, record, err)
}

func (s *Server) writeTransition(w http.ResponseWriter, r *http.Request, record *establishment.Record, err error) {
	switch {
	case errors.Is(err, establishment.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, establishment.ErrInvalidTransition):
		writeError(w, err.Error(), http.StatusConflict)
	case err != nil:
		s.internalError(w, r, err)
	default:
		writeJSON(w, record, http.StatusOK)
	}
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	settings, err := schedule.Load(r.Context(), s.schedule)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, settings, http.StatusOK)
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var settings schedule.Settings
	if err := decodeJSON(r, &settings); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := settings.Validate(); err != nil {
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := s.schedule.SetScheduleSettings(r.Context(), settings); err != nil {
		s.internalError(w, r, err)
		return
	}

	if s.audit != nil {
		details := map[string]string{
			"enabled":          strconv.FormatBool(settings.Enabled),
			"interval_minutes": strconv.Itoa(settings.IntervalMinutes),
		}
		if _, err := s.audit.Record(r.Context(), audit.CategorySettings, user(r), "Automatic sync settings updated", details); err != nil {
			s.logger.Warn("failed to record settings change", "error", err)
		}
	}

	writeJSON(w, settings, http.StatusOK)
}

// notificationsResponse lists notifications with the unread count.
type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.notifications.List(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	unread := 0
	for _, n := range list {
		if !n.Read {
			unread++
		}
	}
	writeJSON(w, notificationsResponse{Notifications: list, Unread: unread}, http.StatusOK)
}

func (s *Server) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	s.writeNotificationChange(w, r, s.notifications.MarkRead(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) markAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	s.writeNotificationChange(w, r, s.notifications.MarkAllRead(r.Context()))
}

func (s *Server) removeNotification(w http.ResponseWriter, r *http.Request) {
	s.writeNotificationChange(w, r, s.notifications.Remove(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) writeNotificationChange(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notify.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case err != nil:
		s.internalError(w, r, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, entries, http.StatusOK)
}

// parseAuditFilter reads category, user, q, since, until and limit from the query string.
func parseAuditFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	filter := audit.Filter{
		Category: audit.Category(q.Get("category")),
		Text:     q.Get("q"),
		User:     q.Get("user"),
	}

	var err error
	if filter.Since, err = parseTimeParam(q.Get("since")); err != nil {
		return audit.Filter{}, fmt.Errorf("invalid since: %w", err)
	}
	if filter.Until, err = parseTimeParam(q.Get("until")); err != nil {
		return audit.Filter{}, fmt.Errorf("invalid until: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return audit.Filter{}, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = limit
	}
	return filter, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}
