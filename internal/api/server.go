// Package api exposes the scheduling engine over HTTP. Handlers are thin:
// decode, call a component, map the error taxonomy onto status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/hearthside/household-scheduler/internal/conflict"
	"github.com/hearthside/household-scheduler/internal/domain"
	"github.com/hearthside/household-scheduler/internal/ics"
	"github.com/hearthside/household-scheduler/internal/recurrence"
	"github.com/hearthside/household-scheduler/internal/security"
	"github.com/hearthside/household-scheduler/internal/store"
	"github.com/hearthside/household-scheduler/internal/task"
)

type Server struct {
	expander     *recurrence.Expander
	detector     *conflict.Detector
	conflicts    *conflict.Manager
	orchestrator *task.Orchestrator
	events       *store.EventStore
	auth         security.BearerAuth
	calendarName string
	log          *slog.Logger
	httpSrv      *http.Server
	now          func() time.Time
}

type Options struct {
	Expander     *recurrence.Expander
	Detector     *conflict.Detector
	Conflicts    *conflict.Manager
	Orchestrator *task.Orchestrator
	Events       *store.EventStore
	Auth         security.BearerAuth
	CalendarName string
	Logger       *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.CalendarName
	if name == "" {
		name = "Household Schedule"
	}
	s := &Server{
		expander:     opts.Expander,
		detector:     opts.Detector,
		conflicts:    opts.Conflicts,
		orchestrator: opts.Orchestrator,
		events:       opts.Events,
		auth:         opts.Auth,
		calendarName: name,
		log:          logger,
		now:          time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /v1/templates", s.handleCreateTemplate)
	mux.HandleFunc("PATCH /v1/templates/{id}", s.handleUpdateTemplate)
	mux.HandleFunc("DELETE /v1/templates/{id}", s.handleDeleteTemplate)
	mux.HandleFunc("POST /v1/templates/{id}/expand", s.handleExpand)
	mux.HandleFunc("POST /v1/expansion/run", s.handleExpandAll)

	mux.HandleFunc("POST /v1/conflicts/detect", s.handleDetect)
	mux.HandleFunc("GET /v1/conflicts/upcoming", s.handleUpcoming)
	mux.HandleFunc("GET /v1/conflicts", s.handleListConflicts)
	mux.HandleFunc("GET /v1/conflicts/stats", s.handleConflictStats)
	mux.HandleFunc("GET /v1/conflicts/{id}", s.handleGetConflict)
	mux.HandleFunc("POST /v1/conflicts/{id}/acknowledge", s.handleAcknowledge)
	mux.HandleFunc("POST /v1/conflicts/{id}/ignore", s.handleIgnore)
	mux.HandleFunc("POST /v1/conflicts/{id}/resolve", s.handleResolve)
	mux.HandleFunc("POST /v1/conflicts/bulk-resolve", s.handleBulkResolve)

	mux.HandleFunc("POST /v1/tasks/{id}/complete", s.handleCompleteTask)
	mux.HandleFunc("POST /v1/tasks/{id}/next", s.handleNextInstance)
	mux.HandleFunc("POST /v1/tasks/{id}/convert", s.handleConvertTask)

	mux.HandleFunc("GET /v1/calendar.ics", s.handleICS)

	s.httpSrv = &http.Server{Handler: s.wrapAuth(mux), ReadHeaderTimeout: 5 * time.Second}
	return s
}

func (s *Server) ServeTCP(ctx context.Context, bind string) error {
	if bind == "" {
		return errors.New("bind required")
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) ServeUnix(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("socket path required")
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return err
	}
	go s.shutdownOnContext(ctx)
	return s.httpSrv.Serve(ln)
}

func (s *Server) wrapAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !s.auth.Authorize(r) {
			writeErr(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) shutdownOnContext(ctx context.Context) {
	<-ctx.Done()
	timeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(timeout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl domain.EventTemplate
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	instances, err := s.expander.CreateRecurring(r.Context(), &tmpl)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"template":  tmpl,
		"instances": instances,
	})
}

type updateTemplateRequest struct {
	Title          *string                `json:"title"`
	Description    *string                `json:"description"`
	Location       *string                `json:"location"`
	Category       *string                `json:"category"`
	AssignedTo     *string                `json:"assigned_to"`
	Equipment      []string               `json:"equipment"`
	Checklist      []domain.ChecklistItem `json:"checklist"`
	Rule           *domain.RecurrenceRule `json:"rule"`
	RecurrenceDays []time.Weekday         `json:"recurrence_days"`
	RecurrenceEnd  *time.Time             `json:"recurrence_end"`
	ApplyToFuture  bool                   `json:"apply_to_future"`
}

func (r updateTemplateRequest) toUpdate() store.TemplateUpdate {
	return store.TemplateUpdate{
		Title:          r.Title,
		Description:    r.Description,
		Location:       r.Location,
		Category:       r.Category,
		AssignedTo:     r.AssignedTo,
		Equipment:      r.Equipment,
		Checklist:      r.Checklist,
		Rule:           r.Rule,
		RecurrenceDays: r.RecurrenceDays,
		RecurrenceEnd:  r.RecurrenceEnd,
	}
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload updateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.ApplyToFuture {
		updated, err := s.expander.ApplyToFuture(r.Context(), id, payload.toUpdate())
		if err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"template_id": id, "instances_updated": updated})
		return
	}
	if err := s.events.UpdateTemplate(r.Context(), id, payload.toUpdate()); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template_id": id})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cascade := r.URL.Query().Get("keep_instances") != "true"
	if err := s.events.DeleteTemplate(r.Context(), id, cascade); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"template_id": id, "instances_removed": cascade})
}

type expandRequest struct {
	Start     *time.Time `json:"start"`
	DaysAhead int        `json:"days_ahead"`
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload expandRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	start := s.now()
	if payload.Start != nil {
		start = *payload.Start
	}
	days := payload.DaysAhead
	if days <= 0 {
		days = recurrence.DefaultDaysAhead
	}
	instances, err := s.expander.Expand(r.Context(), id, start, days)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template_id": id,
		"created":     len(instances),
		"instances":   instances,
	})
}

func (s *Server) handleExpandAll(w http.ResponseWriter, r *http.Request) {
	var payload expandRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	days := payload.DaysAhead
	if days <= 0 {
		days = 7
	}
	results, err := s.expander.ExpandAll(r.Context(), days)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type detectRequest struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var payload detectRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	from := s.now()
	if payload.Start != nil {
		from = *payload.Start
	}
	to := from.AddDate(0, 0, 7)
	if payload.End != nil {
		to = *payload.End
	}
	s.detectAndRespond(w, r, from, to)
}

// handleUpcoming detects over the next 48 hours.
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	from := s.now()
	s.detectAndRespond(w, r, from, from.Add(48*time.Hour))
}

func (s *Server) detectAndRespond(w http.ResponseWriter, r *http.Request, from, to time.Time) {
	candidates, err := s.detector.Detect(r.Context(), from, to)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	created, err := s.conflicts.RecordAll(r.Context(), candidates)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	breakdown := map[domain.Severity]int{}
	for _, c := range candidates {
		breakdown[c.Severity]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conflicts":          candidates,
		"total_conflicts":    len(candidates),
		"new_active":         created,
		"severity_breakdown": breakdown,
		"date_range":         map[string]time.Time{"start": from, "end": to},
	})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	status := domain.ConflictStatus(r.URL.Query().Get("status"))
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	items, err := s.conflicts.List(r.Context(), status, limit)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": items, "total_conflicts": len(items)})
}

func (s *Server) handleGetConflict(w http.ResponseWriter, r *http.Request) {
	c, err := s.conflicts.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type conflictActionRequest struct {
	UserID     string             `json:"user_id"`
	Resolution *domain.Resolution `json:"resolution,omitempty"`
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.conflicts.Acknowledge)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.conflicts.Ignore)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, run func(context.Context, string, string) error) {
	id := r.PathValue("id")
	var payload conflictActionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := run(r.Context(), id, payload.UserID); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflict_id": id, "by": payload.UserID})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload conflictActionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if payload.Resolution == nil {
		writeErr(w, http.StatusBadRequest, "resolution is required")
		return
	}
	if err := s.conflicts.Resolve(r.Context(), id, *payload.Resolution, payload.UserID); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflict_id": id, "resolved_by": payload.UserID})
}

type bulkResolveRequest struct {
	ConflictIDs []string          `json:"conflict_ids"`
	Resolution  domain.Resolution `json:"resolution"`
	UserID      string            `json:"user_id"`
}

func (s *Server) handleBulkResolve(w http.ResponseWriter, r *http.Request) {
	var payload bulkResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(payload.ConflictIDs) == 0 {
		writeErr(w, http.StatusBadRequest, "conflict_ids is required")
		return
	}
	succeeded := 0
	for _, id := range payload.ConflictIDs {
		if err := s.conflicts.Resolve(r.Context(), id, payload.Resolution, payload.UserID); err != nil {
			s.log.Warn("bulk resolve entry failed", "conflict_id", id, "error", err)
			continue
		}
		succeeded++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":      len(payload.ConflictIDs),
		"successful": succeeded,
		"failed":     len(payload.ConflictIDs) - succeeded,
	})
}

func (s *Server) handleConflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.conflicts.Statistics(r.Context(), r.URL.Query().Get("timeframe"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type completeTaskRequest struct {
	UserID string `json:"user_id"`
	task.CompleteOptions
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload completeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	result, err := s.orchestrator.Complete(r.Context(), id, payload.UserID, payload.CompleteOptions)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleNextInstance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload conflictActionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	next, err := s.orchestrator.GenerateNextInstance(r.Context(), id, payload.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, next)
}

type convertTaskRequest struct {
	UserID string `json:"user_id"`
	task.EventOverrides
}

func (s *Server) handleConvertTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var payload convertTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	inst, err := s.orchestrator.ConvertToEvent(r.Context(), id, payload.EventOverrides, payload.UserID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	from := s.now().AddDate(0, 0, -7)
	to := s.now().AddDate(0, 0, 30)
	if v, err := time.Parse(time.RFC3339, r.URL.Query().Get("from")); err == nil {
		from = v
	}
	if v, err := time.Parse(time.RFC3339, r.URL.Query().Get("to")); err == nil {
		to = v
	}
	instances, err := s.events.InstancesInRange(r.Context(), from, to)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ics.Export(s.calendarName, instances)))
}

func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeErr(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrExternalService):
		writeErr(w, http.StatusBadGateway, err.Error())
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
