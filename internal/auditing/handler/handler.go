package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	audit "auditrelay/pkg/platform/audit"
	"auditrelay/pkg/platform/httputil"
)

// Service defines the read operations over the audit trail.
type Service interface {
	List(ctx context.Context, req audit.PaginationRequest) (audit.Page, error)
	Get(ctx context.Context, id string) (audit.AuditEntry, error)
	Stats(ctx context.Context) (audit.Stats, error)
}

// Handler exposes the audit trail over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an auditing handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the auditing endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/auditing", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/stats", h.HandleStats)
		r.Get("/{id}", h.HandleGet)
	})
}

// HandleList handles GET /api/auditing.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := parseListRequest(r)

	page, err := h.service.List(ctx, req)
	if err != nil {
		h.logger.ErrorContext(ctx, "list audit entries failed",
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleGet handles GET /api/auditing/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	entry, err := h.service.Get(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "get audit entry failed",
			"request_id", middleware.GetReqID(ctx),
			"id", id,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// HandleStats handles GET /api/auditing/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.service.Stats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit stats failed",
			"request_id", middleware.GetReqID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// parseListRequest reads the query string leniently: malformed numbers and
// dates are treated as absent and left for the service to default or clamp.
func parseListRequest(r *http.Request) audit.PaginationRequest {
	q := r.URL.Query()
	req := audit.PaginationRequest{
		SearchTerm: q.Get("searchTerm"),
		Method:     q.Get("method"),
	}
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		req.Page = v
	}
	if v, err := strconv.Atoi(q.Get("pageSize")); err == nil {
		req.PageSize = &v
	}
	if v, err := strconv.Atoi(q.Get("statusCode")); err == nil {
		req.StatusCode = &v
	}
	req.StartDate = parseDate(q.Get("startDate"), false)
	req.EndDate = parseDate(q.Get("endDate"), true)
	return req
}

// parseDate accepts RFC 3339 or a bare YYYY-MM-DD date (UTC). A bare end
// date covers the whole day.
func parseDate(s string, endOfDay bool) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Microsecond)
		}
		return &t
	}
	return nil
}
