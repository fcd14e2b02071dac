package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"auditrelay/internal/sample"
	"auditrelay/pkg/platform/httputil"
)

const maxNameLength = 200

// Store is the persistence used by the sample handler.
type Store interface {
	List(ctx context.Context) ([]sample.Item, error)
	Get(ctx context.Context, id int64) (sample.Item, error)
	Create(ctx context.Context, req sample.ItemRequest) (sample.Item, error)
	Update(ctx context.Context, id int64, req sample.ItemRequest) (sample.Item, error)
	Delete(ctx context.Context, id int64) error
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

// Register mounts the sample endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/sample", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleGet)
		r.Put("/{id}", h.HandleUpdate)
		r.Delete("/{id}", h.HandleDelete)
	})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, "list sample items failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get sample item failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

// HandleCreate answers 201 with a Location header pointing at the new item.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, err := decodeItem(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.store.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, "create sample item failed", err)
		return
	}
	w.Header().Set("Location", "/api/sample/"+strconv.FormatInt(item.ID, 10))
	httputil.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := decodeItem(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.store.Update(r.Context(), id, req)
	if err != nil {
		h.fail(w, r, "update sample item failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete sample item failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	h.logger.WarnContext(ctx, msg,
		"request_id", middleware.GetReqID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httputil.BadRequest("invalid id %q", raw)
	}
	return id, nil
}

func decodeItem(r *http.Request) (sample.ItemRequest, error) {
	var req sample.ItemRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return req, err
	}
	req.Normalize()
	if req.Name == "" {
		return req, httputil.BadRequest("name is required")
	}
	if len(req.Name) > maxNameLength {
		return req, httputil.BadRequest("name must be at most %d characters", maxNameLength)
	}
	return req, nil
}
