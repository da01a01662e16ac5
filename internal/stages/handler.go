package stages

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crmdesk-backend/internal/httpx"
	"crmdesk-backend/internal/middleware"
	"crmdesk-backend/internal/realtime"
	"crmdesk-backend/internal/transport"
	"crmdesk-backend/internal/users"
	"crmdesk-backend/internal/validation"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service *Service
	val     *validation.Validator
	log     *slog.Logger
}

func NewHandler(service *Service, val *validation.Validator, log *slog.Logger) *Handler {
	return &Handler{
		service: service,
		val:     val,
		log:     log,
	}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)

	var req CreateRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("stage create: invalid json")
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		log.Warn("stage create: validation error")
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stage, err := h.service.Create(ctx, req, ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidTerminal):
			transport.WriteError(w, http.StatusBadRequest, err.Error(), nil)
			return
		case errors.Is(err, ErrDuplicateTerminal):
			transport.WriteError(w, http.StatusBadRequest, "a stage with this terminal flag already exists", nil)
			return
		}
		log.Error("stage create: database error", slog.String("error", err.Error()))
		transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		return
	}

	log.Info("stage create: ok", slog.String("stage_id", stage.ID), slog.Int("position", stage.Position))
	transport.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    stage,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.service.List(ctx)
	if err != nil {
		log.Error("stage list: database error", slog.String("error", err.Error()))
		transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		return
	}

	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    items,
	})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		transport.WriteError(w, http.StatusBadRequest, "missing id", nil)
		return
	}

	var req UpdateRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("stage update: invalid json")
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		log.Warn("stage update: validation error")
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stage, err := h.service.Update(ctx, id, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			transport.WriteError(w, http.StatusNotFound, "stage not found", nil)
		case errors.Is(err, ErrInvalidTerminal):
			transport.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, ErrDuplicateTerminal):
			transport.WriteError(w, http.StatusBadRequest, "a stage with this terminal flag already exists", nil)
		default:
			log.Error("stage update: database error", slog.String("error", err.Error()))
			transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		}
		return
	}

	log.Info("stage update: ok", slog.String("stage_id", id))
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    stage,
	})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		transport.WriteError(w, http.StatusBadRequest, "missing id", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	deletedLeads, err := h.service.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			transport.WriteError(w, http.StatusNotFound, "stage not found", nil)
			return
		}
		log.Error("stage delete: database error", slog.String("error", err.Error()))
		transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		return
	}

	log.Info("stage delete: ok", slog.String("stage_id", id), slog.Int64("deleted_leads", deletedLeads))
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "stage deleted",
		"deletedLeads": deletedLeads,
	})
}

func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)

	var req ReorderRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("stage reorder: invalid json")
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		log.Warn("stage reorder: validation error")
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())
	rooms := reorderRooms(ident.Role)

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	items, err := h.service.Reorder(ctx, *req.SourceIndex, *req.DestinationIndex, rooms)
	if err != nil {
		if errors.Is(err, ErrIndexOutOfRange) {
			transport.WriteError(w, http.StatusBadRequest, "reorder index out of range", nil)
			return
		}
		log.Error("stage reorder: database error", slog.String("error", err.Error()))
		transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		return
	}

	log.Info("stage reorder: ok",
		slog.Int("source", *req.SourceIndex),
		slog.Int("destination", *req.DestinationIndex),
	)
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    items,
	})
}

// reorderRooms picks the broadcast audience for a reorder based on the
// caller's role.
func reorderRooms(role string) []string {
	switch role {
	case users.RoleSuperAdmin:
		return []string{
			realtime.RoleRoom(users.RoleAdmin),
			realtime.RoleRoom(users.RoleSuperAdmin),
			realtime.RoleRoom(users.RoleRepresentative),
		}
	default:
		return []string{
			realtime.RoleRoom(users.RoleAdmin),
			realtime.RoleRoom(users.RoleRepresentative),
		}
	}
}

func (h *Handler) logWithRequest(r *http.Request) *slog.Logger {
	if r == nil {
		return h.log
	}
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		return h.log.With(slog.String("request_id", id))
	}
	return h.log
}
