package dealclose

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crmdesk-backend/internal/httpx"
	"crmdesk-backend/internal/middleware"
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

func (h *Handler) RequestClose(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)

	var req CreateRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("deal close request: invalid json")
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	created, err := h.service.RequestClose(ctx, req.LeadID, ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrLeadNotFound):
			transport.WriteError(w, http.StatusNotFound, "lead not found", nil)
		case errors.Is(err, ErrAlreadyClosed):
			transport.WriteError(w, http.StatusBadRequest, "deal is already closed", nil)
		case errors.Is(err, ErrAlreadyRequested):
			transport.WriteError(w, http.StatusBadRequest, "deal closing already requested", nil)
		case errors.Is(err, ErrLeadLost):
			transport.WriteError(w, http.StatusBadRequest, "deal is marked as lost", nil)
		case errors.Is(err, ErrNotAssigned):
			transport.WriteError(w, http.StatusForbidden, "lead is not assigned to you", nil)
		default:
			log.Error("deal close request: database error", slog.String("error", err.Error()))
			transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		}
		return
	}

	log.Info("deal close request: ok",
		slog.String("lead_id", req.LeadID),
		slog.String("request_id_deal", created.ID))
	transport.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"data":    created,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)

	limit, offset, err := httpx.ParseLimitOffset(r.URL.Query(), 20, 100)
	if err != nil {
		transport.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	filter := ListFilter{
		Status:         httpx.Query(r.URL.Query(), "status"),
		Representative: httpx.Query(r.URL.Query(), "representative"),
	}

	// Representatives only see their own requests.
	ident, _ := middleware.IdentityFromContext(r.Context())
	if ident.Role == users.RoleRepresentative {
		filter.Representative = ident.UserID
	}

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	items, total, err := h.service.List(ctx, filter, limit, offset)
	if errors.Is(err, ErrInvalidFilter) {
		transport.WriteError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		log.Error("deal close list: error", slog.String("error", err.Error()))
		transport.WriteError(w, http.StatusInternalServerError, "failed to list deal close requests", nil)
		return
	}

	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    items,
		"limit":   limit,
		"offset":  offset,
		"total":   total,
	})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)
	requestID := strings.TrimSpace(chi.URLParam(r, "requestId"))

	var req ApproveRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	approved, err := h.service.Approve(ctx, requestID, req.IncentiveAmount, ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			transport.WriteError(w, http.StatusNotFound, "deal close request not found", nil)
		case errors.Is(err, ErrAlreadyProcessed):
			transport.WriteError(w, http.StatusBadRequest, "request already processed", nil)
		case errors.Is(err, ErrInvalidIncentive):
			transport.WriteError(w, http.StatusBadRequest, "incentive amount must be a positive number", nil)
		default:
			log.Error("deal approve: database error", slog.String("error", err.Error()))
			transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		}
		return
	}

	log.Info("deal approve: ok",
		slog.String("request_id_deal", requestID),
		slog.String("lead_id", approved.LeadID))
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    approved,
	})
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)
	requestID := strings.TrimSpace(chi.URLParam(r, "requestId"))

	var req RejectRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rejected, err := h.service.Reject(ctx, requestID, strings.TrimSpace(req.RejectionReason), ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrRequestNotFound):
			transport.WriteError(w, http.StatusNotFound, "deal close request not found", nil)
		case errors.Is(err, ErrAlreadyProcessed):
			transport.WriteError(w, http.StatusBadRequest, "request already processed", nil)
		default:
			log.Error("deal reject: database error", slog.String("error", err.Error()))
			transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		}
		return
	}

	log.Info("deal reject: ok",
		slog.String("request_id_deal", requestID),
		slog.String("lead_id", rejected.LeadID))
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    rejected,
	})
}

func (h *Handler) MarkLost(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)

	var req MarkLostRequest
	if err := httpx.DecodeJSON(r.Body, &req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "invalid json", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		transport.WriteError(w, http.StatusBadRequest, "validation error", httpx.ValidationDetails(h.val.ValidationErrors(err)))
		return
	}

	ident, _ := middleware.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	lead, err := h.service.MarkLost(ctx, req.LeadID, req.LostReason, ident.UserID)
	if err != nil {
		switch {
		case errors.Is(err, ErrLeadNotFound):
			transport.WriteError(w, http.StatusNotFound, "lead not found", nil)
		case errors.Is(err, ErrAlreadyClosed):
			transport.WriteError(w, http.StatusBadRequest, "deal is already closed", nil)
		case errors.Is(err, ErrLeadLost):
			transport.WriteError(w, http.StatusBadRequest, "deal is already marked as lost", nil)
		default:
			log.Error("deal mark lost: database error", slog.String("error", err.Error()))
			transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		}
		return
	}

	log.Info("deal mark lost: ok", slog.String("lead_id", req.LeadID))
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    lead,
	})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	log := h.logWithRequest(r)
	leadID := strings.TrimSpace(chi.URLParam(r, "leadId"))

	ident, _ := middleware.IdentityFromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.service.Withdraw(ctx, leadID, ident.UserID); err != nil {
		switch {
		case errors.Is(err, ErrNoPendingRequest):
			transport.WriteError(w, http.StatusNotFound, "no pending deal close request for this lead", nil)
		case errors.Is(err, ErrNotRequester):
			transport.WriteError(w, http.StatusForbidden, "only the requesting representative can withdraw", nil)
		case errors.Is(err, ErrGracePeriodExpired):
			transport.WriteError(w, http.StatusForbidden, "withdrawal window has expired", nil)
		default:
			log.Error("deal withdraw: database error", slog.String("error", err.Error()))
			transport.WriteError(w, http.StatusInternalServerError, "database error", nil)
		}
		return
	}

	log.Info("deal withdraw: ok", slog.String("lead_id", leadID))
	transport.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "deal close request withdrawn",
	})
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
