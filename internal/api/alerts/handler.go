// Package alerts exposes triggered alert listing and acknowledgement
// endpoints.
package alerts

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/promptlane/relay/internal/api/middleware"
	"github.com/promptlane/relay/internal/models"
	"github.com/promptlane/relay/internal/storage"
)

// Response helpers
type errorResponse struct {
	Error errorBody `json:"error"`
}
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
type dataResponse struct {
	Data any `json:"data"`
}

const (
	errCodeBadRequest    = "BAD_REQUEST"
	errCodeNotFound      = "NOT_FOUND"
	errCodeConflict      = "CONFLICT"
	errCodeInternalError = "INTERNAL_ERROR"
)

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: errorBody{Code: code, Message: message}}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

func jsonStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(dataResponse{Data: data}); err != nil {
		log.Printf("json encode error: %v", err)
	}
}

// Handler handles triggered alert endpoints.
type Handler struct {
	storage storage.Storage
}

// NewHandler creates an alerts handler.
func NewHandler(store storage.Storage) *Handler {
	return &Handler{storage: store}
}

// ListResponse wraps a page of alerts.
type ListResponse struct {
	Items   []*models.TriggeredAlert `json:"items"`
	Total   int64                    `json:"total"`
	Page    int                      `json:"page"`
	PerPage int                      `json:"per_page"`
}

// List returns the tenant's alerts, newest first. An optional rule_id
// query filter narrows to one rule.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	page, perPage := pagination(r)
	offset := (page - 1) * perPage

	var (
		alerts []*models.TriggeredAlert
		total  int64
		err    error
	)

	if ruleID := r.URL.Query().Get("rule_id"); ruleID != "" {
		rule, rErr := h.storage.Rules().GetByID(ctx, ruleID)
		if rErr != nil {
			log.Printf("list alerts error: get rule: %v", rErr)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if rule == nil || rule.OwnerID != ownerID {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
			return
		}
		alerts, total, err = h.storage.Alerts().ListByRule(ctx, ruleID, perPage, offset)
	} else {
		alerts, total, err = h.storage.Alerts().ListByOwner(ctx, ownerID, perPage, offset)
	}

	if err != nil {
		log.Printf("list alerts error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonStatus(w, http.StatusOK, ListResponse{
		Items:   alerts,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// GetByID returns an alert by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}
	jsonStatus(w, http.StatusOK, alert)
}

// AcknowledgeRequest is the body for POST /alerts/{id}/acknowledge.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
	Note           string `json:"note,omitempty"`
}

// Acknowledge marks an alert as acknowledged.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.ownedAlert(w, r)
	if !ok {
		return
	}

	var req AcknowledgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	req.AcknowledgedBy = strings.TrimSpace(req.AcknowledgedBy)
	if req.AcknowledgedBy == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "acknowledged_by is required")
		return
	}
	if alert.Acknowledged {
		jsonError(w, http.StatusConflict, errCodeConflict, "alert already acknowledged")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	if err := h.storage.Alerts().Acknowledge(ctx, alert.ID, req.AcknowledgedBy, req.Note, now); err != nil {
		log.Printf("acknowledge alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	alert.Acknowledged = true
	alert.AcknowledgedBy = req.AcknowledgedBy
	alert.AcknowledgedAt = &now
	alert.AckNote = req.Note
	jsonStatus(w, http.StatusOK, alert)
}

// ownedAlert loads the alert from the URL and enforces tenancy.
func (h *Handler) ownedAlert(w http.ResponseWriter, r *http.Request) (*models.TriggeredAlert, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return nil, false
	}

	ctx := r.Context()
	alert, err := h.storage.Alerts().GetByID(ctx, id)
	if err != nil {
		log.Printf("get alert error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil, false
	}
	if alert == nil || alert.OwnerID != middleware.GetOwnerID(ctx) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "alert not found")
		return nil, false
	}
	return alert, true
}

func pagination(r *http.Request) (page, perPage int) {
	page = 1
	perPage = 50
	if p := r.URL.Query().Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}
	if pp := r.URL.Query().Get("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 && v <= 100 {
			perPage = v
		}
	}
	return page, perPage
}
