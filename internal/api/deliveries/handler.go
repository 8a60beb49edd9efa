// Package deliveries exposes webhook delivery history and manual
// retry endpoints.
package deliveries

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/promptlane/relay/internal/api/middleware"
	"github.com/promptlane/relay/internal/models"
	"github.com/promptlane/relay/internal/storage"
	"github.com/promptlane/relay/internal/webhook"
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
	errCodeConflict      = "CONFLICT"
	errCodeNotFound      = "NOT_FOUND"
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

// Handler handles webhook delivery endpoints.
type Handler struct {
	storage storage.Storage
	engine  *webhook.Engine
}

// NewHandler creates a deliveries handler.
func NewHandler(store storage.Storage, engine *webhook.Engine) *Handler {
	return &Handler{storage: store, engine: engine}
}

// ListResponse wraps a page of deliveries.
type ListResponse struct {
	Items   []*models.WebhookDelivery `json:"items"`
	Total   int64                     `json:"total"`
	Page    int                       `json:"page"`
	PerPage int                       `json:"per_page"`
}

// List returns the tenant's deliveries, newest first. An optional
// webhook_id query filter narrows to one subscription.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	page, perPage := pagination(r)
	offset := (page - 1) * perPage

	var (
		items []*models.WebhookDelivery
		total int64
		err   error
	)

	if webhookID := r.URL.Query().Get("webhook_id"); webhookID != "" {
		sub, sErr := h.storage.Subscriptions().GetByID(ctx, webhookID)
		if sErr != nil {
			log.Printf("list deliveries error: get webhook: %v", sErr)
			jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
			return
		}
		if sub == nil || sub.OwnerID != ownerID {
			jsonError(w, http.StatusNotFound, errCodeNotFound, "webhook not found")
			return
		}
		items, total, err = h.storage.Deliveries().ListByWebhook(ctx, webhookID, perPage, offset)
	} else {
		items, total, err = h.storage.Deliveries().ListByOwner(ctx, ownerID, perPage, offset)
	}

	if err != nil {
		log.Printf("list deliveries error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonStatus(w, http.StatusOK, ListResponse{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// GetByID returns a delivery by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "delivery id required")
		return
	}

	ctx := r.Context()
	d, err := h.storage.Deliveries().GetByID(ctx, id)
	if err != nil {
		log.Printf("get delivery error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if d == nil || d.OwnerID != middleware.GetOwnerID(ctx) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "delivery not found")
		return
	}
	jsonStatus(w, http.StatusOK, d)
}

// Retry re-enqueues a failed or retrying delivery immediately. The
// attempt count carries over.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "delivery id required")
		return
	}

	ctx := r.Context()
	d, err := h.engine.RetryDelivery(ctx, middleware.GetOwnerID(ctx), id)
	if err != nil {
		if errors.Is(err, webhook.ErrNotRetryable) {
			jsonError(w, http.StatusConflict, errCodeConflict, err.Error())
			return
		}
		log.Printf("retry delivery error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if d == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "delivery not found")
		return
	}

	log.Printf("delivery retry queued: %s", d.ID)
	jsonStatus(w, http.StatusAccepted, d)
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
