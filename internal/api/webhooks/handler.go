// Package webhooks exposes webhook subscription management, test
// delivery, and event fan-out endpoints.
package webhooks

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
	errCodeNotFound         = "NOT_FOUND"
	errCodeInternalError    = "INTERNAL_ERROR"
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

// Handler handles webhook subscription endpoints.
type Handler struct {
	storage storage.Storage
	engine  *webhook.Engine
}

// NewHandler creates a webhooks handler.
func NewHandler(store storage.Storage, engine *webhook.Engine) *Handler {
	return &Handler{storage: store, engine: engine}
}

// CreateRequest is the body for POST /webhooks.
type CreateRequest struct {
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Secret            string            `json:"secret,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	OnExportComplete  bool              `json:"on_export_complete"`
	OnExportFailed    bool              `json:"on_export_failed"`
	OnImportComplete  bool              `json:"on_import_complete"`
	OnImportFailed    bool              `json:"on_import_failed"`
	OnScheduledExport bool              `json:"on_scheduled_export"`
	OnShareAccess     bool              `json:"on_share_access"`
	MaxRetries        int               `json:"max_retries,omitempty"`
	RetryDelaySeconds int               `json:"retry_delay_seconds,omitempty"`
}

// UpdateRequest is the body for PUT /webhooks/{id}.
type UpdateRequest struct {
	Name              *string           `json:"name,omitempty"`
	URL               *string           `json:"url,omitempty"`
	Secret            *string           `json:"secret,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	OnExportComplete  *bool             `json:"on_export_complete,omitempty"`
	OnExportFailed    *bool             `json:"on_export_failed,omitempty"`
	OnImportComplete  *bool             `json:"on_import_complete,omitempty"`
	OnImportFailed    *bool             `json:"on_import_failed,omitempty"`
	OnScheduledExport *bool             `json:"on_scheduled_export,omitempty"`
	OnShareAccess     *bool             `json:"on_share_access,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty"`
	RetryDelaySeconds *int              `json:"retry_delay_seconds,omitempty"`
	IsActive          *bool             `json:"is_active,omitempty"`
}

// Create registers a new subscription.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	sub := models.NewWebhookSubscription(middleware.GetOwnerID(ctx), strings.TrimSpace(req.Name), strings.TrimSpace(req.URL))
	sub.ID = uuid.New().String()
	sub.Secret = req.Secret
	sub.Headers = req.Headers
	sub.OnExportComplete = req.OnExportComplete
	sub.OnExportFailed = req.OnExportFailed
	sub.OnImportComplete = req.OnImportComplete
	sub.OnImportFailed = req.OnImportFailed
	sub.OnScheduledExport = req.OnScheduledExport
	sub.OnShareAccess = req.OnShareAccess
	if req.MaxRetries > 0 {
		sub.MaxRetries = req.MaxRetries
	}
	if req.RetryDelaySeconds > 0 {
		sub.RetryDelaySeconds = req.RetryDelaySeconds
	}

	if err := sub.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Subscriptions().Create(ctx, sub); err != nil {
		log.Printf("create webhook error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("webhook created: %s (%s)", sub.Name, sub.ID)
	jsonStatus(w, http.StatusCreated, sub)
}

// List returns the tenant's subscriptions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subs, err := h.storage.Subscriptions().ListByOwner(ctx, middleware.GetOwnerID(ctx))
	if err != nil {
		log.Printf("list webhooks error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonStatus(w, http.StatusOK, subs)
}

// GetByID returns a subscription by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}
	jsonStatus(w, http.StatusOK, sub)
}

// Update applies a partial update to a subscription.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		sub.Name = strings.TrimSpace(*req.Name)
	}
	if req.URL != nil {
		sub.URL = strings.TrimSpace(*req.URL)
	}
	if req.Secret != nil {
		sub.Secret = *req.Secret
	}
	if req.Headers != nil {
		sub.Headers = req.Headers
	}
	if req.OnExportComplete != nil {
		sub.OnExportComplete = *req.OnExportComplete
	}
	if req.OnExportFailed != nil {
		sub.OnExportFailed = *req.OnExportFailed
	}
	if req.OnImportComplete != nil {
		sub.OnImportComplete = *req.OnImportComplete
	}
	if req.OnImportFailed != nil {
		sub.OnImportFailed = *req.OnImportFailed
	}
	if req.OnScheduledExport != nil {
		sub.OnScheduledExport = *req.OnScheduledExport
	}
	if req.OnShareAccess != nil {
		sub.OnShareAccess = *req.OnShareAccess
	}
	if req.MaxRetries != nil {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.RetryDelaySeconds != nil {
		sub.RetryDelaySeconds = *req.RetryDelaySeconds
	}
	if req.IsActive != nil {
		// Disabling only stops future fan-out; deliveries already in
		// flight run to completion.
		sub.IsActive = *req.IsActive
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := sub.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Subscriptions().Update(r.Context(), sub); err != nil {
		log.Printf("update webhook error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("webhook updated: %s (%s)", sub.Name, sub.ID)
	jsonStatus(w, http.StatusOK, sub)
}

// Delete removes a subscription and, via cascade, its deliveries.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.ownedSubscription(w, r)
	if !ok {
		return
	}

	if err := h.storage.Subscriptions().Delete(r.Context(), sub.ID); err != nil {
		log.Printf("delete webhook error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("webhook deleted: %s (%s)", sub.Name, sub.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Test synchronously POSTs a test payload to the subscription's
// endpoint and reports the outcome. Never schedules retries.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "webhook id required")
		return
	}

	ctx := r.Context()
	result, err := h.engine.TestWebhook(ctx, middleware.GetOwnerID(ctx), id)
	if err != nil {
		log.Printf("test webhook error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	if result == nil {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "webhook not found")
		return
	}
	jsonStatus(w, http.StatusOK, result)
}

// TriggerRequest is the body for POST /webhook-events.
type TriggerRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

var triggerableEvents = map[string]models.WebhookEventType{
	"export_complete":  models.EventExportComplete,
	"export_failed":    models.EventExportFailed,
	"import_complete":  models.EventImportComplete,
	"import_failed":    models.EventImportFailed,
	"scheduled_export": models.EventScheduledExport,
	"share_access":     models.EventShareAccess,
}

// Trigger fans a domain event out to the tenant's matching
// subscriptions. Returns once deliveries are queued.
func (h *Handler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	eventType, ok := triggerableEvents[req.EventType]
	if !ok {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "unknown event type")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "payload is not valid JSON")
			return
		}
	}

	ctx := r.Context()
	result, err := h.engine.Trigger(ctx, middleware.GetOwnerID(ctx), eventType, payload)
	if err != nil {
		log.Printf("trigger webhooks error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonStatus(w, http.StatusAccepted, result)
}

// ownedSubscription loads the subscription from the URL and enforces
// tenancy.
func (h *Handler) ownedSubscription(w http.ResponseWriter, r *http.Request) (*models.WebhookSubscription, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "webhook id required")
		return nil, false
	}

	ctx := r.Context()
	sub, err := h.storage.Subscriptions().GetByID(ctx, id)
	if err != nil {
		log.Printf("get webhook error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil, false
	}
	if sub == nil || sub.OwnerID != middleware.GetOwnerID(ctx) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "webhook not found")
		return nil, false
	}
	return sub, true
}
