// Package events exposes audit event ingestion and history endpoints.
package events

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptlane/relay/internal/alerting"
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
	errCodeBadRequest       = "BAD_REQUEST"
	errCodeValidationFailed = "VALIDATION_FAILED"
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

// Handler handles audit event endpoints.
type Handler struct {
	storage storage.Storage
	engine  *alerting.Engine
}

// NewHandler creates an events handler.
func NewHandler(store storage.Storage, engine *alerting.Engine) *Handler {
	return &Handler{storage: store, engine: engine}
}

// RecordRequest is the body for POST /events.
type RecordRequest struct {
	EventID      string            `json:"event_id,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type,omitempty"`
	Status       string            `json:"status"`
	SourceIP     string            `json:"source_ip,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RecordResponse reports the stored event and what it triggered.
type RecordResponse struct {
	EventID         string   `json:"event_id"`
	AlertsTriggered int      `json:"alerts_triggered"`
	AlertIDs        []string `json:"alert_ids,omitempty"`
}

var validStatuses = map[string]models.EventStatus{
	"success":      models.StatusSuccess,
	"failed":       models.StatusFailed,
	"unauthorized": models.StatusUnauthorized,
	"forbidden":    models.StatusForbidden,
}

// Record ingests one audit event, evaluates it against the tenant's
// alert rules, and persists it.
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	req.Action = strings.TrimSpace(req.Action)
	if req.Action == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "action is required")
		return
	}
	status, ok := validStatuses[req.Status]
	if !ok {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "status must be one of success, failed, unauthorized, forbidden")
		return
	}

	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)

	event := &models.AuditEvent{
		ID:           req.EventID,
		OwnerID:      ownerID,
		Action:       req.Action,
		ResourceType: strings.TrimSpace(req.ResourceType),
		Status:       status,
		SourceIP:     req.SourceIP,
		UserAgent:    req.UserAgent,
		Metadata:     req.Metadata,
		CreatedAt:    time.Now().UTC(),
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	result, err := h.engine.CheckEvent(ctx, event)
	if err != nil {
		log.Printf("record event error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonStatus(w, http.StatusCreated, RecordResponse{
		EventID:         event.ID,
		AlertsTriggered: result.AlertsTriggered,
		AlertIDs:        result.AlertIDs,
	})
}

// ListResponse wraps a page of events.
type ListResponse struct {
	Items   []*models.AuditEvent `json:"items"`
	Total   int64                `json:"total"`
	Page    int                  `json:"page"`
	PerPage int                  `json:"per_page"`
}

// List returns the tenant's events, newest first, paginated.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ownerID := middleware.GetOwnerID(ctx)
	page, perPage := pagination(r)

	events, total, err := h.storage.Events().ListByOwner(ctx, ownerID, perPage, (page-1)*perPage)
	if err != nil {
		log.Printf("list events error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	jsonStatus(w, http.StatusOK, ListResponse{
		Items:   events,
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
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
