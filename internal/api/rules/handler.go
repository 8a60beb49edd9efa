// Package rules exposes alert rule CRUD endpoints.
package rules

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

// Handler handles alert rule endpoints.
type Handler struct {
	storage storage.Storage
}

// NewHandler creates a rules handler.
func NewHandler(store storage.Storage) *Handler {
	return &Handler{storage: store}
}

// CreateRequest is the body for POST /rules.
type CreateRequest struct {
	Name                   string   `json:"name"`
	Description            string   `json:"description,omitempty"`
	TriggerActions         []string `json:"trigger_actions"`
	TriggerResourceTypes   []string `json:"trigger_resource_types,omitempty"`
	TriggerStatuses        []string `json:"trigger_statuses,omitempty"`
	ThresholdCount         int      `json:"threshold_count"`
	ThresholdWindowMinutes int      `json:"threshold_window_minutes"`
	TriggerOnUnknownIP     bool     `json:"trigger_on_unknown_ip"`
	AllowedIPs             []string `json:"allowed_ips,omitempty"`
	CooldownMinutes        int      `json:"cooldown_minutes"`
	NotifyEmail            bool     `json:"notify_email"`
	NotifyWebhook          bool     `json:"notify_webhook"`
	WebhookURL             string   `json:"webhook_url,omitempty"`
	WebhookSecret          string   `json:"webhook_secret,omitempty"`
}

// UpdateRequest is the body for PUT /rules/{id}. Nil pointers leave
// the field unchanged.
type UpdateRequest struct {
	Name                   *string  `json:"name,omitempty"`
	Description            *string  `json:"description,omitempty"`
	TriggerActions         []string `json:"trigger_actions,omitempty"`
	TriggerResourceTypes   []string `json:"trigger_resource_types,omitempty"`
	TriggerStatuses        []string `json:"trigger_statuses,omitempty"`
	ThresholdCount         *int     `json:"threshold_count,omitempty"`
	ThresholdWindowMinutes *int     `json:"threshold_window_minutes,omitempty"`
	TriggerOnUnknownIP     *bool    `json:"trigger_on_unknown_ip,omitempty"`
	AllowedIPs             []string `json:"allowed_ips,omitempty"`
	CooldownMinutes        *int     `json:"cooldown_minutes,omitempty"`
	NotifyEmail            *bool    `json:"notify_email,omitempty"`
	NotifyWebhook          *bool    `json:"notify_webhook,omitempty"`
	WebhookURL             *string  `json:"webhook_url,omitempty"`
	WebhookSecret          *string  `json:"webhook_secret,omitempty"`
	IsActive               *bool    `json:"is_active,omitempty"`
}

// Create creates a new alert rule.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()
	rule := &models.AlertRule{
		ID:                     uuid.New().String(),
		OwnerID:                middleware.GetOwnerID(ctx),
		Name:                   strings.TrimSpace(req.Name),
		Description:            strings.TrimSpace(req.Description),
		TriggerActions:         req.TriggerActions,
		TriggerResourceTypes:   req.TriggerResourceTypes,
		TriggerStatuses:        req.TriggerStatuses,
		ThresholdCount:         req.ThresholdCount,
		ThresholdWindowMinutes: req.ThresholdWindowMinutes,
		TriggerOnUnknownIP:     req.TriggerOnUnknownIP,
		AllowedIPs:             req.AllowedIPs,
		CooldownMinutes:        req.CooldownMinutes,
		NotifyEmail:            req.NotifyEmail,
		NotifyWebhook:          req.NotifyWebhook,
		WebhookURL:             req.WebhookURL,
		WebhookSecret:          req.WebhookSecret,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if rule.ThresholdCount == 0 {
		rule.ThresholdCount = 1
	}
	if rule.ThresholdWindowMinutes == 0 {
		rule.ThresholdWindowMinutes = 60
	}

	if err := rule.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Rules().Create(ctx, rule); err != nil {
		log.Printf("create rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("rule created: %s (%s)", rule.Name, rule.ID)
	jsonStatus(w, http.StatusCreated, rule)
}

// List returns the tenant's rules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rules, err := h.storage.Rules().ListByOwner(ctx, middleware.GetOwnerID(ctx))
	if err != nil {
		log.Printf("list rules error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}
	jsonStatus(w, http.StatusOK, rules)
}

// GetByID returns a rule by ID.
func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}
	jsonStatus(w, http.StatusOK, rule)
}

// Update applies a partial update to a rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		rule.Description = strings.TrimSpace(*req.Description)
	}
	if req.TriggerActions != nil {
		rule.TriggerActions = req.TriggerActions
	}
	if req.TriggerResourceTypes != nil {
		rule.TriggerResourceTypes = req.TriggerResourceTypes
	}
	if req.TriggerStatuses != nil {
		rule.TriggerStatuses = req.TriggerStatuses
	}
	if req.ThresholdCount != nil {
		rule.ThresholdCount = *req.ThresholdCount
	}
	if req.ThresholdWindowMinutes != nil {
		rule.ThresholdWindowMinutes = *req.ThresholdWindowMinutes
	}
	if req.TriggerOnUnknownIP != nil {
		rule.TriggerOnUnknownIP = *req.TriggerOnUnknownIP
	}
	if req.AllowedIPs != nil {
		rule.AllowedIPs = req.AllowedIPs
	}
	if req.CooldownMinutes != nil {
		rule.CooldownMinutes = *req.CooldownMinutes
	}
	if req.NotifyEmail != nil {
		rule.NotifyEmail = *req.NotifyEmail
	}
	if req.NotifyWebhook != nil {
		rule.NotifyWebhook = *req.NotifyWebhook
	}
	if req.WebhookURL != nil {
		rule.WebhookURL = *req.WebhookURL
	}
	if req.WebhookSecret != nil {
		rule.WebhookSecret = *req.WebhookSecret
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	rule.UpdatedAt = time.Now().UTC()

	if err := rule.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	if err := h.storage.Rules().Update(r.Context(), rule); err != nil {
		log.Printf("update rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("rule updated: %s (%s)", rule.Name, rule.ID)
	jsonStatus(w, http.StatusOK, rule)
}

// Delete removes a rule and, via cascade, its triggered alerts.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.ownedRule(w, r)
	if !ok {
		return
	}

	if err := h.storage.Rules().Delete(r.Context(), rule.ID); err != nil {
		log.Printf("delete rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return
	}

	log.Printf("rule deleted: %s (%s)", rule.Name, rule.ID)
	w.WriteHeader(http.StatusNoContent)
}

// ownedRule loads the rule from the URL and enforces tenancy. A rule
// belonging to another tenant reads as not found.
func (h *Handler) ownedRule(w http.ResponseWriter, r *http.Request) (*models.AlertRule, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "rule id required")
		return nil, false
	}

	ctx := r.Context()
	rule, err := h.storage.Rules().GetByID(ctx, id)
	if err != nil {
		log.Printf("get rule error: %v", err)
		jsonError(w, http.StatusInternalServerError, errCodeInternalError, "internal server error")
		return nil, false
	}
	if rule == nil || rule.OwnerID != middleware.GetOwnerID(ctx) {
		jsonError(w, http.StatusNotFound, errCodeNotFound, "rule not found")
		return nil, false
	}
	return rule, true
}
