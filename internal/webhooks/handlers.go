// internal/webhooks/handlers.go
package webhooks

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
	"github.com/temmyjay001/claimsflow-webhooks/pkg/api"
	cV "github.com/temmyjay001/claimsflow-webhooks/pkg/validator"
)

type CreateWebhookRequest struct {
	URL           string            `json:"url" validate:"required,webhook_url"`
	Events        []string          `json:"events" validate:"required,min=1,dive,required,event_name"`
	Secret        string            `json:"secret" validate:"required,min=16"`
	RetryStrategy RetryStrategy     `json:"retryStrategy" validate:"omitempty,oneof=exponential linear fixed"`
	MaxRetries    *int              `json:"maxRetries" validate:"omitempty,min=0,max=20"`
	TimeoutMs     int               `json:"timeout" validate:"omitempty,min=100,max=60000"`
	Headers       map[string]string `json:"headers" validate:"omitempty,dive,keys,required,endkeys"`
	Transform     string            `json:"transform" validate:"omitempty,webhook_transform"`
}

type UpdateWebhookRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

const defaultMaxRetries = 3

type Handlers struct {
	service   *Service
	validator *validator.Validate
}

var registerOnce sync.Once

// registerValidations adds the webhook-specific rules to the shared validator.
func registerValidations(v *validator.Validate) {
	registerOnce.Do(func() {
		err := v.RegisterValidation("webhook_transform", func(fl validator.FieldLevel) bool {
			_, err := ParseTransform(fl.Field().String())
			return err == nil
		})
		if err != nil {
			panic(fmt.Sprintf("register webhook_transform validation: %v", err))
		}
	})
}

func NewHandlers(service *Service) *Handlers {
	v := cV.GetValidator()
	registerValidations(v)
	return &Handlers{
		service:   service,
		validator: v,
	}
}

// CreateWebhookHandler registers an endpoint for the caller's organization
func (h *Handlers) CreateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequestResponse(w, "invalid JSON payload")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		api.WriteValidationErrorResponse(w, err)
		return
	}

	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}

	created, err := h.service.CreateWebhook(r.Context(), WebhookConfig{
		OrganizationID: auth.OrganizationID(r.Context()),
		URL:            req.URL,
		Events:         req.Events,
		Secret:         req.Secret,
		IsActive:       true,
		RetryStrategy:  req.RetryStrategy,
		MaxRetries:     maxRetries,
		TimeoutMs:      req.TimeoutMs,
		Headers:        req.Headers,
		Transform:      req.Transform,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusCreated, created)
}

func (h *Handlers) ListWebhooksHandler(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.service.ListWebhooks(r.Context(), auth.OrganizationID(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"webhooks": webhooks,
		"total":    len(webhooks),
	})
}

func (h *Handlers) GetWebhookHandler(w http.ResponseWriter, r *http.Request) {
	wh, err := h.service.GetWebhook(r.Context(), auth.OrganizationID(r.Context()), chi.URLParam(r, "webhookId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, wh)
}

// UpdateWebhookHandler toggles whether the webhook receives new events
func (h *Handlers) UpdateWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequestResponse(w, "invalid JSON payload")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		api.WriteValidationErrorResponse(w, err)
		return
	}

	updated, err := h.service.SetWebhookActive(r.Context(), auth.OrganizationID(r.Context()), chi.URLParam(r, "webhookId"), *req.IsActive)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteWebhookHandler(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookId")
	if err := h.service.DeleteWebhook(r.Context(), auth.OrganizationID(r.Context()), webhookID); err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"message":    "webhook deleted",
		"webhook_id": webhookID,
	})
}

// WebhookStatsHandler reports delivery counts and success rate
func (h *Handlers) WebhookStatsHandler(w http.ResponseWriter, r *http.Request) {
	wh, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), wh.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, stats)
}

// TestWebhookHandler sends a test webhook to verify configuration
func (h *Handlers) TestWebhookHandler(w http.ResponseWriter, r *http.Request) {
	wh, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}

	result, err := h.service.TestDelivery(r.Context(), wh.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// the receiver's verdict is data, not an API failure
	api.WriteSuccessResponse(w, http.StatusOK, result)
}

// ListWebhookDeliveriesHandler returns delivery history, newest first
func (h *Handlers) ListWebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	wh, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}

	status := DeliveryStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		api.WriteBadRequestResponse(w, "status must be one of: pending retrying sent failed")
		return
	}

	limit := DefaultListLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			api.WriteBadRequestResponse(w, "limit must be a positive integer")
			return
		}
		limit = l
	}

	deliveries, err := h.service.ListDeliveries(r.Context(), wh.ID, status, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"deliveries": deliveries,
		"total":      len(deliveries),
	})
}

// GetDeliveryHandler returns details of a specific webhook delivery
func (h *Handlers) GetDeliveryHandler(w http.ResponseWriter, r *http.Request) {
	delivery, _, err := h.service.GetDelivery(r.Context(), auth.OrganizationID(r.Context()), chi.URLParam(r, "deliveryId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, delivery)
}

// RedeliverHandler queues a fresh copy of a finished delivery
func (h *Handlers) RedeliverHandler(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryId")

	copied, err := h.service.Redeliver(r.Context(), auth.OrganizationID(r.Context()), deliveryID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	api.WriteSuccessResponse(w, http.StatusAccepted, map[string]interface{}{
		"message":     "webhook delivery queued for redelivery",
		"original_id": deliveryID,
		"delivery":    copied,
	})
}

func (h *Handlers) ownedWebhook(w http.ResponseWriter, r *http.Request) (WebhookConfig, bool) {
	wh, err := h.service.GetWebhook(r.Context(), auth.OrganizationID(r.Context()), chi.URLParam(r, "webhookId"))
	if err != nil {
		writeServiceError(w, err)
		return WebhookConfig{}, false
	}
	return wh, true
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWebhookNotFound):
		api.WriteNotFoundResponse(w, "webhook not found")
	case errors.Is(err, ErrDeliveryNotFound):
		api.WriteNotFoundResponse(w, "webhook delivery not found")
	case errors.Is(err, ErrDeliveryInFlight):
		api.WriteConflictResponse(w, err.Error())
	case errors.Is(err, ErrInvalidTransform):
		api.WriteBadRequestResponse(w, err.Error())
	default:
		api.WriteInternalErrorResponse(w, "internal server error")
	}
}
