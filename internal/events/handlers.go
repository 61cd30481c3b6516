// internal/events/handlers.go
package events

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
	"github.com/temmyjay001/claimsflow-webhooks/pkg/api"
	cV "github.com/temmyjay001/claimsflow-webhooks/pkg/validator"
)

type PublishEventRequest struct {
	Type string          `json:"type" validate:"required,event_name"`
	Data json.RawMessage `json:"data"`
}

type Handlers struct {
	publisher *Publisher
	validator *validator.Validate
}

func NewHandlers(publisher *Publisher) *Handlers {
	return &Handlers{
		publisher: publisher,
		validator: cV.GetValidator(),
	}
}

// PublishEventHandler queues a catalog event for the caller's organization
func (h *Handlers) PublishEventHandler(w http.ResponseWriter, r *http.Request) {
	var req PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequestResponse(w, "invalid JSON payload")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		api.WriteValidationErrorResponse(w, err)
		return
	}

	var data any
	if len(req.Data) > 0 {
		data = req.Data
	}

	queued, err := h.publisher.Publish(r.Context(), auth.OrganizationID(r.Context()), req.Type, data)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			api.WriteBadRequestResponse(w, err.Error())
			return
		}
		api.WriteInternalErrorResponse(w, "failed to publish event")
		return
	}

	api.WriteSuccessResponse(w, http.StatusAccepted, map[string]interface{}{
		"type":       req.Type,
		"deliveries": queued,
	})
}
