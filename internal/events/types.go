// internal/events/types.go
package events

import (
	"encoding/json"
	"errors"
	"time"
)

// Event types constants
const (
	EventTypeClaimCreated       = "claim.created"
	EventTypeClaimUpdated       = "claim.updated"
	EventTypeClaimStatusChanged = "claim.status_changed"
	EventTypeClaimClosed        = "claim.closed"
	EventTypeTradeAssigned      = "trade.assigned"
	EventTypeTradeCompleted     = "trade.completed"
	EventTypeReportGenerated    = "report.generated"
	EventTypeDocumentUploaded   = "document.uploaded"
)

var catalog = map[string]struct{}{
	EventTypeClaimCreated:       {},
	EventTypeClaimUpdated:       {},
	EventTypeClaimStatusChanged: {},
	EventTypeClaimClosed:        {},
	EventTypeTradeAssigned:      {},
	EventTypeTradeCompleted:     {},
	EventTypeReportGenerated:    {},
	EventTypeDocumentUploaded:   {},
}

var ErrUnknownEvent = errors.New("unknown event type")

// Known reports whether eventType is part of the catalog.
func Known(eventType string) bool {
	_, ok := catalog[eventType]
	return ok
}

// Types lists the catalog in a stable order.
func Types() []string {
	return []string{
		EventTypeClaimCreated,
		EventTypeClaimUpdated,
		EventTypeClaimStatusChanged,
		EventTypeClaimClosed,
		EventTypeTradeAssigned,
		EventTypeTradeCompleted,
		EventTypeReportGenerated,
		EventTypeDocumentUploaded,
	}
}

// Envelope is the body every subscriber receives for a catalog event.
type Envelope struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	OrganizationID string          `json:"organizationId"`
	CreatedAt      time.Time       `json:"createdAt"`
	Data           json.RawMessage `json:"data"`
}

// ClaimEvent is the data of claim.* events
type ClaimEvent struct {
	ClaimID        string     `json:"claimId"`
	Reference      string     `json:"reference"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previousStatus,omitempty"`
	PolicyNumber   string     `json:"policyNumber,omitempty"`
	UpdatedBy      string     `json:"updatedBy,omitempty"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
}

// TradeEvent is the data of trade.* events
type TradeEvent struct {
	ClaimID     string     `json:"claimId"`
	TradeID     string     `json:"tradeId"`
	Trade       string     `json:"trade"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ReportEvent is the data of report.generated
type ReportEvent struct {
	ClaimID  string `json:"claimId"`
	ReportID string `json:"reportId"`
	Kind     string `json:"kind"`
	URL      string `json:"url,omitempty"`
}

// DocumentEvent is the data of document.uploaded
type DocumentEvent struct {
	ClaimID     string `json:"claimId"`
	DocumentID  string `json:"documentId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}
