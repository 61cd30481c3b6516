// internal/testutil/helpers.go
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/temmyjay001/claimsflow-webhooks/internal/auth"
)

const TestJWTSecret = "test-jwt-secret"

// ReceivedRequest is one request captured by a Receiver.
type ReceivedRequest struct {
	Method string
	Header http.Header
	Body   []byte
}

// Receiver is a webhook endpoint for tests. It answers with the queued
// status codes in order, then repeats the last one.
type Receiver struct {
	*httptest.Server

	mu       sync.Mutex
	statuses []int
	body     string
	delay    time.Duration
	requests []ReceivedRequest
}

// NewReceiver starts a receiver answering with statuses (200 when empty).
func NewReceiver(t *testing.T, statuses ...int) *Receiver {
	t.Helper()
	if len(statuses) == 0 {
		statuses = []int{http.StatusOK}
	}
	r := &Receiver{statuses: statuses, body: `{"ok":true}`}
	r.Server = httptest.NewServer(http.HandlerFunc(r.handle))
	t.Cleanup(r.Close)
	return r
}

func (r *Receiver) handle(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	r.requests = append(r.requests, ReceivedRequest{Method: req.Method, Header: req.Header.Clone(), Body: body})
	status := r.statuses[0]
	if len(r.statuses) > 1 {
		r.statuses = r.statuses[1:]
	}
	delay, respBody := r.delay, r.body
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, respBody)
}

// SetDelay makes every later response wait d before answering.
func (r *Receiver) SetDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

func (r *Receiver) SetBody(body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = body
}

func (r *Receiver) Requests() []ReceivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReceivedRequest(nil), r.requests...)
}

func (r *Receiver) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// IssueTestToken returns a bearer token for organizationID with every scope.
func IssueTestToken(t *testing.T, organizationID string) string {
	t.Helper()
	svc := auth.NewService(TestJWTSecret, "")
	token, err := svc.IssueToken(organizationID, "test-user", []string{
		auth.ScopeWebhooksRead, auth.ScopeWebhooksManage, auth.ScopeEventsPublish,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

// GetTestDatabaseURL returns TEST_DATABASE_URL, skipping the test when unset.
func GetTestDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	return url
}

// RandomOrgID generates an organization id for testing
func RandomOrgID() string {
	return "org_" + uuid.New().String()[:8]
}
