package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/temmyjay001/claimsflow-webhooks/internal/webhooks"
)

// Store is the Postgres implementation of the webhook registry and the
// delivery store.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(db *DB) *Store {
	return &Store{pool: db.Pool}
}

var (
	_ webhooks.WebhookRepository = (*Store)(nil)
	_ webhooks.DeliveryStore     = (*Store)(nil)
)

const webhookColumns = `id, organization_id, url, events, secret, is_active, retry_strategy,
	max_retries, timeout_ms, headers, transform, created_at, updated_at`

const deliveryColumns = `id, webhook_id, event, payload, status, attempts, last_attempt,
	next_retry, response, last_error, created_at`

func scanWebhook(row scannable) (webhooks.WebhookConfig, error) {
	var (
		wh       webhooks.WebhookConfig
		id       uuid.UUID
		strategy string
		headers  []byte
	)
	err := row.Scan(&id, &wh.OrganizationID, &wh.URL, &wh.Events, &wh.Secret, &wh.IsActive, &strategy,
		&wh.MaxRetries, &wh.TimeoutMs, &headers, &wh.Transform, &wh.CreatedAt, &wh.UpdatedAt)
	if err != nil {
		return webhooks.WebhookConfig{}, err
	}
	wh.ID = id.String()
	wh.RetryStrategy = webhooks.RetryStrategy(strategy)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &wh.Headers); err != nil {
			return webhooks.WebhookConfig{}, fmt.Errorf("decode headers: %w", err)
		}
		if len(wh.Headers) == 0 {
			wh.Headers = nil
		}
	}
	return wh, nil
}

func scanDelivery(row scannable) (webhooks.WebhookDelivery, error) {
	var (
		d         webhooks.WebhookDelivery
		id        uuid.UUID
		webhookID uuid.UUID
		payload   []byte
		status    string
		response  []byte
	)
	err := row.Scan(&id, &webhookID, &d.Event, &payload, &status, &d.Attempts, &d.LastAttempt,
		&d.NextRetry, &response, &d.Error, &d.CreatedAt)
	if err != nil {
		return webhooks.WebhookDelivery{}, err
	}
	d.ID = id.String()
	d.WebhookID = webhookID.String()
	d.Payload = payload
	d.Status = webhooks.DeliveryStatus(status)
	if len(response) > 0 {
		var snap webhooks.ResponseSnapshot
		if err := json.Unmarshal(response, &snap); err != nil {
			return webhooks.WebhookDelivery{}, fmt.Errorf("decode response: %w", err)
		}
		d.Response = &snap
	}
	return d, nil
}

func (s *Store) CreateWebhook(ctx context.Context, wh webhooks.WebhookConfig) (webhooks.WebhookConfig, error) {
	if wh.ID == "" {
		wh.ID = uuid.NewString()
	}
	headers, err := json.Marshal(wh.Headers)
	if err != nil {
		return webhooks.WebhookConfig{}, fmt.Errorf("encode headers: %w", err)
	}
	if wh.Headers == nil {
		headers = []byte("{}")
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhooks (id, organization_id, url, events, secret, is_active, retry_strategy,
			max_retries, timeout_ms, headers, transform)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+webhookColumns,
		wh.ID, wh.OrganizationID, wh.URL, pgTextArray(wh.Events), wh.Secret, wh.IsActive, string(wh.RetryStrategy),
		wh.MaxRetries, wh.TimeoutMs, headers, wh.Transform,
	)
	created, err := scanWebhook(row)
	if err != nil {
		return webhooks.WebhookConfig{}, fmt.Errorf("insert webhook: %w", err)
	}
	return created, nil
}

func (s *Store) FindActiveSubscribers(ctx context.Context, organizationID, event string) ([]webhooks.WebhookConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE organization_id = $1 AND is_active AND $2 = ANY(events)
		ORDER BY created_at`, organizationID, event)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var out []webhooks.WebhookConfig
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) Get(ctx context.Context, webhookID string) (webhooks.WebhookConfig, error) {
	if !validID(webhookID) {
		return webhooks.WebhookConfig{}, webhooks.ErrWebhookNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, webhookID)
	wh, err := scanWebhook(row)
	if err != nil {
		return webhooks.WebhookConfig{}, notFoundWrap(err, webhooks.ErrWebhookNotFound, "get webhook %s", webhookID)
	}
	return wh, nil
}

func (s *Store) ListWebhooks(ctx context.Context, organizationID string) ([]webhooks.WebhookConfig, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE organization_id = $1
		ORDER BY created_at DESC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	out := []webhooks.WebhookConfig{}
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (s *Store) SetWebhookActive(ctx context.Context, webhookID string, active bool) (webhooks.WebhookConfig, error) {
	if !validID(webhookID) {
		return webhooks.WebhookConfig{}, webhooks.ErrWebhookNotFound
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE webhooks SET is_active = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+webhookColumns, webhookID, active)
	wh, err := scanWebhook(row)
	if err != nil {
		return webhooks.WebhookConfig{}, notFoundWrap(err, webhooks.ErrWebhookNotFound, "update webhook %s", webhookID)
	}
	return wh, nil
}

func (s *Store) DeleteWebhook(ctx context.Context, webhookID string) error {
	if !validID(webhookID) {
		return webhooks.ErrWebhookNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, webhookID)
	return execExpectOne(tag, err, webhooks.ErrWebhookNotFound, "delete webhook %s", webhookID)
}

func (s *Store) Create(ctx context.Context, d webhooks.WebhookDelivery) (webhooks.WebhookDelivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	response, err := jsonOrNil(d.Response, d.Response == nil)
	if err != nil {
		return webhooks.WebhookDelivery{}, fmt.Errorf("encode response: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event, payload, status, attempts, last_attempt,
			next_retry, response, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+deliveryColumns,
		d.ID, d.WebhookID, d.Event, []byte(d.Payload), string(d.Status), d.Attempts, d.LastAttempt,
		d.NextRetry, response, d.Error, d.CreatedAt,
	)
	created, err := scanDelivery(row)
	if err != nil {
		return webhooks.WebhookDelivery{}, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return created, nil
}

func (s *Store) Update(ctx context.Context, id string, patch webhooks.DeliveryPatch) error {
	if !validID(id) {
		return webhooks.ErrDeliveryNotFound
	}
	response, err := jsonOrNil(patch.Response, patch.Response == nil)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempts = $3, last_attempt = $4, next_retry = $5, response = $6, last_error = $7
		WHERE id = $1`,
		id, string(patch.Status), patch.Attempts, patch.LastAttempt, patch.NextRetry, response, patch.Error,
	)
	return execExpectOne(tag, err, webhooks.ErrDeliveryNotFound, "update webhook delivery %s", id)
}

// FindDue returns pending and retrying deliveries whose retry time has come,
// oldest first.
func (s *Store) FindDue(ctx context.Context, now time.Time, limit int) ([]webhooks.WebhookDelivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status IN ('pending', 'retrying')
		  AND (next_retry IS NULL OR next_retry <= $1)
		ORDER BY COALESCE(next_retry, created_at), created_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()

	out := []webhooks.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) FindByID(ctx context.Context, id string) (webhooks.WebhookDelivery, error) {
	if !validID(id) {
		return webhooks.WebhookDelivery{}, webhooks.ErrDeliveryNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		return webhooks.WebhookDelivery{}, notFoundWrap(err, webhooks.ErrDeliveryNotFound, "get webhook delivery %s", id)
	}
	return d, nil
}

func (s *Store) CountByStatus(ctx context.Context, webhookID string) (map[webhooks.DeliveryStatus]int, error) {
	counts := map[webhooks.DeliveryStatus]int{}
	if !validID(webhookID) {
		return counts, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM webhook_deliveries
		WHERE webhook_id = $1
		GROUP BY status`, webhookID)
	if err != nil {
		return nil, fmt.Errorf("count webhook deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		counts[webhooks.DeliveryStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) ListByWebhook(ctx context.Context, webhookID string, status webhooks.DeliveryStatus, limit int) ([]webhooks.WebhookDelivery, error) {
	out := []webhooks.WebhookDelivery{}
	if !validID(webhookID) {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, webhookID, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
