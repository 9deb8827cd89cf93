/*
Copyright 2024 DocuFlow Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/model"
)

const webhookColumns = `webhook_id, tenant_id, user_id, name, url, secret_key, events, active, headers,
	retry_count, timeout_seconds, total_deliveries, successful_deliveries, failed_deliveries,
	last_triggered_at, created_at, updated_at`

func (d Datasource) CreateWebhook(ctx context.Context, webhook *model.Webhook) (*model.Webhook, error) {
	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal webhook headers", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO webhooks(webhook_id,tenant_id,user_id,name,url,secret_key,events,active,headers,retry_count,timeout_seconds,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, webhook.WebhookID, webhook.TenantID, webhook.UserID, webhook.Name, webhook.URL, webhook.SecretKey,
		pq.Array(webhook.Events), webhook.Active, headersJSON, webhook.RetryCount, webhook.TimeoutSeconds,
		webhook.CreatedAt, webhook.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create webhook", err)
	}

	return webhook, nil
}

func (d Datasource) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhooks WHERE webhook_id = $1
	`, webhookColumns), id)

	webhook, err := scanWebhook(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook", err)
	}
	return webhook, nil
}

func (d Datasource) GetWebhooksForTenant(ctx context.Context, tenantID string) ([]*model.Webhook, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhooks WHERE tenant_id = $1 ORDER BY created_at DESC
	`, webhookColumns), tenantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhooks", err)
	}
	defer func() { _ = rows.Close() }()

	return scanWebhooks(rows)
}

func (d Datasource) UpdateWebhook(ctx context.Context, webhook *model.Webhook) error {
	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal webhook headers", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhooks
		SET name = $2, url = $3, events = $4, active = $5, headers = $6, retry_count = $7,
			timeout_seconds = $8, updated_at = NOW()
		WHERE webhook_id = $1
	`, webhook.WebhookID, webhook.Name, webhook.URL, pq.Array(webhook.Events), webhook.Active,
		headersJSON, webhook.RetryCount, webhook.TimeoutSeconds)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook with ID '%s' not found", webhook.WebhookID), nil)
	}
	return nil
}

func (d Datasource) DeleteWebhook(ctx context.Context, id string) error {
	result, err := d.Conn.ExecContext(ctx, `DELETE FROM webhooks WHERE webhook_id = $1`, id)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to delete webhook", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check delete result", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook with ID '%s' not found", id), nil)
	}
	return nil
}

func (d Datasource) GetActiveWebhooksForEvent(ctx context.Context, tenantID, event string) ([]*model.Webhook, error) {
	ctx, span := otel.Tracer("webhook.database").Start(ctx, "Matching active webhooks for event")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhooks
		WHERE tenant_id = $1 AND active = true AND $2 = ANY(events)
		ORDER BY created_at ASC
	`, webhookColumns), tenantID, event)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to match webhooks for event", err)
	}
	defer func() { _ = rows.Close() }()

	return scanWebhooks(rows)
}

func (d Datasource) TouchWebhookLastTriggered(ctx context.Context, id string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE webhooks SET last_triggered_at = $2, updated_at = NOW() WHERE webhook_id = $1
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to touch webhook", err)
	}
	return nil
}

func (d Datasource) IncrementWebhookDeliveryCount(ctx context.Context, id string, success bool) error {
	successIncrement := 0
	failureIncrement := 1
	if success {
		successIncrement = 1
		failureIncrement = 0
	}

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE webhooks
		SET total_deliveries = total_deliveries + 1,
			successful_deliveries = successful_deliveries + $2,
			failed_deliveries = failed_deliveries + $3,
			updated_at = NOW()
		WHERE webhook_id = $1
	`, id, successIncrement, failureIncrement)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update webhook delivery counters", err)
	}
	return nil
}

const webhookEventColumns = `event_id, webhook_id, event_type, status, payload, attempt_count, next_retry_at,
	response_code, response_body, response_time_ms, error_message, delivered_at, created_at`

func (d Datasource) CreateWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, error) {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal event payload", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO webhook_events(event_id,webhook_id,event_type,status,payload,attempt_count,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, event.EventID, event.WebhookID, event.EventType, event.Status, payloadJSON, event.AttemptCount, event.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create webhook event", err)
	}

	return event, nil
}

func (d Datasource) GetWebhookEvent(ctx context.Context, id string) (*model.WebhookEvent, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM webhook_events WHERE event_id = $1
	`, webhookEventColumns), id)

	event, err := scanWebhookEvent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook event with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook event", err)
	}
	return event, nil
}

// BeginWebhookEventDelivery moves an eligible event into delivering and
// charges one attempt, atomically. The returned attempt count is the
// number of the attempt that was just started; claimed=false means the
// event was already delivering, already delivered, or out of attempts.
func (d Datasource) BeginWebhookEventDelivery(ctx context.Context, id string, maxAttempts int) (int, bool, error) {
	ctx, span := otel.Tracer("webhook.database").Start(ctx, "Claiming webhook event for delivery")
	defer span.End()

	var attemptCount int
	err := d.Conn.QueryRowContext(ctx, `
		UPDATE webhook_events
		SET status = 'delivering', attempt_count = attempt_count + 1
		WHERE event_id = $1 AND status IN ('pending', 'failed') AND attempt_count < $2
		RETURNING attempt_count
	`, id, maxAttempts).Scan(&attemptCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim webhook event", err)
	}
	return attemptCount, true, nil
}

func (d Datasource) MarkWebhookEventDelivered(ctx context.Context, id string, responseCode int, responseBody string, responseTimeMS int64, deliveredAt time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'delivered', response_code = $2, response_body = $3, response_time_ms = $4,
			delivered_at = $5, error_message = '', next_retry_at = NULL
		WHERE event_id = $1 AND status = 'delivering'
	`, id, responseCode, model.TruncateResponseBody(responseBody), responseTimeMS, deliveredAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark webhook event delivered", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check delivery result", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' is not delivering", id), nil)
	}
	return nil
}

func (d Datasource) MarkWebhookEventFailed(ctx context.Context, id, errorMessage string, responseCode int, nextRetryAt *time.Time) error {
	var retryAt sql.NullTime
	if nextRetryAt != nil {
		retryAt = sql.NullTime{Time: *nextRetryAt, Valid: true}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE webhook_events
		SET status = 'failed', error_message = $2, response_code = $3, next_retry_at = $4
		WHERE event_id = $1 AND status = 'delivering'
	`, id, errorMessage, responseCode, retryAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark webhook event failed", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check failure result", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' is not delivering", id), nil)
	}
	return nil
}

func (d Datasource) GetWebhookEvents(ctx context.Context, webhookID string, filter WebhookEventFilter) ([]*model.WebhookEvent, error) {
	query := fmt.Sprintf(`SELECT %s FROM webhook_events WHERE webhook_id = $1`, webhookEventColumns)
	args := []interface{}{webhookID}

	var conditions []string
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := d.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*model.WebhookEvent
	for rows.Next() {
		event, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook event", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanWebhook(row rowScanner) (*model.Webhook, error) {
	webhook := &model.Webhook{}
	var events pq.StringArray
	var headersJSON []byte
	var lastTriggeredAt sql.NullTime

	err := row.Scan(&webhook.WebhookID, &webhook.TenantID, &webhook.UserID, &webhook.Name, &webhook.URL,
		&webhook.SecretKey, &events, &webhook.Active, &headersJSON, &webhook.RetryCount, &webhook.TimeoutSeconds,
		&webhook.TotalDeliveries, &webhook.SuccessfulDeliveries, &webhook.FailedDeliveries,
		&lastTriggeredAt, &webhook.CreatedAt, &webhook.UpdatedAt)
	if err != nil {
		return nil, err
	}

	webhook.Events = events
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &webhook.Headers); err != nil {
			return nil, err
		}
	}
	if lastTriggeredAt.Valid {
		webhook.LastTriggeredAt = &lastTriggeredAt.Time
	}
	return webhook, nil
}

func scanWebhooks(rows *sql.Rows) ([]*model.Webhook, error) {
	var webhooks []*model.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan webhook", err)
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func scanWebhookEvent(row rowScanner) (*model.WebhookEvent, error) {
	event := &model.WebhookEvent{}
	var payloadJSON []byte
	var nextRetryAt, deliveredAt sql.NullTime
	var responseCode sql.NullInt64
	var responseBody, errorMessage sql.NullString
	var responseTimeMS sql.NullInt64

	err := row.Scan(&event.EventID, &event.WebhookID, &event.EventType, &event.Status, &payloadJSON,
		&event.AttemptCount, &nextRetryAt, &responseCode, &responseBody, &responseTimeMS,
		&errorMessage, &deliveredAt, &event.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &event.Payload); err != nil {
			return nil, err
		}
	}
	if nextRetryAt.Valid {
		event.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		event.DeliveredAt = &deliveredAt.Time
	}
	event.ResponseCode = int(responseCode.Int64)
	event.ResponseBody = responseBody.String
	event.ResponseTimeMS = responseTimeMS.Int64
	event.ErrorMessage = errorMessage.String
	return event, nil
}
