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

package docuflow

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jarcoal/httpmock"

	"github.com/docuflowhq/docuflow/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var webhookTestColumns = []string{
	"webhook_id", "tenant_id", "user_id", "name", "url", "secret_key", "events", "active", "headers",
	"retry_count", "timeout_seconds", "total_deliveries", "successful_deliveries", "failed_deliveries",
	"last_triggered_at", "created_at", "updated_at",
}

var webhookEventTestColumns = []string{
	"event_id", "webhook_id", "event_type", "status", "payload", "attempt_count", "next_retry_at",
	"response_code", "response_body", "response_time_ms", "error_message", "delivered_at", "created_at",
}

func webhookRow(webhook *model.Webhook) *sqlmock.Rows {
	return sqlmock.NewRows(webhookTestColumns).AddRow(
		webhook.WebhookID, webhook.TenantID, webhook.UserID, webhook.Name, webhook.URL, webhook.SecretKey,
		[]byte("{"+strings.Join(webhook.Events, ",")+"}"), webhook.Active, []byte(`{}`),
		webhook.RetryCount, webhook.TimeoutSeconds, webhook.TotalDeliveries, webhook.SuccessfulDeliveries,
		webhook.FailedDeliveries, nil, webhook.CreatedAt, webhook.UpdatedAt,
	)
}

func webhookEventRow(event *model.WebhookEvent, payloadJSON string) *sqlmock.Rows {
	return sqlmock.NewRows(webhookEventTestColumns).AddRow(
		event.EventID, event.WebhookID, event.EventType, event.Status, []byte(payloadJSON),
		event.AttemptCount, nil, nil, nil, nil, nil, nil, event.CreatedAt,
	)
}

func testWebhook() *model.Webhook {
	return &model.Webhook{
		WebhookID:      "whk_" + gofakeit.UUID(),
		TenantID:       gofakeit.UUID(),
		Name:           "Billing integration",
		URL:            "https://hooks.example.com/docuflow",
		SecretKey:      "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Events:         []string{model.EventDocumentProcessed},
		Active:         true,
		RetryCount:     3,
		TimeoutSeconds: 30,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func TestCreateWebhook(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	mock.ExpectExec("INSERT INTO webhooks").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	webhook := &model.Webhook{
		TenantID:   gofakeit.UUID(),
		Name:       "Billing integration",
		URL:        "https://hooks.example.com/docuflow",
		Events:     []string{model.EventDocumentProcessed, model.EventExtractionFailed},
		RetryCount: model.DefaultWebhookRetries,
	}

	result, err := d.CreateWebhook(context.Background(), webhook)

	assert.NoError(t, err)
	assert.Contains(t, result.WebhookID, "whk_")
	assert.Len(t, result.SecretKey, 64)
	assert.True(t, result.Active)
	assert.Equal(t, model.DefaultWebhookRetries, result.RetryCount)
	assert.Equal(t, model.DefaultWebhookTimeout, result.TimeoutSeconds)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateWebhookZeroRetriesHonored(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	mock.ExpectExec("INSERT INTO webhooks").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := d.CreateWebhook(context.Background(), &model.Webhook{
		TenantID:   gofakeit.UUID(),
		Name:       "Audit mirror",
		URL:        "https://hooks.example.com/audit",
		Events:     []string{model.EventDocumentApproved},
		RetryCount: 0,
	})

	assert.NoError(t, err)
	assert.Equal(t, 0, result.RetryCount)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateWebhookValidation(t *testing.T) {
	d, _, _ := newTestDocuflow(t)

	tests := []struct {
		name    string
		webhook *model.Webhook
		wantErr string
	}{
		{
			name:    "missing tenant",
			webhook: &model.Webhook{URL: "https://hooks.example.com", Events: []string{model.EventDocumentCreated}},
			wantErr: "Tenant ID is required",
		},
		{
			name:    "missing url",
			webhook: &model.Webhook{TenantID: "tnt_1", Events: []string{model.EventDocumentCreated}},
			wantErr: "Webhook URL is required",
		},
		{
			name:    "bad scheme",
			webhook: &model.Webhook{TenantID: "tnt_1", URL: "ftp://hooks.example.com", Events: []string{model.EventDocumentCreated}},
			wantErr: "must be http or https",
		},
		{
			name:    "no events",
			webhook: &model.Webhook{TenantID: "tnt_1", URL: "https://hooks.example.com"},
			wantErr: "At least one event subscription is required",
		},
		{
			name:    "unknown event",
			webhook: &model.Webhook{TenantID: "tnt_1", URL: "https://hooks.example.com", Events: []string{"document.melted"}},
			wantErr: "Unknown webhook event",
		},
		{
			name: "retry count out of range",
			webhook: &model.Webhook{TenantID: "tnt_1", URL: "https://hooks.example.com",
				Events: []string{model.EventDocumentCreated}, RetryCount: 11},
			wantErr: "Retry count must be between",
		},
		{
			name: "timeout out of range",
			webhook: &model.Webhook{TenantID: "tnt_1", URL: "https://hooks.example.com",
				Events: []string{model.EventDocumentCreated}, TimeoutSeconds: 3},
			wantErr: "Timeout must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateWebhook(context.Background(), tt.webhook)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTriggerWebhooksUnknownEvent(t *testing.T) {
	d, _, _ := newTestDocuflow(t)

	err := d.TriggerWebhooks(context.Background(), gofakeit.UUID(), "document.melted", nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown webhook event")
}

func TestProcessWebhookDeliverySuccess(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	webhook := testWebhook()
	event := &model.WebhookEvent{
		EventID:   "whe_" + gofakeit.UUID(),
		WebhookID: webhook.WebhookID,
		EventType: model.EventDocumentProcessed,
		Status:    model.EventStatusDelivering,
		Payload:   map[string]interface{}{"event": model.EventDocumentProcessed},
		CreatedAt: time.Now(),
	}

	var gotSignature, gotEventType, gotDeliveryID string
	httpmock.RegisterResponder(http.MethodPost, webhook.URL,
		func(req *http.Request) (*http.Response, error) {
			gotSignature = req.Header.Get("X-Webhook-Signature")
			gotEventType = req.Header.Get("X-Webhook-Event")
			gotDeliveryID = req.Header.Get("X-Webhook-ID")
			return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
		})

	mock.ExpectQuery("SELECT .* FROM webhooks WHERE webhook_id").
		WithArgs(webhook.WebhookID).
		WillReturnRows(webhookRow(webhook))
	mock.ExpectQuery("UPDATE webhook_events").
		WithArgs(event.EventID, webhook.RetryCount).
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(1))
	mock.ExpectQuery("SELECT .* FROM webhook_events WHERE event_id").
		WithArgs(event.EventID).
		WillReturnRows(webhookEventRow(event, `{"event":"document.processed"}`))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhooks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := d.ProcessWebhookDelivery(context.Background(), event.EventID, webhook.WebhookID)

	require.NoError(t, err)
	assert.Equal(t, model.EventDocumentProcessed, gotEventType)
	// Receivers dedupe per delivery event, not per subscription.
	assert.Equal(t, event.EventID, gotDeliveryID)
	assert.NotEmpty(t, gotSignature)
	// The signature must verify against the stored payload.
	assert.True(t, webhook.VerifySignature(map[string]interface{}{"event": "document.processed"}, gotSignature))

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessWebhookDeliveryFailureSchedulesRetry(t *testing.T) {
	d, mock, mr := newTestDocuflow(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	webhook := testWebhook()
	event := &model.WebhookEvent{
		EventID:   "whe_" + gofakeit.UUID(),
		WebhookID: webhook.WebhookID,
		EventType: model.EventDocumentProcessed,
		Status:    model.EventStatusDelivering,
		CreatedAt: time.Now(),
	}

	httpmock.RegisterResponder(http.MethodPost, webhook.URL,
		httpmock.NewStringResponder(http.StatusInternalServerError, "upstream broke"))

	mock.ExpectQuery("SELECT .* FROM webhooks WHERE webhook_id").
		WillReturnRows(webhookRow(webhook))
	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(1))
	mock.ExpectQuery("SELECT .* FROM webhook_events WHERE event_id").
		WillReturnRows(webhookEventRow(event, `{"event":"document.processed"}`))
	mock.ExpectExec("UPDATE webhook_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE webhooks").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := d.ProcessWebhookDelivery(context.Background(), event.EventID, webhook.WebhookID)

	assert.NoError(t, err)
	// Attempt 1 of 3 failed, so the retry task must be on the queue.
	assert.NotEmpty(t, mr.Keys())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestProcessWebhookDeliveryNotClaimed(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	webhook := testWebhook()

	mock.ExpectQuery("SELECT .* FROM webhooks WHERE webhook_id").
		WillReturnRows(webhookRow(webhook))
	// Already delivered or out of attempts; the claim matches no row.
	mock.ExpectQuery("UPDATE webhook_events").
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}))

	err := d.ProcessWebhookDelivery(context.Background(), "whe_"+gofakeit.UUID(), webhook.WebhookID)

	assert.NoError(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestDeliverTruncatesResponseBody(t *testing.T) {
	d, _, _ := newTestDocuflow(t)

	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	webhook := testWebhook()
	event := &model.WebhookEvent{
		EventID:   "whe_" + gofakeit.UUID(),
		WebhookID: webhook.WebhookID,
		EventType: model.EventDocumentProcessed,
		Payload:   map[string]interface{}{"event": model.EventDocumentProcessed},
	}

	httpmock.RegisterResponder(http.MethodPost, webhook.URL,
		httpmock.NewStringResponder(http.StatusOK, strings.Repeat("x", model.ResponseBodyLimit+500)))

	code, body, _, err := d.deliver(context.Background(), webhook, event)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body, model.ResponseBodyLimit)
}
