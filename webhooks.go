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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuflowhq/docuflow/database"
	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/internal/request"
	"github.com/docuflowhq/docuflow/model"
)

// CreateWebhook validates and persists a new webhook subscription. The
// signing secret is generated here, exactly once.
func (d *Docuflow) CreateWebhook(ctx context.Context, webhook *model.Webhook) (*model.Webhook, error) {
	if err := validateWebhook(webhook); err != nil {
		return nil, err
	}

	secret, err := model.GenerateSecretKey()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to generate webhook secret", err)
	}

	webhook.WebhookID = model.GenerateUUIDWithSuffix("whk")
	webhook.SecretKey = secret
	webhook.Active = true
	webhook.CreatedAt = time.Now()
	webhook.UpdatedAt = webhook.CreatedAt
	// A zero retry count is a valid configuration and stays untouched;
	// the API layer fills in the default when the field was omitted.
	if webhook.TimeoutSeconds == 0 {
		webhook.TimeoutSeconds = model.DefaultWebhookTimeout
	}

	webhook, err = d.datasource.CreateWebhook(ctx, webhook)
	if err != nil {
		return nil, err
	}

	d.recordActivity(ctx, webhook.TenantID, webhook.UserID, "created", model.TrackableWebhook, webhook.WebhookID, map[string]interface{}{
		"url":    webhook.RedactedURL(),
		"events": webhook.Events,
	})
	return webhook, nil
}

// GetWebhook retrieves a webhook by ID.
func (d *Docuflow) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	return d.datasource.GetWebhook(ctx, id)
}

// GetWebhooks lists a tenant's webhooks.
func (d *Docuflow) GetWebhooks(ctx context.Context, tenantID string) ([]*model.Webhook, error) {
	return d.datasource.GetWebhooksForTenant(ctx, tenantID)
}

// UpdateWebhook applies changes to a webhook subscription. The secret is
// never regenerated on update.
func (d *Docuflow) UpdateWebhook(ctx context.Context, webhook *model.Webhook) error {
	if err := validateWebhook(webhook); err != nil {
		return err
	}
	return d.datasource.UpdateWebhook(ctx, webhook)
}

// DeleteWebhook removes a webhook subscription.
func (d *Docuflow) DeleteWebhook(ctx context.Context, tenantID, userID, id string) error {
	webhook, err := d.datasource.GetWebhook(ctx, id)
	if err != nil {
		return err
	}
	if err := d.datasource.DeleteWebhook(ctx, id); err != nil {
		return err
	}
	d.recordActivity(ctx, tenantID, userID, "deleted", model.TrackableWebhook, id, map[string]interface{}{
		"url": webhook.RedactedURL(),
	})
	return nil
}

// GetWebhookEvents lists a webhook's delivery history with optional
// status, event-type and date-range filters.
func (d *Docuflow) GetWebhookEvents(ctx context.Context, webhookID string, filter database.WebhookEventFilter) ([]*model.WebhookEvent, error) {
	return d.datasource.GetWebhookEvents(ctx, webhookID, filter)
}

// TestWebhook fires a synthetic event at a single webhook regardless of
// its subscriptions, so an integrator can verify the endpoint end to end.
func (d *Docuflow) TestWebhook(ctx context.Context, webhookID string) (*model.WebhookEvent, error) {
	webhook, err := d.datasource.GetWebhook(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	event, err := d.createDeliveryEvent(ctx, webhook, "webhook.test", map[string]interface{}{
		"event":     "webhook.test",
		"timestamp": time.Now().Unix(),
		"data":      map[string]interface{}{"message": "This is a test delivery"},
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// TriggerWebhooks fires an event at every active webhook of the tenant
// subscribed to it. Each firing gets its own event row and delivery task;
// one bad subscriber never blocks the others.
func (d *Docuflow) TriggerWebhooks(ctx context.Context, tenantID, event string, payload map[string]interface{}) error {
	ctx, span := tracer.Start(ctx, "Triggering webhooks")
	defer span.End()

	if !model.ValidEvent(event) {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown webhook event: %s", event), nil)
	}

	webhooks, err := d.datasource.GetActiveWebhooksForEvent(ctx, tenantID, event)
	if err != nil {
		return err
	}

	for _, webhook := range webhooks {
		if _, err := d.createDeliveryEvent(ctx, webhook, event, payload); err != nil {
			logrus.Errorf("failed to create webhook event for %s: %v", webhook.WebhookID, err)
		}
	}
	return nil
}

func (d *Docuflow) createDeliveryEvent(ctx context.Context, webhook *model.Webhook, event string, payload map[string]interface{}) (*model.WebhookEvent, error) {
	webhookEvent := &model.WebhookEvent{
		EventID:   model.GenerateUUIDWithSuffix("whe"),
		WebhookID: webhook.WebhookID,
		EventType: event,
		Status:    model.EventStatusPending,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	webhookEvent, err := d.datasource.CreateWebhookEvent(ctx, webhookEvent)
	if err != nil {
		return nil, err
	}

	if err := d.queue.EnqueueWebhookDelivery(ctx, webhookEvent.EventID, webhook.WebhookID, 0); err != nil {
		return nil, err
	}

	if err := d.datasource.TouchWebhookLastTriggered(ctx, webhook.WebhookID, time.Now()); err != nil {
		logrus.Errorf("failed to touch webhook %s: %v", webhook.WebhookID, err)
	}
	return webhookEvent, nil
}

// ProcessWebhookDelivery executes one delivery attempt for an event. The
// event is atomically moved to delivering with its attempt charged; a
// delivery that cannot be claimed (already delivered, mid-flight
// elsewhere, or out of attempts) is acknowledged without effect. A failed
// attempt with budget left schedules the next one on the queue with
// exponential backoff.
func (d *Docuflow) ProcessWebhookDelivery(ctx context.Context, eventID, webhookID string) error {
	ctx, span := tracer.Start(ctx, "Delivering webhook event")
	defer span.End()

	webhook, err := d.datasource.GetWebhook(ctx, webhookID)
	if err != nil {
		return err
	}

	attemptCount, claimed, err := d.datasource.BeginWebhookEventDelivery(ctx, eventID, webhook.RetryCount)
	if err != nil {
		return err
	}
	if !claimed {
		logrus.Infof("skipping webhook event %s: not deliverable", eventID)
		return nil
	}

	event, err := d.datasource.GetWebhookEvent(ctx, eventID)
	if err != nil {
		return err
	}

	responseCode, responseBody, responseTime, deliveryErr := d.deliver(ctx, webhook, event)

	if deliveryErr == nil {
		if err := d.datasource.MarkWebhookEventDelivered(ctx, eventID, responseCode, responseBody, responseTime.Milliseconds(), time.Now()); err != nil {
			return err
		}
		if err := d.datasource.IncrementWebhookDeliveryCount(ctx, webhookID, true); err != nil {
			logrus.Errorf("failed to update delivery counters for %s: %v", webhookID, err)
		}
		d.recordDeliveryActivity(ctx, webhook, event, attemptCount, "delivered", responseCode)
		return nil
	}

	var nextRetryAt *time.Time
	event.AttemptCount = attemptCount
	if attemptCount < webhook.RetryCount {
		retryAt := time.Now().Add(event.RetryDelay())
		nextRetryAt = &retryAt
	}

	if err := d.datasource.MarkWebhookEventFailed(ctx, eventID, deliveryErr.Error(), responseCode, nextRetryAt); err != nil {
		return err
	}
	if err := d.datasource.IncrementWebhookDeliveryCount(ctx, webhookID, false); err != nil {
		logrus.Errorf("failed to update delivery counters for %s: %v", webhookID, err)
	}
	d.recordDeliveryActivity(ctx, webhook, event, attemptCount, "failed", responseCode)

	if nextRetryAt != nil {
		if err := d.queue.EnqueueWebhookDelivery(ctx, eventID, webhookID, time.Until(*nextRetryAt)); err != nil {
			logrus.Errorf("failed to schedule webhook retry for %s: %v", eventID, err)
			return err
		}
	}

	logrus.Warnf("webhook delivery failed for %s (attempt %d/%d): %v", webhook.RedactedURL(), attemptCount, webhook.RetryCount, deliveryErr)
	return nil
}

// deliver performs the signed HTTP POST for a webhook event under the
// webhook's configured timeout.
func (d *Docuflow) deliver(ctx context.Context, webhook *model.Webhook, event *model.WebhookEvent) (int, string, time.Duration, error) {
	signature, err := webhook.SignPayload(event.Payload)
	if err != nil {
		return 0, "", 0, err
	}

	body, err := request.ToJsonReq(event.Payload)
	if err != nil {
		return 0, "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, body)
	if err != nil {
		return 0, "", 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.EventType)
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Webhook-ID", event.EventID)
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{Timeout: time.Duration(webhook.TimeoutSeconds) * time.Second}

	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return 0, "", elapsed, fmt.Errorf("delivery timed out after %ds", webhook.TimeoutSeconds)
		}
		return 0, "", elapsed, err
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, model.ResponseBodyLimit+1))
	if readErr != nil {
		bodyBytes = nil
	}
	responseBody := model.TruncateResponseBody(string(bodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, responseBody, elapsed, fmt.Errorf("endpoint responded with status %d", resp.StatusCode)
	}
	return resp.StatusCode, responseBody, elapsed, nil
}

func (d *Docuflow) recordDeliveryActivity(ctx context.Context, webhook *model.Webhook, event *model.WebhookEvent, attempt int, outcome string, responseCode int) {
	d.recordActivity(ctx, webhook.TenantID, "", "delivery_"+outcome, model.TrackableWebhook, webhook.WebhookID, map[string]interface{}{
		"event_id":      event.EventID,
		"event_type":    event.EventType,
		"attempt":       attempt,
		"url":           webhook.RedactedURL(),
		"response_code": responseCode,
	})
}

func validateWebhook(webhook *model.Webhook) error {
	if webhook.TenantID == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Tenant ID is required", nil)
	}
	if webhook.URL == "" {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Webhook URL is required", nil)
	}
	parsed, err := url.Parse(webhook.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "Webhook URL must be http or https", nil)
	}
	if len(webhook.Events) == 0 {
		return apierror.NewAPIError(apierror.ErrInvalidInput, "At least one event subscription is required", nil)
	}
	for _, event := range webhook.Events {
		if !model.ValidEvent(event) {
			return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Unknown webhook event: %s", event), nil)
		}
	}
	if webhook.RetryCount < model.MinWebhookRetries || webhook.RetryCount > model.MaxWebhookRetries {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Retry count must be between %d and %d", model.MinWebhookRetries, model.MaxWebhookRetries), nil)
	}
	if webhook.TimeoutSeconds != 0 && (webhook.TimeoutSeconds < model.MinWebhookTimeout || webhook.TimeoutSeconds > model.MaxWebhookTimeout) {
		return apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("Timeout must be between %d and %d seconds", model.MinWebhookTimeout, model.MaxWebhookTimeout), nil)
	}
	return nil
}
