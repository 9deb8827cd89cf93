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

package model

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Webhook event names. Subscriptions are validated against this fixed
// allow-list.
const (
	EventDocumentCreated     = "document.created"
	EventDocumentProcessed   = "document.processed"
	EventDocumentApproved    = "document.approved"
	EventDocumentRejected    = "document.rejected"
	EventExtractionCompleted = "extraction.completed"
	EventExtractionFailed    = "extraction.failed"
	EventExtractionReviewed  = "extraction.reviewed"
	EventTemplateCreated     = "template.created"
	EventTemplateUpdated     = "template.updated"
	EventUserInvited         = "user.invited"
	EventUserJoined          = "user.joined"
)

// AvailableEvents is the fixed allow-list of subscribable event names.
var AvailableEvents = []string{
	EventDocumentCreated,
	EventDocumentProcessed,
	EventDocumentApproved,
	EventDocumentRejected,
	EventExtractionCompleted,
	EventExtractionFailed,
	EventExtractionReviewed,
	EventTemplateCreated,
	EventTemplateUpdated,
	EventUserInvited,
	EventUserJoined,
}

// ValidEvent reports whether event is in the allow-list.
func ValidEvent(event string) bool {
	for _, e := range AvailableEvents {
		if e == event {
			return true
		}
	}
	return false
}

// Webhook delivery bounds.
const (
	MinWebhookRetries = 0
	MaxWebhookRetries = 10
	MinWebhookTimeout = 5
	MaxWebhookTimeout = 300

	DefaultWebhookRetries = 3
	DefaultWebhookTimeout = 30
)

// Webhook event statuses. Transitions per attempt are monotonic:
// pending -> delivering -> delivered|failed, with failed flipping back to
// pending only when a retry is scheduled.
const (
	EventStatusPending    = "pending"
	EventStatusDelivering = "delivering"
	EventStatusDelivered  = "delivered"
	EventStatusFailed     = "failed"
)

// ResponseBodyLimit caps how much of a delivery response body is stored.
const ResponseBodyLimit = 10 * 1024

// Webhook is a tenant-owned subscription to a set of events.
type Webhook struct {
	ID                   int64             `json:"-"`
	WebhookID            string            `json:"id"`
	TenantID             string            `json:"tenant_id"`
	UserID               string            `json:"user_id"`
	Name                 string            `json:"name"`
	URL                  string            `json:"url"`
	SecretKey            string            `json:"-"`
	Events               []string          `json:"events"`
	Active               bool              `json:"active"`
	Headers              map[string]string `json:"headers,omitempty"`
	RetryCount           int               `json:"retry_count"`
	TimeoutSeconds       int               `json:"timeout_seconds"`
	TotalDeliveries      int64             `json:"total_deliveries"`
	SuccessfulDeliveries int64             `json:"successful_deliveries"`
	FailedDeliveries     int64             `json:"failed_deliveries"`
	LastTriggeredAt      *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// GenerateSecretKey produces a hex-encoded 32-byte random secret. It is
// generated once at webhook creation and never regenerated implicitly.
func GenerateSecretKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SubscribedTo reports whether the webhook should fire for event.
func (w *Webhook) SubscribedTo(event string) bool {
	if !w.Active {
		return false
	}
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// SuccessRate returns the delivery success percentage, rounded to two
// decimal places.
func (w *Webhook) SuccessRate() float64 {
	if w.TotalDeliveries == 0 {
		return 0.0
	}
	rate := float64(w.SuccessfulDeliveries) / float64(w.TotalDeliveries) * 100
	return float64(int(rate*100+0.5)) / 100
}

// SignPayload computes the HMAC-SHA256 signature of the JSON-serialized
// payload, keyed by the webhook's secret, hex-encoded.
func (w *Webhook) SignPayload(payload interface{}) (string, error) {
	return SignPayload(payload, w.SecretKey)
}

// VerifySignature checks a signature against a freshly computed one using
// a constant-time comparison.
func (w *Webhook) VerifySignature(payload interface{}, signature string) bool {
	return VerifySignature(payload, signature, w.SecretKey)
}

// SignPayload computes the hex-encoded HMAC-SHA256 of the canonical JSON
// serialization of payload, keyed by secret.
func SignPayload(payload interface{}, secret string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload for signing: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the payload signature and compares it to the
// provided one in constant time.
func VerifySignature(payload interface{}, signature, secret string) bool {
	expected, err := SignPayload(payload, secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// RedactedURL returns the webhook target as scheme://host/path, stripping
// credentials and query parameters so the URL is safe to log.
func (w *Webhook) RedactedURL() string {
	u, err := url.Parse(w.URL)
	if err != nil {
		return w.URL
	}
	return fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
}

// WebhookEvent records one firing of a webhook and its delivery attempts.
type WebhookEvent struct {
	ID             int64                  `json:"-"`
	EventID        string                 `json:"id"`
	WebhookID      string                 `json:"webhook_id"`
	EventType      string                 `json:"event_type"`
	Status         string                 `json:"status"`
	Payload        map[string]interface{} `json:"payload"`
	AttemptCount   int                    `json:"attempt_count"`
	NextRetryAt    *time.Time             `json:"next_retry_at,omitempty"`
	ResponseCode   int                    `json:"response_code,omitempty"`
	ResponseBody   string                 `json:"response_body,omitempty"`
	ResponseTimeMS int64                  `json:"response_time_ms,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// CanDeliver reports whether the event is eligible for a delivery
// attempt: pending or failed, with attempts remaining under the owning
// webhook's configured bound.
func (e *WebhookEvent) CanDeliver(w *Webhook) bool {
	if e.Status != EventStatusPending && e.Status != EventStatusFailed {
		return false
	}
	return e.AttemptCount < w.RetryCount
}

// ShouldRetry reports whether a failed event still has retry budget.
func (e *WebhookEvent) ShouldRetry(w *Webhook) bool {
	return e.Status == EventStatusFailed && e.AttemptCount < w.RetryCount
}

// RetryDelay returns the exponential backoff delay before the next
// attempt: 30s, 60s, 120s, ... doubling per attempt.
func (e *WebhookEvent) RetryDelay() time.Duration {
	attempts := e.AttemptCount
	if attempts < 1 {
		attempts = 1
	}
	return 30 * time.Second * time.Duration(1<<(attempts-1))
}

// TruncateResponseBody bounds a delivery response body for storage.
func TruncateResponseBody(body string) string {
	if len(body) <= ResponseBodyLimit {
		return body
	}
	return body[:ResponseBodyLimit]
}
