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
	"time"

	"github.com/docuflowhq/docuflow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	document   // Interface for document-related operations
	template   // Interface for extraction-template operations
	extraction // Interface for extraction-result operations
	webhook    // Interface for webhook and webhook-event operations
	activity   // Interface for audit-log operations
	tenant     // Interface for tenant-settings lookups
}

// document defines methods for handling documents and their state machine.
type document interface {
	RecordDocument(ctx context.Context, doc *model.Document) (*model.Document, error)                                  // Persists a new document
	GetDocument(ctx context.Context, id string) (*model.Document, error)                                               // Retrieves a document by ID
	GetAllDocuments(ctx context.Context, tenantID string, limit, offset int) ([]*model.Document, error)                // Retrieves documents for a tenant
	UpdateDocumentPriority(ctx context.Context, id string, priority model.Priority, reason string) error               // Updates priority and reason
	ClaimDocumentForProcessing(ctx context.Context, id, assignedModel string, startedAt, estimatedAt time.Time) (bool, error)
	CompleteDocumentProcessing(ctx context.Context, id string, startedAt, completedAt time.Time, extracted map[string]interface{}) (bool, error)
	FailDocumentProcessing(ctx context.Context, id, errorMessage string, completedAt time.Time) (*model.Document, error)
	MarkDocumentForReview(ctx context.Context, id, reason string) (bool, error)
	ApproveDocument(ctx context.Context, id string) (bool, error)
	NextReadyDocument(ctx context.Context, tenantID string) (*model.Document, error)                // Highest priority ready document, FIFO within a band
	GetStaleProcessingDocuments(ctx context.Context, threshold time.Duration, limit int) ([]*model.Document, error)
	ResetStaleDocument(ctx context.Context, id, errorMessage string) (bool, error)                  // processing w/ stamp -> pending, idempotent
	GetRetryableFailedDocuments(ctx context.Context, failedSince time.Time, maxRetries, limit int) ([]*model.Document, error)
	RequeueFailedDocument(ctx context.Context, id string) (bool, error)                             // failed -> pending, retry_count untouched
	CountPendingDocuments(ctx context.Context, tenantID string) (int64, error)                     // pending + processing
	CountDocumentsByPriority(ctx context.Context, tenantID string) (map[string]int64, error)       // pending + processing, keyed by level name
	CountDocumentsByStatus(ctx context.Context, tenantID string) (map[string]int64, error)
	AveragePendingWaitSeconds(ctx context.Context, tenantID string) (float64, error)
	CountProcessedSince(ctx context.Context, tenantID string, since time.Time) (int64, error)
}

// template defines methods for handling extraction templates.
type template interface {
	CreateExtractionTemplate(ctx context.Context, tpl *model.ExtractionTemplate) (*model.ExtractionTemplate, error)
	GetExtractionTemplate(ctx context.Context, id string) (*model.ExtractionTemplate, error)
	GetTemplatesForTenant(ctx context.Context, tenantID string) ([]*model.ExtractionTemplate, error)
}

// tenant defines methods for tenant-level configuration.
type tenant interface {
	GetTenantSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error) // nil when the tenant has no settings row
}

// extraction defines methods for handling append-only extraction results.
type extraction interface {
	RecordExtractionResult(ctx context.Context, result *model.ExtractionResult) (*model.ExtractionResult, error)
	GetExtractionResults(ctx context.Context, documentID string) ([]*model.ExtractionResult, error)
}

// webhook defines methods for webhook subscriptions and delivery records.
type webhook interface {
	CreateWebhook(ctx context.Context, wh *model.Webhook) (*model.Webhook, error)
	GetWebhook(ctx context.Context, id string) (*model.Webhook, error)
	GetWebhooksForTenant(ctx context.Context, tenantID string) ([]*model.Webhook, error)
	UpdateWebhook(ctx context.Context, wh *model.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	GetActiveWebhooksForEvent(ctx context.Context, tenantID, event string) ([]*model.Webhook, error)
	TouchWebhookLastTriggered(ctx context.Context, id string, at time.Time) error
	IncrementWebhookDeliveryCount(ctx context.Context, id string, success bool) error

	CreateWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, error)
	GetWebhookEvent(ctx context.Context, id string) (*model.WebhookEvent, error)
	BeginWebhookEventDelivery(ctx context.Context, id string, maxAttempts int) (int, bool, error) // -> new attempt count, claimed
	MarkWebhookEventDelivered(ctx context.Context, id string, responseCode int, responseBody string, responseTimeMS int64, deliveredAt time.Time) error
	MarkWebhookEventFailed(ctx context.Context, id, errorMessage string, responseCode int, nextRetryAt *time.Time) error
	GetWebhookEvents(ctx context.Context, webhookID string, filter WebhookEventFilter) ([]*model.WebhookEvent, error)
}

// activity defines methods for the tenant-visible audit log.
type activity interface {
	RecordActivity(ctx context.Context, act *model.Activity) error
	GetActivitiesForTenant(ctx context.Context, tenantID string, limit, offset int) ([]*model.Activity, error)
}

// WebhookEventFilter narrows webhook-event history queries.
type WebhookEventFilter struct {
	Status    string
	EventType string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
