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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/internal/notification"
	"github.com/docuflowhq/docuflow/model"
)

// CreateDocument validates and persists a new document, applies the
// creation-time priority heuristic, and routes it into processing. A
// document without a template has nothing to extract and is completed
// immediately with empty data.
func (d *Docuflow) CreateDocument(ctx context.Context, document *model.Document, premiumOwner bool) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Creating document")
	defer span.End()

	if document.TenantID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Tenant ID is required", nil)
	}
	if document.Name == "" {
		document.Name = document.OriginalFilename
	}

	document.DocumentID = model.GenerateUUIDWithSuffix("doc")
	document.Status = model.StatusPending
	document.RetryCount = 0
	document.CreatedAt = time.Now()
	document.UpdatedAt = document.CreatedAt

	if !document.Priority.Valid() || document.PriorityReason == "" {
		priority, reason := model.DetectPriority(document.OriginalFilename, premiumOwner, document.IsBulkUpload())
		document.Priority = priority
		document.PriorityReason = reason
	}

	document, err := d.datasource.RecordDocument(ctx, document)
	if err != nil {
		return nil, err
	}

	d.recordActivity(ctx, document.TenantID, document.UserID, "created", model.TrackableDocument, document.DocumentID, map[string]interface{}{
		"priority": document.Priority.String(),
		"reason":   document.PriorityReason,
	})
	d.fireWebhooks(document.TenantID, model.EventDocumentCreated, document)

	if !document.HasTemplate() {
		return d.completeWithEmptyData(ctx, document)
	}

	if err := d.queue.Enqueue(ctx, document); err != nil {
		logrus.Errorf("failed to enqueue document %s: %v", document.DocumentID, err)
		notification.NotifyError(err)
	}

	return document, nil
}

// GetDocument retrieves a document by ID.
func (d *Docuflow) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	return d.datasource.GetDocument(ctx, id)
}

// GetAllDocuments lists a tenant's documents, newest first.
func (d *Docuflow) GetAllDocuments(ctx context.Context, tenantID string, limit, offset int) ([]*model.Document, error) {
	return d.datasource.GetAllDocuments(ctx, tenantID, limit, offset)
}

// StartProcessing claims a document for a processing cycle: it assigns
// the model for this attempt, stamps the start time, and recomputes the
// completion estimate. The claim is atomic; a second caller gets
// ErrConflict instead of a double claim.
func (d *Docuflow) StartProcessing(ctx context.Context, documentID string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Starting document processing")
	defer span.End()

	document, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	assignedModel := document.NextAssignedModel()
	startedAt := time.Now()

	fieldCount := 0
	if document.HasTemplate() {
		template, err := d.datasource.GetExtractionTemplate(ctx, document.TemplateID)
		if err == nil {
			fieldCount = len(template.Fields)
		}
	}
	estimatedAt := startedAt.Add(model.ProcessingTimeEstimate(document.FileSize, fieldCount))

	claimed, err := d.datasource.ClaimDocumentForProcessing(ctx, documentID, assignedModel, startedAt, estimatedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document '%s' is already being processed", documentID), nil)
	}

	document.Status = model.StatusProcessing
	document.AssignedModel = assignedModel
	document.ProcessingStartedAt = &startedAt
	document.EstimatedCompletionAt = &estimatedAt
	return document, nil
}

// CompleteDocument finishes a processing cycle with extracted data. The
// startedAt of the cycle being completed must match what is stored: a
// late completion from an attempt that was requeued as stale is discarded.
func (d *Docuflow) CompleteDocument(ctx context.Context, documentID string, startedAt time.Time, extracted map[string]interface{}) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Completing document processing")
	defer span.End()

	completedAt := time.Now()
	completed, err := d.datasource.CompleteDocumentProcessing(ctx, documentID, startedAt, completedAt, extracted)
	if err != nil {
		return nil, err
	}
	if !completed {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document '%s' is no longer in this processing cycle", documentID), nil)
	}

	document, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	d.fireStatusWebhooks(document)
	return document, nil
}

// FailDocument records a failed processing cycle. The retry count is
// incremented, and while the document still has retry budget its priority
// is escalated so the retry jumps the line.
func (d *Docuflow) FailDocument(ctx context.Context, documentID, errorMessage string) (*model.Document, error) {
	ctx, span := tracer.Start(ctx, "Failing document processing")
	defer span.End()

	document, err := d.datasource.FailDocumentProcessing(ctx, documentID, errorMessage, time.Now())
	if err != nil {
		return nil, err
	}

	if document.RetryCount < model.MaxDocumentRetries {
		escalated := document.Priority.Escalate()
		if escalated != document.Priority {
			if err := d.datasource.UpdateDocumentPriority(ctx, documentID, escalated, model.ReasonRetryFailure); err != nil {
				logrus.Errorf("failed to escalate priority for document %s: %v", documentID, err)
			} else {
				document.Priority = escalated
				document.PriorityReason = model.ReasonRetryFailure
			}
		}
	}

	d.fireStatusWebhooks(document)
	return document, nil
}

// MarkForReview flags a document for manual review.
func (d *Docuflow) MarkForReview(ctx context.Context, documentID, reason string) (*model.Document, error) {
	marked, err := d.datasource.MarkDocumentForReview(ctx, documentID, reason)
	if err != nil {
		return nil, err
	}
	if !marked {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document '%s' cannot be marked for review", documentID), nil)
	}

	document, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	d.recordActivity(ctx, document.TenantID, document.UserID, "flagged_for_review", model.TrackableDocument, documentID, map[string]interface{}{
		"reason": reason,
	})
	d.fireStatusWebhooks(document)
	return document, nil
}

// ApproveDocument moves a reviewed document to approved. Only documents
// in requires_review are eligible for manual approval; auto-approval on
// extraction runs through the worker path instead.
func (d *Docuflow) ApproveDocument(ctx context.Context, documentID, userID string) (*model.Document, error) {
	document, err := d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !document.RequiresReview() {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document '%s' is not awaiting review", documentID), nil)
	}

	approved, err := d.datasource.ApproveDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document '%s' is not awaiting review", documentID), nil)
	}

	document, err = d.datasource.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	d.recordActivity(ctx, document.TenantID, userID, "approved", model.TrackableDocument, documentID, nil)
	d.fireStatusWebhooks(document)
	return document, nil
}

// SetPriority changes a document's priority explicitly.
func (d *Docuflow) SetPriority(ctx context.Context, documentID string, priority model.Priority, reason string) error {
	if !priority.Valid() {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid priority level: %d", priority), nil)
	}
	if reason == "" {
		reason = model.ReasonManual
	}
	return d.datasource.UpdateDocumentPriority(ctx, documentID, priority, reason)
}

// completeWithEmptyData runs a degenerate processing cycle for documents
// with no template attached.
func (d *Docuflow) completeWithEmptyData(ctx context.Context, document *model.Document) (*model.Document, error) {
	startedAt := time.Now()
	claimed, err := d.datasource.ClaimDocumentForProcessing(ctx, document.DocumentID, document.NextAssignedModel(), startedAt, startedAt)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return document, nil
	}
	return d.CompleteDocument(ctx, document.DocumentID, startedAt, map[string]interface{}{})
}

// fireStatusWebhooks triggers the webhook events mapped to the document's
// current status.
func (d *Docuflow) fireStatusWebhooks(document *model.Document) {
	for _, event := range model.StatusEvents(document.Status) {
		d.fireWebhooks(document.TenantID, event, document)
	}
}

// fireWebhooks triggers subscribed webhooks in the background. Delivery
// is queue-backed; this never blocks a state transition, and enqueue
// failures are logged and notified rather than surfaced.
func (d *Docuflow) fireWebhooks(tenantID, event string, data interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.TriggerWebhooks(ctx, tenantID, event, map[string]interface{}{
			"event":     event,
			"timestamp": time.Now().Unix(),
			"data":      data,
		}); err != nil {
			logrus.Errorf("failed to trigger webhooks for %s: %v", event, err)
			notification.NotifyError(err)
		}
	}()
}

// recordActivity writes a tenant-visible audit record, best effort.
func (d *Docuflow) recordActivity(ctx context.Context, tenantID, userID, action, kind, trackableID string, metaData map[string]interface{}) {
	act := &model.Activity{
		ActivityID:    model.GenerateUUIDWithSuffix("act"),
		TenantID:      tenantID,
		UserID:        userID,
		Action:        action,
		TrackableKind: kind,
		TrackableID:   trackableID,
		MetaData:      metaData,
		CreatedAt:     time.Now(),
	}
	if err := d.datasource.RecordActivity(ctx, act); err != nil {
		logrus.Errorf("failed to record activity %s on %s: %v", action, trackableID, err)
	}
}
