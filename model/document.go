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
	"encoding/json"
	"time"
)

// Document statuses. A document starts pending, is claimed into
// processing by exactly one worker, and terminates in approved (after
// review) or remains failed once its retry budget is spent.
const (
	StatusPending        = "pending"
	StatusProcessing     = "processing"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
	StatusRequiresReview = "requires_review"
	StatusApproved       = "approved"
)

// DocumentStatuses is the fixed set of valid document statuses.
var DocumentStatuses = []string{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusRequiresReview,
	StatusApproved,
}

// AI model tags assigned to documents by the rotation logic.
const (
	ModelGPT4Vision   = "gpt4_vision"
	ModelClaudeVision = "claude_vision"
	ModelGPT4Turbo    = "gpt4_turbo"
	ModelFallback     = "fallback"
)

// rotationModels is the fixed rotation order for retry-driven model
// switching. The fallback model is excluded from rotation and only forced
// after repeated failures.
var rotationModels = []string{ModelGPT4Vision, ModelClaudeVision, ModelGPT4Turbo}

// MaxDocumentRetries bounds how many times a failed document is
// re-scheduled before it is left failed permanently.
const MaxDocumentRetries = 3

// Document is one unit of extraction work, scoped to a tenant.
type Document struct {
	ID                    int64                  `json:"-"`
	DocumentID            string                 `json:"id"`
	TenantID              string                 `json:"tenant_id"`
	UserID                string                 `json:"user_id"`
	TemplateID            string                 `json:"extraction_template_id,omitempty"`
	Name                  string                 `json:"name"`
	OriginalFilename      string                 `json:"original_filename"`
	ContentType           string                 `json:"content_type"`
	FileSize              int64                  `json:"file_size"`
	FileURL               string                 `json:"file_url,omitempty"`
	Status                string                 `json:"status"`
	Priority              Priority               `json:"priority"`
	PriorityReason        string                 `json:"priority_reason,omitempty"`
	AssignedModel         string                 `json:"assigned_model,omitempty"`
	RetryCount            int                    `json:"retry_count"`
	ExtractedData         map[string]interface{} `json:"extracted_data,omitempty"`
	ErrorMessage          string                 `json:"error_message,omitempty"`
	LastError             string                 `json:"last_error,omitempty"`
	MetaData              map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
	ProcessingStartedAt   *time.Time             `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time             `json:"processing_completed_at,omitempty"`
	EstimatedCompletionAt *time.Time             `json:"estimated_completion_at,omitempty"`
}

func (d *Document) ToJSON() ([]byte, error) {
	return json.Marshal(d)
}

func (d *Document) IsPending() bool        { return d.Status == StatusPending }
func (d *Document) IsProcessing() bool     { return d.Status == StatusProcessing }
func (d *Document) IsCompleted() bool      { return d.Status == StatusCompleted }
func (d *Document) IsFailed() bool         { return d.Status == StatusFailed }
func (d *Document) RequiresReview() bool   { return d.Status == StatusRequiresReview }
func (d *Document) IsApproved() bool       { return d.Status == StatusApproved }
func (d *Document) HasTemplate() bool      { return d.TemplateID != "" }
func (d *Document) HasFile() bool          { return d.FileURL != "" }
func (d *Document) IsBulkUpload() bool {
	v, ok := d.MetaData["bulk_upload"].(bool)
	return ok && v
}

// ValidDocumentStatus reports whether status is in the fixed status set.
func ValidDocumentStatus(status string) bool {
	for _, s := range DocumentStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Overdue reports whether an in-flight document has blown past its
// advisory completion estimate.
func (d *Document) Overdue(now time.Time) bool {
	if d.EstimatedCompletionAt == nil {
		return false
	}
	return now.After(*d.EstimatedCompletionAt) && d.Status == StatusProcessing
}

// ProcessingTime returns how long processing took, or zero if the
// document has not completed a processing cycle.
func (d *Document) ProcessingTime() time.Duration {
	if d.ProcessingStartedAt == nil || d.ProcessingCompletedAt == nil {
		return 0
	}
	return d.ProcessingCompletedAt.Sub(*d.ProcessingStartedAt)
}

// NextAssignedModel computes the AI model tag for the document's next
// processing attempt. First attempts pick by priority; each retry advances
// through the fixed rotation (excluding the fallback model) so repeated
// failures never hit the identical model twice in a row; after more than
// two retries the fallback model is forced.
func (d *Document) NextAssignedModel() string {
	model := ModelClaudeVision
	switch d.Priority {
	case PriorityCritical, PriorityUrgent:
		model = ModelGPT4Vision
	case PriorityHigh:
		if d.RetryCount > 0 {
			model = ModelClaudeVision
		} else {
			model = ModelGPT4Vision
		}
	}

	if d.RetryCount > 0 {
		current := 0
		for i, m := range rotationModels {
			if m == d.AssignedModel {
				current = i
				break
			}
		}
		model = rotationModels[(current+1)%len(rotationModels)]
	}

	if d.RetryCount > MaxDocumentRetries-1 {
		model = ModelFallback
	}

	return model
}

// StatusEvents maps a document status to the webhook events fired when a
// transition lands on that status.
func StatusEvents(status string) []string {
	switch status {
	case StatusCompleted:
		return []string{EventDocumentProcessed, EventExtractionCompleted}
	case StatusApproved:
		return []string{EventDocumentApproved}
	case StatusRequiresReview:
		return []string{EventDocumentRejected}
	case StatusFailed:
		return []string{EventExtractionFailed}
	default:
		return nil
	}
}
