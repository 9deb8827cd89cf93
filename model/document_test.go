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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextAssignedModelFirstAttempt(t *testing.T) {
	doc := &Document{Priority: PriorityCritical}
	assert.Equal(t, ModelGPT4Vision, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityUrgent}
	assert.Equal(t, ModelGPT4Vision, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityHigh}
	assert.Equal(t, ModelGPT4Vision, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityNormal}
	assert.Equal(t, ModelClaudeVision, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityLow}
	assert.Equal(t, ModelClaudeVision, doc.NextAssignedModel())
}

func TestNextAssignedModelRotation(t *testing.T) {
	// Retries advance through the rotation so the same model is never
	// hit twice in a row.
	doc := &Document{Priority: PriorityNormal, RetryCount: 1, AssignedModel: ModelClaudeVision}
	assert.Equal(t, ModelGPT4Turbo, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityNormal, RetryCount: 2, AssignedModel: ModelGPT4Turbo}
	assert.Equal(t, ModelGPT4Vision, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityNormal, RetryCount: 1, AssignedModel: ModelGPT4Vision}
	assert.Equal(t, ModelClaudeVision, doc.NextAssignedModel())
}

func TestNextAssignedModelFallbackForced(t *testing.T) {
	doc := &Document{Priority: PriorityCritical, RetryCount: 3, AssignedModel: ModelGPT4Vision}
	assert.Equal(t, ModelFallback, doc.NextAssignedModel())

	doc = &Document{Priority: PriorityNormal, RetryCount: 5, AssignedModel: ModelGPT4Turbo}
	assert.Equal(t, ModelFallback, doc.NextAssignedModel())
}

func TestStatusEvents(t *testing.T) {
	assert.Equal(t, []string{EventDocumentProcessed, EventExtractionCompleted}, StatusEvents(StatusCompleted))
	assert.Equal(t, []string{EventDocumentApproved}, StatusEvents(StatusApproved))
	assert.Equal(t, []string{EventDocumentRejected}, StatusEvents(StatusRequiresReview))
	assert.Equal(t, []string{EventExtractionFailed}, StatusEvents(StatusFailed))
	assert.Nil(t, StatusEvents(StatusPending))
	assert.Nil(t, StatusEvents(StatusProcessing))
}

func TestValidDocumentStatus(t *testing.T) {
	for _, s := range DocumentStatuses {
		assert.True(t, ValidDocumentStatus(s))
	}
	assert.False(t, ValidDocumentStatus("archived"))
	assert.False(t, ValidDocumentStatus(""))
}

func TestDocumentPredicates(t *testing.T) {
	doc := &Document{Status: StatusPending, TemplateID: "tpl_1", FileURL: "https://files/doc.pdf"}
	assert.True(t, doc.IsPending())
	assert.True(t, doc.HasTemplate())
	assert.True(t, doc.HasFile())
	assert.False(t, doc.IsBulkUpload())

	doc.MetaData = map[string]interface{}{"bulk_upload": true}
	assert.True(t, doc.IsBulkUpload())
}

func TestOverdue(t *testing.T) {
	now := time.Now()
	estimate := now.Add(-time.Minute)

	doc := &Document{Status: StatusProcessing, EstimatedCompletionAt: &estimate}
	assert.True(t, doc.Overdue(now))

	doc.Status = StatusCompleted
	assert.False(t, doc.Overdue(now))

	doc = &Document{Status: StatusProcessing}
	assert.False(t, doc.Overdue(now))
}

func TestProcessingTime(t *testing.T) {
	started := time.Now().Add(-90 * time.Second)
	completed := time.Now()

	doc := &Document{ProcessingStartedAt: &started, ProcessingCompletedAt: &completed}
	assert.InDelta(t, 90, doc.ProcessingTime().Seconds(), 1)

	assert.Equal(t, time.Duration(0), (&Document{}).ProcessingTime())
}
