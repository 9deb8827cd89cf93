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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"

	"github.com/docuflowhq/docuflow/config"
	"github.com/docuflowhq/docuflow/model"

	"github.com/stretchr/testify/assert"
)

func newTestQueue(t *testing.T) (*Queue, *config.Configuration) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	conf := &config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}}
	config.MockConfig(conf)
	cnf, err := config.Fetch()
	if err != nil {
		t.Fatalf("Error fetching config: %s", err)
	}
	return NewQueue(cnf), cnf
}

func TestQueueForPriority(t *testing.T) {
	conf := &config.Configuration{}
	config.MockConfig(conf)
	cnf, _ := config.Fetch()

	tests := []struct {
		priority model.Priority
		want     string
	}{
		{model.PriorityCritical, "urgent"},
		{model.PriorityUrgent, "urgent"},
		{model.PriorityHigh, "high_priority"},
		{model.PriorityNormal, "document_processing"},
		{model.PriorityLow, "document_processing"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, QueueForPriority(cnf, tt.priority), "priority %s", tt.priority)
	}
}

func TestEnqueueDocumentRoutesByPriority(t *testing.T) {
	q, cnf := newTestQueue(t)

	document := &model.Document{
		DocumentID: "doc_" + gofakeit.UUID(),
		TenantID:   gofakeit.UUID(),
		Status:     model.StatusPending,
		Priority:   model.PriorityUrgent,
	}

	err := q.Enqueue(context.Background(), document)
	assert.NoError(t, err)

	task, err := q.Inspector.GetTaskInfo(cnf.Queue.UrgentQueue, fmt.Sprintf("%s_0", document.DocumentID))
	assert.NoError(t, err)
	assert.Equal(t, cnf.Queue.DocumentQueue, task.Type)
}

func TestEnqueueDocumentRetryGetsFreshTaskID(t *testing.T) {
	q, cnf := newTestQueue(t)

	document := &model.Document{
		DocumentID: "doc_" + gofakeit.UUID(),
		TenantID:   gofakeit.UUID(),
		Status:     model.StatusPending,
		Priority:   model.PriorityNormal,
	}

	assert.NoError(t, q.Enqueue(context.Background(), document))

	// A retry of the same document carries a new retry count, so the
	// task ID no longer collides with the original.
	document.RetryCount = 1
	assert.NoError(t, q.Enqueue(context.Background(), document))

	_, err := q.Inspector.GetTaskInfo(cnf.Queue.DocumentQueue, fmt.Sprintf("%s_0", document.DocumentID))
	assert.NoError(t, err)
	_, err = q.Inspector.GetTaskInfo(cnf.Queue.DocumentQueue, fmt.Sprintf("%s_1", document.DocumentID))
	assert.NoError(t, err)
}

func TestEnqueueInSchedulesDocument(t *testing.T) {
	q, cnf := newTestQueue(t)

	document := &model.Document{
		DocumentID: "doc_" + gofakeit.UUID(),
		TenantID:   gofakeit.UUID(),
		Status:     model.StatusPending,
		Priority:   model.PriorityNormal,
	}

	err := q.EnqueueIn(context.Background(), document, 5*time.Minute)
	assert.NoError(t, err)

	task, err := q.Inspector.GetTaskInfo(cnf.Queue.DocumentQueue, fmt.Sprintf("%s_0", document.DocumentID))
	assert.NoError(t, err)
	assert.Equal(t, "scheduled", task.State.String())
}

func TestEnqueueWebhookDelivery(t *testing.T) {
	q, cnf := newTestQueue(t)

	err := q.EnqueueWebhookDelivery(context.Background(), "whe_"+gofakeit.UUID(), "whk_"+gofakeit.UUID(), 0)
	assert.NoError(t, err)

	tasks, err := q.Inspector.ListPendingTasks(cnf.Queue.WebhookQueue)
	assert.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, cnf.Queue.WebhookQueue, tasks[0].Type)
	// The per-webhook retry budget is the only bound; asynq must not
	// add retries of its own.
	assert.Equal(t, 0, tasks[0].MaxRetry)
}
