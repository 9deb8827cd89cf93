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
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/docuflowhq/docuflow/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestRetryDelayForCount(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 15 * time.Minute},
		{2, 30 * time.Minute},
		{3, time.Hour},
		{10, time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RetryDelayForCount(tt.retryCount), "retry count %d", tt.retryCount)
	}
}

func TestSweepFailedDocuments(t *testing.T) {
	d, mock, mr := newTestDocuflow(t)

	// Backoff elapsed: failed 20 minutes ago with one retry charged.
	ready := &model.Document{
		DocumentID:       "doc_" + gofakeit.UUID(),
		TenantID:         gofakeit.UUID(),
		OriginalFilename: "invoice.pdf",
		Status:           model.StatusFailed,
		Priority:         model.PriorityHigh,
		RetryCount:       1,
		CreatedAt:        time.Now().Add(-time.Hour),
		UpdatedAt:        time.Now().Add(-20 * time.Minute),
	}
	// Backoff still running: failed 5 minutes ago with two retries charged.
	tooFresh := &model.Document{
		DocumentID:       "doc_" + gofakeit.UUID(),
		TenantID:         gofakeit.UUID(),
		OriginalFilename: "receipt.pdf",
		Status:           model.StatusFailed,
		Priority:         model.PriorityHigh,
		RetryCount:       2,
		CreatedAt:        time.Now().Add(-time.Hour),
		UpdatedAt:        time.Now().Add(-5 * time.Minute),
	}

	rows := documentRow(ready)
	rows.AddRow(
		tooFresh.DocumentID, tooFresh.TenantID, tooFresh.UserID, nil, tooFresh.Name, tooFresh.OriginalFilename,
		tooFresh.ContentType, tooFresh.FileSize, tooFresh.FileURL, tooFresh.Status, int(tooFresh.Priority),
		tooFresh.PriorityReason, tooFresh.AssignedModel, tooFresh.RetryCount, []byte(`{}`), tooFresh.ErrorMessage,
		tooFresh.LastError, []byte(`{}`), tooFresh.CreatedAt, tooFresh.UpdatedAt, nil, nil, nil,
	)

	mock.ExpectQuery("SELECT .* FROM documents").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE documents").
		WithArgs(ready.DocumentID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	requeued, err := d.SweepFailedDocuments(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 1, requeued)
	assert.NotEmpty(t, mr.Keys())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestFailedDocumentMonitorStartStop(t *testing.T) {
	d, _, _ := newTestDocuflow(t)

	monitor := NewFailedDocumentMonitor(d)
	assert.False(t, monitor.IsRunning())

	monitor.Start(context.Background())
	assert.True(t, monitor.IsRunning())

	monitor.Stop()
	assert.False(t, monitor.IsRunning())
}

func TestStaleDocumentProcessorStartStop(t *testing.T) {
	d, _, _ := newTestDocuflow(t)

	processor := NewStaleDocumentProcessor(d)
	assert.False(t, processor.IsRunning())

	processor.Start(context.Background())
	assert.True(t, processor.IsRunning())

	processor.Stop()
	assert.False(t, processor.IsRunning())
}
