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
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/docuflowhq/docuflow/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestCreateTemplate(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	template := &model.ExtractionTemplate{
		TenantID:     gofakeit.UUID(),
		Name:         "Invoice fields",
		DocumentType: "invoice",
		Fields: []model.TemplateField{
			{Name: "total", Type: "number", Required: true},
		},
	}

	mock.ExpectExec("INSERT INTO extraction_templates").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := d.CreateTemplate(context.Background(), template)
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.TemplateID, "tpl_"))
	assert.False(t, created.CreatedAt.IsZero())
	// Templates created without explicit settings get the standard ones.
	assert.Equal(t, 0.8, created.Settings.ConfidenceThreshold)
	assert.True(t, created.Settings.AutoApprove)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateTemplateKeepsExplicitSettings(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	mock.ExpectExec("INSERT INTO extraction_templates").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := d.CreateTemplate(context.Background(), &model.ExtractionTemplate{
		TenantID:     gofakeit.UUID(),
		Name:         "Strict receipts",
		DocumentType: "receipt",
		Fields: []model.TemplateField{
			{Name: "merchant", Type: "string"},
		},
		Settings: model.TemplateSettings{ConfidenceThreshold: 0.95},
	})
	assert.NoError(t, err)
	assert.Equal(t, 0.95, created.Settings.ConfidenceThreshold)
	assert.False(t, created.Settings.AutoApprove)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestCreateTemplateUnknownDocumentType(t *testing.T) {
	d, _, _ := newTestDocuflow(t)

	_, err := d.CreateTemplate(context.Background(), &model.ExtractionTemplate{
		TenantID:     gofakeit.UUID(),
		DocumentType: "blueprint",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "document type")
}

func TestApproveDocument(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	document := &model.Document{
		DocumentID: model.GenerateUUIDWithSuffix("doc"),
		TenantID:   gofakeit.UUID(),
		Name:       gofakeit.Word(),
		Status:     model.StatusRequiresReview,
		Priority:   model.PriorityNormal,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM documents").
		WithArgs(document.DocumentID).
		WillReturnRows(documentRow(document))
	mock.ExpectExec("UPDATE documents").
		WithArgs(document.DocumentID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	approved := *document
	approved.Status = model.StatusApproved
	mock.ExpectQuery("SELECT .* FROM documents").
		WithArgs(document.DocumentID).
		WillReturnRows(documentRow(&approved))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := d.ApproveDocument(context.Background(), document.DocumentID, gofakeit.UUID())
	assert.NoError(t, err)
	assert.Equal(t, model.StatusApproved, result.Status)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestApproveDocumentNotAwaitingReview(t *testing.T) {
	d, mock, _ := newTestDocuflow(t)

	document := &model.Document{
		DocumentID: model.GenerateUUIDWithSuffix("doc"),
		TenantID:   gofakeit.UUID(),
		Name:       gofakeit.Word(),
		Status:     model.StatusPending,
		Priority:   model.PriorityNormal,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	mock.ExpectQuery("SELECT .* FROM documents").
		WithArgs(document.DocumentID).
		WillReturnRows(documentRow(document))

	_, err := d.ApproveDocument(context.Background(), document.DocumentID, gofakeit.UUID())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not awaiting review")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
