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
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"

	"github.com/docuflowhq/docuflow"
	model2 "github.com/docuflowhq/docuflow/api/model"
	"github.com/docuflowhq/docuflow/config"
	"github.com/docuflowhq/docuflow/database"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func setupTestRouter(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		Redis:      config.RedisConfig{Dns: mr.Addr()},
		DataSource: config.DataSourceConfig{Dns: "postgres://localhost:5432/test"},
	})

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database Connection", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	service, err := docuflow.NewDocuflow(database.Datasource{Conn: db})
	if err != nil {
		t.Fatalf("Error creating Docuflow instance: %s", err)
	}
	return NewAPI(service).Router(), mock
}

func postJSON(t *testing.T, router *gin.Engine, route string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Error marshalling payload: %s", err)
	}
	req := httptest.NewRequest(http.MethodPost, route, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCreateDocumentAPI(t *testing.T) {
	router, mock := setupTestRouter(t)

	mock.ExpectExec("INSERT INTO documents").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO activities").
		WillReturnResult(sqlmock.NewResult(1, 1))

	payload := model2.CreateDocument{
		TenantID:         gofakeit.UUID(),
		TemplateID:       "tpl_" + gofakeit.UUID(),
		OriginalFilename: "invoice_march.pdf",
		ContentType:      "application/pdf",
		FileSize:         2048,
		FileURL:          "https://files.example.com/invoice_march.pdf",
		PremiumOwner:     true,
	}

	resp := postJSON(t, router, "/documents", payload)

	assert.Equal(t, http.StatusCreated, resp.Code)

	var created map[string]interface{}
	assert.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Contains(t, created["id"], "doc_")
	assert.Equal(t, "high", created["priority"])
}

func TestCreateDocumentAPIValidation(t *testing.T) {
	router, _ := setupTestRouter(t)

	resp := postJSON(t, router, "/documents", model2.CreateDocument{
		OriginalFilename: "invoice.pdf",
	})

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSetDocumentPriorityAPIInvalidPriority(t *testing.T) {
	router, _ := setupTestRouter(t)

	body, _ := json.Marshal(model2.SetPriority{Priority: "blistering", Reason: "never"})
	req := httptest.NewRequest(http.MethodPut, "/documents/doc_123/priority", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestNextDocumentAPIEmptyQueue(t *testing.T) {
	router, mock := setupTestRouter(t)

	mock.ExpectQuery("SELECT .* FROM documents").
		WillReturnRows(sqlmock.NewRows([]string{
			"document_id", "tenant_id", "user_id", "template_id", "name", "original_filename", "content_type",
			"file_size", "file_url", "status", "priority", "priority_reason", "assigned_model", "retry_count",
			"extracted_data", "error_message", "last_error", "meta_data", "created_at", "updated_at",
			"processing_started_at", "processing_completed_at", "estimated_completion_at",
		}))

	req := httptest.NewRequest(http.MethodGet, "/queue/next?tenant_id=tnt_1", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "queue is empty")
}

func TestNextDocumentAPIRequiresTenant(t *testing.T) {
	router, _ := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/queue/next", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "tenant_id is required")
}

func TestGetDocumentAPINotFound(t *testing.T) {
	router, mock := setupTestRouter(t)

	mock.ExpectQuery("SELECT .* FROM documents WHERE document_id").
		WillReturnRows(sqlmock.NewRows([]string{
			"document_id", "tenant_id", "user_id", "template_id", "name", "original_filename", "content_type",
			"file_size", "file_url", "status", "priority", "priority_reason", "assigned_model", "retry_count",
			"extracted_data", "error_message", "last_error", "meta_data", "created_at", "updated_at",
			"processing_started_at", "processing_completed_at", "estimated_completion_at",
		}))

	req := httptest.NewRequest(http.MethodGet, "/documents/doc_missing", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
}
