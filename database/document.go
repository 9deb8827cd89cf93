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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/model"
)

const documentColumns = `document_id, tenant_id, user_id, template_id, name, original_filename, content_type,
	file_size, file_url, status, priority, priority_reason, assigned_model, retry_count, extracted_data,
	error_message, last_error, meta_data, created_at, updated_at, processing_started_at, processing_completed_at,
	estimated_completion_at`

func (d Datasource) RecordDocument(ctx context.Context, doc *model.Document) (*model.Document, error) {
	ctx, span := otel.Tracer("document.database").Start(ctx, "Saving document to db")
	defer span.End()

	extractedJSON, err := json.Marshal(doc.ExtractedData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal extracted data", err)
	}
	metaDataJSON, err := json.Marshal(doc.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx,
		`INSERT INTO documents(document_id,tenant_id,user_id,template_id,name,original_filename,content_type,file_size,file_url,status,priority,priority_reason,assigned_model,retry_count,extracted_data,error_message,last_error,meta_data,created_at,updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		doc.DocumentID, doc.TenantID, doc.UserID, nullableString(doc.TemplateID), doc.Name, doc.OriginalFilename, doc.ContentType,
		doc.FileSize, doc.FileURL, doc.Status, int(doc.Priority), doc.PriorityReason, doc.AssignedModel, doc.RetryCount,
		extractedJSON, doc.ErrorMessage, doc.LastError, metaDataJSON, doc.CreatedAt, doc.CreatedAt,
	)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record document", err)
	}

	return doc, nil
}

func (d Datasource) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM documents WHERE document_id = $1
	`, documentColumns), id)

	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Document with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve document", err)
	}
	return doc, nil
}

func (d Datasource) GetAllDocuments(ctx context.Context, tenantID string, limit, offset int) ([]*model.Document, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM documents WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, documentColumns), tenantID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve documents", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDocuments(rows)
}

func (d Datasource) UpdateDocumentPriority(ctx context.Context, id string, priority model.Priority, reason string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET priority = $2, priority_reason = $3, updated_at = NOW()
		WHERE document_id = $1
	`, id, int(priority), reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update document priority", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check update result", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Document with ID '%s' not found", id), nil)
	}
	return nil
}

// ClaimDocumentForProcessing performs the single-claimant transition into
// processing. The processing_started_at IS NULL guard makes the
// read-then-set atomic: when two workers race, exactly one sees a row
// affected.
func (d Datasource) ClaimDocumentForProcessing(ctx context.Context, id, assignedModel string, startedAt, estimatedAt time.Time) (bool, error) {
	ctx, span := otel.Tracer("document.database").Start(ctx, "Claiming document for processing")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET status = 'processing', processing_started_at = $2, estimated_completion_at = $3,
			assigned_model = $4, error_message = '', last_error = '', updated_at = NOW()
		WHERE document_id = $1 AND status IN ('pending', 'failed') AND processing_started_at IS NULL
	`, id, startedAt, estimatedAt, assignedModel)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim document for processing", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check claim result", err)
	}
	return rowsAffected == 1, nil
}

// CompleteDocumentProcessing finishes a processing cycle. The guard on
// processing_started_at discards late completions from attempts that were
// requeued as stale in the meantime.
func (d Datasource) CompleteDocumentProcessing(ctx context.Context, id string, startedAt, completedAt time.Time, extracted map[string]interface{}) (bool, error) {
	extractedJSON, err := json.Marshal(extracted)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal extracted data", err)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET status = 'completed', processing_completed_at = $3, extracted_data = $4, updated_at = NOW()
		WHERE document_id = $1 AND status = 'processing' AND processing_started_at = $2
	`, id, startedAt, completedAt, extractedJSON)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to complete document", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check completion result", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) FailDocumentProcessing(ctx context.Context, id, errorMessage string, completedAt time.Time) (*model.Document, error) {
	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE documents
		SET status = 'failed', processing_completed_at = $3, processing_started_at = NULL,
			error_message = $2, last_error = $2, retry_count = retry_count + 1, updated_at = NOW()
		WHERE document_id = $1 AND status = 'processing'
		RETURNING %s
	`, documentColumns), id, errorMessage, completedAt)

	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Document '%s' is not processing", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fail document", err)
	}
	return doc, nil
}

func (d Datasource) MarkDocumentForReview(ctx context.Context, id, reason string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET status = 'requires_review',
			meta_data = COALESCE(meta_data, '{}'::jsonb) || jsonb_build_object('review_reason', $2::text),
			updated_at = NOW()
		WHERE document_id = $1 AND status IN ('processing', 'completed')
	`, id, reason)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark document for review", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check review result", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) ApproveDocument(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET status = 'approved', updated_at = NOW()
		WHERE document_id = $1 AND status IN ('requires_review', 'completed')
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to approve document", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check approval result", err)
	}
	return rowsAffected == 1, nil
}

// NextReadyDocument returns the tenant's highest-priority ready document,
// oldest first within a priority band.
func (d Datasource) NextReadyDocument(ctx context.Context, tenantID string) (*model.Document, error) {
	ctx, span := otel.Tracer("document.database").Start(ctx, "Selecting next ready document")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE tenant_id = $1 AND status IN ('pending', 'processing') AND processing_started_at IS NULL
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
	`, documentColumns), tenantID)

	doc, err := scanDocument(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to select next document", err)
	}
	return doc, nil
}

func (d Datasource) GetStaleProcessingDocuments(ctx context.Context, threshold time.Duration, limit int) ([]*model.Document, error) {
	cutoff := time.Now().Add(-threshold)
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE status = 'processing' AND processing_started_at IS NOT NULL AND processing_started_at < $1
		ORDER BY processing_started_at ASC
		LIMIT $2
	`, documentColumns), cutoff, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve stale documents", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDocuments(rows)
}

// ResetStaleDocument returns a stuck document to pending. The guard on
// processing_started_at makes re-running against an already-reset document
// a no-op.
func (d Datasource) ResetStaleDocument(ctx context.Context, id, errorMessage string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET status = 'pending', processing_started_at = NULL, last_error = $2, updated_at = NOW()
		WHERE document_id = $1 AND status = 'processing' AND processing_started_at IS NOT NULL
	`, id, errorMessage)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset stale document", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check reset result", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) GetRetryableFailedDocuments(ctx context.Context, failedSince time.Time, maxRetries, limit int) ([]*model.Document, error) {
	rows, err := d.Conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM documents
		WHERE status = 'failed' AND updated_at > $1 AND retry_count < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, documentColumns), failedSince, maxRetries, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve retryable documents", err)
	}
	defer func() { _ = rows.Close() }()

	return scanDocuments(rows)
}

func (d Datasource) RequeueFailedDocument(ctx context.Context, id string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE documents
		SET status = 'pending', updated_at = NOW()
		WHERE document_id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to requeue failed document", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check requeue result", err)
	}
	return rowsAffected == 1, nil
}

func (d Datasource) CountPendingDocuments(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE tenant_id = $1 AND status IN ('pending', 'processing')
	`, tenantID).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count pending documents", err)
	}
	return count, nil
}

func (d Datasource) CountDocumentsByPriority(ctx context.Context, tenantID string) (map[string]int64, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT priority, COUNT(*) FROM documents
		WHERE tenant_id = $1 AND status IN ('pending', 'processing')
		GROUP BY priority
	`, tenantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count documents by priority", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var priority int
		var count int64
		if err := rows.Scan(&priority, &count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan priority count", err)
		}
		counts[model.Priority(priority).String()] = count
	}
	return counts, rows.Err()
}

func (d Datasource) CountDocumentsByStatus(ctx context.Context, tenantID string) (map[string]int64, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM documents WHERE tenant_id = $1 GROUP BY status
	`, tenantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count documents by status", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan status count", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func (d Datasource) AveragePendingWaitSeconds(ctx context.Context, tenantID string) (float64, error) {
	var avg sql.NullFloat64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (NOW() - created_at)))
		FROM documents
		WHERE tenant_id = $1 AND status = 'pending'
	`, tenantID).Scan(&avg)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to compute average wait time", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (d Datasource) CountProcessedSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var count int64
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents
		WHERE tenant_id = $1 AND status IN ('completed', 'approved') AND processing_completed_at > $2
	`, tenantID, since).Scan(&count)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to count processed documents", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	doc := &model.Document{}
	var templateID sql.NullString
	var priority int
	var extractedJSON, metaDataJSON []byte
	var startedAt, completedAt, estimatedAt sql.NullTime

	err := row.Scan(
		&doc.DocumentID, &doc.TenantID, &doc.UserID, &templateID, &doc.Name, &doc.OriginalFilename, &doc.ContentType,
		&doc.FileSize, &doc.FileURL, &doc.Status, &priority, &doc.PriorityReason, &doc.AssignedModel, &doc.RetryCount,
		&extractedJSON, &doc.ErrorMessage, &doc.LastError, &metaDataJSON, &doc.CreatedAt, &doc.UpdatedAt,
		&startedAt, &completedAt, &estimatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.TemplateID = templateID.String
	doc.Priority = model.Priority(priority)
	if len(extractedJSON) > 0 {
		if err := json.Unmarshal(extractedJSON, &doc.ExtractedData); err != nil {
			return nil, err
		}
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &doc.MetaData); err != nil {
			return nil, err
		}
	}
	if startedAt.Valid {
		doc.ProcessingStartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		doc.ProcessingCompletedAt = &completedAt.Time
	}
	if estimatedAt.Valid {
		doc.EstimatedCompletionAt = &estimatedAt.Time
	}
	return doc, nil
}

func scanDocuments(rows *sql.Rows) ([]*model.Document, error) {
	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan document", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
