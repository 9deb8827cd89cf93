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

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/model"
)

func (d Datasource) CreateExtractionTemplate(ctx context.Context, tpl *model.ExtractionTemplate) (*model.ExtractionTemplate, error) {
	fieldsJSON, err := json.Marshal(tpl.Fields)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal template fields", err)
	}
	settingsJSON, err := json.Marshal(tpl.Settings)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal template settings", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO extraction_templates(template_id,tenant_id,name,document_type,fields,prompt_template,settings,active,created_at,updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, tpl.TemplateID, tpl.TenantID, tpl.Name, tpl.DocumentType, fieldsJSON, tpl.PromptTemplate,
		settingsJSON, tpl.Active, tpl.CreatedAt, tpl.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create extraction template", err)
	}

	return tpl, nil
}

func (d Datasource) GetExtractionTemplate(ctx context.Context, id string) (*model.ExtractionTemplate, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT template_id, tenant_id, name, document_type, fields, prompt_template, settings, active, created_at, updated_at
		FROM extraction_templates WHERE template_id = $1
	`, id)

	tpl, err := scanTemplate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Template with ID '%s' not found", id), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve template", err)
	}
	return tpl, nil
}

func (d Datasource) GetTemplatesForTenant(ctx context.Context, tenantID string) ([]*model.ExtractionTemplate, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT template_id, tenant_id, name, document_type, fields, prompt_template, settings, active, created_at, updated_at
		FROM extraction_templates WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve templates", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []*model.ExtractionTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan template", err)
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (d Datasource) RecordExtractionResult(ctx context.Context, result *model.ExtractionResult) (*model.ExtractionResult, error) {
	var confidence sql.NullFloat64
	if result.ConfidenceScore != nil {
		confidence = sql.NullFloat64{Float64: *result.ConfidenceScore, Valid: true}
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO extraction_results(result_id,document_id,field_name,field_value,confidence_score,ai_model,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, result.ResultID, result.DocumentID, result.FieldName, result.FieldValue, confidence, result.AIModel, result.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record extraction result", err)
	}

	return result, nil
}

func (d Datasource) GetExtractionResults(ctx context.Context, documentID string) ([]*model.ExtractionResult, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT result_id, document_id, field_name, field_value, confidence_score, ai_model, created_at
		FROM extraction_results WHERE document_id = $1 ORDER BY created_at ASC, field_name ASC
	`, documentID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve extraction results", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*model.ExtractionResult
	for rows.Next() {
		result := &model.ExtractionResult{}
		var confidence sql.NullFloat64
		if err := rows.Scan(&result.ResultID, &result.DocumentID, &result.FieldName, &result.FieldValue,
			&confidence, &result.AIModel, &result.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan extraction result", err)
		}
		if confidence.Valid {
			result.ConfidenceScore = &confidence.Float64
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanTemplate(row rowScanner) (*model.ExtractionTemplate, error) {
	tpl := &model.ExtractionTemplate{}
	var fieldsJSON, settingsJSON []byte

	err := row.Scan(&tpl.TemplateID, &tpl.TenantID, &tpl.Name, &tpl.DocumentType, &fieldsJSON,
		&tpl.PromptTemplate, &settingsJSON, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &tpl.Fields); err != nil {
			return nil, err
		}
	}
	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &tpl.Settings); err != nil {
			return nil, err
		}
	}
	return tpl, nil
}
