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
	"time"

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/model"
)

// CreateTemplate persists a new extraction template and announces it to
// subscribed webhooks.
func (d *Docuflow) CreateTemplate(ctx context.Context, template *model.ExtractionTemplate) (*model.ExtractionTemplate, error) {
	if template.TenantID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Tenant ID is required", nil)
	}
	if !model.ValidTemplateDocumentType(template.DocumentType) {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown template document type", nil)
	}

	if template.Settings == (model.TemplateSettings{}) {
		template.Settings = model.TemplateSettings{
			ConfidenceThreshold: 0.8,
			AutoApprove:         true,
		}
	}

	template.TemplateID = model.GenerateUUIDWithSuffix("tpl")
	template.CreatedAt = time.Now()
	template.UpdatedAt = template.CreatedAt

	template, err := d.datasource.CreateExtractionTemplate(ctx, template)
	if err != nil {
		return nil, err
	}

	d.recordActivity(ctx, template.TenantID, "", "created", model.TrackableTemplate, template.TemplateID, map[string]interface{}{
		"document_type": template.DocumentType,
		"field_count":   len(template.Fields),
	})
	d.fireWebhooks(template.TenantID, model.EventTemplateCreated, template)
	return template, nil
}

// GetTemplate retrieves an extraction template by ID.
func (d *Docuflow) GetTemplate(ctx context.Context, id string) (*model.ExtractionTemplate, error) {
	return d.datasource.GetExtractionTemplate(ctx, id)
}

// GetTemplates lists a tenant's extraction templates.
func (d *Docuflow) GetTemplates(ctx context.Context, tenantID string) ([]*model.ExtractionTemplate, error) {
	return d.datasource.GetTemplatesForTenant(ctx, tenantID)
}

// GetExtractionResults lists a document's extraction results.
func (d *Docuflow) GetExtractionResults(ctx context.Context, documentID string) ([]*model.ExtractionResult, error) {
	return d.datasource.GetExtractionResults(ctx, documentID)
}
