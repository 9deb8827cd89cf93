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
	"fmt"
	"strings"
	"time"
)

// Template document types.
var TemplateDocumentTypes = []string{
	"invoice",
	"receipt",
	"bank_statement",
	"contract",
	"form",
	"id_document",
	"other",
}

// DefaultConfidenceThreshold is applied when a template carries no
// explicit confidence_threshold setting.
const DefaultConfidenceThreshold = 0.7

// TemplateField describes one field an extraction template asks for.
type TemplateField struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

// TemplateSettings holds per-template extraction behavior.
type TemplateSettings struct {
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	AutoApprove         bool    `json:"auto_approve,omitempty"`
	AIProvider          string  `json:"ai_provider,omitempty"`
	AIModel             string  `json:"ai_model,omitempty"`
}

// ExtractionTemplate is a named field schema plus a prompt pattern for
// one document type.
type ExtractionTemplate struct {
	ID             int64            `json:"-"`
	TemplateID     string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	Name           string           `json:"name"`
	DocumentType   string           `json:"document_type"`
	Fields         []TemplateField  `json:"fields"`
	PromptTemplate string           `json:"prompt_template"`
	Settings       TemplateSettings `json:"settings"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// FieldNames returns the names of all templated fields.
func (t *ExtractionTemplate) FieldNames() []string {
	names := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		names = append(names, f.Name)
	}
	return names
}

// RequiredFields returns the subset of fields marked required.
func (t *ExtractionTemplate) RequiredFields() []TemplateField {
	var required []TemplateField
	for _, f := range t.Fields {
		if f.Required {
			required = append(required, f)
		}
	}
	return required
}

// ConfidenceThreshold returns the configured threshold, or the system
// default when the template does not set one.
func (t *ExtractionTemplate) ConfidenceThreshold() float64 {
	if t.Settings.ConfidenceThreshold > 0 {
		return t.Settings.ConfidenceThreshold
	}
	return DefaultConfidenceThreshold
}

// GeneratePrompt renders the template's prompt pattern. Each {{key}} token
// is replaced with its value from context, and the special {{fields_list}}
// token expands to a bulleted name/description list of the template fields.
func (t *ExtractionTemplate) GeneratePrompt(context map[string]string) string {
	prompt := t.PromptTemplate

	for key, value := range context {
		prompt = strings.ReplaceAll(prompt, fmt.Sprintf("{{%s}}", key), value)
	}

	if strings.Contains(prompt, "{{fields_list}}") {
		lines := make([]string, 0, len(t.Fields))
		for _, f := range t.Fields {
			lines = append(lines, fmt.Sprintf("- %s: %s", f.Name, f.Description))
		}
		prompt = strings.ReplaceAll(prompt, "{{fields_list}}", strings.Join(lines, "\n"))
	}

	return prompt
}

// ValidTemplateDocumentType reports whether docType is a known type.
func ValidTemplateDocumentType(docType string) bool {
	for _, t := range TemplateDocumentTypes {
		if t == docType {
			return true
		}
	}
	return false
}

// ExtractionResult is one extracted field value with provenance. Results
// are append-only per document and never mutated after creation.
type ExtractionResult struct {
	ID              int64     `json:"-"`
	ResultID        string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	FieldName       string    `json:"field_name"`
	FieldValue      string    `json:"field_value"`
	ConfidenceScore *float64  `json:"confidence_score,omitempty"`
	AIModel         string    `json:"ai_model"`
	CreatedAt       time.Time `json:"created_at"`
}

// ValidConfidence reports whether the result's confidence score, if
// present, lies in [0, 1].
func (r *ExtractionResult) ValidConfidence() bool {
	if r.ConfidenceScore == nil {
		return true
	}
	return *r.ConfidenceScore >= 0.0 && *r.ConfidenceScore <= 1.0
}
