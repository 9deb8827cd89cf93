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

	"github.com/stretchr/testify/assert"
)

func TestGeneratePrompt(t *testing.T) {
	tpl := &ExtractionTemplate{
		PromptTemplate: "Extract from {{document_name}} ({{document_type}}):\n{{fields_list}}",
		Fields: []TemplateField{
			{Name: "total", Description: "Invoice total amount"},
			{Name: "due_date", Description: "Payment due date"},
		},
	}

	prompt := tpl.GeneratePrompt(map[string]string{
		"document_name": "invoice_march.pdf",
		"document_type": "invoice",
	})

	assert.Contains(t, prompt, "Extract from invoice_march.pdf (invoice):")
	assert.Contains(t, prompt, "- total: Invoice total amount")
	assert.Contains(t, prompt, "- due_date: Payment due date")
	assert.NotContains(t, prompt, "{{")
}

func TestGeneratePromptUnknownTokensLeftAlone(t *testing.T) {
	tpl := &ExtractionTemplate{PromptTemplate: "Process {{missing}} token"}
	prompt := tpl.GeneratePrompt(map[string]string{"other": "value"})
	assert.Equal(t, "Process {{missing}} token", prompt)
}

func TestConfidenceThreshold(t *testing.T) {
	tpl := &ExtractionTemplate{}
	assert.Equal(t, DefaultConfidenceThreshold, tpl.ConfidenceThreshold())

	tpl.Settings.ConfidenceThreshold = 0.9
	assert.Equal(t, 0.9, tpl.ConfidenceThreshold())
}

func TestRequiredFields(t *testing.T) {
	tpl := &ExtractionTemplate{
		Fields: []TemplateField{
			{Name: "total", Required: true},
			{Name: "notes", Required: false},
			{Name: "due_date", Required: true},
		},
	}

	required := tpl.RequiredFields()
	assert.Len(t, required, 2)
	assert.Equal(t, []string{"total", "notes", "due_date"}, tpl.FieldNames())
}

func TestValidTemplateDocumentType(t *testing.T) {
	assert.True(t, ValidTemplateDocumentType("invoice"))
	assert.True(t, ValidTemplateDocumentType("other"))
	assert.False(t, ValidTemplateDocumentType("blueprint"))
}

func TestValidConfidence(t *testing.T) {
	score := 0.85
	r := &ExtractionResult{ConfidenceScore: &score}
	assert.True(t, r.ValidConfidence())

	bad := 1.2
	r.ConfidenceScore = &bad
	assert.False(t, r.ValidConfidence())

	r.ConfidenceScore = nil
	assert.True(t, r.ValidConfidence())
}
