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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/docuflowhq/docuflow/config"
	"github.com/docuflowhq/docuflow/model"
)

// ExtractionService is the boundary to an AI extraction backend. Extract
// returns field name to value pairs for the given document content and
// prompt.
type ExtractionService interface {
	Extract(ctx context.Context, fileURL, prompt string) (map[string]interface{}, error)
}

// ProviderDefaults maps an AI provider to its default model.
var ProviderDefaults = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-haiku-20240307",
	"google":    "gemini-1.5-flash",
	"deepseek":  "deepseek-chat",
}

// assignedModelProviders maps a document's assigned model tag to the
// provider serving it.
var assignedModelProviders = map[string]string{
	model.ModelGPT4Vision:   "openai",
	model.ModelGPT4Turbo:    "openai",
	model.ModelClaudeVision: "anthropic",
	model.ModelFallback:     "google",
}

// assignedModelNames maps a model tag to the concrete model identifier
// sent to the provider.
var assignedModelNames = map[string]string{
	model.ModelGPT4Vision:   "gpt-4-turbo-vision",
	model.ModelGPT4Turbo:    "gpt-4-turbo",
	model.ModelClaudeVision: "claude-3-opus-20240229",
	model.ModelFallback:     "gemini-1.5-flash",
}

// ResolveProvider picks the AI provider for a processing attempt. The
// document's assigned model tag wins, then the template's configured
// provider, then the tenant's default, then the system default.
func ResolveProvider(document *model.Document, template *model.ExtractionTemplate, tenant *model.TenantSettings, conf *config.Configuration) string {
	if provider, ok := assignedModelProviders[document.AssignedModel]; ok {
		return provider
	}
	if template != nil && template.Settings.AIProvider != "" {
		return template.Settings.AIProvider
	}
	if tenant != nil && tenant.DefaultAIProvider != "" {
		return tenant.DefaultAIProvider
	}
	if conf != nil && conf.Extraction.DefaultProvider != "" {
		return conf.Extraction.DefaultProvider
	}
	return "openai"
}

// ResolveModel picks the concrete model identifier for a processing
// attempt, mirroring the provider chain.
func ResolveModel(document *model.Document, template *model.ExtractionTemplate, provider string) string {
	if name, ok := assignedModelNames[document.AssignedModel]; ok {
		return name
	}
	if template != nil && template.Settings.AIModel != "" {
		return template.Settings.AIModel
	}
	if name, ok := ProviderDefaults[provider]; ok {
		return name
	}
	return ProviderDefaults["openai"]
}

// FieldConfidence scores one extracted field against its template
// definition. Fields the template does not know about sit at 0.5; known
// fields start at 0.8 when a value came back and 0.3 when it did not,
// with a 0.1 bonus for required fields that were filled, capped at 1.0.
func FieldConfidence(field *model.TemplateField, present bool) float64 {
	if field == nil {
		return 0.5
	}

	score := 0.3
	if present {
		score = 0.8
	}
	if field.Required && present {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// ProcessDocument runs one full extraction cycle for a document: claim,
// extract, store results, complete, and apply the review policy. All
// extraction failures are contained as a failed cycle; only a nil return
// acknowledges the underlying task.
func (d *Docuflow) ProcessDocument(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "Processing document")
	defer span.End()

	document, err := d.StartProcessing(ctx, documentID)
	if err != nil {
		// A lost claim means another worker owns this cycle.
		logrus.Infof("skipping document %s: %v", documentID, err)
		return nil
	}
	startedAt := *document.ProcessingStartedAt

	if !document.HasTemplate() {
		_, err := d.CompleteDocument(ctx, documentID, startedAt, map[string]interface{}{})
		return err
	}
	if !document.HasFile() {
		_, err := d.FailDocument(ctx, documentID, "Document has no file attached")
		return err
	}

	template, err := d.datasource.GetExtractionTemplate(ctx, document.TemplateID)
	if err != nil {
		_, failErr := d.FailDocument(ctx, documentID, fmt.Sprintf("Template lookup failed: %v", err))
		return failErr
	}

	extracted, err := d.runExtraction(ctx, document, template)
	if err != nil {
		logrus.Errorf("extraction failed for document %s on %s: %v", documentID, document.AssignedModel, err)
		_, failErr := d.FailDocument(ctx, documentID, err.Error())
		return failErr
	}

	confidences := d.storeExtractionResults(ctx, document, template, extracted)

	if _, err := d.CompleteDocument(ctx, documentID, startedAt, extracted); err != nil {
		return err
	}

	return d.applyReviewPolicy(ctx, document, template, confidences)
}

// runExtraction builds the prompt and calls the extraction backend under
// the configured timeout, with bounded retries on transient errors.
func (d *Docuflow) runExtraction(ctx context.Context, document *model.Document, template *model.ExtractionTemplate) (map[string]interface{}, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	tenantSettings, err := d.datasource.GetTenantSettings(ctx, document.TenantID)
	if err != nil {
		logrus.Warnf("tenant settings lookup failed for %s: %v", document.TenantID, err)
	}

	provider := ResolveProvider(document, template, tenantSettings, conf)
	modelName := ResolveModel(document, template, provider)
	prompt := template.GeneratePrompt(map[string]string{
		"document_name": document.Name,
		"document_type": template.DocumentType,
		"provider":      provider,
		"model":         modelName,
	})

	ctx, cancel := context.WithTimeout(ctx, time.Duration(conf.Extraction.TimeoutSeconds)*time.Second)
	defer cancel()

	var extracted map[string]interface{}
	operation := func() error {
		var extractErr error
		extracted, extractErr = d.extractor.Extract(ctx, document.FileURL, prompt)
		return extractErr
	}

	expBackoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(operation, expBackoff); err != nil {
		return nil, fmt.Errorf("extraction with %s/%s failed: %w", provider, modelName, err)
	}
	return extracted, nil
}

// storeExtractionResults persists one result row per template field and
// returns the per-field confidence scores.
func (d *Docuflow) storeExtractionResults(ctx context.Context, document *model.Document, template *model.ExtractionTemplate, extracted map[string]interface{}) map[string]float64 {
	confidences := make(map[string]float64, len(template.Fields))

	for i := range template.Fields {
		field := &template.Fields[i]
		value, ok := extracted[field.Name]
		present := ok && value != nil && fmt.Sprintf("%v", value) != ""
		score := FieldConfidence(field, present)
		confidences[field.Name] = score

		fieldValue := ""
		if present {
			fieldValue = fmt.Sprintf("%v", value)
		}

		result := &model.ExtractionResult{
			ResultID:        model.GenerateUUIDWithSuffix("res"),
			DocumentID:      document.DocumentID,
			FieldName:       field.Name,
			FieldValue:      fieldValue,
			ConfidenceScore: &score,
			AIModel:         document.AssignedModel,
			CreatedAt:       time.Now(),
		}
		if _, err := d.datasource.RecordExtractionResult(ctx, result); err != nil {
			logrus.Errorf("failed to record extraction result %s/%s: %v", document.DocumentID, field.Name, err)
		}
	}

	return confidences
}

// applyReviewPolicy routes a completed document to manual review when any
// required field scored under the template's confidence threshold, or
// straight to approved when the template auto-approves.
func (d *Docuflow) applyReviewPolicy(ctx context.Context, document *model.Document, template *model.ExtractionTemplate, confidences map[string]float64) error {
	threshold := template.ConfidenceThreshold()

	for _, field := range template.RequiredFields() {
		if confidences[field.Name] < threshold {
			_, err := d.MarkForReview(ctx, document.DocumentID,
				fmt.Sprintf("Field '%s' confidence %.2f below threshold %.2f", field.Name, confidences[field.Name], threshold))
			return err
		}
	}

	if template.Settings.AutoApprove {
		approved, err := d.datasource.ApproveDocument(ctx, document.DocumentID)
		if err != nil {
			return err
		}
		if approved {
			refreshed, err := d.datasource.GetDocument(ctx, document.DocumentID)
			if err != nil {
				return err
			}
			d.fireStatusWebhooks(refreshed)
		}
	}

	return nil
}

// HeuristicExtractionService is the default extraction backend used when
// no provider client is wired. It returns no values, which drives every
// templated document to the review path rather than silently inventing
// data.
type HeuristicExtractionService struct{}

func NewHeuristicExtractionService() *HeuristicExtractionService {
	return &HeuristicExtractionService{}
}

func (s *HeuristicExtractionService) Extract(ctx context.Context, fileURL, prompt string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}
