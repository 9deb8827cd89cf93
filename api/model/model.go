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
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/docuflowhq/docuflow/model"
)

type CreateDocument struct {
	TenantID         string                 `json:"tenant_id"`
	UserID           string                 `json:"user_id"`
	TemplateID       string                 `json:"extraction_template_id"`
	Name             string                 `json:"name"`
	OriginalFilename string                 `json:"original_filename"`
	ContentType      string                 `json:"content_type"`
	FileSize         int64                  `json:"file_size"`
	FileURL          string                 `json:"file_url"`
	PremiumOwner     bool                   `json:"premium_owner"`
	MetaData         map[string]interface{} `json:"meta_data"`
}

type SetPriority struct {
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

type CreateWebhook struct {
	TenantID       string            `json:"tenant_id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Events         []string          `json:"events"`
	Headers        map[string]string `json:"headers"`
	RetryCount     *int              `json:"retry_count"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

type UpdateWebhook struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Events         []string          `json:"events"`
	Active         *bool             `json:"active"`
	Headers        map[string]string `json:"headers"`
	RetryCount     *int              `json:"retry_count"`
	TimeoutSeconds *int              `json:"timeout_seconds"`
}

type CreateTemplate struct {
	TenantID       string                 `json:"tenant_id"`
	Name           string                 `json:"name"`
	DocumentType   string                 `json:"document_type"`
	Fields         []model.TemplateField  `json:"fields"`
	PromptTemplate string                 `json:"prompt_template"`
	Settings       model.TemplateSettings `json:"settings"`
}

func (d *CreateDocument) ValidateCreateDocument() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.TenantID, validation.Required),
		validation.Field(&d.OriginalFilename, validation.Required),
		validation.Field(&d.FileSize, validation.Min(0)),
	)
}

func (p *SetPriority) ValidateSetPriority() error {
	return validation.ValidateStruct(p,
		validation.Field(&p.Priority, validation.Required, validation.By(func(value interface{}) error {
			name, ok := value.(string)
			if !ok {
				return errors.New("invalid priority type")
			}
			_, err := model.ParsePriority(name)
			return err
		})),
	)
}

func validEventsRule(events []string) validation.RuleFunc {
	return func(value interface{}) error {
		for _, event := range events {
			if !model.ValidEvent(event) {
				return errors.New("unknown webhook event: " + event)
			}
		}
		return nil
	}
}

func httpURLRule(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return errors.New("invalid URL type")
	}
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("URL must be http or https")
	}
	return nil
}

func (w *CreateWebhook) ValidateCreateWebhook() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.TenantID, validation.Required),
		validation.Field(&w.URL, validation.Required, validation.By(httpURLRule)),
		validation.Field(&w.Events, validation.Required, validation.By(validEventsRule(w.Events))),
		validation.Field(&w.RetryCount, validation.Min(model.MinWebhookRetries), validation.Max(model.MaxWebhookRetries)),
		validation.Field(&w.TimeoutSeconds, validation.When(w.TimeoutSeconds != 0,
			validation.Min(model.MinWebhookTimeout), validation.Max(model.MaxWebhookTimeout))),
	)
}

func (w *UpdateWebhook) ValidateUpdateWebhook() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.URL, validation.When(w.URL != "", validation.By(httpURLRule))),
		validation.Field(&w.Events, validation.When(len(w.Events) > 0, validation.By(validEventsRule(w.Events)))),
	)
}

func (t *CreateTemplate) ValidateCreateTemplate() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.TenantID, validation.Required),
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.DocumentType, validation.Required, validation.By(func(value interface{}) error {
			docType, ok := value.(string)
			if !ok || !model.ValidTemplateDocumentType(docType) {
				return errors.New("unknown document type")
			}
			return nil
		})),
		validation.Field(&t.Fields, validation.Required),
	)
}

func (d *CreateDocument) ToDocument() *model.Document {
	return &model.Document{
		TenantID:         d.TenantID,
		UserID:           d.UserID,
		TemplateID:       d.TemplateID,
		Name:             d.Name,
		OriginalFilename: d.OriginalFilename,
		ContentType:      d.ContentType,
		FileSize:         d.FileSize,
		FileURL:          d.FileURL,
		MetaData:         d.MetaData,
	}
}

func (w *CreateWebhook) ToWebhook() *model.Webhook {
	// An omitted retry_count gets the standard budget; an explicit 0
	// is a valid choice and is kept as-is.
	retryCount := model.DefaultWebhookRetries
	if w.RetryCount != nil {
		retryCount = *w.RetryCount
	}
	return &model.Webhook{
		TenantID:       w.TenantID,
		UserID:         w.UserID,
		Name:           w.Name,
		URL:            w.URL,
		Events:         w.Events,
		Headers:        w.Headers,
		RetryCount:     retryCount,
		TimeoutSeconds: w.TimeoutSeconds,
	}
}

// ApplyTo merges the update request onto an existing webhook. Unset
// fields keep their current values.
func (w *UpdateWebhook) ApplyTo(existing *model.Webhook) {
	if w.Name != "" {
		existing.Name = w.Name
	}
	if w.URL != "" {
		existing.URL = w.URL
	}
	if len(w.Events) > 0 {
		existing.Events = w.Events
	}
	if w.Active != nil {
		existing.Active = *w.Active
	}
	if w.Headers != nil {
		existing.Headers = w.Headers
	}
	if w.RetryCount != nil {
		existing.RetryCount = *w.RetryCount
	}
	if w.TimeoutSeconds != nil {
		existing.TimeoutSeconds = *w.TimeoutSeconds
	}
}

func (t *CreateTemplate) ToTemplate() *model.ExtractionTemplate {
	return &model.ExtractionTemplate{
		TenantID:       t.TenantID,
		Name:           t.Name,
		DocumentType:   t.DocumentType,
		Fields:         t.Fields,
		PromptTemplate: t.PromptTemplate,
		Settings:       t.Settings,
		Active:         true,
	}
}
