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

import "time"

// Trackable kinds for activity records. An activity points at exactly one
// entity through a {kind, id} pair instead of a polymorphic association.
const (
	TrackableDocument = "document"
	TrackableWebhook  = "webhook"
	TrackableTemplate = "template"
)

// Activity is a tenant-visible audit record.
type Activity struct {
	ID            int64                  `json:"-"`
	ActivityID    string                 `json:"id"`
	TenantID      string                 `json:"tenant_id"`
	UserID        string                 `json:"user_id,omitempty"`
	Action        string                 `json:"action"`
	TrackableKind string                 `json:"trackable_kind"`
	TrackableID   string                 `json:"trackable_id"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}
