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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Priority is the ordered processing priority of a document. Higher values
// are dequeued first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

// Canonical priority reasons recorded alongside a priority change.
const (
	ReasonManual        = "Manually prioritized"
	ReasonSubscription  = "Premium subscription"
	ReasonRetryFailure  = "Previous processing failure"
	ReasonDocumentType  = "High-priority document type"
	ReasonCriticalType  = "Critical document type"
	ReasonBulkOperation = "Bulk operation"
	ReasonStaleTimeout  = "Processing timeout - automatically requeued"
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityUrgent:   "urgent",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "normal"
}

// Valid reports whether p is one of the five defined levels.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a priority name into a Priority. It returns an
// error for anything outside the fixed level set.
func ParsePriority(name string) (Priority, error) {
	for p, n := range priorityNames {
		if n == strings.ToLower(strings.TrimSpace(name)) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("invalid priority level: %q", name)
}

// MarshalJSON encodes the priority by name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParsePriority(name)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Escalate moves the priority one level up the ordered scale. It is a
// no-op at critical, so repeated escalation is safe.
func (p Priority) Escalate() Priority {
	if p >= PriorityCritical {
		return PriorityCritical
	}
	return p + 1
}

// DetectPriority applies the creation-time priority heuristic. Rules are
// applied in order and the last applicable rule wins: a premium owner gets
// high outright; otherwise invoice-like filenames escalate to high and
// contract-like filenames to urgent; a bulk-upload flag then demotes to
// low regardless of the type-based escalation.
func DetectPriority(filename string, premiumOwner bool, bulkUpload bool) (Priority, string) {
	if premiumOwner {
		return PriorityHigh, ReasonSubscription
	}

	priority, reason := PriorityNormal, ""

	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "invoice"), strings.Contains(name, "receipt"), strings.Contains(name, "bill"):
		priority, reason = PriorityHigh, ReasonDocumentType
	case strings.Contains(name, "contract"), strings.Contains(name, "agreement"), strings.Contains(name, "legal"):
		priority, reason = PriorityUrgent, ReasonCriticalType
	}

	if bulkUpload {
		priority, reason = PriorityLow, ReasonBulkOperation
	}

	return priority, reason
}

// ProcessingTimeEstimate returns the advisory duration estimate for a
// document: a base bucket by file size plus 5 seconds per templated field.
func ProcessingTimeEstimate(fileSize int64, fieldCount int) time.Duration {
	const megabyte = 1 << 20

	var base time.Duration
	switch {
	case fileSize <= 1*megabyte:
		base = 30 * time.Second
	case fileSize <= 5*megabyte:
		base = 1 * time.Minute
	case fileSize <= 10*megabyte:
		base = 2 * time.Minute
	default:
		base = 5 * time.Minute
	}

	return base + time.Duration(fieldCount)*5*time.Second
}
