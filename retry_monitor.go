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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuflowhq/docuflow/model"
)

const retrySweepLockKey = "docuflow:retry_sweep_lock"

// RetryDelayForCount returns the backoff before a failed document is
// retried, indexed by how many times it has already failed.
func RetryDelayForCount(retryCount int) time.Duration {
	switch retryCount {
	case 0:
		return 5 * time.Minute
	case 1:
		return 15 * time.Minute
	case 2:
		return 30 * time.Minute
	default:
		return 1 * time.Hour
	}
}

// SweepFailedDocuments finds documents that failed within the last hour
// with retry budget left and requeues the ones whose backoff has elapsed.
// The failed transition already escalated their priority, so the retry
// lands on a faster queue.
func (d *Docuflow) SweepFailedDocuments(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Sweeping failed documents")
	defer span.End()

	failedDocs, err := d.datasource.GetRetryableFailedDocuments(ctx, time.Now().Add(-time.Hour), model.MaxDocumentRetries, 100)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, document := range failedDocs {
		delay := RetryDelayForCount(document.RetryCount)
		if time.Since(document.UpdatedAt) < delay {
			continue
		}

		ok, err := d.datasource.RequeueFailedDocument(ctx, document.DocumentID)
		if err != nil {
			logrus.Errorf("failed to requeue document %s: %v", document.DocumentID, err)
			continue
		}
		if !ok {
			continue
		}

		document.Status = model.StatusPending
		if err := d.queue.Enqueue(ctx, document); err != nil {
			logrus.Errorf("failed to enqueue retry for document %s: %v", document.DocumentID, err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		logrus.Infof("Requeued %d failed documents for retry", requeued)
	}
	return requeued, nil
}

// FailedDocumentMonitor periodically sweeps retryable failed documents.
type FailedDocumentMonitor struct {
	docuflow     *Docuflow
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewFailedDocumentMonitor(docuflow *Docuflow) *FailedDocumentMonitor {
	return &FailedDocumentMonitor{
		docuflow:     docuflow,
		pollInterval: 5 * time.Minute,
		stopCh:       make(chan struct{}),
	}
}

func (m *FailedDocumentMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()

	logrus.Info("Failed document monitor started")
}

func (m *FailedDocumentMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	logrus.Info("Failed document monitor stopped")
}

func (m *FailedDocumentMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *FailedDocumentMonitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Failed document monitor context cancelled")
			return
		case <-m.stopCh:
			logrus.Info("Failed document monitor stop signal received")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *FailedDocumentMonitor) sweep(ctx context.Context) {
	acquired, err := m.docuflow.redis.SetNX(ctx, retrySweepLockKey, "locked", m.pollInterval).Result()
	if err != nil {
		logrus.Errorf("failed to acquire retry sweep lock: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer m.docuflow.redis.Del(ctx, retrySweepLockKey)

	if _, err := m.docuflow.SweepFailedDocuments(ctx); err != nil {
		logrus.Errorf("failed document sweep failed: %v", err)
	}
}
