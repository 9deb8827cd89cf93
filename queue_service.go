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
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/docuflowhq/docuflow/model"
)

// StaleProcessingThreshold is how long a document may sit in processing
// before it is treated as abandoned by a dead worker and requeued. This
// is a system-wide bound, deliberately not configurable.
const StaleProcessingThreshold = 30 * time.Minute

const staleSweepLockKey = "docuflow:stale_sweep_lock"

// QueueStats is a point-in-time snapshot of a tenant's processing queue.
type QueueStats struct {
	TotalPending            int64            `json:"total_pending"`
	ByPriority              map[string]int64 `json:"by_priority"`
	ByStatus                map[string]int64 `json:"by_status"`
	AverageWaitSeconds      float64          `json:"average_wait_seconds"`
	ProcessingRatePerMinute float64          `json:"processing_rate_per_minute"`
	EstimatedCompletionAt   *time.Time       `json:"estimated_completion_at,omitempty"`
}

// NextDocument returns the document the scheduler would hand out next for
// a tenant: highest priority first, oldest first within a priority. This
// is a read-only peek; claiming happens in StartProcessing.
func (d *Docuflow) NextDocument(ctx context.Context, tenantID string) (*model.Document, error) {
	return d.datasource.NextReadyDocument(ctx, tenantID)
}

// GetQueueStats computes the tenant's queue snapshot. The processing rate
// is taken over a rolling hour; the completion estimate is omitted when
// the rate is zero.
func (d *Docuflow) GetQueueStats(ctx context.Context, tenantID string) (*QueueStats, error) {
	ctx, span := tracer.Start(ctx, "Computing queue stats")
	defer span.End()

	totalPending, err := d.datasource.CountPendingDocuments(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byPriority, err := d.datasource.CountDocumentsByPriority(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	byStatus, err := d.datasource.CountDocumentsByStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	averageWait, err := d.datasource.AveragePendingWaitSeconds(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	processedLastHour, err := d.datasource.CountProcessedSince(ctx, tenantID, time.Now().Add(-time.Hour))
	if err != nil {
		return nil, err
	}

	rate := float64(processedLastHour) / 60.0
	stats := &QueueStats{
		TotalPending:            totalPending,
		ByPriority:              byPriority,
		ByStatus:                byStatus,
		AverageWaitSeconds:      averageWait,
		ProcessingRatePerMinute: rate,
	}

	if rate > 0 && totalPending > 0 {
		minutes := math.Ceil(float64(totalPending) / rate)
		eta := time.Now().Add(time.Duration(minutes) * time.Minute)
		stats.EstimatedCompletionAt = &eta
	}

	return stats, nil
}

// RequeueStaleDocuments sweeps documents stuck in processing beyond the
// stale threshold: each is reset to pending, escalated, and re-enqueued.
// The sweep is idempotent; a document already reset by a concurrent sweep
// affects zero rows and is skipped.
func (d *Docuflow) RequeueStaleDocuments(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Requeuing stale documents")
	defer span.End()

	staleDocs, err := d.datasource.GetStaleProcessingDocuments(ctx, StaleProcessingThreshold, 100)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, document := range staleDocs {
		reset, err := d.datasource.ResetStaleDocument(ctx, document.DocumentID, model.ReasonStaleTimeout)
		if err != nil {
			logrus.Errorf("failed to reset stale document %s: %v", document.DocumentID, err)
			continue
		}
		if !reset {
			continue
		}

		escalated := document.Priority.Escalate()
		if escalated != document.Priority {
			if err := d.datasource.UpdateDocumentPriority(ctx, document.DocumentID, escalated, model.ReasonStaleTimeout); err != nil {
				logrus.Errorf("failed to escalate stale document %s: %v", document.DocumentID, err)
			}
		}

		document.Status = model.StatusPending
		document.Priority = escalated
		document.ProcessingStartedAt = nil
		if err := d.queue.Enqueue(ctx, document); err != nil {
			logrus.Errorf("failed to re-enqueue stale document %s: %v", document.DocumentID, err)
			continue
		}
		requeued++
	}

	if requeued > 0 {
		logrus.Infof("Requeued %d stale documents (threshold=%v)", requeued, StaleProcessingThreshold)
	}
	return requeued, nil
}

// StaleDocumentProcessor periodically sweeps stale processing documents.
// A redis lock keeps concurrent instances from double-sweeping.
type StaleDocumentProcessor struct {
	docuflow     *Docuflow
	pollInterval time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup
	running      bool
	mu           sync.Mutex
}

func NewStaleDocumentProcessor(docuflow *Docuflow) *StaleDocumentProcessor {
	return &StaleDocumentProcessor{
		docuflow:     docuflow,
		pollInterval: 1 * time.Minute,
		stopCh:       make(chan struct{}),
	}
}

func (p *StaleDocumentProcessor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()

	logrus.Info("Stale document processor started")
}

func (p *StaleDocumentProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("Stale document processor stopped")
}

func (p *StaleDocumentProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *StaleDocumentProcessor) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Stale document processor context cancelled")
			return
		case <-p.stopCh:
			logrus.Info("Stale document processor stop signal received")
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *StaleDocumentProcessor) sweep(ctx context.Context) {
	acquired, err := p.docuflow.redis.SetNX(ctx, staleSweepLockKey, "locked", p.pollInterval).Result()
	if err != nil {
		logrus.Errorf("failed to acquire stale sweep lock: %v", err)
		return
	}
	if !acquired {
		return
	}
	defer p.docuflow.redis.Del(ctx, staleSweepLockKey)

	if _, err := p.docuflow.RequeueStaleDocuments(ctx); err != nil {
		logrus.Errorf("stale document sweep failed: %v", err)
	}
}
