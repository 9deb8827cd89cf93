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
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"

	"github.com/docuflowhq/docuflow/config"
	redis_db "github.com/docuflowhq/docuflow/internal/redis-db"
	"github.com/docuflowhq/docuflow/model"
)

var tracer = otel.Tracer("Queue document")

// Queue represents a queue for handling document processing and webhook
// delivery tasks.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// WebhookDeliveryPayload is the task payload for one webhook delivery
// attempt.
type WebhookDeliveryPayload struct {
	EventID   string `json:"event_id"`
	WebhookID string `json:"webhook_id"`
}

// NewQueue initializes a new Queue instance with the provided
// configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// QueueForPriority maps a document priority to the queue it is processed
// on. Critical and urgent documents share the urgent queue; high gets its
// own; everything else lands on the default document queue.
func QueueForPriority(conf *config.Configuration, priority model.Priority) string {
	switch {
	case priority >= model.PriorityUrgent:
		return conf.Queue.UrgentQueue
	case priority == model.PriorityHigh:
		return conf.Queue.HighPriorityQueue
	default:
		return conf.Queue.DocumentQueue
	}
}

// Enqueue enqueues a document for processing on the queue matching its
// priority.
func (q *Queue) Enqueue(ctx context.Context, document *model.Document) error {
	return q.enqueueDocument(ctx, document, 0)
}

// EnqueueIn enqueues a document for processing after the given delay.
// Used by the retry monitor to honor the failure backoff schedule.
func (q *Queue) EnqueueIn(ctx context.Context, document *model.Document, delay time.Duration) error {
	return q.enqueueDocument(ctx, document, delay)
}

func (q *Queue) enqueueDocument(ctx context.Context, document *model.Document, delay time.Duration) error {
	ctx, span := tracer.Start(ctx, "Adding Document To Redis Queue")
	defer span.End()

	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(document)
	if err != nil {
		return err
	}

	queueName := QueueForPriority(cfg, document.Priority)
	taskOptions := []asynq.Option{
		asynq.TaskID(fmt.Sprintf("%s_%d", document.DocumentID, document.RetryCount)),
		asynq.Queue(queueName),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(cfg.Queue.DocumentQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued document: %+v on %s", document.DocumentID, queueName)

	return nil
}

// EnqueueWebhookDelivery enqueues one delivery attempt for a webhook
// event, optionally delayed. Task-level retries are disabled: the
// per-webhook retry bound is the only delivery bound, enforced by the
// delivery handler itself.
func (q *Queue) EnqueueWebhookDelivery(ctx context.Context, eventID, webhookID string, delay time.Duration) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(WebhookDeliveryPayload{EventID: eventID, WebhookID: webhookID})
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{
		asynq.Queue(cfg.Queue.WebhookQueue),
		asynq.MaxRetry(0),
	}
	if delay > 0 {
		taskOptions = append(taskOptions, asynq.ProcessIn(delay))
	}

	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook delivery: %s", eventID)

	return nil
}

// GetDocumentFromQueue retrieves a queued document task by its ID,
// checking each of the priority queues in turn.
func (q *Queue) GetDocumentFromQueue(documentID string, retryCount int) (*model.Document, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	taskID := fmt.Sprintf("%s_%d", documentID, retryCount)
	for _, queueName := range []string{cfg.Queue.UrgentQueue, cfg.Queue.HighPriorityQueue, cfg.Queue.DocumentQueue} {
		task, err := q.Inspector.GetTaskInfo(queueName, taskID)
		if err != nil {
			continue
		}
		if task != nil {
			var document model.Document
			if err := json.Unmarshal(task.Payload, &document); err != nil {
				return nil, err
			}
			return &document, nil
		}
	}

	return nil, nil
}
