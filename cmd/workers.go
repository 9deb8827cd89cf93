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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/docuflowhq/docuflow"
	"github.com/docuflowhq/docuflow/config"
	redis_db "github.com/docuflowhq/docuflow/internal/redis-db"
	"github.com/docuflowhq/docuflow/model"
)

// processDocument handles a document processing task from the queue.
// Extraction failures are contained inside ProcessDocument as failed
// cycles; an error returned here means the infrastructure itself broke.
func (d *docuflowInstance) processDocument(ctx context.Context, t *asynq.Task) error {
	ctx, span := otel.Tracer("docuflow.documents.worker").Start(ctx, "Process Document From Redis Queue")
	defer span.End()

	var document model.Document
	if err := json.Unmarshal(t.Payload(), &document); err != nil {
		logrus.Error(err)
		return err
	}

	if err := d.docuflow.ProcessDocument(ctx, document.DocumentID); err != nil {
		logrus.Infof("Document %s pushed back for retry due to error: %v", document.DocumentID, err)
		return err
	}

	log.Println(" [*] Document Processed", document.DocumentID)
	return nil
}

// processWebhookDelivery handles one webhook delivery attempt from the
// queue. Retries are self-scheduled by the delivery engine, so this task
// never asks asynq to retry.
func (d *docuflowInstance) processWebhookDelivery(ctx context.Context, t *asynq.Task) error {
	var payload docuflow.WebhookDeliveryPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.Error(err)
		return err
	}

	if err := d.docuflow.ProcessWebhookDelivery(ctx, payload.EventID, payload.WebhookID); err != nil {
		logrus.Errorf("Webhook delivery %s failed: %v", payload.EventID, err)
		return err
	}

	log.Println(" [*] Webhook Delivery Processed", payload.EventID)
	return nil
}

func initializeQueues() map[string]int {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return nil
	}

	queues := make(map[string]int)
	queues[cfg.Queue.UrgentQueue] = 6
	queues[cfg.Queue.HighPriorityQueue] = 3
	queues[cfg.Queue.DocumentQueue] = 1
	queues[cfg.Queue.WebhookQueue] = 3
	return queues
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: conf.Extraction.MaxWorkers,
			Queues:      queues,
		},
	), nil
}

func initializeTaskHandlers(d *docuflowInstance, mux *asynq.ServeMux) {
	cfg, err := config.Fetch()
	if err != nil {
		log.Printf("Error fetching config, using defaults: %v", err)
		return
	}

	// All document queues carry the same task type; asynq routes by
	// queue, the mux routes by type.
	mux.HandleFunc(cfg.Queue.DocumentQueue, d.processDocument)
	mux.HandleFunc(cfg.Queue.WebhookQueue, d.processWebhookDelivery)
}

func startMonitoringServer(conf *config.Configuration) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Printf("Error parsing Redis URL for monitoring: %v", err)
		return
	}

	h := asynqmon.New(asynqmon.Options{
		RootPath: "/monitoring",
		RedisConnOpt: asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
	})

	go func() {
		log.Printf("Starting monitoring server on %s", conf.Queue.MonitoringPort)
		if err := http.ListenAndServe(":"+conf.Queue.MonitoringPort, h); err != nil {
			log.Printf("Monitoring server error: %v", err)
		}
	}()
}

// workerCommands defines the "workers" command that starts the task
// consumers, the stale document processor, and the failed document
// monitor.
func workerCommands(d *docuflowInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start docuflow workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			queues := initializeQueues()

			srv, err := initializeWorkerServer(conf, queues)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(d, mux)

			staleProcessor := docuflow.NewStaleDocumentProcessor(d.docuflow)
			staleProcessor.Start(ctx)
			defer staleProcessor.Stop()

			retryMonitor := docuflow.NewFailedDocumentMonitor(d.docuflow)
			retryMonitor.Start(ctx)
			defer retryMonitor.Stop()

			startMonitoringServer(conf)

			if err := srv.Run(mux); err != nil {
				log.Fatal(err)
			}
		},
	}

	return cmd
}
