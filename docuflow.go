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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/docuflowhq/docuflow/config"
	"github.com/docuflowhq/docuflow/database"
	redis_db "github.com/docuflowhq/docuflow/internal/redis-db"
	"github.com/docuflowhq/docuflow/model"
)

// Docuflow represents the main struct for the DocuFlow application.
type Docuflow struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	extractor  ExtractionService
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewDocuflow initializes a new instance of Docuflow with the provided
// database datasource. It fetches the configuration and initializes the
// Redis client, work queue, and extraction service.
func NewDocuflow(db database.IDataSource) (*Docuflow, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newDocuflow := &Docuflow{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		extractor:  NewHeuristicExtractionService(),
	}
	return newDocuflow, nil
}

// SetExtractionService overrides the extraction backend. Intended for
// wiring real provider clients in the workers and fakes in tests.
func (d *Docuflow) SetExtractionService(svc ExtractionService) {
	d.extractor = svc
}

// Queue exposes the underlying work queue.
func (d *Docuflow) Queue() *Queue {
	return d.queue
}

// GetActivities lists a tenant's audit records, newest first.
func (d *Docuflow) GetActivities(ctx context.Context, tenantID string, limit, offset int) ([]*model.Activity, error) {
	return d.datasource.GetActivitiesForTenant(ctx, tenantID, limit, offset)
}
