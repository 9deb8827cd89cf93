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

package database

import (
	"context"
	"encoding/json"

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/model"
)

func (d Datasource) RecordActivity(ctx context.Context, act *model.Activity) error {
	metaDataJSON, err := json.Marshal(act.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal activity metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO activities(activity_id,tenant_id,user_id,action,trackable_kind,trackable_id,meta_data,created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, act.ActivityID, act.TenantID, act.UserID, act.Action, act.TrackableKind, act.TrackableID, metaDataJSON, act.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record activity", err)
	}
	return nil
}

func (d Datasource) GetActivitiesForTenant(ctx context.Context, tenantID string, limit, offset int) ([]*model.Activity, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT activity_id, tenant_id, user_id, action, trackable_kind, trackable_id, meta_data, created_at
		FROM activities WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve activities", err)
	}
	defer func() { _ = rows.Close() }()

	var activities []*model.Activity
	for rows.Next() {
		act := &model.Activity{}
		var metaDataJSON []byte
		if err := rows.Scan(&act.ActivityID, &act.TenantID, &act.UserID, &act.Action, &act.TrackableKind,
			&act.TrackableID, &metaDataJSON, &act.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan activity", err)
		}
		if len(metaDataJSON) > 0 {
			if err := json.Unmarshal(metaDataJSON, &act.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal activity metadata", err)
			}
		}
		activities = append(activities, act)
	}
	return activities, rows.Err()
}
