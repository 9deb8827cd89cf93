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
	"database/sql"
	"encoding/json"

	"github.com/docuflowhq/docuflow/internal/apierror"
	"github.com/docuflowhq/docuflow/model"
)

// GetTenantSettings returns the tenant's processing preferences, or nil
// when the tenant has no settings row. Documents reference tenants by
// external ID only, so a missing row is not an error.
func (d Datasource) GetTenantSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT settings FROM tenants WHERE tenant_id = $1
	`, tenantID)

	var settingsJSON []byte
	if err := row.Scan(&settingsJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve tenant settings", err)
	}

	settings := &model.TenantSettings{}
	if err := json.Unmarshal(settingsJSON, settings); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse tenant settings", err)
	}
	return settings, nil
}
