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

package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestValidateAndAddDefaults(t *testing.T) {
	cnf := Configuration{
		DataSource: DataSourceConfig{Dns: ""},
		Redis:      RedisConfig{Dns: "localhost:6379"},
	}

	err := cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "data source DNS is required" {
		t.Errorf("Expected data source DNS required error, got %v", err)
	}

	cnf = Configuration{
		DataSource: DataSourceConfig{Dns: "postgres://localhost:5432"},
		Redis:      RedisConfig{Dns: ""},
	}

	err = cnf.validateAndAddDefaults()
	if err == nil || err.Error() != "redis DNS is required" {
		t.Errorf("Expected redis DNS required error, got %v", err)
	}

	cnf = Configuration{
		ProjectName: "Test Project",
		DataSource:  DataSourceConfig{Dns: "some-dns"},
		Redis:       RedisConfig{Dns: "localhost:6379"},
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	// Default port setting
	cnf.Server.Port = ""
	if err := cnf.validateAndAddDefaults(); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if cnf.Server.Port != DEFAULT_PORT {
		t.Errorf("Expected default port %s, got %s", DEFAULT_PORT, cnf.Server.Port)
	}

	// Queue name defaults
	if cnf.Queue.DocumentQueue != "document_processing" {
		t.Errorf("Expected default document queue, got %s", cnf.Queue.DocumentQueue)
	}
	if cnf.Queue.HighPriorityQueue != "high_priority" {
		t.Errorf("Expected default high priority queue, got %s", cnf.Queue.HighPriorityQueue)
	}
	if cnf.Queue.UrgentQueue != "urgent" {
		t.Errorf("Expected default urgent queue, got %s", cnf.Queue.UrgentQueue)
	}
	if cnf.Queue.WebhookQueue != "webhooks" {
		t.Errorf("Expected default webhook queue, got %s", cnf.Queue.WebhookQueue)
	}

	// Extraction defaults
	if cnf.Extraction.DefaultProvider != "openai" {
		t.Errorf("Expected default provider openai, got %s", cnf.Extraction.DefaultProvider)
	}
	if cnf.Extraction.TimeoutSeconds != 120 {
		t.Errorf("Expected default extraction timeout 120, got %d", cnf.Extraction.TimeoutSeconds)
	}
	if cnf.Extraction.MaxWorkers != 10 {
		t.Errorf("Expected default max workers 10, got %d", cnf.Extraction.MaxWorkers)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "docuflow.json")
	if err != nil {
		t.Fatalf("Unable to create temporary file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	sampleConfig := Configuration{
		ProjectName: "Temp Project",
		DataSource:  DataSourceConfig{Dns: "temp-dns"},
		Redis:       RedisConfig{Dns: "temp-redis"},
	}
	if err := json.NewEncoder(tmpFile).Encode(sampleConfig); err != nil {
		t.Fatalf("Unable to write to temporary file: %v", err)
	}
	tmpFile.Close()

	os.Setenv("DOCUFLOW_PROJECT_NAME", "Env Project")
	defer os.Unsetenv("DOCUFLOW_PROJECT_NAME")

	if err := loadConfigFromFile(tmpFile.Name()); err != nil {
		t.Fatalf("loadConfigFromFile failed: %v", err)
	}

	loadedConfig, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if loadedConfig.ProjectName != "Env Project" {
		t.Errorf("Expected ProjectName to be 'Env Project', got '%s'", loadedConfig.ProjectName)
	}

	if loadedConfig.DataSource.Dns != "temp-dns" {
		t.Errorf("Expected DataSource.Dns to be 'temp-dns', got '%s'", loadedConfig.DataSource.Dns)
	}
}

func TestMockConfig(t *testing.T) {
	MockConfig(&Configuration{
		Redis:      RedisConfig{Dns: "localhost:6379"},
		DataSource: DataSourceConfig{Dns: "test-dns"},
	})

	cnf, err := Fetch()
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if cnf.Queue.DocumentQueue != "document_processing" {
		t.Errorf("Expected mock config to carry queue defaults, got %s", cnf.Queue.DocumentQueue)
	}
	if cnf.Extraction.MaxWorkers != 10 {
		t.Errorf("Expected mock config to carry extraction defaults, got %d", cnf.Extraction.MaxWorkers)
	}
}
