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
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"DOCUFLOW_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"DOCUFLOW_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"DOCUFLOW_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DOCUFLOW_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DOCUFLOW_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DOCUFLOW_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	DocumentQueue     string `json:"document_queue" envconfig:"DOCUFLOW_QUEUE_DOCUMENT"`
	HighPriorityQueue string `json:"high_priority_queue" envconfig:"DOCUFLOW_QUEUE_HIGH_PRIORITY"`
	UrgentQueue       string `json:"urgent_queue" envconfig:"DOCUFLOW_QUEUE_URGENT"`
	WebhookQueue      string `json:"webhook_queue" envconfig:"DOCUFLOW_QUEUE_WEBHOOK"`
	MonitoringPort    string `json:"monitoring_port" envconfig:"DOCUFLOW_QUEUE_MONITORING_PORT"`
}

type ExtractionConfig struct {
	DefaultProvider string `json:"default_provider" envconfig:"DOCUFLOW_EXTRACTION_DEFAULT_PROVIDER"`
	TimeoutSeconds  int    `json:"timeout_seconds" envconfig:"DOCUFLOW_EXTRACTION_TIMEOUT_SECONDS"`
	MaxWorkers      int    `json:"max_workers" envconfig:"DOCUFLOW_EXTRACTION_MAX_WORKERS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"DOCUFLOW_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	Queue        QueueConfig      `json:"queue"`
	Extraction   ExtractionConfig `json:"extraction"`
	Notification Notification     `json:"notification"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("docuflow", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called docuflow.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "DocuFlow Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.DocumentQueue == "" {
		cnf.Queue.DocumentQueue = "document_processing"
	}
	if cnf.Queue.HighPriorityQueue == "" {
		cnf.Queue.HighPriorityQueue = "high_priority"
	}
	if cnf.Queue.UrgentQueue == "" {
		cnf.Queue.UrgentQueue = "urgent"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "webhooks"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}

	if cnf.Extraction.DefaultProvider == "" {
		cnf.Extraction.DefaultProvider = "openai"
	}
	if cnf.Extraction.TimeoutSeconds <= 0 {
		cnf.Extraction.TimeoutSeconds = 120
	}
	if cnf.Extraction.MaxWorkers <= 0 {
		cnf.Extraction.MaxWorkers = 10
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes. Queue and
// extraction defaults are applied so tests do not need to spell them out.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Queue.DocumentQueue == "" {
		mockConfig.Queue.DocumentQueue = "document_processing"
	}
	if mockConfig.Queue.HighPriorityQueue == "" {
		mockConfig.Queue.HighPriorityQueue = "high_priority"
	}
	if mockConfig.Queue.UrgentQueue == "" {
		mockConfig.Queue.UrgentQueue = "urgent"
	}
	if mockConfig.Queue.WebhookQueue == "" {
		mockConfig.Queue.WebhookQueue = "webhooks"
	}
	if mockConfig.Extraction.DefaultProvider == "" {
		mockConfig.Extraction.DefaultProvider = "openai"
	}
	if mockConfig.Extraction.TimeoutSeconds <= 0 {
		mockConfig.Extraction.TimeoutSeconds = 120
	}
	if mockConfig.Extraction.MaxWorkers <= 0 {
		mockConfig.Extraction.MaxWorkers = 10
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
