// Copyright 2025 KisanMitra
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package curator

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration defaults. All tunables are fixed at process start; there is
// no runtime reconfiguration.
const (
	// DefaultTaskTimeoutSeconds bounds one tool invocation attempt.
	DefaultTaskTimeoutSeconds = 30

	// DefaultGlobalDeadlineSeconds bounds the whole plan. Tasks still
	// running at the deadline are abandoned.
	DefaultGlobalDeadlineSeconds = 60

	// DefaultRetryBound is the number of retries after the first attempt
	// for transient failures.
	DefaultRetryBound = 2

	// DefaultBackoffBaseMillis seeds the exponential retry backoff.
	DefaultBackoffBaseMillis = 250

	// DefaultHistoryWindow is K, the number of prior turns the router
	// sees.
	DefaultHistoryWindow = 6

	// DefaultMaxParallelTasks caps concurrent tool invocations per plan.
	DefaultMaxParallelTasks = 5
)

// Config is the curator service configuration, loaded from YAML with
// environment overrides applied on top.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Router   RouterConfig   `yaml:"router"`
	Backends BackendsConfig `yaml:"backends"`
	Stores   StoresConfig   `yaml:"stores"`
}

// ServiceConfig is the HTTP surface configuration.
type ServiceConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DispatchConfig holds the task manager tunables.
type DispatchConfig struct {
	TaskTimeoutSeconds    int `yaml:"task_timeout_seconds"`
	GlobalDeadlineSeconds int `yaml:"global_deadline_seconds"`
	RetryBound            int `yaml:"retry_bound"`
	BackoffBaseMillis     int `yaml:"backoff_base_millis"`
	MaxParallelTasks      int `yaml:"max_parallel_tasks"`
}

// RouterConfig holds the query router tunables.
type RouterConfig struct {
	HistoryWindow int    `yaml:"history_window"`
	LLMProvider   string `yaml:"llm_provider"` // openai, bedrock, or empty for rules only
	LLMModel      string `yaml:"llm_model"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	AWSRegion     string `yaml:"aws_region"`
}

// BackendsConfig names the tool backend endpoints.
type BackendsConfig struct {
	SearchEndpoint     string `yaml:"search_endpoint"`
	SearchAPIKey       string `yaml:"search_api_key"`
	IndexEndpoint      string `yaml:"index_endpoint"`
	PriceFeedEndpoint  string `yaml:"price_feed_endpoint"`
	GeocodingEndpoint  string `yaml:"geocoding_endpoint"`
	ForecastEndpoint   string `yaml:"forecast_endpoint"`
	ClassifierEndpoint string `yaml:"classifier_endpoint"`
	ImageBucket        string `yaml:"image_bucket"`
	S3Endpoint         string `yaml:"s3_endpoint"`
	AWSRegion          string `yaml:"aws_region"`
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
}

// StoresConfig names the persistence backends. RedisURL empty selects the
// in-memory task store; PostgresURL empty disables turn history; MongoURL
// empty disables the user data logger.
type StoresConfig struct {
	RedisURL    string `yaml:"redis_url"`
	PostgresURL string `yaml:"postgres_url"`
	MongoURL    string `yaml:"mongo_url"`
	MongoDB     string `yaml:"mongo_db"`
}

// LoadConfig reads the YAML config at path and applies environment
// overrides. An empty path yields defaults plus environment.
func LoadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return config, nil
}

// defaultConfig seeds every tunable before the YAML layer is applied.
// Unmarshal only touches keys present in the file, so an explicit zero in
// YAML (retry_bound: 0 disables retries) is preserved rather than being
// mistaken for unset.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{Port: 8090},
		Dispatch: DispatchConfig{
			TaskTimeoutSeconds:    DefaultTaskTimeoutSeconds,
			GlobalDeadlineSeconds: DefaultGlobalDeadlineSeconds,
			RetryBound:            DefaultRetryBound,
			BackoffBaseMillis:     DefaultBackoffBaseMillis,
			MaxParallelTasks:      DefaultMaxParallelTasks,
		},
		Router: RouterConfig{HistoryWindow: DefaultHistoryWindow},
		Stores: StoresConfig{MongoDB: "kisanmitra"},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CURATOR_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Service.Port = port
		}
	}
	if v := os.Getenv("CURATOR_TASK_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.TaskTimeoutSeconds = n
		}
	}
	if v := os.Getenv("CURATOR_GLOBAL_DEADLINE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.GlobalDeadlineSeconds = n
		}
	}
	if v := os.Getenv("CURATOR_RETRY_BOUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.RetryBound = n
		}
	}
	if v := os.Getenv("CURATOR_HISTORY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Router.HistoryWindow = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Router.OpenAIAPIKey = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Stores.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Stores.PostgresURL = v
	}
	if v := os.Getenv("MONGO_URL"); v != "" {
		c.Stores.MongoURL = v
	}
	if v := os.Getenv("SEARCH_API_KEY"); v != "" {
		c.Backends.SearchAPIKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		c.Backends.AWSRegion = v
		c.Router.AWSRegion = v
	}
}

// Validate checks the configuration for out-of-range tunables.
func (c *Config) Validate() error {
	if c.Dispatch.TaskTimeoutSeconds < 0 {
		return fmt.Errorf("task_timeout_seconds cannot be negative")
	}
	if c.Dispatch.GlobalDeadlineSeconds < 0 {
		return fmt.Errorf("global_deadline_seconds cannot be negative")
	}
	if c.Dispatch.RetryBound < 0 {
		return fmt.Errorf("retry_bound cannot be negative")
	}
	if c.Dispatch.MaxParallelTasks < 0 {
		return fmt.Errorf("max_parallel_tasks cannot be negative")
	}
	if c.Router.HistoryWindow < 0 {
		return fmt.Errorf("history_window cannot be negative")
	}
	if c.Dispatch.TaskTimeoutSeconds > c.Dispatch.GlobalDeadlineSeconds {
		return fmt.Errorf("task_timeout_seconds (%d) exceeds global_deadline_seconds (%d)",
			c.Dispatch.TaskTimeoutSeconds, c.Dispatch.GlobalDeadlineSeconds)
	}
	return nil
}

// TaskTimeout returns the per-invocation timeout as a duration.
func (c *DispatchConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// GlobalDeadline returns the plan deadline as a duration.
func (c *DispatchConfig) GlobalDeadline() time.Duration {
	return time.Duration(c.GlobalDeadlineSeconds) * time.Second
}

// BackoffBase returns the backoff seed as a duration.
func (c *DispatchConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMillis) * time.Millisecond
}
