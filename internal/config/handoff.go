// Copyright 2025 Tom Barlow
//
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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkerEnv is the environment variable carrying a worker's configuration
// from the master to the worker process.
const WorkerEnv = "PREFORKD_WORKER_CONFIG"

// EncodeWorker serializes c for a worker process.
func EncodeWorker(c *Config) (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode worker config: %w", err)
	}
	return string(data), nil
}

// DecodeWorker parses a configuration produced by EncodeWorker and
// validates it. Defaults are not applied: the master already did.
func DecodeWorker(s string) (*Config, error) {
	if s == "" {
		return nil, fmt.Errorf("worker config is empty")
	}
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(s), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode worker config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WorkerFromEnv decodes the configuration the master placed in WorkerEnv.
func WorkerFromEnv() (*Config, error) {
	return DecodeWorker(os.Getenv(WorkerEnv))
}
