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

package harness

import "time"

// Option configures a Harness.
type Option func(*Harness) error

// WithWorkers sets the worker count in the config file. Default is 2.
//
// Example:
//
//	h := harness.New(t, harness.WithWorkers(4))
func WithWorkers(n int) Option {
	return func(h *Harness) error {
		h.workers = n
		return nil
	}
}

// WithSetting adds a top-level key to the config file.
//
// Example:
//
//	h := harness.New(t, harness.WithSetting("app", "echo"))
func WithSetting(key, value string) Option {
	return func(h *Harness) error {
		h.settings[key] = value
		return nil
	}
}

// WithArgs appends command line overrides after the config file.
//
// Example:
//
//	h := harness.New(t, harness.WithArgs("--graceful-timeout", "2s"))
func WithArgs(args ...string) Option {
	return func(h *Harness) error {
		h.args = append(h.args, args...)
		return nil
	}
}

// WithTimeout bounds how long the harness waits for startup and exit.
// Default is 15 seconds.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) error {
		h.timeout = d
		return nil
	}
}
