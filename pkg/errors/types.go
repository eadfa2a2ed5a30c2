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

package errors

import (
	"fmt"
)

// Process exit codes shared by the master and its workers.
const (
	// ExitOK is returned on a clean shutdown.
	ExitOK = 0

	// ExitFatal is returned when the master halts on an unrecoverable error.
	ExitFatal = 1

	// ExitWorkerBoot is returned by a worker that could not boot.
	// The master treats it as fatal for the whole pool.
	ExitWorkerBoot = 3
)

// ConfigError represents configuration problems.
// Use this for configuration file errors, bad override strings, or invalid values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "port", "log.level")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Key != "" {
		msg = fmt.Sprintf("config error at %s", e.Key)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// BindError is returned when the listen socket cannot be created.
type BindError struct {
	Addr  string
	Port  int
	Cause error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("setup tcp server failed on %s:%d: %v", e.Addr, e.Port, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *BindError) Unwrap() error {
	return e.Cause
}

// HaltError reports that the master stopped its worker pool and must exit
// with Code. Cause is nil for a requested shutdown.
type HaltError struct {
	Code  int
	Cause error
}

// Error implements the error interface.
func (e *HaltError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("halted with exit code %d", e.Code)
	}
	return fmt.Sprintf("halted with exit code %d: %v", e.Code, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *HaltError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the process exit code to use for err.
// nil maps to ExitOK, a HaltError to its Code, anything else to ExitFatal.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var halt *HaltError
	if As(err, &halt) {
		return halt.Code
	}
	return ExitFatal
}
