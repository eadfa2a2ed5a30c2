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

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/preforkd/internal/lifecycle"
)

// StatusInfo is the output of the status command.
type StatusInfo struct {
	PID     int    `json:"pid"`
	Running bool   `json:"running"`
	Command string `json:"command,omitempty"`

	// Health is set when --check was given.
	Health *HealthInfo `json:"health,omitempty"`
}

// HealthInfo reports one HTTP health check.
type HealthInfo struct {
	URL            string `json:"url"`
	Healthy        bool   `json:"healthy"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

func newStatusCommand() *cobra.Command {
	var (
		pidFile  string
		checkURL string
		wait     time.Duration
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the master is running and serving",
		Long: `Report the master named by the PID file. With --check, also request the
given URL (for example http://127.0.0.1:10828/healthz) from the workers,
retrying for up to --wait.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readServerPID(pidFile)
			if err != nil {
				return err
			}

			proc := lifecycle.GetProcessInfo(pid)
			info := StatusInfo{PID: proc.PID, Running: proc.Running, Command: proc.Command}

			var healthErr error
			if checkURL != "" {
				info.Health, healthErr = checkHealth(cmd, checkURL, wait)
			}

			if asJSON {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal status: %w", err)
				}
				cmd.Println(string(data))
			} else {
				printStatus(cmd, info)
			}
			return healthErr
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to the master PID file")
	cmd.Flags().StringVar(&checkURL, "check", "", "URL to request from the workers")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Keep retrying --check until healthy or this long has passed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output in JSON format")
	return cmd
}

func checkHealth(cmd *cobra.Command, url string, wait time.Duration) (*HealthInfo, error) {
	checker := lifecycle.NewHealthChecker(url)

	var res *lifecycle.HealthCheckResult
	var err error
	if wait > 0 {
		res, err = checker.WaitUntilHealthy(cmd.Context(), wait, nil)
	} else {
		res = checker.Check(cmd.Context())
		if !res.Success {
			err = fmt.Errorf("health check failed: %w", res.Error)
		}
	}

	info := &HealthInfo{URL: url}
	if res != nil {
		info.Healthy = res.Success
		info.StatusCode = res.StatusCode
		info.ResponseTimeMs = res.ResponseTime.Milliseconds()
		if res.Error != nil {
			info.Error = res.Error.Error()
		}
	}
	return info, err
}

func printStatus(cmd *cobra.Command, info StatusInfo) {
	cmd.Printf("preforkd master is running (pid %d)\n", info.PID)
	if info.Command != "" {
		cmd.Printf("  command: %s\n", info.Command)
	}
	if h := info.Health; h != nil {
		state := "healthy"
		if !h.Healthy {
			state = "unhealthy"
		}
		cmd.Printf("  %s: %s", h.URL, state)
		if h.StatusCode != 0 {
			cmd.Printf(" (HTTP %d, %dms)", h.StatusCode, h.ResponseTimeMs)
		}
		cmd.Println()
		if h.Error != "" {
			cmd.Printf("  error: %s\n", h.Error)
		}
	}
}
