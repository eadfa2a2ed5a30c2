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
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/preforkd/internal/config"
	"github.com/tombee/preforkd/internal/lifecycle"
)

func newStopCommand() *cobra.Command {
	var (
		pidFile string
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop the running master",
		Long: `Send QUIT to the master named by the PID file and wait for it to exit.
With --force the master is killed if it is still running after --timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readServerPID(pidFile)
			if err != nil {
				return err
			}

			cmd.Printf("stopping preforkd master (pid %d)...\n", pid)
			err = lifecycle.Shutdown(pid, syscall.SIGQUIT, timeout, force)
			switch {
			case err == nil:
				cmd.Println("stopped")
				return nil
			case errors.Is(err, lifecycle.ErrShutdownTimeout):
				return fmt.Errorf("master still running after %s (use --force to kill it): %w", timeout, err)
			default:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to the master PID file")
	cmd.Flags().DurationVar(&timeout, "timeout", config.DefaultGracefulTimeout+5*time.Second, "How long to wait for the master to exit")
	cmd.Flags().BoolVar(&force, "force", false, "Kill the master if it does not exit in time")
	return cmd
}
