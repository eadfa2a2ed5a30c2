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
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/preforkd/internal/config"
	"github.com/tombee/preforkd/internal/lifecycle"
	"github.com/tombee/preforkd/internal/log"
	"github.com/tombee/preforkd/internal/master"
	perrors "github.com/tombee/preforkd/pkg/errors"
)

// Process checks used by the PID file commands. Tests replace them.
var (
	isProcessRunning = lifecycle.IsProcessRunning
	isServerProcess  = lifecycle.IsServerProcess
)

// NewRootCommand creates the root command. Without a subcommand it runs
// the master in the foreground.
func NewRootCommand(info VersionInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preforkd [config-file] [--key value ...]",
		Short: "preforkd - preforking application server",
		Long: `preforkd binds a TCP socket, forks a pool of worker processes that
accept connections on it, and supervises them.

Signals to the master:
  HUP    reload configuration and restart workers
  QUIT   graceful shutdown
  TERM   immediate shutdown (also INT)
  TTIN   add one worker
  TTOU   remove one worker`,
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE:               runServer,
	}

	cmd.AddCommand(
		newSignalCommand(),
		newStopCommand(),
		newStatusCommand(),
		newVersionCommand(info),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(info VersionInfo, args []string) int {
	cmd := NewRootCommand(info)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	code := perrors.ExitCode(err)
	if code != perrors.ExitOK {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return code
}

func runServer(cmd *cobra.Command, args []string) error {
	for _, arg := range args {
		if arg == "-h" || arg == "--help" {
			return cmd.Help()
		}
	}

	path, overrides, err := ParseArgs(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path, overrides)
	if err != nil {
		return err
	}

	logger := log.New(cfg.LoggerConfig())
	if path == "" {
		logger.Info("no config file specified, using the default settings")
	}

	sup, err := master.New(cfg, master.Options{Logger: logger})
	if err != nil {
		return err
	}
	return sup.Run(cmd.Context())
}

// ParseArgs splits the server command line into a config file path and an
// override string. The path is the first argument when it is not a
// --key. Values may follow a key as separate words or as --key=value.
func ParseArgs(args []string) (path, overrides string, err error) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "--") {
		path = args[0]
		args = args[1:]
	}

	var lines []string
	for _, arg := range args {
		if key, ok := strings.CutPrefix(arg, "--"); ok {
			if key == "" {
				return "", "", &perrors.ConfigError{Reason: "empty override key"}
			}
			if k, v, found := strings.Cut(key, "="); found {
				key = k + " " + v
			}
			lines = append(lines, key)
			continue
		}
		if len(lines) == 0 {
			return "", "", &perrors.ConfigError{
				Reason: fmt.Sprintf("unexpected argument %q, expected --key value", arg),
			}
		}
		lines[len(lines)-1] += " " + arg
	}
	return path, strings.Join(lines, "\n"), nil
}

// readServerPID reads the master PID from pidFile and checks that it names
// a running preforkd process.
func readServerPID(pidFile string) (int, error) {
	if pidFile == "" {
		return 0, fmt.Errorf("--pid-file is required")
	}
	pid, err := lifecycle.NewPIDFileManager(pidFile).Read()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("server is not running (no PID file at %s)", pidFile)
		}
		return 0, err
	}
	if !isProcessRunning(pid) {
		return 0, fmt.Errorf("pid %d: %w", pid, lifecycle.ErrProcessNotRunning)
	}
	if !isServerProcess(pid) {
		return 0, fmt.Errorf("pid %d: %w", pid, lifecycle.ErrNotServerProcess)
	}
	return pid, nil
}
