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
	"fmt"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/preforkd/internal/lifecycle"
)

// masterSignals maps signal command names to the signals the master handles.
var masterSignals = map[string]syscall.Signal{
	"reload": syscall.SIGHUP,
	"quit":   syscall.SIGQUIT,
	"term":   syscall.SIGTERM,
	"incr":   syscall.SIGTTIN,
	"decr":   syscall.SIGTTOU,
}

func signalNames() []string {
	names := make([]string, 0, len(masterSignals))
	for name := range masterSignals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newSignalCommand() *cobra.Command {
	var pidFile string

	cmd := &cobra.Command{
		Use:   "signal <" + strings.Join(signalNames(), "|") + ">",
		Short: "Send a control signal to the running master",
		Long: `Send a control signal to the master named by the PID file.

  reload   re-read the configuration and restart all workers (HUP)
  quit     graceful shutdown (QUIT)
  term     immediate shutdown (TERM)
  incr     add one worker (TTIN)
  decr     remove one worker (TTOU)`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: signalNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, ok := masterSignals[args[0]]
			if !ok {
				return fmt.Errorf("unknown signal %q (want one of %s)", args[0], strings.Join(signalNames(), ", "))
			}
			pid, err := readServerPID(pidFile)
			if err != nil {
				return err
			}
			if err := lifecycle.SendSignal(pid, sig); err != nil {
				return err
			}
			cmd.Printf("sent %s to preforkd master (pid %d)\n", args[0], pid)
			return nil
		},
	}

	cmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to the master PID file")
	return cmd
}
