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

package worker

import (
	"fmt"
	"log/slog"
	"os"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/tombee/preforkd/internal/app"
	"github.com/tombee/preforkd/internal/config"
	"github.com/tombee/preforkd/internal/listener"
	"github.com/tombee/preforkd/internal/log"
	"github.com/tombee/preforkd/internal/protocol"
	"github.com/tombee/preforkd/internal/relay"
	perrors "github.com/tombee/preforkd/pkg/errors"
)

// ChildFlag marks a process started by the master as a worker.
const ChildFlag = "--worker-child"

// IDEnv carries the id the master assigned to a worker.
const IDEnv = "PREFORKD_WORKER_ID"

// IsChild reports whether args (without the program name) request worker mode.
func IsChild(args []string) bool {
	for _, arg := range args {
		if arg == ChildFlag {
			return true
		}
	}
	return false
}

// childFlags holds the flags the master passes a worker.
type childFlags struct {
	child    bool
	listenFD int
}

func parseChildFlags(args []string) (childFlags, error) {
	var flags childFlags

	fs := pflag.NewFlagSet("worker-child", pflag.ContinueOnError)
	fs.BoolVar(&flags.child, "worker-child", false, "Run as a worker process")
	fs.IntVar(&flags.listenFD, "listen-fd", listener.InheritedFD, "Inherited listen socket descriptor")
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		return flags, err
	}
	if !flags.child {
		return flags, fmt.Errorf("%s not set", ChildFlag)
	}
	return flags, nil
}

// Main boots and runs a worker process. It returns the process exit code:
// perrors.ExitWorkerBoot when the worker could not boot, which makes the
// master halt the whole server.
func Main(args []string) int {
	w, logger, err := boot(args)
	if err != nil {
		if logger == nil {
			logger = log.New(log.FromEnv())
		}
		logger.Error("worker failed to boot", log.Error(err))
		return perrors.ExitWorkerBoot
	}

	if err := w.Run(); err != nil {
		logger.Error("worker exited with error", log.Error(err))
		return perrors.ExitFatal
	}
	return perrors.ExitOK
}

// boot decodes the handed-off configuration, adopts the listen socket and
// selects the capabilities.
func boot(args []string) (*Worker, *slog.Logger, error) {
	flags, err := parseChildFlags(args)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid worker flags: %w", err)
	}

	cfg, err := config.WorkerFromEnv()
	if err != nil {
		return nil, nil, err
	}

	logger := log.New(cfg.LoggerConfig())
	logger = log.WithComponent(logger, "worker")
	logger = log.WithWorker(logger, os.Getpid(), os.Getenv(IDEnv))

	rl, err := newStopRelay(logger)
	if err != nil {
		return nil, logger, err
	}
	defer func() {
		if err != nil {
			_ = rl.Close()
		}
	}()

	sock, err := listener.Inherit(flags.listenFD)
	if err != nil {
		return nil, logger, err
	}

	selectProtocol, err := protocol.Lookup(cfg.Protocol)
	if err != nil {
		return nil, logger, err
	}
	selectApp, err := app.Lookup(cfg.App, app.Options{StaticDir: cfg.StaticDir})
	if err != nil {
		return nil, logger, err
	}
	if err = app.CheckProtocol(cfg.App, cfg.Protocol); err != nil {
		return nil, logger, err
	}

	IgnoreInterrupt()

	d := NewDispatcher(selectProtocol, selectApp, cfg.ReadTimeout, cfg.WriteTimeout, logger)
	return New(sock.Fd(), cfg.IdleTimeout, d, rl, logger), logger, nil
}

// newStopRelay returns a relay that already queues SIGQUIT. It is created
// before the rest of boot so an early graceful stop is not handled by the
// runtime's default SIGQUIT action.
func newStopRelay(logger *slog.Logger) (*relay.Relay, error) {
	rl, err := relay.New(relay.DefaultQueueSize, logger)
	if err != nil {
		return nil, err
	}
	rl.Notify(syscall.SIGQUIT)
	return rl, nil
}
