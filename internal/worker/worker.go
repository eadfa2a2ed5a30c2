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

// Package worker implements a worker process: accept one connection,
// service it completely, accept the next.
//
// A worker exits when the master asks it to (SIGQUIT, after finishing the
// current connection), when it notices its parent changed (the master
// died), or when waiting on the listen socket fails.
package worker

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/tombee/preforkd/internal/log"
	"github.com/tombee/preforkd/internal/relay"
)

// Worker is the accept loop of one worker process.
type Worker struct {
	listenFD    int
	idleTimeout time.Duration
	dispatcher  *Dispatcher
	relay       *relay.Relay
	logger      *slog.Logger

	alive   atomic.Bool
	ppid    int
	getppid func() int

	// acceptErrors limits how often accept failures are logged.
	acceptErrors *rate.Limiter
}

// New creates a Worker accepting on listenFD. rl delivers stop signals;
// the worker registers them itself in Run.
func New(listenFD int, idleTimeout time.Duration, d *Dispatcher, rl *relay.Relay, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		listenFD:     listenFD,
		idleTimeout:  idleTimeout,
		dispatcher:   d,
		relay:        rl,
		logger:       logger,
		getppid:      unix.Getppid,
		acceptErrors: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	w.alive.Store(true)
	return w
}

// Alive reports whether the worker still accepts connections.
func (w *Worker) Alive() bool { return w.alive.Load() }

// Stop asks the loop to exit after the current connection.
func (w *Worker) Stop() {
	w.alive.Store(false)
	w.relay.Wake()
}

// Run records the parent pid, makes the listen socket non-blocking and
// loops until the worker is stopped or orphaned.
func (w *Worker) Run() error {
	w.ppid = w.getppid()

	if err := unix.SetNonblock(w.listenFD, true); err != nil {
		return fmt.Errorf("failed to set listen socket %d non-blocking: %w", w.listenFD, err)
	}

	defer w.relay.Stop()

	w.logger.Info("worker started",
		log.EventKey, "worker_started",
		"ppid", w.ppid)

	for w.Alive() {
		w.handleSignals()
		if !w.Alive() {
			break
		}

		nfd, sa, err := accept(w.listenFD)
		if err == nil {
			ip, port := peerAddr(sa)
			w.dispatcher.Dispatch(nfd, ip, port)
			continue
		}

		if err != unix.EAGAIN && err != unix.ECONNABORTED && w.acceptErrors.Allow() {
			w.logger.Warn("accept failed", log.Error(err))
		}

		if w.orphaned() {
			w.logger.Info("parent changed, worker shutting down",
				log.EventKey, "worker_orphaned",
				"ppid", w.ppid)
			return nil
		}

		if err := w.idleWait(); err != nil {
			return err
		}
	}

	w.logger.Info("worker stopped", log.EventKey, "worker_stopped")
	return nil
}

// orphaned reports whether the process that spawned the worker is gone.
func (w *Worker) orphaned() bool {
	return w.getppid() != w.ppid
}

// handleSignals applies pending stop signals.
func (w *Worker) handleSignals() {
	for {
		sig, ok := w.relay.Pop()
		if !ok {
			return
		}
		if sig == syscall.SIGQUIT {
			w.logger.Info("graceful stop requested", log.Signal(sig))
			w.alive.Store(false)
		}
	}
}

// idleWait blocks until a connection may be pending, a signal arrives, or
// the idle timeout passes.
func (w *Worker) idleWait() error {
	fds := []unix.PollFd{
		{Fd: int32(w.listenFD), Events: unix.POLLIN},
		{Fd: int32(w.relay.ReadFD()), Events: unix.POLLIN},
	}
	_, err := unix.Poll(fds, relay.PollTimeout(w.idleTimeout))
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return nil
		}
		return fmt.Errorf("idle wait failed: %w", err)
	}
	if fds[1].Revents&unix.POLLIN != 0 {
		w.relay.Drain()
	}
	return nil
}

// IgnoreInterrupt stops SIGINT from killing the worker. A terminal ^C
// reaches the whole process group; the master decides what workers do.
func IgnoreInterrupt() {
	signal.Ignore(os.Interrupt)
}
