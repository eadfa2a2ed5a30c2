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

// Package master implements the preforkd master process: it owns the
// listen socket, keeps the worker pool at its desired size and turns
// signals into reloads, resizes and shutdowns.
//
// All roster and configuration changes happen on the goroutine running
// Run. Signal delivery, the config watcher and the metrics server only
// ever enqueue into the relay and wake that goroutine.
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/tombee/preforkd/internal/config"
	"github.com/tombee/preforkd/internal/lifecycle"
	"github.com/tombee/preforkd/internal/listener"
	"github.com/tombee/preforkd/internal/log"
	"github.com/tombee/preforkd/internal/relay"
	perrors "github.com/tombee/preforkd/pkg/errors"
)

const (
	// DefaultIdleWait bounds how long the run loop sleeps without a signal
	// before reconciling the pool again.
	DefaultIdleWait = time.Second

	// haltPollInterval is the reap interval while waiting for workers to
	// exit during a halt.
	haltPollInterval = 200 * time.Millisecond
)

// Signals the master relays to its run loop.
var Signals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGQUIT,
	syscall.SIGTERM,
	syscall.SIGINT,
	syscall.SIGCHLD,
	syscall.SIGTTIN,
	syscall.SIGTTOU,
}

// Options configures a Supervisor. Nil fields get production defaults.
type Options struct {
	// Socket is an already bound listen socket. When nil, Run binds one
	// from the configuration.
	Socket *listener.Socket

	Spawner Spawner
	Process ProcessControl

	// Relay delivers signals to the run loop. When nil, Run creates one
	// subscribed to Signals.
	Relay *relay.Relay

	Metrics *Metrics
	Logger  *slog.Logger

	// Bind creates listen sockets. Defaults to listener.Bind.
	Bind func(bind string, port int) (*listener.Socket, error)
}

// Supervisor is the master process state.
type Supervisor struct {
	cfg     *config.Config
	sock    *listener.Socket
	roster  *Roster
	desired int

	spawner Spawner
	proc    ProcessControl
	relay   *relay.Relay
	bind    func(bind string, port int) (*listener.Socket, error)
	pidFile *lifecycle.PIDFileManager
	metrics *Metrics
	logger  *slog.Logger

	metricsServer *MetricsServer
	watcher       *ConfigWatcher
	ownRelay      bool

	halting bool
	halted  error

	idleWait time.Duration
	now      func() time.Time
	sleep    func(time.Duration)
}

// New creates a Supervisor for cfg.
func New(cfg *config.Config, opts Options) (*Supervisor, error) {
	if cfg == nil {
		return nil, errors.New("master: nil config")
	}

	s := &Supervisor{
		cfg:      cfg,
		sock:     opts.Socket,
		roster:   NewRoster(),
		spawner:  opts.Spawner,
		proc:     opts.Process,
		relay:    opts.Relay,
		bind:     opts.Bind,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		idleWait: DefaultIdleWait,
		now:      time.Now,
		sleep:    time.Sleep,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = log.WithComponent(s.logger, "master")
	if s.spawner == nil {
		sp, err := NewExecSpawner()
		if err != nil {
			return nil, err
		}
		s.spawner = sp
	}
	if s.proc == nil {
		s.proc = UnixProcessControl{}
	}
	if s.bind == nil {
		s.bind = listener.Bind
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if cfg.PIDFile != "" {
		s.pidFile = lifecycle.NewPIDFileManager(cfg.PIDFile)
	}

	s.setDesired(cfg.Workers)
	return s, nil
}

// Config returns the active configuration.
func (s *Supervisor) Config() *config.Config { return s.cfg }

// Socket returns the listen socket.
func (s *Supervisor) Socket() *listener.Socket { return s.sock }

// Roster returns the worker roster.
func (s *Supervisor) Roster() *Roster { return s.roster }

// Desired returns the target number of workers.
func (s *Supervisor) Desired() int { return s.desired }

// Metrics returns the supervisor's metrics.
func (s *Supervisor) Metrics() *Metrics { return s.metrics }

// MetricsAddr returns the address metrics are served on, or "" when the
// metrics server is not running.
func (s *Supervisor) MetricsAddr() string {
	if s.metricsServer == nil {
		return ""
	}
	return s.metricsServer.Addr()
}

// Run starts the master and supervises workers until it halts. It always
// returns a *errors.HaltError carrying the process exit code. Cancelling
// ctx halts gracefully.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.start(); err != nil {
		s.logger.Error("master failed to start", log.Error(err))
		if s.ownRelay {
			defer s.relay.Close()
		}
		return s.Halt(perrors.ExitFatal, true, err)
	}
	stop := context.AfterFunc(ctx, s.relay.Wake)
	defer stop()
	if s.ownRelay {
		defer s.relay.Close()
	}

	if err := s.Reconcile(); err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			s.logger.Info("context cancelled, halting gracefully")
			return s.Halt(perrors.ExitOK, true, nil)
		}
		if err := s.Reap(); err != nil {
			return err
		}

		// One signal per pass, so a flood of them cannot starve Reconcile.
		if sig, ok := s.relay.Pop(); ok {
			if err := s.handleSignal(sig); err != nil {
				return err
			}
			s.relay.Wake()
		} else {
			s.relay.IdleWait(s.idleWait)
		}
		if err := s.Reconcile(); err != nil {
			return err
		}
	}
}

// start acquires everything the run loop needs: the relay, the socket,
// the PID file and the optional metrics server and config watcher.
func (s *Supervisor) start() error {
	if s.relay == nil {
		rl, err := relay.New(relay.DefaultQueueSize, s.logger)
		if err != nil {
			return err
		}
		rl.Notify(Signals...)
		s.relay = rl
		s.ownRelay = true
	}

	if s.sock == nil {
		sock, err := s.bind(s.cfg.Bind, s.cfg.Port)
		if err != nil {
			return err
		}
		s.sock = sock
	}
	s.logger.Info("server is listening", "addr", s.sock.Addr())
	if listener.IsRemote(s.sock.Bind()) {
		s.logger.Warn("listening on a non-local address; the server is reachable from the network",
			"addr", s.sock.Addr())
	}

	if s.pidFile != nil {
		if err := s.pidFile.Create(os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
	}

	if s.cfg.MetricsAddr != "" {
		srv, err := ServeMetrics(s.cfg.MetricsAddr, s.metrics, s.logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		s.metricsServer = srv
	}

	if s.cfg.WatchConfig && s.cfg.Path != "" {
		w, err := WatchConfig(s.cfg.Path, DefaultWatchDebounce, s.requestReload, s.logger)
		if err != nil {
			// Reload by SIGHUP still works.
			s.logger.Warn("config watcher disabled", log.Error(err))
		} else {
			s.watcher = w
		}
	}
	return nil
}

func (s *Supervisor) requestReload() {
	s.relay.Enqueue(syscall.SIGHUP)
}

// Reconcile spawns workers until the roster reaches the desired size and
// asks the oldest excess workers to stop. Stopped workers stay in the
// roster until reaped, so they are asked again on every pass.
func (s *Supervisor) Reconcile() error {
	for s.roster.Len() < s.desired {
		if err := s.spawn(); err != nil {
			s.logger.Error("spawn worker failed", log.Error(err))
			return s.Halt(perrors.ExitFatal, true, err)
		}
	}

	if excess := s.roster.Len() - s.desired; excess > 0 {
		for _, rec := range s.roster.Oldest(excess) {
			s.stop(rec, syscall.SIGQUIT)
		}
	}
	s.updateGauges()
	return nil
}

func (s *Supervisor) spawn() error {
	id := uuid.NewString()
	pid, err := s.spawner.Spawn(s.cfg, s.sock, id)
	if err != nil {
		s.metrics.spawnFailures.Inc()
		return fmt.Errorf("failed to spawn worker: %w", err)
	}

	s.roster.Add(&WorkerRecord{PID: pid, ID: id, Alive: true, SpawnedAt: s.now()})
	s.metrics.spawns.Inc()
	log.WithWorker(s.logger, pid, id).Info("new worker spawned")
	return nil
}

// stop sends sig to one worker. A worker that no longer exists leaves the
// roster immediately.
func (s *Supervisor) stop(rec *WorkerRecord, sig syscall.Signal) {
	err := s.proc.Kill(rec.PID, sig)
	switch {
	case err == nil:
		rec.Alive = false
		s.metrics.stopsSent.WithLabelValues(unix.SignalName(sig)).Inc()
	case errors.Is(err, unix.ESRCH):
		s.roster.Remove(rec.PID)
		log.WithWorker(s.logger, rec.PID, rec.ID).Debug("worker already gone")
	default:
		log.WithWorker(s.logger, rec.PID, rec.ID).Warn("kill worker failed",
			log.Signal(sig), log.Error(err))
	}
}

// StopAll sends sig to every worker. Removal is left to Reap.
func (s *Supervisor) StopAll(sig syscall.Signal) {
	for _, rec := range s.roster.All() {
		s.stop(rec, sig)
	}
	s.updateGauges()
}

// Reap collects every terminated worker without blocking. A worker that
// exited with errors.ExitWorkerBoot halts the master with ExitFatal.
func (s *Supervisor) Reap() error {
	defer s.updateGauges()

	for {
		pid, status, err := s.proc.Reap()
		if err != nil {
			s.logger.Warn("reap workers failed", log.Error(err))
			return nil
		}
		if pid == 0 {
			return nil
		}

		rec, known := s.roster.Remove(pid)
		id := ""
		if known {
			id = rec.ID
		}
		logger := log.WithWorker(s.logger, pid, id)

		switch {
		case status.Exited() && status.ExitStatus() == perrors.ExitWorkerBoot:
			s.metrics.reaps.WithLabelValues(reapBootError).Inc()
			logger.Error("worker failed to boot")
			if !s.halting {
				return s.Halt(perrors.ExitFatal, true, fmt.Errorf("worker %d failed to boot", pid))
			}
		case status.Signaled():
			s.metrics.reaps.WithLabelValues(reapSignaled).Inc()
			logger.Warn("worker terminated abnormally", log.Signal(status.Signal()))
		default:
			s.metrics.reaps.WithLabelValues(reapExited).Inc()
			if !known {
				logger.Debug("reaped unknown child", "exit_code", status.ExitStatus())
				continue
			}
			logger.Info("worker exited", "exit_code", status.ExitStatus())
		}
	}
}

// Reload re-reads the configuration with the startup path and overrides,
// rebinds the socket when the address changed and rolls the pool: a full
// new set of workers is spawned and the old ones are stopped by Reconcile.
func (s *Supervisor) Reload() error {
	next, err := s.cfg.Reload()
	if err != nil {
		s.metrics.reloads.WithLabelValues("failed").Inc()
		s.logger.Error("reload config failed", log.Error(err))
		return s.Halt(perrors.ExitFatal, true, fmt.Errorf("reload: %w", err))
	}

	if !next.SameListener(s.cfg) {
		if err := s.sock.Close(); err != nil {
			s.logger.Warn("close listen socket failed", log.Error(err))
		}
		s.sock = nil

		sock, err := s.bind(next.Bind, next.Port)
		if err != nil {
			s.metrics.reloads.WithLabelValues("failed").Inc()
			s.logger.Error("rebind failed", "addr", next.ListenAddr(), log.Error(err))
			return s.Halt(perrors.ExitFatal, true, fmt.Errorf("reload: %w", err))
		}
		s.sock = sock
		s.logger.Info("server is listening", "addr", sock.Addr())
	}

	s.cfg = next
	s.setDesired(next.Workers)
	s.metrics.reloads.WithLabelValues("ok").Inc()
	s.logger.Info("configuration reloaded", "workers", s.desired)

	for i := 0; i < s.desired; i++ {
		if err := s.spawn(); err != nil {
			s.logger.Error("spawn worker failed", log.Error(err))
			return s.Halt(perrors.ExitFatal, true, err)
		}
	}
	return s.Reconcile()
}

// Halt stops the server and returns the *errors.HaltError for code.
//
// The listen socket is closed and every worker gets SIGQUIT (graceful) or
// SIGTERM. With halt_wait set, workers are then reaped for up to the
// graceful timeout. Whatever is left is killed, the PID file is removed
// and auxiliary services are shut down. Calling Halt again returns the
// first result.
func (s *Supervisor) Halt(code int, graceful bool, cause error) error {
	if s.halted != nil {
		return s.halted
	}
	s.halting = true

	if err := s.sock.Close(); err != nil {
		s.logger.Warn("close listen socket failed", log.Error(err))
	}

	sig := syscall.SIGTERM
	if graceful {
		sig = syscall.SIGQUIT
	}
	s.StopAll(sig)

	if s.cfg.HaltWait {
		deadline := s.now().Add(s.cfg.GracefulTimeout)
		for s.now().Before(deadline) && s.roster.Len() > 0 {
			s.sleep(haltPollInterval)
			_ = s.Reap()
		}
	}

	s.StopAll(syscall.SIGKILL)
	_ = s.Reap()

	if s.pidFile != nil && s.pidFile.Held() {
		if err := s.pidFile.Remove(); err != nil {
			s.logger.Warn("remove PID file failed", log.Error(err))
		}
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Close()
	}

	s.logger.Info("shutdown master", "exit_code", code, "graceful", graceful)
	s.halted = &perrors.HaltError{Code: code, Cause: cause}
	return s.halted
}

func (s *Supervisor) handleSignal(sig os.Signal) error {
	s.metrics.signals.WithLabelValues(signalName(sig)).Inc()
	s.logger.Debug("handling signal", log.Signal(sig))

	switch sig {
	case syscall.SIGHUP:
		s.logger.Info("reloading")
		return s.Reload()
	case syscall.SIGQUIT:
		s.logger.Info("graceful shutdown requested")
		return s.Halt(perrors.ExitOK, true, nil)
	case syscall.SIGTERM, syscall.SIGINT:
		s.logger.Info("immediate shutdown requested", log.Signal(sig))
		return s.Halt(perrors.ExitOK, false, nil)
	case syscall.SIGCHLD:
		// Reap runs at the top of every loop iteration.
	case syscall.SIGTTIN:
		s.setDesired(s.desired + 1)
		s.logger.Info("increasing workers", "workers", s.desired)
	case syscall.SIGTTOU:
		if s.desired > 1 {
			s.setDesired(s.desired - 1)
		}
		s.logger.Info("decreasing workers", "workers", s.desired)
	default:
		s.logger.Warn("ignoring unexpected signal", log.Signal(sig))
	}
	return nil
}

func (s *Supervisor) setDesired(n int) {
	s.desired = n
	s.metrics.desiredWorkers.Set(float64(n))
}

func (s *Supervisor) updateGauges() {
	s.metrics.rosterSize.Set(float64(s.roster.Len()))
}

func signalName(sig os.Signal) string {
	if ss, ok := sig.(syscall.Signal); ok {
		if name := unix.SignalName(ss); name != "" {
			return name
		}
	}
	return sig.String()
}
