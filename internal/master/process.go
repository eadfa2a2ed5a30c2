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

package master

import (
	"fmt"
	"os"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/tombee/preforkd/internal/config"
	"github.com/tombee/preforkd/internal/lifecycle"
	"github.com/tombee/preforkd/internal/listener"
	"github.com/tombee/preforkd/internal/worker"
)

// Spawner starts one worker process and returns its pid.
type Spawner interface {
	Spawn(cfg *config.Config, sock *listener.Socket, id string) (int, error)
}

// ProcessControl signals and reaps worker processes.
type ProcessControl interface {
	// Kill sends sig to pid.
	Kill(pid int, sig syscall.Signal) error

	// Reap collects one terminated child without blocking. A zero pid
	// means no child is waiting to be collected.
	Reap() (pid int, status unix.WaitStatus, err error)
}

// ExecSpawner re-executes the current binary in worker mode with the
// listen socket inherited as listener.InheritedFD.
type ExecSpawner struct {
	spawner *lifecycle.Spawner
}

// NewExecSpawner returns a spawner for the running executable.
func NewExecSpawner() (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}
	return &ExecSpawner{spawner: lifecycle.NewSpawner(exe)}, nil
}

// Spawn implements Spawner.
func (e *ExecSpawner) Spawn(cfg *config.Config, sock *listener.Socket, id string) (int, error) {
	encoded, err := config.EncodeWorker(cfg)
	if err != nil {
		return 0, err
	}

	// Hand the child a duplicate wrapped in a fresh os.File. The exec path
	// calls Fd on every inherited file, and Fd on the master's own
	// listener file would flip the shared socket back to blocking mode
	// under running workers.
	var files []*os.File
	if sock != nil && sock.Fd() >= 0 {
		dup, err := unix.FcntlInt(uintptr(sock.Fd()), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			return 0, fmt.Errorf("failed to duplicate listen socket: %w", err)
		}
		f := os.NewFile(uintptr(dup), "listener")
		defer f.Close()
		files = append(files, f)
	}

	args := []string{worker.ChildFlag, "--listen-fd", strconv.Itoa(listener.InheritedFD)}
	env := []string{
		config.WorkerEnv + "=" + encoded,
		worker.IDEnv + "=" + id,
	}
	return e.spawner.Spawn(args, env, files)
}

// UnixProcessControl is ProcessControl over kill(2) and wait4(2).
type UnixProcessControl struct{}

// Kill implements ProcessControl.
func (UnixProcessControl) Kill(pid int, sig syscall.Signal) error {
	return unix.Kill(pid, sig)
}

// Reap implements ProcessControl. ECHILD is reported as no child.
func (UnixProcessControl) Reap() (int, unix.WaitStatus, error) {
	var status unix.WaitStatus
	for {
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		switch err {
		case nil:
			return pid, status, nil
		case unix.EINTR:
			continue
		case unix.ECHILD:
			return 0, status, nil
		default:
			return 0, status, err
		}
	}
}
