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

package lifecycle

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// Spawner starts child processes that stay attached to the parent: same
// process group, same stdout and stderr. The caller owns reaping.
type Spawner struct {
	// Binary is the executable to run.
	Binary string

	// Env is the base environment of every child.
	Env []string

	// Stdout and Stderr receive the child's output.
	Stdout io.Writer
	Stderr io.Writer
}

// NewSpawner creates a spawner for binary with the current environment.
func NewSpawner(binary string) *Spawner {
	return &Spawner{
		Binary: binary,
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// WithEnv replaces the base environment.
func (s *Spawner) WithEnv(env []string) *Spawner {
	s.Env = env
	return s
}

// Spawn starts Binary with args. extraEnv is appended to the base
// environment and files are inherited as descriptors 3, 4, and so on.
//
// The process is released right away: exec.Cmd.Wait is never called, so
// the caller must collect the exit status itself (wait4 on -1).
func (s *Spawner) Spawn(args, extraEnv []string, files []*os.File) (int, error) {
	cmd := exec.Command(s.Binary, args...)
	cmd.Env = append(append([]string(nil), s.Env...), extraEnv...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.Stdin = nil
	cmd.ExtraFiles = files

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start process: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("process started but failed to release: %w", err)
	}
	return pid, nil
}
