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
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

// startSleeper starts a child that sleeps and reaps it in the background,
// so it does not linger as a zombie that still answers signal 0.
func startSleeper(t *testing.T, args ...string) *exec.Cmd {
	t.Helper()
	if len(args) == 0 {
		args = []string{"60"}
	}
	cmd := exec.Command("sleep", args...)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	go cmd.Wait()
	t.Cleanup(func() { cmd.Process.Kill() })
	return cmd
}

func TestIsProcessRunning(t *testing.T) {
	if !IsProcessRunning(os.Getpid()) {
		t.Error("IsProcessRunning(self) = false, want true")
	}
	if IsProcessRunning(999999) {
		t.Error("IsProcessRunning(999999) = true, want false")
	}
	if IsProcessRunning(0) || IsProcessRunning(-1) {
		t.Error("IsProcessRunning(<=0) = true, want false")
	}
}

func TestSendSignal(t *testing.T) {
	t.Run("signals running process", func(t *testing.T) {
		cmd := startSleeper(t)
		if err := SendSignal(cmd.Process.Pid, syscall.SIGTERM); err != nil {
			t.Fatalf("SendSignal() error = %v", err)
		}
		if err := WaitForExit(cmd.Process.Pid, 5*time.Second); err != nil {
			t.Errorf("process did not exit after SIGTERM: %v", err)
		}
	})

	t.Run("missing process", func(t *testing.T) {
		err := SendSignal(999999, syscall.SIGTERM)
		if !errors.Is(err, ErrProcessNotRunning) {
			t.Errorf("SendSignal() error = %v, want ErrProcessNotRunning", err)
		}
	})
}

func TestWaitForExitTimeout(t *testing.T) {
	cmd := startSleeper(t)
	err := WaitForExit(cmd.Process.Pid, 200*time.Millisecond)
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("WaitForExit() error = %v, want ErrShutdownTimeout", err)
	}
}

func TestShutdown(t *testing.T) {
	t.Run("graceful", func(t *testing.T) {
		cmd := startSleeper(t)
		if err := Shutdown(cmd.Process.Pid, syscall.SIGTERM, 5*time.Second, false); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	})

	t.Run("forced after ignored signal", func(t *testing.T) {
		cmd := exec.Command("sh", "-c", "trap '' QUIT; sleep 60")
		if err := cmd.Start(); err != nil {
			t.Skipf("cannot start sh: %v", err)
		}
		go cmd.Wait()
		t.Cleanup(func() { cmd.Process.Kill() })
		time.Sleep(100 * time.Millisecond)

		err := Shutdown(cmd.Process.Pid, syscall.SIGQUIT, 300*time.Millisecond, true)
		if err != nil {
			t.Errorf("Shutdown(force) error = %v", err)
		}
	})

	t.Run("not running", func(t *testing.T) {
		err := Shutdown(999999, syscall.SIGTERM, time.Second, false)
		if !errors.Is(err, ErrProcessNotRunning) {
			t.Errorf("Shutdown() error = %v, want ErrProcessNotRunning", err)
		}
	})
}

func TestGetProcessInfo(t *testing.T) {
	info := GetProcessInfo(os.Getpid())
	if !info.Running {
		t.Error("Running = false for self")
	}
	if info.Command == "" {
		t.Error("Command is empty for self")
	}

	info = GetProcessInfo(999999)
	if info.Running || info.Command != "" {
		t.Errorf("unexpected info for missing process: %+v", info)
	}
}

func TestIsServerProcess(t *testing.T) {
	cmd := startSleeper(t)
	if IsServerProcess(cmd.Process.Pid) {
		t.Error("IsServerProcess(sleep) = true, want false")
	}
	if IsServerProcess(999999) {
		t.Error("IsServerProcess(999999) = true, want false")
	}
}
