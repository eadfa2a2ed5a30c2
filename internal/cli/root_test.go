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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/preforkd/internal/lifecycle"
	perrors "github.com/tombee/preforkd/pkg/errors"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name          string
		args          []string
		wantPath      string
		wantOverrides string
		wantErr       bool
	}{
		{
			name: "no arguments",
		},
		{
			name:     "config file only",
			args:     []string{"preforkd.yaml"},
			wantPath: "preforkd.yaml",
		},
		{
			name:          "config file and overrides",
			args:          []string{"preforkd.yaml", "--port", "8080", "--workers", "4"},
			wantPath:      "preforkd.yaml",
			wantOverrides: "port 8080\nworkers 4",
		},
		{
			name:          "overrides without config file",
			args:          []string{"--log.level", "debug"},
			wantOverrides: "log.level debug",
		},
		{
			name:          "equals form",
			args:          []string{"--graceful-timeout=5s"},
			wantOverrides: "graceful-timeout 5s",
		},
		{
			name:          "multi word value",
			args:          []string{"--bind", "127.0.0.1", "--static-dir", "my", "dir"},
			wantOverrides: "bind 127.0.0.1\nstatic-dir my dir",
		},
		{
			name:          "key without value is kept for the loader to reject",
			args:          []string{"--watch-config"},
			wantOverrides: "watch-config",
		},
		{
			name:    "stray value",
			args:    []string{"preforkd.yaml", "8080"},
			wantErr: true,
		},
		{
			name:    "empty key",
			args:    []string{"--"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, overrides, err := ParseArgs(tt.args)
			if tt.wantErr {
				var cfgErr *perrors.ConfigError
				assert.ErrorAs(t, err, &cfgErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantOverrides, overrides)
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(VersionInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2025-12-22"})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootHelp(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "preforkd [config-file]")
	assert.Contains(t, out, "signal")
}

func TestRootInvalidConfig(t *testing.T) {
	_, err := execute(t, filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *perrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, perrors.ExitFatal, perrors.ExitCode(err))

	_, err = execute(t, "--workers", "0")
	require.ErrorAs(t, err, &cfgErr)

	_, err = execute(t, "--no-such-key", "1")
	require.ErrorAs(t, err, &cfgErr)
}

func TestExecute_ExitCode(t *testing.T) {
	assert.Equal(t, perrors.ExitOK, Execute(VersionInfo{}, []string{"version"}))
	assert.Equal(t, perrors.ExitFatal, Execute(VersionInfo{}, []string{"--workers", "0"}))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "preforkd version 1.2.3")
	assert.Contains(t, out, "abc123")

	out, err = execute(t, "version", "--json")
	require.NoError(t, err)
	var info VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "2025-12-22", info.BuildDate)
}

// startServerStandIn starts a long-running child process, records its pid
// in a PID file and lets the PID file commands accept it as a master.
func startServerStandIn(t *testing.T) (*exec.Cmd, string) {
	t.Helper()
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}

	proc := exec.Command("sleep", "30")
	require.NoError(t, proc.Start())

	waited := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(waited)
	}()
	t.Cleanup(func() {
		_ = proc.Process.Kill()
		<-waited
	})

	pidFile := filepath.Join(t.TempDir(), "preforkd.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(proc.Process.Pid)+"\n"), 0600))

	oldServer := isServerProcess
	isServerProcess = func(pid int) bool { return pid == proc.Process.Pid }
	t.Cleanup(func() { isServerProcess = oldServer })

	return proc, pidFile
}

func TestSignalCommand(t *testing.T) {
	proc, pidFile := startServerStandIn(t)

	out, err := execute(t, "signal", "term", "--pid-file", pidFile)
	require.NoError(t, err)
	assert.Contains(t, out, "sent term")

	require.NoError(t, lifecycle.WaitForExit(proc.Process.Pid, 5*time.Second))
}

func TestSignalCommand_Errors(t *testing.T) {
	_, pidFile := startServerStandIn(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown signal", args: []string{"signal", "usr1", "--pid-file", pidFile}, want: "unknown signal"},
		{name: "missing pid file flag", args: []string{"signal", "reload"}, want: "--pid-file is required"},
		{name: "no pid file", args: []string{"signal", "reload", "--pid-file", filepath.Join(t.TempDir(), "none.pid")}, want: "not running"},
		{name: "no signal name", args: []string{"signal", "--pid-file", pidFile}, want: "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadServerPID_RejectsOtherProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "preforkd.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0600))

	_, err := readServerPID(pidFile)
	assert.ErrorIs(t, err, lifecycle.ErrNotServerProcess)
}

func TestStopCommand(t *testing.T) {
	proc, pidFile := startServerStandIn(t)

	out, err := execute(t, "stop", "--pid-file", pidFile, "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "stopped")
	assert.False(t, lifecycle.IsProcessRunning(proc.Process.Pid))
}

func TestStopCommand_Force(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// A process that ignores QUIT only stops with --force.
	proc := exec.Command("sh", "-c", "trap '' QUIT; sleep 30")
	require.NoError(t, proc.Start())
	waited := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(waited)
	}()
	t.Cleanup(func() {
		_ = proc.Process.Signal(syscall.SIGKILL)
		<-waited
	})
	time.Sleep(100 * time.Millisecond)

	pidFile := filepath.Join(t.TempDir(), "preforkd.pid")
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(proc.Process.Pid)), 0600))
	oldServer := isServerProcess
	isServerProcess = func(int) bool { return true }
	t.Cleanup(func() { isServerProcess = oldServer })

	_, err := execute(t, "stop", "--pid-file", pidFile, "--timeout", "300ms")
	require.ErrorIs(t, err, lifecycle.ErrShutdownTimeout)

	_, err = execute(t, "stop", "--pid-file", pidFile, "--timeout", "300ms", "--force")
	require.NoError(t, err)
}

func TestStatusCommand(t *testing.T) {
	_, pidFile := startServerStandIn(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--pid-file", pidFile, "--check", srv.URL+"/healthz")
	require.NoError(t, err)
	assert.Contains(t, out, "is running")
	assert.Contains(t, out, "healthy")

	out, err = execute(t, "status", "--pid-file", pidFile, "--json")
	require.NoError(t, err)
	var info StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Running)
	assert.Nil(t, info.Health)
}

func TestStatusCommand_Unhealthy(t *testing.T) {
	_, pidFile := startServerStandIn(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	out, err := execute(t, "status", "--pid-file", pidFile, "--check", srv.URL, "--wait", "200ms")
	require.ErrorIs(t, err, lifecycle.ErrHealthCheckTimeout)
	assert.True(t, strings.Contains(out, "unhealthy"))
}
