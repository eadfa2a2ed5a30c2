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

// Package harness runs a real preforkd binary for end-to-end tests.
//
// The binary is built once per test process from the module's
// cmd/preforkd. Each Harness gets its own directory, config file, PID
// file and port, and kills the master and its workers on cleanup.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/tombee/preforkd/internal/lifecycle"
)

var (
	buildOnce   sync.Once
	buildBinary string
	buildErr    error
)

// Harness is one preforkd master under test.
type Harness struct {
	t        *testing.T
	dir      string
	binary   string
	port     int
	timeout  time.Duration
	workers  int
	settings map[string]string
	args     []string

	configPath string
	pidFile    string

	cmd      *exec.Cmd
	output   *syncBuffer
	exited   chan struct{}
	exitCode int
}

// New builds the binary if needed and prepares a harness. Tests are
// skipped in -short mode or when the go tool is not available.
func New(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	if testing.Short() {
		t.Skip("end-to-end test skipped in short mode")
	}
	binary, err := binaryPath()
	if err != nil {
		t.Skipf("cannot build preforkd: %v", err)
	}

	dir := t.TempDir()
	h := &Harness{
		t:          t,
		dir:        dir,
		binary:     binary,
		port:       FreePort(t),
		timeout:    15 * time.Second,
		workers:    2,
		settings:   map[string]string{},
		configPath: filepath.Join(dir, "preforkd.yaml"),
		pidFile:    filepath.Join(dir, "preforkd.pid"),
	}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			t.Fatalf("apply harness option: %v", err)
		}
	}

	h.WriteConfig()
	t.Cleanup(h.cleanup)
	return h
}

// binaryPath builds cmd/preforkd into a temporary directory once.
func binaryPath() (string, error) {
	buildOnce.Do(func() {
		gotool, err := exec.LookPath("go")
		if err != nil {
			buildErr = err
			return
		}
		root, err := moduleRoot()
		if err != nil {
			buildErr = err
			return
		}
		dir, err := os.MkdirTemp("", "preforkd-e2e-")
		if err != nil {
			buildErr = err
			return
		}

		// The binary name matters: the PID file commands only signal
		// processes whose command line contains "preforkd".
		out := filepath.Join(dir, "preforkd")
		cmd := exec.Command(gotool, "build", "-o", out, "./cmd/preforkd")
		cmd.Dir = root
		if output, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("go build: %w\n%s", err, output)
			return
		}
		buildBinary = out
	})
	return buildBinary, buildErr
}

func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}

// FreePort returns a TCP port on 127.0.0.1 that was free a moment ago.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// WriteConfig (re)writes the config file from the harness settings.
func (h *Harness) WriteConfig() {
	h.t.Helper()

	lines := []string{
		"bind: 127.0.0.1",
		"port: " + strconv.Itoa(h.port),
		"workers: " + strconv.Itoa(h.workers),
		"pid_file: " + h.pidFile,
		"log:",
		"  level: debug",
		"  format: json",
	}
	keys := make([]string, 0, len(h.settings))
	for k := range h.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, k+": "+h.settings[k])
	}

	if err := os.WriteFile(h.configPath, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		h.t.Fatalf("write config: %v", err)
	}
}

// SetWorkers changes the worker count written by the next WriteConfig.
func (h *Harness) SetWorkers(n int) { h.workers = n }

// Start launches the master. It does not wait for the server to serve.
func (h *Harness) Start() {
	h.t.Helper()

	args := append([]string{h.configPath}, h.args...)
	h.cmd = exec.Command(h.binary, args...)
	h.output = &syncBuffer{}
	h.cmd.Stdout = h.output
	h.cmd.Stderr = h.output
	// Own process group, so cleanup can kill stray workers too.
	h.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := h.cmd.Start(); err != nil {
		h.t.Fatalf("start preforkd: %v", err)
	}

	h.exited = make(chan struct{})
	go func() {
		err := h.cmd.Wait()
		h.exitCode = 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			h.exitCode = exitErr.ExitCode()
		}
		close(h.exited)
	}()
}

// StartHealthy launches the master and waits until /healthz answers.
func (h *Harness) StartHealthy() {
	h.t.Helper()
	h.Start()

	checker := lifecycle.NewHealthChecker(h.URL("/healthz"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.exited:
			cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := checker.WaitUntilHealthy(ctx, h.timeout, nil); err != nil {
		h.t.Fatalf("preforkd did not become healthy: %v\noutput:\n%s", err, h.Output())
	}
}

// URL returns the server URL for path.
func (h *Harness) URL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", h.port, path)
}

// Get requests path and returns the status code and body.
func (h *Harness) Get(path string) (int, string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(h.URL(path))
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

// WorkerPIDs samples /healthz n times and returns the distinct worker
// pids that answered.
func (h *Harness) WorkerPIDs(n int) map[int]bool {
	h.t.Helper()
	pids := map[int]bool{}
	for i := 0; i < n; i++ {
		_, body, err := h.Get("/healthz")
		if err != nil {
			continue
		}
		_, pidStr, ok := strings.Cut(strings.TrimSpace(body), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(pidStr); err == nil {
			pids[pid] = true
		}
	}
	return pids
}

// Signal sends sig to the master.
func (h *Harness) Signal(sig syscall.Signal) {
	h.t.Helper()
	if err := h.cmd.Process.Signal(sig); err != nil {
		h.t.Fatalf("signal master: %v", err)
	}
}

// PID returns the master's pid.
func (h *Harness) PID() int { return h.cmd.Process.Pid }

// PIDFile returns the path of the master's PID file.
func (h *Harness) PIDFile() string { return h.pidFile }

// Binary returns the path of the preforkd binary.
func (h *Harness) Binary() string { return h.binary }

// WaitExit waits for the master to exit and returns its exit code.
func (h *Harness) WaitExit() int {
	h.t.Helper()
	select {
	case <-h.exited:
		return h.exitCode
	case <-time.After(h.timeout):
		h.t.Fatalf("preforkd did not exit within %s\noutput:\n%s", h.timeout, h.Output())
		return -1
	}
}

// Output returns everything the master and its workers logged.
func (h *Harness) Output() string {
	if h.output == nil {
		return ""
	}
	return h.output.String()
}

// RunCLI runs the preforkd binary with args and returns its combined
// output and exit code.
func (h *Harness) RunCLI(args ...string) (string, int) {
	h.t.Helper()
	cmd := exec.Command(h.binary, args...)
	out, err := cmd.CombinedOutput()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		h.t.Fatalf("run preforkd %v: %v", args, err)
	}
	return string(out), code
}

func (h *Harness) cleanup() {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	select {
	case <-h.exited:
	default:
		_ = syscall.Kill(-h.cmd.Process.Pid, syscall.SIGKILL)
		<-h.exited
	}
	if h.t.Failed() {
		h.t.Logf("preforkd output:\n%s", h.Output())
	}
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of the
// output copying goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
