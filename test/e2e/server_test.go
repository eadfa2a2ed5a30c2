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

package e2e

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/tombee/preforkd/internal/app"
	"github.com/tombee/preforkd/test/e2e/harness"
)

func TestServeAndGracefulStop(t *testing.T) {
	h := harness.New(t)
	h.StartHealthy()

	h.AssertServes(t, "/", app.Greeting)
	h.AssertServes(t, "/healthz", "ok pid=")

	if _, err := os.Stat(h.PIDFile()); err != nil {
		t.Fatalf("expected PID file: %v", err)
	}

	h.Signal(syscall.SIGQUIT)
	h.AssertExitCode(t, 0)

	if _, err := os.Stat(h.PIDFile()); !os.IsNotExist(err) {
		t.Errorf("expected PID file to be removed, stat error: %v", err)
	}
}

func TestImmediateStop(t *testing.T) {
	h := harness.New(t)
	h.StartHealthy()

	h.Signal(syscall.SIGTERM)
	h.AssertExitCode(t, 0)
}

func TestReloadReplacesWorkers(t *testing.T) {
	h := harness.New(t, harness.WithWorkers(2))
	h.StartHealthy()

	old := h.WorkerPIDs(20)
	if len(old) == 0 {
		t.Fatal("no worker answered")
	}

	h.Signal(syscall.SIGHUP)

	h.AssertEventually(t, func() bool {
		current := h.WorkerPIDs(20)
		if len(current) == 0 {
			return false
		}
		for pid := range current {
			if old[pid] {
				return false
			}
		}
		return true
	}, "requests still served by pre-reload workers")

	h.Signal(syscall.SIGQUIT)
	h.AssertExitCode(t, 0)
}

func TestWorkerBootErrorHaltsMaster(t *testing.T) {
	h := harness.New(t, harness.WithSetting("protocol", "gopher"))
	h.Start()

	h.AssertExitCode(t, 1)
	if !strings.Contains(h.Output(), "worker failed to boot") {
		t.Errorf("expected boot failure in output:\n%s", h.Output())
	}
}

func TestSignalCommandResizesPool(t *testing.T) {
	metricsPort := harness.FreePort(t)
	h := harness.New(t,
		harness.WithWorkers(1),
		harness.WithSetting("metrics_addr", fmt.Sprintf("127.0.0.1:%d", metricsPort)),
	)
	h.StartHealthy()

	metric := func() string {
		resp, err := httpGet(fmt.Sprintf("http://127.0.0.1:%d/metrics", metricsPort))
		if err != nil {
			return ""
		}
		return resp
	}

	out, code := h.RunCLI("signal", "incr", "--pid-file", h.PIDFile())
	if code != 0 {
		t.Fatalf("signal incr failed (%d): %s", code, out)
	}
	h.AssertEventually(t, func() bool {
		m := metric()
		return strings.Contains(m, "preforkd_desired_workers 2") && strings.Contains(m, "preforkd_workers 2")
	}, "pool did not grow to 2")

	out, code = h.RunCLI("stop", "--pid-file", h.PIDFile(), "--timeout", "10s")
	if code != 0 {
		t.Fatalf("stop failed (%d): %s", code, out)
	}
	h.AssertExitCode(t, 0)
}

func TestCommandLineOverrides(t *testing.T) {
	h := harness.New(t, harness.WithArgs("--app", "echo", "--protocol", "line"))
	h.Start()

	// The line protocol does not answer HTTP health checks; wait for the
	// socket and talk to it directly.
	var reply string
	h.AssertEventually(t, func() bool {
		var err error
		reply, err = lineRoundTrip(h.URL(""), "ping")
		return err == nil
	}, "echo server did not answer")
	if reply != "ping\n" {
		t.Errorf("expected echo of ping, got %q", reply)
	}

	h.Signal(syscall.SIGQUIT)
	h.AssertExitCode(t, 0)
}
