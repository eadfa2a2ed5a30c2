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

package harness

import (
	"strings"
	"testing"
	"time"
)

// AssertServes asserts that path answers with status 200 and a body
// containing contains.
func (h *Harness) AssertServes(t *testing.T, path, contains string) {
	t.Helper()

	status, body, err := h.Get(path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	if status != 200 {
		t.Errorf("GET %s: expected status 200, got %d", path, status)
	}
	if !strings.Contains(body, contains) {
		t.Errorf("GET %s: expected body to contain %q, got %q", path, contains, body)
	}
}

// AssertExitCode waits for the master to exit and checks its exit code.
func (h *Harness) AssertExitCode(t *testing.T, want int) {
	t.Helper()

	if got := h.WaitExit(); got != want {
		t.Errorf("expected exit code %d, got %d", want, got)
	}
}

// AssertEventually polls cond every 100ms until it holds or the harness
// timeout passes.
func (h *Harness) AssertEventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(h.timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", h.timeout, msg)
}
