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
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preforkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 1\n"), 0600))

	var reloads atomic.Int32
	w, err := WatchConfig(path, 50*time.Millisecond, func() { reloads.Add(1) }, testLogger())
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0600))
	}

	assert.Eventually(t, func() bool { return reloads.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preforkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 1\n"), 0600))

	var reloads atomic.Int32
	w, err := WatchConfig(path, 10*time.Millisecond, func() { reloads.Add(1) }, testLogger())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0600))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, reloads.Load())
}

func TestConfigWatcher_CloseCancelsPendingReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preforkd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 1\n"), 0600))

	var reloads atomic.Int32
	w, err := WatchConfig(path, time.Hour, func() { reloads.Add(1) }, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("workers: 2\n"), 0600))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Zero(t, reloads.Load())
}

func TestWatchConfig_MissingDirectory(t *testing.T) {
	_, err := WatchConfig(filepath.Join(t.TempDir(), "missing", "preforkd.yaml"), 0, func() {}, testLogger())
	assert.Error(t, err)
}
