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

/*
Package lifecycle covers the master process as seen from outside: its
PID file, signalling it, waiting for it, and spawning its workers.

# PID File

The master writes its PID file at startup and holds an flock on it until
it halts. A second master on the same path fails; a file left behind by a
master that died is detected as stale and replaced:

	pidFile := lifecycle.NewPIDFileManager("/run/preforkd.pid")
	if err := pidFile.Create(os.Getpid()); err != nil {
	    // another master is running
	}
	defer pidFile.Remove()

# Controlling a Running Master

The preforkd signal and stop commands read the PID file, check that the
PID really is a preforkd process, and signal it:

	pid, _ := pidFile.Read()
	if lifecycle.IsServerProcess(pid) {
	    err := lifecycle.Shutdown(pid, syscall.SIGQUIT, 30*time.Second, true)
	}

# Spawning Workers

Spawner re-executes a binary with extra environment and inherited
descriptors, then releases the process so the master can reap it with
wait4 alongside every other worker.

# Health

HealthChecker polls an HTTP endpoint with backoff until it answers 2xx;
preforkd status uses it against the hello application's /healthz.
*/
package lifecycle
