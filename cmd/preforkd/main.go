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

// Command preforkd is a preforking application server.
//
// The same binary runs the master and, when started with --worker-child,
// a worker.
package main

import (
	"os"

	"github.com/tombee/preforkd/internal/cli"
	"github.com/tombee/preforkd/internal/worker"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Workers are started by the master with --worker-child and never go
	// through the command tree.
	if worker.IsChild(os.Args[1:]) {
		os.Exit(worker.Main(os.Args[1:]))
	}

	os.Exit(cli.Execute(cli.VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	}, os.Args[1:]))
}
