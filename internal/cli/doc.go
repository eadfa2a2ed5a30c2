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
Package cli provides the preforkd command tree.

Running preforkd with no subcommand starts the master:

	preforkd [config-file] [--key value ...]

Every --key starts a configuration override and the words that follow it
are its value, so "--log.level debug --workers 4" overrides log.level and
workers. Overrides take precedence over the file and the environment.

The other commands talk to a running master through its PID file:

	preforkd
	├── signal    Send reload, quit, term, incr or decr to the master
	├── stop      Gracefully stop the master and wait for it to exit
	├── status    Report whether the master is running and healthy
	└── version   Show version

# Usage

From main.go:

	os.Exit(cli.Execute(cli.VersionInfo{Version: version}, os.Args[1:]))
*/
package cli
