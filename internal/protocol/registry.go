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

// Package protocol provides the request parsers a worker can select per
// connection.
package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/preforkd/internal/conn"
)

// Selector picks the protocol for an accepted connection.
type Selector func(ip string, port, fd int) conn.Protocol

var protocols = map[string]conn.Protocol{
	"http": HTTP{},
	"line": Line{},
}

// Lookup returns a Selector that always picks the named protocol.
func Lookup(name string) (Selector, error) {
	p, ok := protocols[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	return func(string, int, int) conn.Protocol { return p }, nil
}

// Names returns the supported protocol names, sorted.
func Names() []string {
	names := make([]string, 0, len(protocols))
	for name := range protocols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
