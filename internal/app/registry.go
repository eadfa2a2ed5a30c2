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

// Package app provides the applications a worker runs for parsed requests.
package app

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/tombee/preforkd/internal/conn"
)

// Selector picks the application for an accepted connection.
type Selector func() conn.App

// Options configures application construction.
type Options struct {
	// StaticDir is served under /static/ by the hello app when set.
	StaticDir string
}

type factory struct {
	build func(Options) conn.App
	// protocols lists the protocols whose requests the app understands.
	// Empty means any.
	protocols []string
}

var factories = map[string]factory{
	"hello": {build: func(o Options) conn.App { return NewHello(o) }, protocols: []string{"http"}},
	"echo":  {build: func(Options) conn.App { return Echo{} }},
}

// Lookup builds the named application once and returns a Selector for it.
func Lookup(name string, opts Options) (Selector, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown app %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	a := f.build(opts)
	return func() conn.App { return a }, nil
}

// CheckProtocol returns an error when the named app cannot serve requests
// parsed by the named protocol.
func CheckProtocol(name, protocol string) error {
	f, ok := factories[name]
	if !ok {
		return fmt.Errorf("unknown app %q (supported: %s)", name, strings.Join(Names(), ", "))
	}
	if len(f.protocols) == 0 || slices.Contains(f.protocols, protocol) {
		return nil
	}
	return fmt.Errorf("app %q does not support protocol %q (supported: %s)",
		name, protocol, strings.Join(f.protocols, ", "))
}

// Names returns the supported application names, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
