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

package config

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	perrors "github.com/tombee/preforkd/pkg/errors"
)

// Override is a single "key value" setting from the override string.
type Override struct {
	Key   string
	Value string
}

// ParseOverrides splits an override string into settings. Each non-empty
// line holds a key, whitespace, and a value. Lines starting with # are
// ignored. Dashes in keys are read as underscores, so "graceful-timeout"
// and "graceful_timeout" name the same setting.
func ParseOverrides(s string) ([]Override, error) {
	var out []Override
	for i, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, " ")
		if !ok {
			key, value, ok = strings.Cut(line, "\t")
		}
		if !ok || strings.TrimSpace(value) == "" {
			return nil, &perrors.ConfigError{
				Key:    key,
				Reason: fmt.Sprintf("override line %d has no value", i+1),
			}
		}
		out = append(out, Override{
			Key:   strings.ReplaceAll(key, "-", "_"),
			Value: strings.TrimSpace(value),
		})
	}
	return out, nil
}

// FormatOverrides joins settings back into an override string.
func FormatOverrides(overrides []Override) string {
	var b strings.Builder
	for _, o := range overrides {
		b.WriteString(o.Key)
		b.WriteByte(' ')
		b.WriteString(o.Value)
		b.WriteByte('\n')
	}
	return b.String()
}

// ApplyOverrides applies an override string on top of c. Each setting is
// decoded as its own YAML document so values are typed exactly as they
// would be in the config file. Unknown keys are rejected.
func (c *Config) ApplyOverrides(s string) error {
	overrides, err := ParseOverrides(s)
	if err != nil {
		return err
	}
	for _, o := range overrides {
		if err := c.applyOverride(o); err != nil {
			return &perrors.ConfigError{
				Key:    o.Key,
				Reason: fmt.Sprintf("invalid override %q", o.Value),
				Cause:  err,
			}
		}
	}
	return nil
}

func (c *Config) applyOverride(o Override) error {
	doc, err := overrideDocument(o)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(doc))
	dec.KnownFields(true)
	return dec.Decode(c)
}

// overrideDocument renders a dotted key and its value as a nested YAML
// mapping, e.g. "log.level debug" becomes "log:\n    level: debug\n".
func overrideDocument(o Override) ([]byte, error) {
	parts := strings.Split(o.Key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("malformed key %q", o.Key)
		}
	}

	node := &yaml.Node{Kind: yaml.ScalarNode, Value: o.Value}
	for i := len(parts) - 1; i >= 0; i-- {
		node = &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Value: parts[i]},
				node,
			},
		}
	}
	return yaml.Marshal(node)
}
