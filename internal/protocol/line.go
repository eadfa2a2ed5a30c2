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

package protocol

import (
	"bytes"
	"errors"

	"github.com/tombee/preforkd/internal/conn"
)

// MaxLineBytes bounds a line request.
const MaxLineBytes = 64 * 1024

// ErrLineTooLong is returned when no newline appears within MaxLineBytes.
var ErrLineTooLong = errors.New("protocol: line too long")

// Line reads a single newline-terminated request. On Complete,
// Context.Request holds the line as []byte without the trailing \r\n.
type Line struct{}

// Name implements conn.Protocol.
func (Line) Name() string { return "line" }

// Parse implements conn.Protocol.
func (Line) Parse(c *conn.Context) (conn.ParseStatus, error) {
	data := c.In.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		if len(data) > MaxLineBytes {
			return conn.NeedMore, ErrLineTooLong
		}
		return conn.NeedMore, nil
	}

	line := make([]byte, i)
	copy(line, data[:i])
	line = bytes.TrimSuffix(line, []byte("\r"))

	c.In.Consume(i + 1)
	c.Request = line
	return conn.Complete, nil
}
