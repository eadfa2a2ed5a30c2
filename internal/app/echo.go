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

package app

import (
	"fmt"
	"io"
	"net/http"

	"github.com/tombee/preforkd/internal/conn"
)

// Echo writes the request back. A line request is echoed followed by a
// newline; an HTTP request gets its body back as a 200 response.
type Echo struct{}

// Name implements conn.App.
func (Echo) Name() string { return "echo" }

// Handle implements conn.App.
func (Echo) Handle(c *conn.Context) error {
	switch req := c.Request.(type) {
	case []byte:
		_, _ = c.Out.Write(req)
		_, _ = c.Out.WriteString("\n")
		return nil

	case *http.Request:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("failed to read request body: %w", err)
		}
		rb := newResponseBuffer()
		rb.Header().Set("Content-Type", "application/octet-stream")
		_, _ = rb.Write(body)
		return rb.WriteTo(c.Out, req)

	default:
		return fmt.Errorf("app: echo cannot handle request of type %T", c.Request)
	}
}
