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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tombee/preforkd/internal/conn"
)

// Limits applied while parsing HTTP requests.
const (
	MaxHeaderBytes = 1 << 20
	MaxBodyBytes   = 16 << 20
)

var (
	// ErrHeaderTooLarge is returned when no header terminator appears
	// within MaxHeaderBytes.
	ErrHeaderTooLarge = errors.New("protocol: http header too large")

	// ErrBodyTooLarge is returned when Content-Length exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("protocol: http body too large")

	// ErrChunkedBody is returned for chunked request bodies, which are not
	// supported.
	ErrChunkedBody = errors.New("protocol: chunked request body not supported")
)

var headerEnd = []byte("\r\n\r\n")

// HTTP parses one HTTP/1.x request per connection. On Complete,
// Context.Request holds an *http.Request with its body fully buffered.
type HTTP struct{}

// Name implements conn.Protocol.
func (HTTP) Name() string { return "http" }

// Parse implements conn.Protocol.
func (HTTP) Parse(c *conn.Context) (conn.ParseStatus, error) {
	data := c.In.Bytes()

	i := bytes.Index(data, headerEnd)
	if i < 0 {
		if len(data) > MaxHeaderBytes {
			return conn.NeedMore, ErrHeaderTooLarge
		}
		return conn.NeedMore, nil
	}
	headLen := i + len(headerEnd)

	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data[:headLen])))
	if err != nil {
		return conn.NeedMore, fmt.Errorf("protocol: malformed http request: %w", err)
	}
	if len(req.TransferEncoding) > 0 {
		return conn.NeedMore, ErrChunkedBody
	}
	if req.ContentLength > MaxBodyBytes {
		return conn.NeedMore, ErrBodyTooLarge
	}

	bodyLen := 0
	if req.ContentLength > 0 {
		bodyLen = int(req.ContentLength)
	}
	if len(data) < headLen+bodyLen {
		return conn.NeedMore, nil
	}

	body := make([]byte, bodyLen)
	copy(body, data[headLen:headLen+bodyLen])
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.RemoteAddr = c.Peer()

	c.In.Consume(headLen + bodyLen)
	c.Request = req
	return conn.Complete, nil
}
