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
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// responseBuffer is an http.ResponseWriter that keeps the whole response
// in memory so it can be serialized into a connection's outbound buffer.
type responseBuffer struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseBuffer() *responseBuffer {
	return &responseBuffer{header: make(http.Header)}
}

func (rb *responseBuffer) Header() http.Header { return rb.header }

func (rb *responseBuffer) WriteHeader(status int) {
	if rb.status == 0 {
		rb.status = status
	}
}

func (rb *responseBuffer) Write(p []byte) (int, error) {
	if rb.status == 0 {
		rb.status = http.StatusOK
	}
	return rb.body.Write(p)
}

// Status returns the response status, 200 if none was set.
func (rb *responseBuffer) Status() int {
	if rb.status == 0 {
		return http.StatusOK
	}
	return rb.status
}

// WriteTo serializes the response as HTTP/1.1 with Connection: close.
// HEAD requests get headers only.
func (rb *responseBuffer) WriteTo(w io.Writer, req *http.Request) error {
	if rb.header.Get("Content-Type") == "" && rb.body.Len() > 0 {
		rb.header.Set("Content-Type", http.DetectContentType(rb.body.Bytes()))
	}
	rb.header.Set("Content-Length", strconv.Itoa(rb.body.Len()))

	resp := &http.Response{
		Status:        fmt.Sprintf("%d %s", rb.Status(), http.StatusText(rb.Status())),
		StatusCode:    rb.Status(),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        rb.header,
		ContentLength: int64(rb.body.Len()),
		Close:         true,
		Request:       req,
	}
	if req == nil || req.Method != http.MethodHead {
		resp.Body = io.NopCloser(bytes.NewReader(rb.body.Bytes()))
	}
	return resp.Write(w)
}
