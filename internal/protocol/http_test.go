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
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/preforkd/internal/conn"
)

type nopApp struct{}

func (nopApp) Name() string { return "nop" }
func (nopApp) Handle(*conn.Context) error { return nil }

func newContext(t *testing.T, p conn.Protocol, input string) *conn.Context {
	t.Helper()
	c, err := conn.New(-1, "192.0.2.7", 40000, p, nopApp{})
	require.NoError(t, err)
	_, _ = c.In.WriteString(input)
	return c
}

func TestHTTPParse(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantStatus conn.ParseStatus
		wantErr    error
		anyErr     bool
		wantMethod string
		wantPath   string
		wantBody   string
	}{
		{
			name:       "partial request line",
			input:      "GET / HT",
			wantStatus: conn.NeedMore,
		},
		{
			name:       "headers not terminated",
			input:      "GET / HTTP/1.1\r\nHost: x\r\n",
			wantStatus: conn.NeedMore,
		},
		{
			name:       "simple GET",
			input:      "GET /healthz HTTP/1.1\r\nHost: x\r\n\r\n",
			wantStatus: conn.Complete,
			wantMethod: "GET",
			wantPath:   "/healthz",
		},
		{
			name:       "POST body incomplete",
			input:      "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 10\r\n\r\nhello",
			wantStatus: conn.NeedMore,
		},
		{
			name:       "POST body complete",
			input:      "POST /echo HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\nhello",
			wantStatus: conn.Complete,
			wantMethod: "POST",
			wantPath:   "/echo",
			wantBody:   "hello",
		},
		{
			name:    "chunked body rejected",
			input:   "POST / HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n",
			wantErr: ErrChunkedBody,
		},
		{
			name:   "garbage request line",
			input:  "NOT HTTP AT ALL\r\n\r\n",
			anyErr: true,
		},
		{
			name:    "body too large",
			input:   "POST / HTTP/1.1\r\nHost: x\r\nContent-Length: 999999999\r\n\r\n",
			wantErr: ErrBodyTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newContext(t, HTTP{}, tt.input)

			status, err := HTTP{}.Parse(c)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			if tt.anyErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status)

			if status != conn.Complete {
				assert.Nil(t, c.Request)
				assert.Equal(t, len(tt.input), c.In.Len(), "nothing consumed")
				return
			}

			req, ok := c.Request.(*http.Request)
			require.True(t, ok)
			assert.Equal(t, tt.wantMethod, req.Method)
			assert.Equal(t, tt.wantPath, req.URL.Path)
			assert.Equal(t, "192.0.2.7:40000", req.RemoteAddr)

			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, string(body))
			assert.Equal(t, 0, c.In.Len(), "request consumed")
		})
	}
}

func TestHTTPParseIncremental(t *testing.T) {
	input := "POST /x HTTP/1.1\r\nHost: x\r\nContent-Length: 3\r\n\r\nabc"
	c := newContext(t, HTTP{}, "")

	for i := 0; i < len(input)-1; i++ {
		_, _ = c.In.WriteString(input[i : i+1])
		status, err := HTTP{}.Parse(c)
		require.NoError(t, err)
		require.Equal(t, conn.NeedMore, status, "after %d bytes", i+1)
	}

	_, _ = c.In.WriteString(input[len(input)-1:])
	status, err := HTTP{}.Parse(c)
	require.NoError(t, err)
	assert.Equal(t, conn.Complete, status)
}

func TestHTTPHeaderTooLarge(t *testing.T) {
	c := newContext(t, HTTP{}, "GET / HTTP/1.1\r\nX-Big: "+strings.Repeat("a", MaxHeaderBytes))
	_, err := HTTP{}.Parse(c)
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}
