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
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tombee/preforkd/internal/conn"
)

// Greeting is the body served at /.
const Greeting = "hello from preforkd"

// ErrNotHTTP is returned when an HTTP application receives a request that
// was not parsed by the http protocol.
var ErrNotHTTP = errors.New("app: request is not an http request")

// Hello is the default HTTP application: a greeting, a health check and
// optional static files, routed with chi.
type Hello struct {
	router chi.Router
}

// NewHello builds the router.
func NewHello(opts Options) *Hello {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(Greeting))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "ok pid=%d\n", os.Getpid())
	})

	if opts.StaticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir)))
		r.Get("/static/*", fs.ServeHTTP)
	}

	return &Hello{router: r}
}

// Name implements conn.App.
func (*Hello) Name() string { return "hello" }

// Handle implements conn.App. A 5xx response is still written, and also
// reported as an error.
func (h *Hello) Handle(c *conn.Context) error {
	req, ok := c.Request.(*http.Request)
	if !ok {
		return ErrNotHTTP
	}

	rb := newResponseBuffer()
	h.router.ServeHTTP(rb, req)

	if err := rb.WriteTo(c.Out, req); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if rb.Status() >= http.StatusInternalServerError {
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, rb.Status())
	}
	return nil
}
