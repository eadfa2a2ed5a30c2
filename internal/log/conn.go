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

package log

import (
	"log/slog"
	"time"
)

// ConnEvent describes one accepted connection for logging purposes.
type ConnEvent struct {
	// Peer is the remote address of the client (ip:port).
	Peer string

	// Protocol is the name of the protocol capability chosen for the connection.
	Protocol string

	// App is the name of the application capability chosen for the connection.
	App string
}

// ConnResult describes how a connection ended.
type ConnResult struct {
	// Stage is where handling stopped: "read", "parse", "write" or "done".
	// An application error still writes a response and ends in "done".
	Stage string

	// Written is the number of response bytes sent.
	Written int

	// Err is the error that ended handling early, if any.
	Err error

	// DurationMs is the time from accept to close in milliseconds.
	DurationMs int64
}

// LogConnResult logs the outcome of a connection. Clean completions are
// logged at debug, early teardowns at info with the error attached.
func LogConnResult(logger *slog.Logger, ev *ConnEvent, res *ConnResult) {
	attrs := []any{
		EventKey, "conn_closed",
		PeerKey, ev.Peer,
		"protocol", ev.Protocol,
		"app", ev.App,
		"stage", res.Stage,
		"written", res.Written,
		DurationKey, res.DurationMs,
	}

	if res.Err != nil {
		attrs = append(attrs, "error", res.Err.Error())
		logger.Info("connection torn down", attrs...)
		return
	}
	logger.Debug("connection handled", attrs...)
}

// ConnMiddleware times connection handling and logs the result.
type ConnMiddleware struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewConnMiddleware creates a new connection logging middleware.
func NewConnMiddleware(logger *slog.Logger) *ConnMiddleware {
	return &ConnMiddleware{
		logger: logger,
		now:    time.Now,
	}
}

// Handle runs handler and logs the ConnResult it returns. The duration is
// filled in by Handle.
func (m *ConnMiddleware) Handle(ev *ConnEvent, handler func() *ConnResult) *ConnResult {
	start := m.now()

	res := handler()
	if res == nil {
		res = &ConnResult{Stage: "done"}
	}
	res.DurationMs = m.now().Sub(start).Milliseconds()

	LogConnResult(m.logger, ev, res)
	return res
}
