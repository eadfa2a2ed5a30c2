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

// Package conn defines the per-connection state a worker builds for every
// accepted socket and the capability interfaces that act on it.
package conn

import (
	"errors"
	"net"
	"strconv"

	"github.com/tombee/preforkd/internal/iobuf"
)

// ParseStatus is the outcome of one Parse call.
type ParseStatus int

const (
	// NeedMore means the inbound buffer does not hold a full request yet.
	NeedMore ParseStatus = iota
	// Complete means a request was parsed into Context.Request.
	Complete
)

func (s ParseStatus) String() string {
	switch s {
	case NeedMore:
		return "need-more"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Protocol is an incremental request parser.
type Protocol interface {
	// Name identifies the protocol in logs.
	Name() string

	// Parse consumes bytes from c.In. On Complete it stores the request in
	// c.Request. Any error tears the connection down.
	Parse(c *Context) (ParseStatus, error)
}

// App executes a parsed request and appends its response to c.Out.
type App interface {
	// Name identifies the application in logs.
	Name() string

	// Handle runs the request in c.Request. An error is logged by the
	// caller; whatever is in c.Out is still sent.
	Handle(c *Context) error
}

var (
	// ErrNoProtocol is returned by New when no protocol was selected.
	ErrNoProtocol = errors.New("conn: no protocol selected")

	// ErrNoApp is returned by New when no application was selected.
	ErrNoApp = errors.New("conn: no application selected")
)

// Context is the state of one accepted connection. It lives for exactly
// one request: the worker closes Fd once handling ends, whatever the outcome.
type Context struct {
	// Fd is the accepted, non-blocking socket.
	Fd int

	// PeerIP and PeerPort identify the remote end.
	PeerIP   string
	PeerPort int

	Protocol Protocol
	App      App

	// In holds bytes read from the peer, Out bytes waiting to be written.
	In  *iobuf.Buffer
	Out *iobuf.Buffer

	// Request is set by Protocol.Parse on Complete. Its type is agreed
	// between the protocol and the application.
	Request any
}

// New builds a Context. It fails when either capability is missing, in
// which case the caller abandons the connection.
func New(fd int, ip string, port int, proto Protocol, app App) (*Context, error) {
	if proto == nil {
		return nil, ErrNoProtocol
	}
	if app == nil {
		return nil, ErrNoApp
	}
	return &Context{
		Fd:       fd,
		PeerIP:   ip,
		PeerPort: port,
		Protocol: proto,
		App:      app,
		In:       iobuf.New(0),
		Out:      iobuf.New(0),
	}, nil
}

// Peer returns ip:port of the remote end.
func (c *Context) Peer() string {
	return net.JoinHostPort(c.PeerIP, strconv.Itoa(c.PeerPort))
}
