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

// Package listener owns the shared TCP listen socket.
//
// The master binds the socket once and keeps it as an inheritable
// *os.File. Workers receive the same descriptor at a fixed position and
// reopen it with Inherit. Only the master closes or rebinds it.
package listener

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	perrors "github.com/tombee/preforkd/pkg/errors"
)

// InheritedFD is the descriptor number a worker finds the listen socket on.
// It is the first entry of exec.Cmd.ExtraFiles.
const InheritedFD = 3

// Socket is a bound, listening TCP socket.
type Socket struct {
	file *os.File
	fd   int
	bind string
	port int
}

// Bind creates a listening TCP socket on bind:port. Port 0 picks an
// ephemeral port; Port reports the one chosen.
func Bind(bind string, port int) (*Socket, error) {
	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &perrors.BindError{Addr: bind, Port: port, Cause: err}
	}
	// The net.Listener is only used to create the socket. File returns a
	// duplicate that stays open after ln is closed.
	defer ln.Close()

	tcp, ok := ln.(*net.TCPListener)
	if !ok {
		return nil, &perrors.BindError{Addr: bind, Port: port, Cause: fmt.Errorf("unexpected listener type %T", ln)}
	}
	f, err := tcp.File()
	if err != nil {
		return nil, &perrors.BindError{Addr: bind, Port: port, Cause: fmt.Errorf("failed to duplicate listener: %w", err)}
	}

	// Fd puts the socket into blocking mode on every call. Read it once
	// here, before any worker has set O_NONBLOCK on the shared socket.
	fd := int(f.Fd())

	return &Socket{
		file: f,
		fd:   fd,
		bind: bind,
		port: tcp.Addr().(*net.TCPAddr).Port,
	}, nil
}

// Inherit adopts a listen socket descriptor received from the master.
// The descriptor is used raw; it is never wrapped in an *os.File.
func Inherit(fd int) (*Socket, error) {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return nil, fmt.Errorf("inherited descriptor %d is not a socket: %w", fd, err)
	}
	if typ != unix.SOCK_STREAM {
		return nil, fmt.Errorf("inherited descriptor %d is not a stream socket", fd)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("failed to read inherited socket address: %w", err)
	}

	s := &Socket{fd: fd}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		s.bind = net.IP(a.Addr[:]).String()
		s.port = a.Port
	case *unix.SockaddrInet6:
		s.bind = net.IP(a.Addr[:]).String()
		s.port = a.Port
	default:
		return nil, fmt.Errorf("inherited descriptor %d is not a TCP socket", fd)
	}
	return s, nil
}

// File returns the socket as a file. It is nil for an inherited socket.
// Calling Fd on it clears O_NONBLOCK for every process sharing the socket.
func (s *Socket) File() *os.File { return s.file }

// Fd returns the raw descriptor.
func (s *Socket) Fd() int { return s.fd }

// Bind returns the bound address.
func (s *Socket) Bind() string { return s.bind }

// Port returns the bound port.
func (s *Socket) Port() int { return s.port }

// Addr returns bind:port.
func (s *Socket) Addr() string { return net.JoinHostPort(s.bind, strconv.Itoa(s.port)) }

// Close closes this process's copy of the socket. Workers holding their
// own copy keep accepting until they exit.
func (s *Socket) Close() error {
	if s == nil {
		return nil
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		s.fd = -1
		return err
	}
	if s.fd >= 0 {
		err := unix.Close(s.fd)
		s.fd = -1
		return err
	}
	return nil
}

// IsRemote reports whether bind exposes the socket beyond localhost.
func IsRemote(bind string) bool {
	switch bind {
	case "", "0.0.0.0", "::":
		return true
	case "localhost", "127.0.0.1", "::1":
		return false
	}
	return true
}
