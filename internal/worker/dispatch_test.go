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

package worker

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tombee/preforkd/internal/app"
	"github.com/tombee/preforkd/internal/conn"
	"github.com/tombee/preforkd/internal/iobuf"
	"github.com/tombee/preforkd/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// connPair returns a non-blocking server descriptor for Dispatch and the
// peer's descriptor. Only the peer is closed on cleanup; the server side
// belongs to Dispatch.
func connPair(t *testing.T) (server, peer int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	t.Cleanup(func() { unix.Close(fds[1]) })
	return fds[0], fds[1]
}

// closeCounter wraps close(2) and records every descriptor closed.
type closeCounter struct {
	closed []int
}

func (c *closeCounter) close(fd int) error {
	c.closed = append(c.closed, fd)
	return unix.Close(fd)
}

// recordingApp records calls and optionally fails after writing a reply.
type recordingApp struct {
	calls int
	reply string
	err   error
}

func (a *recordingApp) Name() string { return "recording" }

func (a *recordingApp) Handle(c *conn.Context) error {
	a.calls++
	_, _ = c.Out.WriteString(a.reply)
	return a.err
}

type failingProtocol struct{ err error }

func (failingProtocol) Name() string { return "failing" }

func (p failingProtocol) Parse(*conn.Context) (conn.ParseStatus, error) {
	return conn.NeedMore, p.err
}

func newTestDispatcher(p conn.Protocol, a conn.App, cc *closeCounter) *Dispatcher {
	d := NewDispatcher(
		func(string, int, int) conn.Protocol { return p },
		func() conn.App { return a },
		time.Second, time.Second, discardLogger(),
	)
	d.closeFD = cc.close
	return d
}

func readAll(t *testing.T, fd int) string {
	t.Helper()
	buf := iobuf.New(0)
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, unix.SetNonblock(fd, true))
	for time.Now().Before(deadline) {
		_, err := iobuf.ReadFill(fd, buf)
		if errors.Is(err, iobuf.ErrPeerClosed) {
			return buf.String()
		}
		require.NoError(t, err)
		_, _ = waitFD(fd, unix.POLLIN, 50)
	}
	t.Fatal("peer never closed the connection")
	return ""
}

func TestDispatchSuccess(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	d := newTestDispatcher(protocol.Line{}, app.Echo{}, cc)

	_, err := unix.Write(peer, []byte("hello\n"))
	require.NoError(t, err)

	res := d.Dispatch(server, "127.0.0.1", 4000)

	require.NotNil(t, res)
	assert.Equal(t, "done", res.Stage)
	assert.NoError(t, res.Err)
	assert.Equal(t, 6, res.Written)
	assert.Equal(t, []int{server}, cc.closed, "closed exactly once")
	assert.Equal(t, "hello\n", readAll(t, peer))
}

func TestDispatchRequestInPieces(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	d := newTestDispatcher(protocol.Line{}, app.Echo{}, cc)

	go func() {
		for _, part := range []string{"he", "ll", "o\n"} {
			_, _ = unix.Write(peer, []byte(part))
			time.Sleep(20 * time.Millisecond)
		}
	}()

	res := d.Dispatch(server, "127.0.0.1", 4000)
	assert.Equal(t, "done", res.Stage)
	assert.Len(t, cc.closed, 1)
	assert.Equal(t, "hello\n", readAll(t, peer))
}

func TestDispatchParseErrorTearsDown(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	a := &recordingApp{reply: "never"}
	parseErr := errors.New("bad request")
	d := newTestDispatcher(failingProtocol{err: parseErr}, a, cc)

	_, err := unix.Write(peer, []byte("garbage"))
	require.NoError(t, err)

	res := d.Dispatch(server, "127.0.0.1", 4000)

	assert.Equal(t, "parse", res.Stage)
	assert.ErrorIs(t, res.Err, parseErr)
	assert.Equal(t, 0, a.calls, "app not invoked")
	assert.Equal(t, []int{server}, cc.closed)
	assert.Equal(t, "", readAll(t, peer))
}

func TestDispatchAppFailureStillResponds(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	a := &recordingApp{reply: "partial", err: errors.New("app exploded")}
	d := newTestDispatcher(protocol.Line{}, a, cc)

	_, err := unix.Write(peer, []byte("go\n"))
	require.NoError(t, err)

	res := d.Dispatch(server, "127.0.0.1", 4000)

	assert.Equal(t, "done", res.Stage)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, []int{server}, cc.closed)
	assert.Equal(t, "partial", readAll(t, peer))
}

func TestDispatchPeerClosedBeforeSending(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	a := &recordingApp{}
	d := newTestDispatcher(protocol.HTTP{}, a, cc)

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	res := d.Dispatch(server, "127.0.0.1", 4000)

	assert.Equal(t, "read", res.Stage)
	assert.ErrorIs(t, res.Err, iobuf.ErrPeerClosed)
	assert.Equal(t, 0, a.calls)
	assert.Equal(t, []int{server}, cc.closed)
}

func TestDispatchReadTimeout(t *testing.T) {
	server, _ := connPair(t)
	cc := &closeCounter{}
	a := &recordingApp{}
	d := newTestDispatcher(protocol.Line{}, a, cc)
	d.ReadTimeout = 50 * time.Millisecond

	start := time.Now()
	res := d.Dispatch(server, "127.0.0.1", 4000)

	assert.ErrorIs(t, res.Err, ErrReadTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, a.calls)
	assert.Len(t, cc.closed, 1)
}

func TestDispatchConstructionFailure(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	d := newTestDispatcher(nil, &recordingApp{}, cc)
	d.SelectProtocol = func(string, int, int) conn.Protocol { return nil }

	res := d.Dispatch(server, "127.0.0.1", 4000)

	assert.Nil(t, res)
	assert.Equal(t, []int{server}, cc.closed)
	assert.Equal(t, "", readAll(t, peer))
}

func TestDispatchHTTPEndToEnd(t *testing.T) {
	server, peer := connPair(t)
	cc := &closeCounter{}
	sel, err := app.Lookup("hello", app.Options{})
	require.NoError(t, err)
	d := newTestDispatcher(protocol.HTTP{}, sel(), cc)

	_, err = unix.Write(peer, []byte("GET / HTTP/1.1\r\nHost: test\r\n\r\n"))
	require.NoError(t, err)

	res := d.Dispatch(server, "127.0.0.1", 4000)
	assert.Equal(t, "done", res.Stage)

	out := readAll(t, peer)
	assert.Contains(t, out, "HTTP/1.1 200 OK")
	assert.Contains(t, out, "Connection: close")
	assert.Contains(t, out, app.Greeting)
}
