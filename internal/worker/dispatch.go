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
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tombee/preforkd/internal/app"
	"github.com/tombee/preforkd/internal/conn"
	"github.com/tombee/preforkd/internal/iobuf"
	"github.com/tombee/preforkd/internal/log"
	"github.com/tombee/preforkd/internal/protocol"
	"github.com/tombee/preforkd/internal/relay"
)

var (
	// ErrReadTimeout is returned when a full request does not arrive
	// within the read timeout.
	ErrReadTimeout = errors.New("worker: read timeout")

	// ErrWriteTimeout is returned when the response cannot be flushed
	// within the write timeout.
	ErrWriteTimeout = errors.New("worker: write timeout")
)

// Dispatcher services one accepted connection from first byte to close.
type Dispatcher struct {
	SelectProtocol protocol.Selector
	SelectApp      app.Selector

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger

	mw      *log.ConnMiddleware
	closeFD func(int) error
	now     func() time.Time
}

// NewDispatcher returns a Dispatcher that closes descriptors with close(2).
func NewDispatcher(sp protocol.Selector, sa app.Selector, readTimeout, writeTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		SelectProtocol: sp,
		SelectApp:      sa,
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		Logger:         logger,
		mw:             log.NewConnMiddleware(logger),
		closeFD:        unix.Close,
		now:            time.Now,
	}
}

// Dispatch reads and parses one request from fd, runs the application,
// writes the response and closes fd. fd is closed exactly once whatever
// happens. Errors never leave Dispatch; they are logged.
func (d *Dispatcher) Dispatch(fd int, ip string, port int) *log.ConnResult {
	defer func() {
		if err := d.closeFD(fd); err != nil {
			d.Logger.Debug("close failed", log.Error(err))
		}
	}()

	var proto conn.Protocol
	if d.SelectProtocol != nil {
		proto = d.SelectProtocol(ip, port, fd)
	}
	var a conn.App
	if d.SelectApp != nil {
		a = d.SelectApp()
	}
	c, err := conn.New(fd, ip, port, proto, a)
	if err != nil {
		return nil
	}

	ev := &log.ConnEvent{
		Peer:     c.Peer(),
		Protocol: proto.Name(),
		App:      a.Name(),
	}
	return d.mw.Handle(ev, func() *log.ConnResult {
		return d.serve(c)
	})
}

func (d *Dispatcher) serve(c *conn.Context) *log.ConnResult {
	if err := d.readRequest(c); err != nil {
		stage := "read"
		var pe *parseError
		if errors.As(err, &pe) {
			stage = "parse"
			err = pe.err
		}
		return &log.ConnResult{Stage: stage, Err: err}
	}

	if err := c.App.Handle(c); err != nil {
		d.Logger.Warn("application failed",
			log.PeerKey, c.Peer(),
			"app", c.App.Name(),
			log.Error(err))
	}

	written, err := d.flush(c)
	if err != nil {
		return &log.ConnResult{Stage: "write", Written: written, Err: err}
	}
	return &log.ConnResult{Stage: "done", Written: written}
}

type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// readRequest fills c.In until the protocol reports a complete request.
func (d *Dispatcher) readRequest(c *conn.Context) error {
	deadline := d.now().Add(d.ReadTimeout)
	for {
		n, err := iobuf.ReadFill(c.Fd, c.In)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := d.wait(c.Fd, unix.POLLIN, deadline, ErrReadTimeout); err != nil {
				return err
			}
			continue
		}

		status, err := c.Protocol.Parse(c)
		if err != nil {
			return &parseError{err: err}
		}
		if status == conn.Complete {
			return nil
		}
	}
}

// flush writes c.Out until it is empty.
func (d *Dispatcher) flush(c *conn.Context) (int, error) {
	deadline := d.now().Add(d.WriteTimeout)
	total := 0
	for c.Out.Len() > 0 {
		n, err := iobuf.WriteDrain(c.Fd, c.Out)
		total += n
		if err != nil {
			return total, err
		}
		if c.Out.Len() == 0 {
			break
		}
		if err := d.wait(c.Fd, unix.POLLOUT, deadline, ErrWriteTimeout); err != nil {
			return total, err
		}
	}
	return total, nil
}

// wait polls fd until it is ready or deadline passes, in which case it
// returns timeoutErr.
func (d *Dispatcher) wait(fd int, events int16, deadline time.Time, timeoutErr error) error {
	remaining := deadline.Sub(d.now())
	if remaining <= 0 {
		return timeoutErr
	}
	if _, err := waitFD(fd, events, relay.PollTimeout(remaining)); err != nil {
		return err
	}
	return nil
}
