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

// Package relay turns asynchronous OS signals into ordered work for a
// single-threaded run loop.
//
// Delivered signals are appended to a Queue and announced by writing a
// byte to a self-pipe. The run loop blocks in IdleWait on the pipe's read
// end, so "wait for a signal" and "wait up to a timeout" are one call and
// a signal delivered just before the wait is never lost.
package relay

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tombee/preforkd/internal/log"
)

// Relay is a signal queue plus its self-pipe.
type Relay struct {
	queue  *Queue
	r, w   int
	logger *slog.Logger

	sigCh    chan os.Signal
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Relay with a queue of the given size.
func New(size int, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, w, err := newPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}
	return &Relay{
		queue:  NewQueue(size),
		r:      r,
		w:      w,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Notify starts relaying the given signals. Each delivery is appended to
// the queue and followed by Wake. It must be called at most once.
func (rl *Relay) Notify(sigs ...os.Signal) {
	rl.sigCh = make(chan os.Signal, cap(rl.queue.items))
	signal.Notify(rl.sigCh, sigs...)

	rl.wg.Add(1)
	go func() {
		defer rl.wg.Done()
		for {
			select {
			case sig := <-rl.sigCh:
				rl.Enqueue(sig)
			case <-rl.done:
				return
			}
		}
	}()
}

// Enqueue appends sig to the queue and wakes the run loop. A full queue
// drops sig with a warning.
func (rl *Relay) Enqueue(sig os.Signal) {
	if !rl.queue.Enqueue(sig) {
		rl.logger.Warn("signal queue full, dropping signal", log.Signal(sig))
	}
	rl.Wake()
}

// Pop removes the oldest pending signal.
func (rl *Relay) Pop() (os.Signal, bool) { return rl.queue.Pop() }

// Len returns the number of pending signals.
func (rl *Relay) Len() int { return rl.queue.Len() }

// Wake writes one byte to the pipe. A full pipe already holds a pending
// wakeup, so EAGAIN is ignored, as is EINTR.
func (rl *Relay) Wake() {
	_, err := unix.Write(rl.w, []byte{'.'})
	if err != nil && err != unix.EAGAIN && err != unix.EINTR {
		rl.logger.Debug("wake write failed", log.Error(err))
	}
}

// ReadFD returns the read end of the pipe, for callers that poll it
// together with other descriptors. Call Drain when it is readable.
func (rl *Relay) ReadFD() int { return rl.r }

// Drain consumes exactly one wakeup byte, if any.
func (rl *Relay) Drain() {
	var b [1]byte
	_, _ = unix.Read(rl.r, b[:])
}

// IdleWait blocks until Wake is called or timeout elapses. It reports
// whether it was woken. A woken wait consumes one byte; a timed-out wait
// consumes nothing. An interrupted poll returns early and unwoken.
func (rl *Relay) IdleWait(timeout time.Duration) bool {
	fds := []unix.PollFd{{Fd: int32(rl.r), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, PollTimeout(timeout))
	if err != nil {
		if err != unix.EINTR {
			rl.logger.Debug("idle wait poll failed", log.Error(err))
		}
		return false
	}
	if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		return false
	}
	rl.Drain()
	return true
}

// Stop stops relaying OS signals. Queued signals stay queued.
func (rl *Relay) Stop() {
	rl.stopOnce.Do(func() {
		if rl.sigCh != nil {
			signal.Stop(rl.sigCh)
		}
		close(rl.done)
		rl.wg.Wait()
	})
}

// Close stops the relay and closes the pipe.
func (rl *Relay) Close() error {
	rl.Stop()
	err := unix.Close(rl.r)
	if werr := unix.Close(rl.w); err == nil {
		err = werr
	}
	return err
}

// PollTimeout converts d to poll(2) milliseconds, rounding up so a
// sub-millisecond timeout does not become a busy poll. Negative waits forever.
func PollTimeout(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d / time.Millisecond
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
