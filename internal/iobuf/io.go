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

package iobuf

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrPeerClosed is returned by ReadFill when the peer closed the
	// connection in an orderly way.
	ErrPeerClosed = errors.New("iobuf: peer closed connection")
)

// ConnError reports a descriptor failure that makes the connection unusable.
type ConnError struct {
	Op  string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("iobuf: %s: %v", e.Op, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// ReadFill reads whatever is available on the non-blocking descriptor fd
// into the end of buf. The buffer is grown first when fewer than ChunkSize
// bytes are free.
//
// It returns the number of bytes appended. 0 with a nil error means no data
// is available yet. A zero-length read returns ErrPeerClosed and any other
// failure a *ConnError; either way the connection must be torn down.
func ReadFill(fd int, buf *Buffer) (int, error) {
	if buf.Free() < ChunkSize {
		buf.Grow()
	}
	for {
		n, err := unix.Read(fd, buf.tail())
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, nil
		case err != nil:
			return 0, &ConnError{Op: "read", Err: err}
		case n == 0:
			return 0, ErrPeerClosed
		}
		buf.extend(n)
		return n, nil
	}
}

// WriteDrain writes as much of buf as fd accepts without blocking and
// removes the written bytes from the front of buf. It keeps writing while
// the descriptor makes progress.
//
// It returns the number of bytes written, which may be 0. Would-block is
// not an error. WriteDrain never grows buf.
func WriteDrain(fd int, buf *Buffer) (int, error) {
	total := 0
	for buf.Len() > 0 {
		n, err := unix.Write(fd, buf.Bytes())
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			return total, &ConnError{Op: "write", Err: err}
		}
		if n <= 0 {
			break
		}
		buf.Consume(n)
		total += n
	}
	return total, nil
}
