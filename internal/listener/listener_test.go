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

package listener

import (
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	perrors "github.com/tombee/preforkd/pkg/errors"
)

func TestBindEphemeral(t *testing.T) {
	s, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer s.Close()

	assert.NotZero(t, s.Port())
	assert.Equal(t, "127.0.0.1", s.Bind())
	assert.NotNil(t, s.File())
	assert.GreaterOrEqual(t, s.Fd(), 0)

	// The socket accepts connections after the net.Listener is gone.
	c, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	c.Close()
}

func TestBindInUse(t *testing.T) {
	s, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = Bind("127.0.0.1", s.Port())
	require.Error(t, err)

	var bindErr *perrors.BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Equal(t, s.Port(), bindErr.Port)
	assert.Contains(t, err.Error(), "setup tcp server failed on 127.0.0.1:"+strconv.Itoa(s.Port()))
}

func TestInherit(t *testing.T) {
	s, err := Bind("127.0.0.1", 0)
	require.NoError(t, err)
	defer s.Close()

	dup, err := unix.Dup(s.Fd())
	require.NoError(t, err)

	in, err := Inherit(dup)
	require.NoError(t, err)
	assert.Equal(t, s.Port(), in.Port())
	assert.Equal(t, "127.0.0.1", in.Bind())
	assert.Nil(t, in.File())
	assert.Equal(t, dup, in.Fd())

	require.NoError(t, in.Close())
	assert.Equal(t, -1, in.Fd())
	assert.NoError(t, in.Close(), "second close is a no-op")
}

func TestInheritRejectsNonSocket(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe(p[:]))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	_, err := Inherit(p[0])
	assert.Error(t, err)
}

func TestCloseNil(t *testing.T) {
	var s *Socket
	assert.NoError(t, s.Close())
}

func TestIsRemote(t *testing.T) {
	tests := []struct {
		bind string
		want bool
	}{
		{"", true},
		{"0.0.0.0", true},
		{"::", true},
		{"127.0.0.1", false},
		{"localhost", false},
		{"::1", false},
		{"192.168.1.10", true},
	}
	for _, tt := range tests {
		t.Run(tt.bind, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRemote(tt.bind))
		})
	}
}
