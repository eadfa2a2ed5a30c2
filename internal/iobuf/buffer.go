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

// Package iobuf provides the growable byte buffer used for all socket
// reads and writes, plus the non-blocking read and write helpers built on it.
package iobuf

// ChunkSize is the target number of free bytes before a read and the
// minimum growth step.
const ChunkSize = 16 * 1024

// Buffer is an owned, resizable byte sequence with a logical length.
// Bytes in [0, Len) are content; the rest of the backing slice is free.
// Growth never discards content.
type Buffer struct {
	data []byte
	n    int
}

// New returns a Buffer with the given initial capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Len returns the logical length.
func (b *Buffer) Len() int { return b.n }

// Cap returns the capacity of the backing slice.
func (b *Buffer) Cap() int { return len(b.data) }

// Free returns the capacity after the logical content.
func (b *Buffer) Free() int { return len(b.data) - b.n }

// Bytes returns the logical content. The slice is valid until the next
// mutating call.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// String returns the logical content as a string.
func (b *Buffer) String() string { return string(b.data[:b.n]) }

// Grow adds max(ChunkSize, 2*Free) bytes of capacity.
func (b *Buffer) Grow() {
	step := 2 * b.Free()
	if step < ChunkSize {
		step = ChunkSize
	}
	next := make([]byte, len(b.data)+step)
	copy(next, b.data[:b.n])
	b.data = next
}

// Reserve grows the buffer until at least want bytes are free.
func (b *Buffer) Reserve(want int) {
	for b.Free() < want {
		b.Grow()
	}
}

// Write appends p, growing as needed. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Reserve(len(p))
	copy(b.data[b.n:], p)
	b.n += len(p)
	return len(p), nil
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) (int, error) {
	b.Reserve(len(s))
	copy(b.data[b.n:], s)
	b.n += len(s)
	return len(s), nil
}

// Consume drops the first n content bytes, shifting the rest to the front.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= b.n {
		b.n = 0
		return
	}
	copy(b.data, b.data[n:b.n])
	b.n -= n
}

// Reset empties the buffer and keeps its capacity.
func (b *Buffer) Reset() { b.n = 0 }

// tail returns the free region after the content.
func (b *Buffer) tail() []byte { return b.data[b.n:] }

// extend marks n bytes of the free region as content.
func (b *Buffer) extend(n int) { b.n += n }
