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

package relay

import (
	"os"
	"sync"
)

// DefaultQueueSize is the number of pending signals a Queue holds before
// dropping new ones.
const DefaultQueueSize = 16

// Queue is a bounded FIFO of pending signals. The signal forwarder is the
// only producer; the run loop is the only consumer.
type Queue struct {
	mu      sync.Mutex
	items   []os.Signal
	limit   int
	dropped uint64
}

// NewQueue returns a Queue holding up to size signals.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		items: make([]os.Signal, 0, size),
		limit: size,
	}
}

// Enqueue appends sig. It reports false and drops sig when the queue is full.
func (q *Queue) Enqueue(sig os.Signal) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.limit {
		q.dropped++
		return false
	}
	q.items = append(q.items, sig)
	return true
}

// Pop removes and returns the oldest pending signal.
func (q *Queue) Pop() (os.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}
	sig := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]
	return sig, true
}

// Len returns the number of pending signals.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many signals were dropped because the queue was full.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
