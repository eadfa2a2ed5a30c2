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

package master

import (
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// WorkerRecord is the master's view of one worker process.
type WorkerRecord struct {
	PID int

	// ID is assigned at spawn and handed to the worker for its logs.
	ID string

	// Alive is cleared once the master has asked the worker to stop.
	Alive bool

	SpawnedAt time.Time
}

// Roster holds worker records in spawn order. New workers join at the
// back; scale-down takes from the front.
type Roster struct {
	m *orderedmap.OrderedMap[int, *WorkerRecord]
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{m: orderedmap.New[int, *WorkerRecord]()}
}

// Add appends rec at the back.
func (r *Roster) Add(rec *WorkerRecord) {
	r.m.Set(rec.PID, rec)
}

// Get returns the record for pid.
func (r *Roster) Get(pid int) (*WorkerRecord, bool) {
	return r.m.Get(pid)
}

// Remove drops the record for pid, wherever it is.
func (r *Roster) Remove(pid int) (*WorkerRecord, bool) {
	return r.m.Delete(pid)
}

// Len returns the number of records.
func (r *Roster) Len() int {
	return r.m.Len()
}

// Oldest returns up to n records from the front, oldest first.
func (r *Roster) Oldest(n int) []*WorkerRecord {
	out := make([]*WorkerRecord, 0, n)
	for pair := r.m.Oldest(); pair != nil && len(out) < n; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// All returns every record in spawn order.
func (r *Roster) All() []*WorkerRecord {
	return r.Oldest(r.m.Len())
}

// PIDs returns every pid in spawn order.
func (r *Roster) PIDs() []int {
	pids := make([]int, 0, r.m.Len())
	for pair := r.m.Oldest(); pair != nil; pair = pair.Next() {
		pids = append(pids, pair.Key)
	}
	return pids
}
