/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package marker implements the transaction marker dispatch layer of the
FlyCoord transaction coordinator.

OVERVIEW:
=========
When a transaction reaches prepare-commit or prepare-abort, the
coordinator must deliver a marker to every broker leading a partition
enrolled in the transaction before the transaction can complete. This
package owns the routing and completion-tracking discipline:

	ChannelManager
	 ├── Registry (broker id -> Queue, plus one unknown-destination Queue)
	 │    └── Queue (ordered marker entries + per-txn-log-partition counts)
	 ├── Purgatory (outstanding ack sets with deadlines)
	 └── sender loop (periodic drain into batched per-broker requests)

Markers whose partition leader is not yet known wait in the unknown
queue and are re-resolved on every sender pass. A marker entry lives in
exactly one queue at any instant; transfers between queues happen under
the queue locks, and partition emigration purges take an exclusive
barrier so a marker is either fully drained or fully purged, never both.
*/
package marker

import (
	"sync"

	"flycoord/internal/txn"
)

// Entry is one pending marker-send unit: a single transaction's marker for
// the partitions a single destination currently covers.
type Entry struct {
	TransactionalID  string
	LogPartition     int32 // transaction log partition owning the transactional id
	ProducerID       int64
	ProducerEpoch    int16
	CoordinatorEpoch int32
	Result           txn.Result
	Partitions       []txn.TopicPartition
}

// Queue is the ordered set of pending marker entries for one destination.
// Counts per transaction log partition are maintained on mutation so reads
// are O(1).
type Queue struct {
	destination string

	mu              sync.Mutex
	entries         []*Entry
	perLogPartition map[int32]int
}

// NewQueue creates an empty queue for the given destination.
func NewQueue(destination string) *Queue {
	return &Queue{
		destination:     destination,
		perLogPartition: make(map[int32]int),
	}
}

// Destination returns the destination this queue feeds.
func (q *Queue) Destination() string {
	return q.destination
}

// Enqueue appends entries to the queue.
func (q *Queue) Enqueue(entries ...*Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range entries {
		q.entries = append(q.entries, e)
		q.perLogPartition[e.LogPartition]++
	}
}

// DrainAll removes and returns every queued entry in order.
func (q *Queue) DrainAll() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	drained := q.entries
	q.entries = nil
	q.perLogPartition = make(map[int32]int)
	return drained
}

// RemoveLogPartition purges every entry owned by the given transaction log
// partition, returning the number removed. Entries for other partitions
// keep their order.
func (q *Queue) RemoveLogPartition(logPartition int32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := q.perLogPartition[logPartition]
	if removed == 0 {
		return 0
	}
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.LogPartition != logPartition {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	delete(q.perLogPartition, logPartition)
	return removed
}

// TransferResolved re-resolves every queued entry's partitions through the
// given resolve function and removes the parts that now have a known
// destination, returning them grouped by destination node. Partitions that
// still fail to resolve stay queued untouched. The whole pass runs under
// the queue lock so a concurrent purge sees either the old or the new
// contents, never a marker in flight between the two.
func (q *Queue) TransferResolved(resolve func(tp txn.TopicPartition) (string, bool)) map[string][]*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}

	moves := make(map[string][]*Entry)
	kept := make([]*Entry, 0, len(q.entries))
	counts := make(map[int32]int)

	for _, e := range q.entries {
		byNode := make(map[string][]txn.TopicPartition)
		var unresolved []txn.TopicPartition
		for _, tp := range e.Partitions {
			if node, ok := resolve(tp); ok {
				byNode[node] = append(byNode[node], tp)
			} else {
				unresolved = append(unresolved, tp)
			}
		}
		if len(byNode) == 0 {
			// Nothing resolved; leave the entry as is.
			kept = append(kept, e)
			counts[e.LogPartition]++
			continue
		}
		for node, parts := range byNode {
			moved := *e
			moved.Partitions = parts
			moves[node] = append(moves[node], &moved)
		}
		if len(unresolved) > 0 {
			remainder := *e
			remainder.Partitions = unresolved
			kept = append(kept, &remainder)
			counts[remainder.LogPartition]++
		}
	}

	q.entries = kept
	q.perLogPartition = counts
	return moves
}

// TotalMarkers returns the number of queued marker entries.
func (q *Queue) TotalMarkers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// TotalMarkersFor returns the number of queued marker entries owned by the
// given transaction log partition.
func (q *Queue) TotalMarkersFor(logPartition int32) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.perLogPartition[logPartition]
}
