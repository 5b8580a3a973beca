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

package marker

import (
	"sync"

	"flycoord/internal/metrics"
)

// UnknownDestination is the destination name of the queue holding markers
// whose partition leader could not be resolved yet.
const UnknownDestination = "(unknown)"

// Registry maps broker node ids to their marker queues and owns the shared
// unknown-destination queue. Broker queues are created lazily on first use
// and kept for the life of the registry; an empty queue for a departed
// broker is harmless.
type Registry struct {
	mu      sync.RWMutex
	queues  map[string]*Queue
	unknown *Queue
}

// NewRegistry creates a registry with an empty unknown-destination queue.
func NewRegistry() *Registry {
	return &Registry{
		queues:  make(map[string]*Queue),
		unknown: NewQueue(UnknownDestination),
	}
}

// Get returns the queue for the given broker node, creating it if needed.
func (r *Registry) Get(nodeID string) *Queue {
	r.mu.RLock()
	q, ok := r.queues[nodeID]
	r.mu.RUnlock()
	if ok {
		return q
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[nodeID]; ok {
		return q
	}
	q = NewQueue(nodeID)
	r.queues[nodeID] = q
	metrics.Get().BrokerQueueCount.Store(int64(len(r.queues)))
	return q
}

// Unknown returns the unknown-destination queue.
func (r *Registry) Unknown() *Queue {
	return r.unknown
}

// Each calls fn for every broker queue. The unknown queue is not included.
// fn runs outside the registry lock.
func (r *Registry) Each(fn func(nodeID string, q *Queue)) {
	r.mu.RLock()
	snapshot := make(map[string]*Queue, len(r.queues))
	for id, q := range r.queues {
		snapshot[id] = q
	}
	r.mu.RUnlock()

	for id, q := range snapshot {
		fn(id, q)
	}
}

// TotalMarkers returns the number of marker entries across every queue,
// including the unknown queue. Counts are summed on read under each queue's
// own lock, not a global one: a read racing a queue-to-queue transfer may
// miss a marker that is between queues, which is indistinguishable from
// reading a moment earlier. Exact counts require excluding transfers, as
// the emigration purge does.
func (r *Registry) TotalMarkers() int {
	total := r.unknown.TotalMarkers()
	r.Each(func(_ string, q *Queue) {
		total += q.TotalMarkers()
	})
	return total
}

// TotalMarkersFor returns the number of marker entries owned by the given
// transaction log partition across every queue.
func (r *Registry) TotalMarkersFor(logPartition int32) int {
	total := r.unknown.TotalMarkersFor(logPartition)
	r.Each(func(_ string, q *Queue) {
		total += q.TotalMarkersFor(logPartition)
	})
	return total
}

// QueueCount returns the number of broker queues created so far.
func (r *Registry) QueueCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}
