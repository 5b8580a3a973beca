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

package txn

import (
	"fmt"
	"hash/fnv"
	"sync"
)

// StateManager is the interface the marker dispatch layer consumes from the
// transaction log. The log's persistence and replication live outside this
// process; the coordinator only needs id-to-partition hashing, state
// lookups, and an append path for completed-state records.
type StateManager interface {
	// PartitionFor returns the transaction log partition the transactional
	// id hashes to. This partition is the unit of coordinator ownership.
	PartitionFor(transactionalID string) int32

	// CurrentState returns the current metadata snapshot for the id.
	CurrentState(transactionalID string) (*Metadata, bool)

	// AppendCompleted hands a serialized completed-state record to the
	// transaction log.
	AppendCompleted(transactionalID string, record []byte) error
}

// MemoryStateManager is an in-memory StateManager used by the coordinator
// runtime and by tests. Partition hashing matches the broker's key
// partitioner (FNV-1a).
type MemoryStateManager struct {
	mu            sync.RWMutex
	logPartitions int32
	states        map[string]*Metadata
	completed     map[string][][]byte
}

// NewMemoryStateManager creates a state manager with the given transaction
// log partition count.
func NewMemoryStateManager(logPartitions int32) *MemoryStateManager {
	return &MemoryStateManager{
		logPartitions: logPartitions,
		states:        make(map[string]*Metadata),
		completed:     make(map[string][][]byte),
	}
}

// PartitionFor hashes the transactional id onto a transaction log partition.
func (m *MemoryStateManager) PartitionFor(transactionalID string) int32 {
	h := fnv.New32a()
	h.Write([]byte(transactionalID))
	return int32(h.Sum32() % uint32(m.logPartitions))
}

// Put stores a metadata snapshot.
func (m *MemoryStateManager) Put(md *Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[md.TransactionalID] = md.Clone()
}

// CurrentState returns the current metadata snapshot for the id.
func (m *MemoryStateManager) CurrentState(transactionalID string) (*Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	md, ok := m.states[transactionalID]
	if !ok {
		return nil, false
	}
	return md.Clone(), true
}

// AppendCompleted records a completed-state record for the id.
func (m *MemoryStateManager) AppendCompleted(transactionalID string, record []byte) error {
	if len(record) == 0 {
		return fmt.Errorf("empty completed record for %s", transactionalID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(record))
	copy(cp, record)
	m.completed[transactionalID] = append(m.completed[transactionalID], cp)
	return nil
}

// CompletedRecords returns the records appended for the id.
func (m *MemoryStateManager) CompletedRecords(transactionalID string) [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.completed[transactionalID]
}
