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

// Package txn defines the transaction metadata model shared between the
// transaction state manager and the marker dispatch layer.
package txn

import (
	"time"
)

// State represents the state of a transaction in the coordinator's state
// machine.
type State string

const (
	StateEmpty          State = "empty"
	StateOngoing        State = "ongoing"
	StatePrepareCommit  State = "prepare-commit"
	StatePrepareAbort   State = "prepare-abort"
	StateCompleteCommit State = "complete-commit"
	StateCompleteAbort  State = "complete-abort"
	StateDead           State = "dead"
)

// Result is the outcome a transaction's markers carry to partition leaders.
type Result string

const (
	ResultCommit Result = "commit"
	ResultAbort  Result = "abort"
)

// PrepareState returns the coordinator state entered when markers for this
// result start being dispatched.
func (r Result) PrepareState() State {
	if r == ResultCommit {
		return StatePrepareCommit
	}
	return StatePrepareAbort
}

// CompleteState returns the coordinator state entered once all markers for
// this result have been acked.
func (r Result) CompleteState() State {
	if r == ResultCommit {
		return StateCompleteCommit
	}
	return StateCompleteAbort
}

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

// Metadata is a read snapshot of a transaction's state. Once handed to the
// marker dispatch layer it is treated as immutable; derived snapshots are
// produced with Clone.
type Metadata struct {
	TransactionalID string           `json:"transactional_id"`
	ProducerID      int64            `json:"producer_id"`
	ProducerEpoch   int16            `json:"producer_epoch"`
	Timeout         time.Duration    `json:"timeout"`
	State           State            `json:"state"`
	Partitions      []TopicPartition `json:"partitions"` // partitions enrolled in the transaction, in enrollment order
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Clone returns a deep copy of the metadata snapshot.
func (m *Metadata) Clone() *Metadata {
	cp := *m
	cp.Partitions = make([]TopicPartition, len(m.Partitions))
	copy(cp.Partitions, m.Partitions)
	return &cp
}

// Completed returns the snapshot this transaction transitions to once all
// markers have been acked: same identity, complete state, updated timestamp.
func (m *Metadata) Completed(result Result, at time.Time) *Metadata {
	cp := m.Clone()
	cp.State = result.CompleteState()
	cp.UpdatedAt = at
	return cp
}
