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
	"testing"
	"time"
)

func TestResultStates(t *testing.T) {
	if ResultCommit.PrepareState() != StatePrepareCommit {
		t.Error("commit prepare state wrong")
	}
	if ResultCommit.CompleteState() != StateCompleteCommit {
		t.Error("commit complete state wrong")
	}
	if ResultAbort.PrepareState() != StatePrepareAbort {
		t.Error("abort prepare state wrong")
	}
	if ResultAbort.CompleteState() != StateCompleteAbort {
		t.Error("abort complete state wrong")
	}
}

func TestMetadataCloneIsIndependent(t *testing.T) {
	md := &Metadata{
		TransactionalID: "txn-1",
		ProducerID:      1000,
		State:           StateOngoing,
		Partitions:      []TopicPartition{{Topic: "orders", Partition: 0}},
	}

	cp := md.Clone()
	cp.Partitions[0].Partition = 99
	cp.State = StateDead

	if md.Partitions[0].Partition != 0 {
		t.Error("clone shares the partitions slice")
	}
	if md.State != StateOngoing {
		t.Error("clone shares state")
	}
}

func TestPartitionForIsStableAndInRange(t *testing.T) {
	m := NewMemoryStateManager(50)

	ids := []string{"txn-1", "txn-2", "orders-service-7", ""}
	for _, id := range ids {
		p := m.PartitionFor(id)
		if p < 0 || p >= 50 {
			t.Errorf("partition for %q out of range: %d", id, p)
		}
		if again := m.PartitionFor(id); again != p {
			t.Errorf("partition for %q unstable: %d then %d", id, p, again)
		}
	}
}

func TestMemoryStateManagerStateSnapshot(t *testing.T) {
	m := NewMemoryStateManager(50)
	m.Put(&Metadata{
		TransactionalID: "txn-1",
		ProducerID:      1000,
		State:           StatePrepareCommit,
		Partitions:      []TopicPartition{{Topic: "orders", Partition: 0}},
	})

	md, ok := m.CurrentState("txn-1")
	if !ok {
		t.Fatal("expected state for txn-1")
	}
	md.Partitions[0].Partition = 99

	fresh, _ := m.CurrentState("txn-1")
	if fresh.Partitions[0].Partition != 0 {
		t.Error("CurrentState leaked internal state")
	}

	if _, ok := m.CurrentState("missing"); ok {
		t.Error("expected no state for unknown id")
	}
}

func TestCompletedRecordRoundTrip(t *testing.T) {
	md := &Metadata{
		TransactionalID: "txn-1",
		ProducerID:      1000,
		ProducerEpoch:   2,
		State:           StateCompleteCommit,
		Partitions: []TopicPartition{
			{Topic: "orders", Partition: 0},
			{Topic: "payments", Partition: 3},
		},
	}
	at := time.Now()

	data, err := EncodeCompletedRecord(md, at)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	rec, err := DecodeCompletedRecord(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if rec.TransactionalID != "txn-1" || rec.ProducerID != 1000 || rec.ProducerEpoch != 2 {
		t.Errorf("identity fields wrong: %+v", rec)
	}
	if rec.State != string(StateCompleteCommit) {
		t.Errorf("expected complete-commit, got %s", rec.State)
	}
	if len(rec.Partitions) != 2 || rec.Partitions[1].Topic != "payments" {
		t.Errorf("partitions wrong: %+v", rec.Partitions)
	}
	if rec.CompletedAt != at.UnixMilli() {
		t.Errorf("completed_at wrong: %d vs %d", rec.CompletedAt, at.UnixMilli())
	}
}

func TestAppendCompleted(t *testing.T) {
	m := NewMemoryStateManager(50)

	if err := m.AppendCompleted("txn-1", nil); err == nil {
		t.Error("expected error for empty record")
	}
	if err := m.AppendCompleted("txn-1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	records := m.CompletedRecords("txn-1")
	if len(records) != 1 || len(records[0]) != 3 {
		t.Fatalf("unexpected records: %+v", records)
	}
}
