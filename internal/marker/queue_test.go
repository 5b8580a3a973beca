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
	"testing"

	"flycoord/internal/txn"
)

func testEntry(txnID string, logPartition int32, parts ...txn.TopicPartition) *Entry {
	return &Entry{
		TransactionalID: txnID,
		LogPartition:    logPartition,
		ProducerID:      1000,
		ProducerEpoch:   1,
		Result:          txn.ResultCommit,
		Partitions:      parts,
	}
}

func tp(topic string, partition int32) txn.TopicPartition {
	return txn.TopicPartition{Topic: topic, Partition: partition}
}

func TestQueueEnqueueDrainOrder(t *testing.T) {
	q := NewQueue("broker-1")
	q.Enqueue(testEntry("txn-a", 0, tp("orders", 0)))
	q.Enqueue(testEntry("txn-b", 1, tp("orders", 1)))
	q.Enqueue(testEntry("txn-c", 0, tp("orders", 2)))

	if got := q.TotalMarkers(); got != 3 {
		t.Fatalf("expected 3 markers, got %d", got)
	}
	if got := q.TotalMarkersFor(0); got != 2 {
		t.Fatalf("expected 2 markers for log partition 0, got %d", got)
	}

	drained := q.DrainAll()
	if len(drained) != 3 {
		t.Fatalf("expected 3 drained entries, got %d", len(drained))
	}
	want := []string{"txn-a", "txn-b", "txn-c"}
	for i, e := range drained {
		if e.TransactionalID != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], e.TransactionalID)
		}
	}

	if got := q.TotalMarkers(); got != 0 {
		t.Errorf("expected empty queue after drain, got %d", got)
	}
	if q.DrainAll() != nil {
		t.Error("expected nil from draining an empty queue")
	}
}

func TestQueueRemoveLogPartition(t *testing.T) {
	q := NewQueue("broker-1")
	q.Enqueue(testEntry("txn-a", 7, tp("orders", 0)))
	q.Enqueue(testEntry("txn-b", 3, tp("orders", 1)))
	q.Enqueue(testEntry("txn-c", 7, tp("orders", 2)))

	if removed := q.RemoveLogPartition(7); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if removed := q.RemoveLogPartition(7); removed != 0 {
		t.Fatalf("expected 0 removed on second purge, got %d", removed)
	}
	if got := q.TotalMarkers(); got != 1 {
		t.Fatalf("expected 1 marker left, got %d", got)
	}

	drained := q.DrainAll()
	if len(drained) != 1 || drained[0].TransactionalID != "txn-b" {
		t.Fatalf("expected only txn-b to survive, got %+v", drained)
	}
}

func TestQueueTransferResolved(t *testing.T) {
	q := NewQueue(UnknownDestination)
	q.Enqueue(testEntry("txn-a", 0, tp("orders", 0), tp("orders", 1), tp("orders", 2)))
	q.Enqueue(testEntry("txn-b", 1, tp("payments", 0)))

	// orders/0 and orders/1 now have leaders; orders/2 and payments/0 do not.
	leaders := map[txn.TopicPartition]string{
		tp("orders", 0): "broker-1",
		tp("orders", 1): "broker-2",
	}
	moves := q.TransferResolved(func(p txn.TopicPartition) (string, bool) {
		node, ok := leaders[p]
		return node, ok
	})

	if len(moves) != 2 {
		t.Fatalf("expected moves to 2 brokers, got %d", len(moves))
	}
	if len(moves["broker-1"]) != 1 || len(moves["broker-1"][0].Partitions) != 1 {
		t.Errorf("broker-1 move wrong: %+v", moves["broker-1"])
	}
	if len(moves["broker-2"]) != 1 || len(moves["broker-2"][0].Partitions) != 1 {
		t.Errorf("broker-2 move wrong: %+v", moves["broker-2"])
	}

	// txn-a's unresolved remainder and all of txn-b stay queued.
	if got := q.TotalMarkers(); got != 2 {
		t.Fatalf("expected 2 markers left, got %d", got)
	}
	if got := q.TotalMarkersFor(0); got != 1 {
		t.Errorf("expected 1 marker for log partition 0, got %d", got)
	}
	drained := q.DrainAll()
	for _, e := range drained {
		if e.TransactionalID == "txn-a" {
			if len(e.Partitions) != 1 || e.Partitions[0] != tp("orders", 2) {
				t.Errorf("txn-a remainder wrong: %+v", e.Partitions)
			}
		}
	}
}

func TestQueueTransferResolvedNothingResolves(t *testing.T) {
	q := NewQueue(UnknownDestination)
	q.Enqueue(testEntry("txn-a", 0, tp("orders", 0)))

	moves := q.TransferResolved(func(txn.TopicPartition) (string, bool) { return "", false })
	if moves != nil {
		t.Fatalf("expected no moves, got %+v", moves)
	}
	if got := q.TotalMarkers(); got != 1 {
		t.Fatalf("expected marker to stay queued, got %d", got)
	}
}

func TestRegistryCounts(t *testing.T) {
	r := NewRegistry()
	r.Get("broker-1").Enqueue(testEntry("txn-a", 0, tp("orders", 0)))
	r.Get("broker-2").Enqueue(testEntry("txn-b", 1, tp("orders", 1)))
	r.Unknown().Enqueue(testEntry("txn-c", 0, tp("orders", 2)))

	if got := r.TotalMarkers(); got != 3 {
		t.Fatalf("expected 3 total markers, got %d", got)
	}
	if got := r.TotalMarkersFor(0); got != 2 {
		t.Fatalf("expected 2 markers for log partition 0, got %d", got)
	}
	if got := r.QueueCount(); got != 2 {
		t.Fatalf("expected 2 broker queues, got %d", got)
	}

	// Same queue instance on repeat lookup.
	if r.Get("broker-1") != r.Get("broker-1") {
		t.Error("expected stable queue instance per node")
	}
}
