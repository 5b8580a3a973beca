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
	"errors"
	"testing"
	"time"

	"flycoord/internal/txn"
)

func testMetadata(txnID string, producerID int64, parts ...txn.TopicPartition) *txn.Metadata {
	return &txn.Metadata{
		TransactionalID: txnID,
		ProducerID:      producerID,
		ProducerEpoch:   1,
		State:           txn.StatePrepareCommit,
		Partitions:      parts,
	}
}

func keysFor(md *txn.Metadata) []MarkerKey {
	keys := make([]MarkerKey, 0, len(md.Partitions))
	for _, p := range md.Partitions {
		keys = append(keys, MarkerKey{ProducerID: md.ProducerID, Partition: p})
	}
	return keys
}

func TestPurgatoryCompletesAfterAllAcks(t *testing.T) {
	events := make(chan CompletionEvent, 1)
	p := NewPurgatory(func(ev CompletionEvent) { events <- ev })

	md := testMetadata("txn-a", 1000, tp("orders", 0), tp("orders", 1))
	attemptID, err := p.TryWatch("txn-a", 5, txn.ResultCommit, md, keysFor(md), time.Minute)
	if err != nil {
		t.Fatalf("TryWatch failed: %v", err)
	}
	if attemptID == "" {
		t.Fatal("expected a non-empty attempt id")
	}
	if !p.HasPending("txn-a") {
		t.Fatal("expected pending attempt")
	}

	if done := p.Satisfy("txn-a", MarkerKey{ProducerID: 1000, Partition: tp("orders", 0)}); done {
		t.Fatal("attempt resolved with one ack outstanding")
	}
	select {
	case <-events:
		t.Fatal("event fired before all acks")
	default:
	}

	if done := p.Satisfy("txn-a", MarkerKey{ProducerID: 1000, Partition: tp("orders", 1)}); !done {
		t.Fatal("expected last ack to resolve the attempt")
	}

	select {
	case ev := <-events:
		if ev.Outcome != OutcomeCompleted {
			t.Errorf("expected completed outcome, got %v", ev.Outcome)
		}
		if ev.TransactionalID != "txn-a" || ev.AttemptID != attemptID || ev.LogPartition != 5 {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected a completion event")
	}

	if p.HasPending("txn-a") {
		t.Error("attempt still pending after completion")
	}
	if p.WatchedCount() != 0 {
		t.Errorf("expected 0 watched attempts, got %d", p.WatchedCount())
	}
}

func TestPurgatoryRejectsDuplicateAttempt(t *testing.T) {
	p := NewPurgatory(nil)

	md := testMetadata("txn-a", 1000, tp("orders", 0))
	if _, err := p.TryWatch("txn-a", 0, txn.ResultCommit, md, keysFor(md), time.Minute); err != nil {
		t.Fatalf("first TryWatch failed: %v", err)
	}
	_, err := p.TryWatch("txn-a", 0, txn.ResultAbort, md, keysFor(md), time.Minute)
	if !errors.Is(err, ErrAttemptPending) {
		t.Fatalf("expected ErrAttemptPending, got %v", err)
	}
	if p.WatchedCount() != 1 {
		t.Errorf("duplicate attempt changed watched count: %d", p.WatchedCount())
	}
}

func TestPurgatoryIgnoresUnknownAcks(t *testing.T) {
	p := NewPurgatory(nil)

	md := testMetadata("txn-a", 1000, tp("orders", 0))
	if _, err := p.TryWatch("txn-a", 0, txn.ResultCommit, md, keysFor(md), time.Minute); err != nil {
		t.Fatalf("TryWatch failed: %v", err)
	}

	if p.Satisfy("txn-missing", MarkerKey{ProducerID: 1000, Partition: tp("orders", 0)}) {
		t.Error("ack for unknown transaction resolved something")
	}
	if p.Satisfy("txn-a", MarkerKey{ProducerID: 9999, Partition: tp("orders", 0)}) {
		t.Error("ack with wrong producer id resolved the attempt")
	}
	if got := p.OutstandingAcks("txn-a"); got != 1 {
		t.Errorf("expected 1 outstanding ack, got %d", got)
	}

	// A duplicate ack for an already satisfied key must not re-resolve.
	key := MarkerKey{ProducerID: 1000, Partition: tp("orders", 0)}
	if !p.Satisfy("txn-a", key) {
		t.Fatal("expected attempt to resolve")
	}
	if p.Satisfy("txn-a", key) {
		t.Error("duplicate ack resolved a finished attempt")
	}
}

func TestPurgatoryEmptyAttemptCompletesImmediately(t *testing.T) {
	events := make(chan CompletionEvent, 1)
	p := NewPurgatory(func(ev CompletionEvent) { events <- ev })

	md := testMetadata("txn-a", 1000)
	if _, err := p.TryWatch("txn-a", 0, txn.ResultAbort, md, nil, time.Minute); err != nil {
		t.Fatalf("TryWatch failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Outcome != OutcomeCompleted || ev.Result != txn.ResultAbort {
			t.Errorf("unexpected event: %+v", ev)
		}
	default:
		t.Fatal("expected immediate completion for an attempt with no partitions")
	}
	if p.HasPending("txn-a") {
		t.Error("empty attempt left pending")
	}
}

func TestPurgatoryTimeout(t *testing.T) {
	events := make(chan CompletionEvent, 1)
	p := NewPurgatory(func(ev CompletionEvent) { events <- ev })
	p.Start()
	defer p.Stop()

	md := testMetadata("txn-a", 1000, tp("orders", 0))
	if _, err := p.TryWatch("txn-a", 0, txn.ResultCommit, md, keysFor(md), 20*time.Millisecond); err != nil {
		t.Fatalf("TryWatch failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Outcome != OutcomeTimedOut {
			t.Errorf("expected timed-out outcome, got %v", ev.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the timeout event")
	}
	if p.HasPending("txn-a") {
		t.Error("timed-out attempt still pending")
	}

	// Late acks after the timeout are ignored.
	if p.Satisfy("txn-a", MarkerKey{ProducerID: 1000, Partition: tp("orders", 0)}) {
		t.Error("late ack resolved a timed-out attempt")
	}
}

func TestPurgatoryCancelLogPartition(t *testing.T) {
	events := make(chan CompletionEvent, 4)
	p := NewPurgatory(func(ev CompletionEvent) { events <- ev })

	mdA := testMetadata("txn-a", 1000, tp("orders", 0))
	mdB := testMetadata("txn-b", 2000, tp("orders", 1))
	mdC := testMetadata("txn-c", 3000, tp("orders", 2))
	if _, err := p.TryWatch("txn-a", 7, txn.ResultCommit, mdA, keysFor(mdA), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := p.TryWatch("txn-b", 7, txn.ResultCommit, mdB, keysFor(mdB), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := p.TryWatch("txn-c", 3, txn.ResultCommit, mdC, keysFor(mdC), time.Minute); err != nil {
		t.Fatal(err)
	}

	if n := p.CancelLogPartition(7); n != 2 {
		t.Fatalf("expected 2 cancelled, got %d", n)
	}
	select {
	case ev := <-events:
		t.Fatalf("cancellation fired an event: %+v", ev)
	default:
	}
	if p.HasPending("txn-a") || p.HasPending("txn-b") {
		t.Error("cancelled attempts still pending")
	}
	if !p.HasPending("txn-c") {
		t.Error("attempt on another log partition was cancelled")
	}
	if n := p.CancelLogPartition(7); n != 0 {
		t.Errorf("expected second cancel to be a no-op, got %d", n)
	}
}
