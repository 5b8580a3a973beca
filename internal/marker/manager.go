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
	"context"
	"fmt"
	"sync"
	"time"

	"flycoord/internal/config"
	"flycoord/internal/logging"
	"flycoord/internal/metadata"
	"flycoord/internal/metrics"
	"flycoord/internal/protocol"
	"flycoord/internal/txn"
)

// LeaderResolver answers which broker currently leads a partition.
type LeaderResolver interface {
	ResolveLeader(topic string, partition int32) metadata.LeaderResolution
}

// Sender delivers one batched marker request to a broker and returns its
// response.
type Sender interface {
	SendMarkers(ctx context.Context, nodeID string, req *protocol.MarkerRequest) (*protocol.MarkerResponse, error)
}

// Options configures the channel manager's timing.
type Options struct {
	// SenderInterval is the period of the drain-and-send loop.
	SenderInterval time.Duration
	// AckTimeout bounds how long an attempt may await its marker acks.
	AckTimeout time.Duration
	// RequestTimeout bounds a single marker request round trip.
	RequestTimeout time.Duration
}

// OptionsFromConfig derives manager options from the marker config section.
func OptionsFromConfig(cfg *config.MarkerConfig) Options {
	return Options{
		SenderInterval: time.Duration(cfg.SenderIntervalMs) * time.Millisecond,
		AckTimeout:     time.Duration(cfg.AckTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
	}
}

// DestinationRequest pairs one broker's batched marker request with the
// drained entries it was built from, so acks can be mapped back to their
// transactions.
type DestinationRequest struct {
	NodeID  string
	Request *protocol.MarkerRequest

	entries []*Entry
}

// MarkerCount returns the number of marker entries batched into the request.
func (d *DestinationRequest) MarkerCount() int {
	return len(d.entries)
}

// ChannelManager routes transaction markers to partition leaders and
// completes transactions once every marker is acked.
//
// Normal operations (add, generate, dispatch) run under a shared read
// barrier; the per-queue locks serialize destinations against each other.
// Partition emigration takes the barrier exclusively so that a purge never
// interleaves with a transfer and every marker is either fully drained or
// fully purged.
type ChannelManager struct {
	opts      Options
	resolver  LeaderResolver
	store     txn.StateManager
	sender    Sender
	registry  *Registry
	purgatory *Purgatory
	logger    *logging.Logger

	barrier sync.RWMutex

	subsMu      sync.RWMutex
	subscribers []func(CompletionEvent)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannelManager creates a channel manager. Start must be called before
// markers are dispatched.
func NewChannelManager(opts Options, resolver LeaderResolver, store txn.StateManager, sender Sender) *ChannelManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &ChannelManager{
		opts:     opts,
		resolver: resolver,
		store:    store,
		sender:   sender,
		registry: NewRegistry(),
		logger:   logging.NewLogger("marker"),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.purgatory = NewPurgatory(m.handleResolution)
	return m
}

// Subscribe registers a callback for completion events. Callbacks run on
// the resolving goroutine and must not block.
func (m *ChannelManager) Subscribe(fn func(CompletionEvent)) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start launches the purgatory and the periodic sender loop.
func (m *ChannelManager) Start() {
	m.purgatory.Start()
	m.wg.Add(1)
	go m.senderLoop()
	m.logger.Info("Channel manager started", "sender_interval", m.opts.SenderInterval)
}

// Stop terminates the sender loop, waits for in-flight sends, and stops
// the purgatory.
func (m *ChannelManager) Stop() {
	m.cancel()
	m.wg.Wait()
	m.purgatory.Stop()
	m.logger.Info("Channel manager stopped")
}

// AddTxnMarkersToSend registers a marker round for the transaction and
// enqueues one marker per destination broker. Partitions without a known
// leader wait in the unknown queue. If the transaction already has an
// unresolved attempt, ErrAttemptPending is returned and no queue changes.
func (m *ChannelManager) AddTxnMarkersToSend(transactionalID string, coordinatorEpoch int32, result txn.Result, md *txn.Metadata, prepareComplete *txn.Metadata) error {
	m.barrier.RLock()
	defer m.barrier.RUnlock()

	logPartition := m.store.PartitionFor(transactionalID)

	keys := make([]MarkerKey, 0, len(md.Partitions))
	for _, tp := range md.Partitions {
		keys = append(keys, MarkerKey{ProducerID: md.ProducerID, Partition: tp})
	}
	attemptID, err := m.purgatory.TryWatch(transactionalID, logPartition, result, prepareComplete, keys, m.opts.AckTimeout)
	if err != nil {
		return fmt.Errorf("markers for %s: %w", transactionalID, err)
	}
	if len(md.Partitions) == 0 {
		return nil
	}

	byNode := make(map[string][]txn.TopicPartition)
	var unresolved []txn.TopicPartition
	for _, tp := range md.Partitions {
		res := m.resolver.ResolveLeader(tp.Topic, tp.Partition)
		if res.Status == metadata.LeaderKnown {
			byNode[res.Node.ID] = append(byNode[res.Node.ID], tp)
		} else {
			unresolved = append(unresolved, tp)
		}
	}

	enqueued := 0
	for nodeID, parts := range byNode {
		m.registry.Get(nodeID).Enqueue(m.newEntry(transactionalID, logPartition, coordinatorEpoch, result, md, parts))
		enqueued++
	}
	if len(unresolved) > 0 {
		m.registry.Unknown().Enqueue(m.newEntry(transactionalID, logPartition, coordinatorEpoch, result, md, unresolved))
		enqueued++
	}

	metrics.Get().MarkersQueued.Add(uint64(enqueued))
	m.updateUnknownDepth()
	m.logger.Debug("Markers enqueued",
		"txn_id", transactionalID, "attempt_id", attemptID, "result", string(result),
		"destinations", len(byNode), "unresolved", len(unresolved))
	return nil
}

func (m *ChannelManager) newEntry(transactionalID string, logPartition, coordinatorEpoch int32, result txn.Result, md *txn.Metadata, parts []txn.TopicPartition) *Entry {
	return &Entry{
		TransactionalID:  transactionalID,
		LogPartition:     logPartition,
		ProducerID:       md.ProducerID,
		ProducerEpoch:    md.ProducerEpoch,
		CoordinatorEpoch: coordinatorEpoch,
		Result:           result,
		Partitions:       parts,
	}
}

// GenerateRequests re-resolves the unknown queue, drains every broker
// queue, and returns one batched request per broker with pending markers.
// Draining is destructive; callers own dispatching the result.
func (m *ChannelManager) GenerateRequests() []DestinationRequest {
	m.barrier.RLock()
	defer m.barrier.RUnlock()
	return m.generateRequestsLocked()
}

func (m *ChannelManager) generateRequestsLocked() []DestinationRequest {
	moves := m.registry.Unknown().TransferResolved(func(tp txn.TopicPartition) (string, bool) {
		res := m.resolver.ResolveLeader(tp.Topic, tp.Partition)
		if res.Status == metadata.LeaderKnown {
			return res.Node.ID, true
		}
		return "", false
	})
	for nodeID, entries := range moves {
		m.registry.Get(nodeID).Enqueue(entries...)
	}

	var out []DestinationRequest
	m.registry.Each(func(nodeID string, q *Queue) {
		drained := q.DrainAll()
		if len(drained) == 0 {
			return
		}
		out = append(out, DestinationRequest{
			NodeID:  nodeID,
			Request: buildRequest(drained),
			entries: drained,
		})
	})

	if len(out) > 0 {
		metrics.Get().RequestsGenerated.Add(uint64(len(out)))
	}
	m.updateUnknownDepth()
	return out
}

// buildRequest batches drained entries into one wire request, grouped per
// (producer id, producer epoch) in drain order.
func buildRequest(entries []*Entry) *protocol.MarkerRequest {
	type groupKey struct {
		producerID    int64
		producerEpoch int16
	}
	req := &protocol.MarkerRequest{}
	index := make(map[groupKey]int)
	for _, e := range entries {
		key := groupKey{e.ProducerID, e.ProducerEpoch}
		i, ok := index[key]
		if !ok {
			i = len(req.Entries)
			index[key] = i
			req.Entries = append(req.Entries, protocol.MarkerEntry{
				ProducerID:       e.ProducerID,
				ProducerEpoch:    e.ProducerEpoch,
				CoordinatorEpoch: e.CoordinatorEpoch,
				Commit:           e.Result == txn.ResultCommit,
			})
		}
		for _, tp := range e.Partitions {
			req.Entries[i].Partitions = append(req.Entries[i].Partitions, protocol.PartitionRef{
				Topic:     tp.Topic,
				Partition: tp.Partition,
			})
		}
	}
	return req
}

// RemoveMarkersForTxnTopicPartition purges every queued marker and pending
// attempt owned by the given transaction log partition, returning the
// number of marker entries removed. Called when ownership of the partition
// emigrates to another coordinator.
func (m *ChannelManager) RemoveMarkersForTxnTopicPartition(logPartition int32) int {
	m.barrier.Lock()
	defer m.barrier.Unlock()

	removed := m.registry.Unknown().RemoveLogPartition(logPartition)
	m.registry.Each(func(_ string, q *Queue) {
		removed += q.RemoveLogPartition(logPartition)
	})
	cancelled := m.purgatory.CancelLogPartition(logPartition)

	if removed > 0 {
		metrics.Get().MarkersPurged.Add(uint64(removed))
	}
	m.updateUnknownDepth()
	m.logger.Info("Purged emigrated transaction log partition",
		"log_partition", logPartition, "markers_removed", removed, "attempts_cancelled", cancelled)
	return removed
}

// TotalMarkers returns the number of marker entries across every queue.
func (m *ChannelManager) TotalMarkers() int {
	return m.registry.TotalMarkers()
}

// TotalMarkersFor returns the number of marker entries owned by the given
// transaction log partition.
func (m *ChannelManager) TotalMarkersFor(logPartition int32) int {
	return m.registry.TotalMarkersFor(logPartition)
}

// UnknownMarkers returns the depth of the unknown-destination queue.
func (m *ChannelManager) UnknownMarkers() int {
	return m.registry.Unknown().TotalMarkers()
}

// WatchedAttempts returns the number of attempts awaiting acks.
func (m *ChannelManager) WatchedAttempts() int {
	return m.purgatory.WatchedCount()
}

// Stats is a point-in-time view of the dispatch layer.
type Stats struct {
	TotalMarkers    int `json:"total_markers"`
	UnknownMarkers  int `json:"unknown_markers"`
	BrokerQueues    int `json:"broker_queues"`
	WatchedAttempts int `json:"watched_attempts"`
}

// GetStats returns a snapshot of queue and purgatory sizes.
func (m *ChannelManager) GetStats() Stats {
	return Stats{
		TotalMarkers:    m.registry.TotalMarkers(),
		UnknownMarkers:  m.registry.Unknown().TotalMarkers(),
		BrokerQueues:    m.registry.QueueCount(),
		WatchedAttempts: m.purgatory.WatchedCount(),
	}
}

// senderLoop periodically drains the queues and dispatches one request per
// destination, each on its own goroutine.
func (m *ChannelManager) senderLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.SenderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.runSendPass()
		}
	}
}

// runSendPass performs one drain-and-dispatch cycle and waits for every
// dispatch to finish.
func (m *ChannelManager) runSendPass() {
	requests := m.GenerateRequests()
	if len(requests) == 0 {
		return
	}

	var passWG sync.WaitGroup
	for i := range requests {
		dr := requests[i]
		passWG.Add(1)
		go func() {
			defer passWG.Done()
			m.dispatch(dr)
		}()
	}
	passWG.Wait()
}

// dispatch sends one destination's request and processes the response.
// Failed sends re-enqueue the markers for the next pass.
func (m *ChannelManager) dispatch(dr DestinationRequest) {
	ctx, cancel := context.WithTimeout(m.ctx, m.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := m.sender.SendMarkers(ctx, dr.NodeID, dr.Request)
	if err != nil {
		metrics.Get().SendErrors.Add(1)
		m.logger.Warn("Marker request failed",
			"node", dr.NodeID, "markers", len(dr.entries), "error", err)
		m.requeue(dr.entries)
		return
	}
	metrics.Get().RecordSend(len(dr.entries), time.Since(start))
	m.handleResponse(dr, resp)
}

// requeue returns entries to the unknown queue for re-resolution. Entries
// whose attempt has since resolved or been cancelled are dropped.
func (m *ChannelManager) requeue(entries []*Entry) {
	m.barrier.RLock()
	defer m.barrier.RUnlock()

	for _, e := range entries {
		if m.purgatory.HasPending(e.TransactionalID) {
			m.registry.Unknown().Enqueue(e)
		}
	}
	m.updateUnknownDepth()
}

// CompleteMarker records one marker ack. Returns true when the ack was the
// transaction's last and the attempt completed.
func (m *ChannelManager) CompleteMarker(transactionalID string, producerID int64, partition txn.TopicPartition) bool {
	return m.purgatory.Satisfy(transactionalID, MarkerKey{ProducerID: producerID, Partition: partition})
}

// handleResponse maps per-partition outcomes back to their transactions:
// clean acks satisfy the purgatory, errored partitions go back to the
// unknown queue for re-resolution.
func (m *ChannelManager) handleResponse(dr DestinationRequest, resp *protocol.MarkerResponse) {
	byProducer := make(map[int64]*Entry, len(dr.entries))
	for _, e := range dr.entries {
		byProducer[e.ProducerID] = e
	}

	var retries []*Entry
	acked := 0
	for _, re := range resp.Entries {
		e, ok := byProducer[re.ProducerID]
		if !ok {
			m.logger.Warn("Response for unknown producer", "node", dr.NodeID, "producer_id", re.ProducerID)
			continue
		}
		for _, pe := range re.Partitions {
			tp := txn.TopicPartition{Topic: pe.Topic, Partition: pe.Partition}
			if pe.ErrCode == protocol.ErrNone {
				m.CompleteMarker(e.TransactionalID, e.ProducerID, tp)
				acked++
				continue
			}
			if pe.ErrCode == protocol.ErrFencedEpoch {
				// A newer coordinator epoch owns this transaction; retrying
				// can never succeed. Drop the marker and let the attempt
				// run out its deadline.
				m.logger.Warn("Marker fenced by newer coordinator epoch, dropping",
					"node", dr.NodeID, "txn_id", e.TransactionalID,
					"topic", tp.Topic, "partition", tp.Partition)
				continue
			}
			m.logger.Debug("Marker rejected, will retry",
				"node", dr.NodeID, "txn_id", e.TransactionalID,
				"topic", tp.Topic, "partition", tp.Partition, "err_code", pe.ErrCode)
			retry := *e
			retry.Partitions = []txn.TopicPartition{tp}
			retries = append(retries, &retry)
		}
	}

	if acked > 0 {
		metrics.Get().MarkersAcked.Add(uint64(acked))
	}
	if len(retries) > 0 {
		m.requeue(retries)
	}
}

// handleResolution reacts to attempts leaving the purgatory: completed
// attempts append their completed-state record to the transaction log,
// then every subscriber is notified.
func (m *ChannelManager) handleResolution(ev CompletionEvent) {
	switch ev.Outcome {
	case OutcomeCompleted:
		metrics.Get().AttemptsCompleted.Add(1)
		if ev.PrepareComplete != nil {
			completed := ev.PrepareComplete.Completed(ev.Result, ev.CompletedAt)
			record, err := txn.EncodeCompletedRecord(completed, ev.CompletedAt)
			if err != nil {
				m.logger.Error("Failed to encode completed record",
					"txn_id", ev.TransactionalID, "error", err)
			} else if err := m.store.AppendCompleted(ev.TransactionalID, record); err != nil {
				m.logger.Error("Failed to append completed record",
					"txn_id", ev.TransactionalID, "error", err)
			}
		}
		m.logger.Info("Transaction completed",
			"txn_id", ev.TransactionalID, "result", string(ev.Result), "attempt_id", ev.AttemptID)
	case OutcomeTimedOut:
		// Purgatory already counted and logged the timeout.
	}

	m.subsMu.RLock()
	subs := m.subscribers
	m.subsMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (m *ChannelManager) updateUnknownDepth() {
	metrics.Get().UnknownQueueDepth.Store(int64(m.registry.Unknown().TotalMarkers()))
}
