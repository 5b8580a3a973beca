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
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"flycoord/internal/logging"
	"flycoord/internal/metrics"
	"flycoord/internal/txn"
)

// ErrAttemptPending is returned when markers are submitted for a
// transactional id that already has an unresolved attempt.
var ErrAttemptPending = errors.New("transaction attempt already pending")

// Outcome classifies how an attempt left the purgatory.
type Outcome int

const (
	// OutcomeCompleted means every watched marker was acked.
	OutcomeCompleted Outcome = iota
	// OutcomeTimedOut means the ack deadline expired first.
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed-out"
	default:
		return "invalid"
	}
}

// MarkerKey identifies one awaited ack: a producer's marker on one
// partition.
type MarkerKey struct {
	ProducerID int64
	Partition  txn.TopicPartition
}

// CompletionEvent describes an attempt leaving the purgatory. Attempts
// cancelled by partition emigration resolve silently and produce no event.
type CompletionEvent struct {
	AttemptID       string
	TransactionalID string
	LogPartition    int32
	Result          txn.Result
	Outcome         Outcome
	PrepareComplete *txn.Metadata
	CompletedAt     time.Time
}

// attempt is the purgatory's record of one in-flight marker round.
type attempt struct {
	id              string
	transactionalID string
	logPartition    int32
	result          txn.Result
	prepareComplete *txn.Metadata
	outstanding     map[MarkerKey]struct{}
	deadline        time.Time
	heapIndex       int
	resolved        bool
}

// attemptHeap orders pending attempts by deadline.
type attemptHeap []*attempt

func (h attemptHeap) Len() int           { return len(h) }
func (h attemptHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }

func (h attemptHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *attemptHeap) Push(x interface{}) {
	a := x.(*attempt)
	a.heapIndex = len(*h)
	*h = append(*h, a)
}

func (h *attemptHeap) Pop() interface{} {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil
	a.heapIndex = -1
	*h = old[:n-1]
	return a
}

// Purgatory tracks which marker acks each transaction attempt is still
// waiting for. An attempt resolves exactly once: completed when its last
// ack arrives, timed out when its deadline expires, or silently cancelled
// when its transaction log partition emigrates.
type Purgatory struct {
	mu             sync.Mutex
	attempts       map[string]*attempt           // transactional id -> attempt
	byLogPartition map[int32]map[string]*attempt // log partition -> attempts
	pending        attemptHeap

	onResolve func(CompletionEvent)
	notify    chan struct{}
	logger    *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPurgatory creates a purgatory. onResolve is invoked, outside the
// purgatory lock, for every completed or timed-out attempt.
func NewPurgatory(onResolve func(CompletionEvent)) *Purgatory {
	ctx, cancel := context.WithCancel(context.Background())
	return &Purgatory{
		attempts:       make(map[string]*attempt),
		byLogPartition: make(map[int32]map[string]*attempt),
		onResolve:      onResolve,
		notify:         make(chan struct{}, 1),
		logger:         logging.NewLogger("purgatory"),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the expiry loop.
func (p *Purgatory) Start() {
	p.wg.Add(1)
	go p.expiryLoop()
	p.logger.Info("Purgatory started")
}

// Stop terminates the expiry loop. Pending attempts are left in place.
func (p *Purgatory) Stop() {
	p.cancel()
	p.wg.Wait()
	p.logger.Info("Purgatory stopped")
}

// TryWatch registers a new attempt awaiting acks for the given marker keys
// and returns its attempt id. If the transactional id already has an
// unresolved attempt, ErrAttemptPending is returned and nothing changes.
// An attempt with no keys to watch completes immediately.
func (p *Purgatory) TryWatch(transactionalID string, logPartition int32, result txn.Result, prepareComplete *txn.Metadata, keys []MarkerKey, timeout time.Duration) (string, error) {
	a := &attempt{
		id:              uuid.New().String(),
		transactionalID: transactionalID,
		logPartition:    logPartition,
		result:          result,
		prepareComplete: prepareComplete,
		outstanding:     make(map[MarkerKey]struct{}, len(keys)),
		deadline:        time.Now().Add(timeout),
		heapIndex:       -1,
	}
	for _, k := range keys {
		a.outstanding[k] = struct{}{}
	}

	p.mu.Lock()
	if _, exists := p.attempts[transactionalID]; exists {
		p.mu.Unlock()
		return "", ErrAttemptPending
	}
	metrics.Get().AttemptsStarted.Add(1)

	if len(a.outstanding) == 0 {
		// No partitions enrolled; nothing to wait for.
		a.resolved = true
		ev := p.eventLocked(a, OutcomeCompleted)
		p.mu.Unlock()
		p.fire(ev)
		return a.id, nil
	}

	p.attempts[transactionalID] = a
	partAttempts, ok := p.byLogPartition[logPartition]
	if !ok {
		partAttempts = make(map[string]*attempt)
		p.byLogPartition[logPartition] = partAttempts
	}
	partAttempts[transactionalID] = a
	heap.Push(&p.pending, a)
	p.mu.Unlock()

	p.wake()
	return a.id, nil
}

// Satisfy records one marker ack. When the ack is the attempt's last, the
// attempt resolves as completed and true is returned.
func (p *Purgatory) Satisfy(transactionalID string, key MarkerKey) bool {
	p.mu.Lock()
	a, ok := p.attempts[transactionalID]
	if !ok || a.resolved {
		p.mu.Unlock()
		return false
	}
	if _, awaited := a.outstanding[key]; !awaited {
		p.mu.Unlock()
		return false
	}
	delete(a.outstanding, key)
	if len(a.outstanding) > 0 {
		p.mu.Unlock()
		return false
	}

	a.resolved = true
	p.dropLocked(a)
	ev := p.eventLocked(a, OutcomeCompleted)
	p.mu.Unlock()

	p.fire(ev)
	return true
}

// CancelLogPartition silently resolves every attempt owned by the given
// transaction log partition, returning the number cancelled. No completion
// events fire; the partition's new owner restarts the marker rounds.
func (p *Purgatory) CancelLogPartition(logPartition int32) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	partAttempts := p.byLogPartition[logPartition]
	for _, a := range partAttempts {
		a.resolved = true
		delete(p.attempts, a.transactionalID)
		if a.heapIndex >= 0 {
			heap.Remove(&p.pending, a.heapIndex)
		}
	}
	delete(p.byLogPartition, logPartition)
	n := len(partAttempts)
	if n > 0 {
		metrics.Get().AttemptsCancelled.Add(uint64(n))
	}
	return n
}

// HasPending reports whether the transactional id has an unresolved attempt.
func (p *Purgatory) HasPending(transactionalID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.attempts[transactionalID]
	return ok
}

// WatchedCount returns the number of unresolved attempts.
func (p *Purgatory) WatchedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.attempts)
}

// OutstandingAcks returns how many acks the id's attempt still awaits, or
// zero if no attempt is pending.
func (p *Purgatory) OutstandingAcks(transactionalID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a, ok := p.attempts[transactionalID]; ok {
		return len(a.outstanding)
	}
	return 0
}

// dropLocked removes a resolved attempt from every index. Callers hold the
// lock.
func (p *Purgatory) dropLocked(a *attempt) {
	delete(p.attempts, a.transactionalID)
	if partAttempts, ok := p.byLogPartition[a.logPartition]; ok {
		delete(partAttempts, a.transactionalID)
		if len(partAttempts) == 0 {
			delete(p.byLogPartition, a.logPartition)
		}
	}
	if a.heapIndex >= 0 {
		heap.Remove(&p.pending, a.heapIndex)
	}
}

func (p *Purgatory) eventLocked(a *attempt, outcome Outcome) CompletionEvent {
	return CompletionEvent{
		AttemptID:       a.id,
		TransactionalID: a.transactionalID,
		LogPartition:    a.logPartition,
		Result:          a.result,
		Outcome:         outcome,
		PrepareComplete: a.prepareComplete,
		CompletedAt:     time.Now(),
	}
}

func (p *Purgatory) fire(ev CompletionEvent) {
	if p.onResolve != nil {
		p.onResolve(ev)
	}
}

func (p *Purgatory) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// expiryLoop times out attempts whose deadlines pass. It sleeps until the
// earliest deadline and is woken early whenever a new attempt arrives.
func (p *Purgatory) expiryLoop() {
	defer p.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		p.mu.Lock()
		var next time.Time
		if len(p.pending) > 0 {
			next = p.pending[0].deadline
		}
		p.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if next.IsZero() {
			timer.Reset(time.Hour)
		} else {
			delay := time.Until(next)
			if delay <= 0 {
				p.expireDue()
				continue
			}
			timer.Reset(delay)
		}

		select {
		case <-p.ctx.Done():
			return
		case <-timer.C:
			p.expireDue()
		case <-p.notify:
		}
	}
}

// expireDue resolves every attempt whose deadline has passed.
func (p *Purgatory) expireDue() {
	now := time.Now()
	for {
		p.mu.Lock()
		if len(p.pending) == 0 || p.pending[0].deadline.After(now) {
			p.mu.Unlock()
			return
		}
		a := heap.Pop(&p.pending).(*attempt)
		a.resolved = true
		delete(p.attempts, a.transactionalID)
		if partAttempts, ok := p.byLogPartition[a.logPartition]; ok {
			delete(partAttempts, a.transactionalID)
			if len(partAttempts) == 0 {
				delete(p.byLogPartition, a.logPartition)
			}
		}
		ev := p.eventLocked(a, OutcomeTimedOut)
		p.mu.Unlock()

		metrics.Get().AttemptsTimedOut.Add(1)
		p.logger.Warn("Attempt timed out awaiting marker acks",
			"txn_id", a.transactionalID, "attempt_id", a.id, "outstanding", len(a.outstanding))
		p.fire(ev)
	}
}
