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
Package transport carries marker requests to broker peers over TCP.

CONNECTION POOLING:
===================
Each peer gets a small pool of idle connections. A send takes an idle
connection or dials a new one, runs one framed request/response exchange,
and returns the connection to the pool. Connections that see an error are
closed rather than pooled; the next send redials.
*/
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"flycoord/internal/config"
	"flycoord/internal/logging"
	"flycoord/internal/metadata"
	"flycoord/internal/protocol"
)

// ErrUnknownNode is returned when the metadata cache has no address for
// the destination node.
var ErrUnknownNode = errors.New("unknown destination node")

// TCPSender sends marker requests to brokers over pooled TCP connections.
// Peer addresses come from the metadata cache at send time, so a broker
// that moved is picked up on the next dial.
type TCPSender struct {
	cache       *metadata.Cache
	dialTimeout time.Duration
	maxIdle     int
	logger      *logging.Logger

	mu     sync.Mutex
	pools  map[string]chan net.Conn
	closed bool
}

// NewTCPSender creates a sender resolving node addresses through the given
// metadata cache.
func NewTCPSender(cfg *config.TransportConfig, cache *metadata.Cache) *TCPSender {
	return &TCPSender{
		cache:       cache,
		dialTimeout: time.Duration(cfg.DialTimeoutMs) * time.Millisecond,
		maxIdle:     cfg.MaxConnsPerPeer,
		pools:       make(map[string]chan net.Conn),
		logger:      logging.NewLogger("transport"),
	}
}

// SendMarkers performs one write-markers exchange with the given node.
func (t *TCPSender) SendMarkers(ctx context.Context, nodeID string, req *protocol.MarkerRequest) (*protocol.MarkerResponse, error) {
	node, ok := t.cache.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrUnknownNode)
	}

	conn, err := t.acquire(ctx, nodeID, node.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s (%s): %w", nodeID, node.Addr, err)
	}

	resp, err := t.exchange(ctx, conn, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("exchange with %s: %w", nodeID, err)
	}
	t.release(nodeID, conn)
	return resp, nil
}

// exchange runs one framed request/response round trip on the connection.
func (t *TCPSender) exchange(ctx context.Context, conn net.Conn, req *protocol.MarkerRequest) (*protocol.MarkerResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer conn.SetDeadline(time.Time{})
	}

	if err := protocol.WriteFrame(conn, protocol.OpWriteMarkers, protocol.EncodeMarkerRequest(req)); err != nil {
		return nil, err
	}
	op, payload, err := protocol.ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	if op != protocol.OpWriteMarkersResponse {
		return nil, fmt.Errorf("unexpected response op 0x%02x", op)
	}
	return protocol.DecodeMarkerResponse(payload)
}

// acquire takes an idle pooled connection or dials a new one.
func (t *TCPSender) acquire(ctx context.Context, nodeID, addr string) (net.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("sender closed")
	}
	pool, ok := t.pools[nodeID]
	if !ok {
		pool = make(chan net.Conn, t.maxIdle)
		t.pools[nodeID] = pool
	}
	t.mu.Unlock()

	select {
	case conn := <-pool:
		return conn, nil
	default:
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Dialed peer", "node", nodeID, "addr", addr)
	return conn, nil
}

// release returns a healthy connection to its pool, or closes it when the
// pool is full.
func (t *TCPSender) release(nodeID string, conn net.Conn) {
	t.mu.Lock()
	pool, ok := t.pools[nodeID]
	closed := t.closed
	t.mu.Unlock()

	if closed || !ok {
		conn.Close()
		return
	}
	select {
	case pool <- conn:
	default:
		conn.Close()
	}
}

// Close closes every pooled connection. In-flight sends finish on their
// own connections.
func (t *TCPSender) Close() error {
	t.mu.Lock()
	t.closed = true
	pools := t.pools
	t.pools = make(map[string]chan net.Conn)
	t.mu.Unlock()

	for _, pool := range pools {
		for drained := false; !drained; {
			select {
			case conn := <-pool:
				conn.Close()
			default:
				drained = true
			}
		}
	}
	return nil
}
