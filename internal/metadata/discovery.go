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

package metadata

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"flycoord/internal/config"
	"flycoord/internal/logging"
)

// queryTimeout bounds a single mDNS query pass.
const queryTimeout = 2 * time.Second

// Discoverer periodically queries mDNS for FlyMQ broker nodes and feeds
// them into the metadata cache. Brokers advertise themselves under the
// configured service name (default "_flymq._tcp") with their node id in
// the instance name.
type Discoverer struct {
	cache    *Cache
	service  string
	interval time.Duration
	logger   *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDiscoverer creates a discoverer feeding the given cache.
func NewDiscoverer(cfg *config.DiscoveryConfig, cache *Cache) *Discoverer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Discoverer{
		cache:    cache,
		service:  cfg.Service,
		interval: time.Duration(cfg.IntervalMs) * time.Millisecond,
		logger:   logging.NewLogger("discovery"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the periodic discovery loop.
func (d *Discoverer) Start() {
	d.wg.Add(1)
	go d.loop()
	d.logger.Info("Broker discovery started", "service", d.service, "interval", d.interval)
}

// Stop stops the discovery loop.
func (d *Discoverer) Stop() {
	d.cancel()
	d.wg.Wait()
	d.logger.Info("Broker discovery stopped")
}

func (d *Discoverer) loop() {
	defer d.wg.Done()

	// Run one pass immediately so the cache is seeded before the first tick.
	d.discover()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.discover()
		}
	}
}

// discover runs a single mDNS query pass and registers every responding
// broker with the cache.
func (d *Discoverer) discover() {
	entries := make(chan *mdns.ServiceEntry, 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			node, ok := nodeFromEntry(entry)
			if !ok {
				d.logger.Debug("Ignoring unusable mDNS entry", "name", entry.Name)
				continue
			}
			d.cache.UpsertNode(node)
		}
	}()

	params := &mdns.QueryParam{
		Service:     d.service,
		Timeout:     queryTimeout,
		Entries:     entries,
		DisableIPv6: true,
	}
	if err := mdns.Query(params); err != nil {
		d.logger.Warn("mDNS query failed", "service", d.service, "error", err)
	}
	close(entries)
	wg.Wait()
}

// nodeFromEntry converts an mDNS service entry into a broker node. The
// instance name up to the service suffix is the node id.
func nodeFromEntry(entry *mdns.ServiceEntry) (Node, bool) {
	if entry.AddrV4 == nil || entry.Port == 0 {
		return Node{}, false
	}
	id := entry.Name
	if idx := strings.Index(id, "."); idx > 0 {
		id = id[:idx]
	}
	if id == "" {
		return Node{}, false
	}
	return Node{
		ID:   id,
		Addr: fmt.Sprintf("%s:%d", entry.AddrV4.String(), entry.Port),
	}, true
}
