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
Package metadata provides the coordinator's view of cluster metadata:
broker nodes and partition leadership.

LEADER RESOLUTION:
==================
Marker dispatch needs to know which broker currently leads a partition.
The answer is one of three states:

- LeaderKnown: a live, addressable broker leads the partition
- LeaderNotAvailable: the partition exists but has no usable leader right
  now (election in progress, leader offline, or the explicit no-leader
  sentinel)
- LeaderUnknown: the cache has no assignment for the partition at all

The no-leader sentinel reported by the metadata plane is folded into
LeaderNotAvailable here so that callers can never mistake it for a real
destination.
*/
package metadata

import (
	"sync"

	"flycoord/internal/logging"
)

// NoLeaderID is the sentinel leader value reported while a partition has
// no elected leader. It is never a valid node id.
const NoLeaderID = ""

// Node identifies an addressable broker in the cluster.
type Node struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// PartitionState represents the serving state of a partition.
type PartitionState int

const (
	PartitionOnline PartitionState = iota
	PartitionOffline
	PartitionReassigning
)

func (s PartitionState) String() string {
	switch s {
	case PartitionOnline:
		return "online"
	case PartitionOffline:
		return "offline"
	case PartitionReassigning:
		return "reassigning"
	default:
		return "unknown"
	}
}

// PartitionAssignment records the leadership of one topic partition.
type PartitionAssignment struct {
	Topic     string         `json:"topic"`
	Partition int32          `json:"partition"`
	Leader    string         `json:"leader"` // node id, NoLeaderID while unelected
	State     PartitionState `json:"state"`
}

// LeaderStatus classifies the outcome of a leader lookup.
type LeaderStatus int

const (
	// LeaderKnown means a live broker leads the partition.
	LeaderKnown LeaderStatus = iota
	// LeaderNotAvailable means the partition is known but has no usable
	// leader right now. Retry later.
	LeaderNotAvailable
	// LeaderUnknown means the cache holds no assignment for the partition.
	LeaderUnknown
)

func (s LeaderStatus) String() string {
	switch s {
	case LeaderKnown:
		return "known"
	case LeaderNotAvailable:
		return "not-available"
	case LeaderUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// LeaderResolution is the tagged result of a leader lookup. Node is only
// meaningful when Status is LeaderKnown.
type LeaderResolution struct {
	Status LeaderStatus
	Node   Node
}

// Cache holds the coordinator's metadata snapshot. It is updated by the
// metadata plane (discovery, controller announcements) and read by the
// marker dispatch path.
type Cache struct {
	mu          sync.RWMutex
	nodes       map[string]Node
	assignments map[string]map[int32]PartitionAssignment // topic -> partition -> assignment
	logger      *logging.Logger

	onLeaderChange func(topic string, partition int32, newLeader string)
}

// NewCache creates an empty metadata cache.
func NewCache() *Cache {
	return &Cache{
		nodes:       make(map[string]Node),
		assignments: make(map[string]map[int32]PartitionAssignment),
		logger:      logging.NewLogger("metadata"),
	}
}

// SetLeaderChangeCallback sets the callback invoked when a partition's
// leader changes.
func (c *Cache) SetLeaderChangeCallback(cb func(topic string, partition int32, newLeader string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLeaderChange = cb
}

// UpsertNode registers or updates a broker node.
func (c *Cache) UpsertNode(n Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.nodes[n.ID]; !ok || existing != n {
		c.logger.Debug("Node registered", "id", n.ID, "addr", n.Addr)
	}
	c.nodes[n.ID] = n
}

// RemoveNode forgets a broker node.
func (c *Cache) RemoveNode(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
}

// Node returns the node with the given id.
func (c *Cache) Node(id string) (Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[id]
	return n, ok
}

// Nodes returns all registered nodes.
func (c *Cache) Nodes() []Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// UpdateAssignment records a partition assignment, firing the leader
// change callback if leadership moved.
func (c *Cache) UpdateAssignment(a PartitionAssignment) {
	c.mu.Lock()
	topicAssignments, ok := c.assignments[a.Topic]
	if !ok {
		topicAssignments = make(map[int32]PartitionAssignment)
		c.assignments[a.Topic] = topicAssignments
	}
	prev, existed := topicAssignments[a.Partition]
	topicAssignments[a.Partition] = a
	cb := c.onLeaderChange
	c.mu.Unlock()

	if cb != nil && (!existed || prev.Leader != a.Leader) {
		cb(a.Topic, a.Partition, a.Leader)
	}
}

// RemoveAssignment forgets a partition assignment entirely. Subsequent
// lookups return LeaderUnknown.
func (c *Cache) RemoveAssignment(topic string, partition int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topicAssignments, ok := c.assignments[topic]; ok {
		delete(topicAssignments, partition)
		if len(topicAssignments) == 0 {
			delete(c.assignments, topic)
		}
	}
}

// ResolveLeader classifies the current leader of a partition.
func (c *Cache) ResolveLeader(topic string, partition int32) LeaderResolution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topicAssignments, ok := c.assignments[topic]
	if !ok {
		return LeaderResolution{Status: LeaderUnknown}
	}
	a, ok := topicAssignments[partition]
	if !ok {
		return LeaderResolution{Status: LeaderUnknown}
	}
	if a.Leader == NoLeaderID || a.State != PartitionOnline {
		return LeaderResolution{Status: LeaderNotAvailable}
	}
	node, ok := c.nodes[a.Leader]
	if !ok {
		// Leader is assigned but we have no address for it yet.
		return LeaderResolution{Status: LeaderNotAvailable}
	}
	return LeaderResolution{Status: LeaderKnown, Node: node}
}
