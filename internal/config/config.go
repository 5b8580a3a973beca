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
Package config provides configuration management for FlyCoord.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (FLYCOORD_* prefix)
3. Configuration file (JSON format)
4. Default values (lowest priority)

CONFIGURATION CATEGORIES:
=========================
- Node: node_id
- Marker dispatch: sender_interval, ack_timeout, request_timeout
- Transaction log: txn_log_partitions
- Transport: dial_timeout, max_conns_per_peer
- Discovery: mDNS service discovery for broker nodes
- Events: WebSocket completion event gateway
- Observability: metrics endpoint
- Logging: log_level, log_json

EXAMPLE CONFIGURATION FILE:
===========================

	{
	  "node_id": "coord-1",
	  "marker": {
	    "sender_interval_ms": 100,
	    "ack_timeout_ms": 30000
	  },
	  "txn_log": { "partitions": 50 }
	}

ENVIRONMENT VARIABLES:
======================
All settings can be configured via environment variables with FLYCOORD_ prefix.
Example: FLYCOORD_NODE_ID="coord-1" FLYCOORD_LOG_LEVEL="debug"
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names
const (
	EnvNodeID   = "FLYCOORD_NODE_ID"
	EnvLogLevel = "FLYCOORD_LOG_LEVEL"
	EnvLogJSON  = "FLYCOORD_LOG_JSON"

	// Marker dispatch configuration
	EnvSenderInterval = "FLYCOORD_SENDER_INTERVAL_MS"
	EnvAckTimeout     = "FLYCOORD_ACK_TIMEOUT_MS"
	EnvRequestTimeout = "FLYCOORD_REQUEST_TIMEOUT_MS"

	// Transaction log configuration
	EnvTxnLogPartitions = "FLYCOORD_TXN_LOG_PARTITIONS"

	// Transport configuration
	EnvDialTimeout     = "FLYCOORD_DIAL_TIMEOUT_MS"
	EnvMaxConnsPerPeer = "FLYCOORD_MAX_CONNS_PER_PEER"

	// Discovery configuration
	EnvDiscoveryEnabled  = "FLYCOORD_DISCOVERY_ENABLED"
	EnvDiscoveryService  = "FLYCOORD_DISCOVERY_SERVICE"
	EnvDiscoveryInterval = "FLYCOORD_DISCOVERY_INTERVAL_MS"

	// Events gateway configuration
	EnvEventsEnabled = "FLYCOORD_EVENTS_ENABLED"
	EnvEventsAddr    = "FLYCOORD_EVENTS_ADDR"

	// Observability configuration
	EnvMetricsEnabled = "FLYCOORD_METRICS_ENABLED"
	EnvMetricsAddr    = "FLYCOORD_METRICS_ADDR"
)

// MarkerConfig holds marker dispatch configuration.
type MarkerConfig struct {
	SenderIntervalMs int64 `json:"sender_interval_ms"` // Interval between request-generation passes
	AckTimeoutMs     int64 `json:"ack_timeout_ms"`     // Deadline for a transaction attempt's markers to be acked
	RequestTimeoutMs int64 `json:"request_timeout_ms"` // Per-request send timeout
}

// TxnLogConfig holds transaction log topic configuration.
type TxnLogConfig struct {
	// Partitions is the partition count of the internal transaction state
	// topic. Transactional ids are hashed onto these partitions, which are
	// the unit of coordinator ownership transfer.
	Partitions int `json:"partitions"`
}

// TransportConfig holds peer transport configuration.
type TransportConfig struct {
	DialTimeoutMs   int64 `json:"dial_timeout_ms"`    // TCP dial timeout
	MaxConnsPerPeer int   `json:"max_conns_per_peer"` // Pooled connections per broker
}

// DiscoveryConfig holds mDNS broker discovery configuration.
type DiscoveryConfig struct {
	Enabled    bool   `json:"enabled"`     // Enable mDNS discovery of broker nodes
	Service    string `json:"service"`     // mDNS service name to query
	IntervalMs int64  `json:"interval_ms"` // Interval between discovery passes
}

// EventsConfig holds WebSocket event gateway configuration.
type EventsConfig struct {
	Enabled        bool     `json:"enabled"`         // Enable the completion event gateway
	Addr           string   `json:"addr"`            // Gateway HTTP server address
	AllowedOrigins []string `json:"allowed_origins"` // Allowed WebSocket origins
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"` // Enable Prometheus metrics
	Addr    string `json:"addr"`    // Metrics HTTP server address
}

// Config is the top-level FlyCoord configuration.
type Config struct {
	NodeID    string          `json:"node_id"`
	Marker    MarkerConfig    `json:"marker"`
	TxnLog    TxnLogConfig    `json:"txn_log"`
	Transport TransportConfig `json:"transport"`
	Discovery DiscoveryConfig `json:"discovery"`
	Events    EventsConfig    `json:"events"`
	Metrics   MetricsConfig   `json:"metrics"`
	LogLevel  string          `json:"log_level"`
	LogJSON   bool            `json:"log_json"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		NodeID: defaultNodeID(),
		Marker: MarkerConfig{
			SenderIntervalMs: 100,
			AckTimeoutMs:     30000,
			RequestTimeoutMs: 5000,
		},
		TxnLog: TxnLogConfig{
			Partitions: 50,
		},
		Transport: TransportConfig{
			DialTimeoutMs:   3000,
			MaxConnsPerPeer: 3,
		},
		Discovery: DiscoveryConfig{
			Enabled:    false,
			Service:    "_flymq._tcp",
			IntervalMs: 15000,
		},
		Events: EventsConfig{
			Enabled: false,
			Addr:    ":9461",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9460",
		},
		LogLevel: "info",
		LogJSON:  true,
	}
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		return "flycoord"
	}
	return "flycoord-" + host
}

// LoadFromFile loads configuration from a JSON file, overriding defaults.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv applies environment variable overrides.
func (c *Config) LoadFromEnv() {
	applyString(EnvNodeID, &c.NodeID)
	applyString(EnvLogLevel, &c.LogLevel)
	applyBool(EnvLogJSON, &c.LogJSON)

	applyInt64(EnvSenderInterval, &c.Marker.SenderIntervalMs)
	applyInt64(EnvAckTimeout, &c.Marker.AckTimeoutMs)
	applyInt64(EnvRequestTimeout, &c.Marker.RequestTimeoutMs)

	applyInt(EnvTxnLogPartitions, &c.TxnLog.Partitions)

	applyInt64(EnvDialTimeout, &c.Transport.DialTimeoutMs)
	applyInt(EnvMaxConnsPerPeer, &c.Transport.MaxConnsPerPeer)

	applyBool(EnvDiscoveryEnabled, &c.Discovery.Enabled)
	applyString(EnvDiscoveryService, &c.Discovery.Service)
	applyInt64(EnvDiscoveryInterval, &c.Discovery.IntervalMs)

	applyBool(EnvEventsEnabled, &c.Events.Enabled)
	applyString(EnvEventsAddr, &c.Events.Addr)

	applyBool(EnvMetricsEnabled, &c.Metrics.Enabled)
	applyString(EnvMetricsAddr, &c.Metrics.Addr)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.Marker.SenderIntervalMs <= 0 {
		return fmt.Errorf("marker.sender_interval_ms must be positive, got %d", c.Marker.SenderIntervalMs)
	}
	if c.Marker.AckTimeoutMs <= 0 {
		return fmt.Errorf("marker.ack_timeout_ms must be positive, got %d", c.Marker.AckTimeoutMs)
	}
	if c.Marker.RequestTimeoutMs <= 0 {
		return fmt.Errorf("marker.request_timeout_ms must be positive, got %d", c.Marker.RequestTimeoutMs)
	}
	if c.TxnLog.Partitions <= 0 {
		return fmt.Errorf("txn_log.partitions must be positive, got %d", c.TxnLog.Partitions)
	}
	if c.Transport.MaxConnsPerPeer <= 0 {
		return fmt.Errorf("transport.max_conns_per_peer must be positive, got %d", c.Transport.MaxConnsPerPeer)
	}
	if c.Discovery.Enabled && c.Discovery.Service == "" {
		return fmt.Errorf("discovery.service must not be empty when discovery is enabled")
	}
	if c.Events.Enabled && c.Events.Addr == "" {
		return fmt.Errorf("events.addr must not be empty when the event gateway is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr must not be empty when metrics are enabled")
	}
	return nil
}

func applyString(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func applyBool(env string, dst *bool) {
	if v := os.Getenv(env); v != "" {
		switch strings.ToLower(v) {
		case "true", "1", "yes":
			*dst = true
		case "false", "0", "no":
			*dst = false
		}
	}
}

func applyInt(env string, dst *int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func applyInt64(env string, dst *int64) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
