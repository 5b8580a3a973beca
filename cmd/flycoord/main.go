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

// FlyCoord is the transaction marker dispatch daemon of the FlyMQ
// transaction coordinator. It routes commit/abort markers to partition
// leaders, tracks their acks, and completes transactions once every
// marker is confirmed.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"flycoord/internal/banner"
	"flycoord/internal/config"
	"flycoord/internal/logging"
	"flycoord/internal/marker"
	"flycoord/internal/metadata"
	"flycoord/internal/metrics"
	"flycoord/internal/server/ws"
	"flycoord/internal/transport"
	"flycoord/internal/txn"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to JSON configuration file")
		humanReadable = flag.Bool("human-readable", false, "Log in human-readable text instead of JSON")
		quiet         = flag.Bool("quiet", false, "Suppress the startup banner")
		showVersion   = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("flycoord v%s\n", banner.Version)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		if err := cfg.LoadFromFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "flycoord: %v\n", err)
			os.Exit(1)
		}
	}
	cfg.LoadFromEnv()
	if *humanReadable {
		cfg.LogJSON = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "flycoord: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("main")

	if !*quiet {
		banner.Print()
	}
	logger.Info("Starting FlyCoord", "version", banner.Version, "node_id", cfg.NodeID)

	cache := metadata.NewCache()
	stateManager := txn.NewMemoryStateManager(int32(cfg.TxnLog.Partitions))
	sender := transport.NewTCPSender(&cfg.Transport, cache)
	manager := marker.NewChannelManager(marker.OptionsFromConfig(&cfg.Marker), cache, stateManager, sender)

	gateway := ws.NewGateway(&cfg.Events)
	if cfg.Events.Enabled {
		manager.Subscribe(gateway.PublishCompletion)
	}

	metricsServer := metrics.NewServer(&cfg.Metrics)
	if err := metricsServer.Start(); err != nil {
		logger.Error("Failed to start metrics server", "error", err)
		os.Exit(1)
	}
	if err := gateway.Start(); err != nil {
		logger.Error("Failed to start event gateway", "error", err)
		os.Exit(1)
	}

	var discoverer *metadata.Discoverer
	if cfg.Discovery.Enabled {
		discoverer = metadata.NewDiscoverer(&cfg.Discovery, cache)
		discoverer.Start()
	}

	manager.Start()
	logger.Info("FlyCoord ready", "txn_log_partitions", cfg.TxnLog.Partitions)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", "signal", sig.String())

	manager.Stop()
	if discoverer != nil {
		discoverer.Stop()
	}
	if err := gateway.Stop(); err != nil {
		logger.Warn("Event gateway shutdown error", "error", err)
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Warn("Metrics server shutdown error", "error", err)
	}
	if err := sender.Close(); err != nil {
		logger.Warn("Transport shutdown error", "error", err)
	}
	logger.Info("Shutdown complete")
}
