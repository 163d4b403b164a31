// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/nishisan-dev/gossipxfer/internal/config"
	"github.com/nishisan-dev/gossipxfer/internal/crypto"
	"github.com/nishisan-dev/gossipxfer/internal/logging"
	"github.com/nishisan-dev/gossipxfer/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "/etc/gossipxfer/node.yaml", "path to node config file")
	keyHex := flag.String("key", "", "hex-encoded 32-byte shared AES-256 key (or set GOSSIPXFER_KEY)")
	join := flag.String("join", "", "bootstrap peer to join, host:port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	codec, err := loadCodec(*keyHex)
	if err != nil {
		logger.Error("failed to load shared key", "error", err)
		os.Exit(1)
	}

	node := orchestrator.New(cfg, codec, logger)
	if err := node.Start(); err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}
	defer node.Stop()

	if *join != "" {
		host, portStr, splitErr := net.SplitHostPort(*join)
		if splitErr != nil {
			logger.Error("invalid --join address", "address", *join, "error", splitErr)
			os.Exit(1)
		}
		port, convErr := strconv.Atoi(portStr)
		if convErr != nil {
			logger.Error("invalid --join port", "address", *join, "error", convErr)
			os.Exit(1)
		}
		if err := node.JoinNetwork(context.Background(), host, port); err != nil {
			logger.Warn("join attempt failed", "bootstrap", *join, "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	logger.Info("received shutdown signal")
}

func loadCodec(keyHex string) (*crypto.Codec, error) {
	if keyHex == "" {
		keyHex = os.Getenv("GOSSIPXFER_KEY")
	}
	if keyHex == "" {
		return nil, fmt.Errorf("no shared key provided: pass --key or set GOSSIPXFER_KEY")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key: %w", err)
	}
	return crypto.NewCodec(key)
}
