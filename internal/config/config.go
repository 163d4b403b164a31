// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads the gossipxfer node configuration: self
// host/port, default transfer mode, gossip tuning, AIMD window bounds,
// parallel stream count, QoS bandwidth budget, and logging.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete node configuration.
type Config struct {
	Self     SelfInfo     `yaml:"self"`
	Default  DefaultInfo  `yaml:"default"`
	Gossip   GossipInfo   `yaml:"gossip"`
	AIMD     AIMDInfo     `yaml:"aimd"`
	Parallel ParallelInfo `yaml:"parallel"`
	QoS      QoSInfo      `yaml:"qos"`
	Logging  LoggingInfo  `yaml:"logging"`
}

// SelfInfo identifies this node's own listening address.
type SelfInfo struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DefaultInfo names the transfer mode used absent an explicit override.
type DefaultInfo struct {
	Mode string `yaml:"mode"` // normal|token_bucket|aimd|parallel|qos|multicast
}

// GossipInfo configures the peer-discovery loop. Disabled defaults to
// false (gossip runs by default); this avoids the ambiguity of a bare
// "enabled" bool, whose YAML zero value would be indistinguishable from
// an explicit opt-out.
type GossipInfo struct {
	Disabled bool          `yaml:"disabled"`
	Interval time.Duration `yaml:"interval"`
	Retries  int           `yaml:"retries"`
	Timeout  time.Duration `yaml:"timeout"`
}

// AIMDInfo configures the congestion controller's window bounds and
// detection flags.
type AIMDInfo struct {
	InitialWindow  int  `yaml:"initial_window"`
	MinWindow      int  `yaml:"min_window"`
	MaxWindow      int  `yaml:"max_window"`
	TimeoutEnabled bool `yaml:"timeout_enabled"`
	DupAckEnabled  bool `yaml:"dup_ack_enabled"`
}

// ParallelInfo configures the default stream count for the Parallel mode.
type ParallelInfo struct {
	Streams int `yaml:"streams"`
}

// QoSInfo configures the shared bandwidth budget for QoS-mode transfers.
type QoSInfo struct {
	TotalBandwidth int64 `yaml:"total_bandwidth"`
}

// LoggingInfo configures the shared logger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads and validates the YAML config at path, then applies the
// environment-variable overrides named in spec.md §6.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Self.Port == 0 {
		c.Self.Port = 7946
	}
	if c.Default.Mode == "" {
		c.Default.Mode = "normal"
	}
	if c.Gossip.Interval <= 0 {
		c.Gossip.Interval = 5 * time.Second
	}
	if c.Gossip.Retries <= 0 {
		c.Gossip.Retries = 3
	}
	if c.Gossip.Timeout <= 0 {
		c.Gossip.Timeout = 2 * time.Second
	}
	if c.AIMD.InitialWindow <= 0 {
		c.AIMD.InitialWindow = 1024
	}
	if c.AIMD.MinWindow <= 0 {
		c.AIMD.MinWindow = 1024
	}
	if c.AIMD.MaxWindow <= 0 {
		c.AIMD.MaxWindow = 64 * 1024
	}
	if c.Parallel.Streams <= 0 {
		c.Parallel.Streams = 4
	}
	if c.QoS.TotalBandwidth <= 0 {
		c.QoS.TotalBandwidth = 1_000_000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// applyEnvOverrides layers the environment inputs spec.md §6 names onto an
// already-defaulted config, applied after YAML load per the teacher's
// validate-after-parse shape.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DEFAULT_MODE"); v != "" {
		c.Default.Mode = v
	}
	if v := os.Getenv("GOSSIP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Gossip.Interval = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.Gossip.Interval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DISABLE_GOSSIP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Gossip.Disabled = b
		}
	}
	if v := os.Getenv("AIMD_INITIAL_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AIMD.InitialWindow = n
		}
	}
	if v := os.Getenv("AIMD_MIN_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AIMD.MinWindow = n
		}
	}
	if v := os.Getenv("AIMD_MAX_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AIMD.MaxWindow = n
		}
	}
	if v := os.Getenv("PARALLEL_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Parallel.Streams = n
		}
	}
}

func (c *Config) validate() error {
	if c.Self.Host == "" {
		return fmt.Errorf("self.host is required")
	}
	validModes := map[string]bool{
		"normal": true, "token_bucket": true, "aimd": true,
		"parallel": true, "qos": true, "multicast": true,
	}
	if !validModes[c.Default.Mode] {
		return fmt.Errorf("default.mode %q is not a recognized transfer mode", c.Default.Mode)
	}
	if c.AIMD.MinWindow > c.AIMD.MaxWindow {
		return fmt.Errorf("aimd.min_window (%d) must not exceed aimd.max_window (%d)", c.AIMD.MinWindow, c.AIMD.MaxWindow)
	}
	if c.AIMD.InitialWindow < c.AIMD.MinWindow || c.AIMD.InitialWindow > c.AIMD.MaxWindow {
		return fmt.Errorf("aimd.initial_window (%d) must be within [min_window, max_window]", c.AIMD.InitialWindow)
	}
	if c.Parallel.Streams < 1 || c.Parallel.Streams > 8 {
		return fmt.Errorf("parallel.streams must be between 1 and 8, got %d", c.Parallel.Streams)
	}
	return nil
}
