/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds the typed, YAML-loadable configuration shared by
// the syncmasterd and syncslaved daemons.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Recognized option defaults.
const (
	DefaultMasterIP             = "127.0.0.1"
	DefaultSyncPort             = 12345
	DefaultSyncTimeout          = time.Second
	DefaultSyncInterval         = 5 * time.Second
	DefaultRoundsPerSync        = 6
	DefaultSyncThreshold        = time.Millisecond
	DefaultLargeOffsetThreshold = 5 * time.Second
	DefaultMasterOfflineTimeout = 15 * time.Second
	DefaultPIDKp                = 0.8
	DefaultPIDKi                = 0.5
	DefaultPIDKd                = 0.1
	DefaultPIDIntegralLimit     = 1.0
	DefaultMaxRateAdjustment    = 1.0
	DefaultPIDLargeOffsetReset  = time.Second
	DefaultMetricsPort          = 9273
)

// Config specifies the sync engine's run options.
type Config struct {
	MasterIP             string        `yaml:"master_ip"`
	SyncPort             int           `yaml:"sync_port"`
	SyncTimeout          time.Duration `yaml:"sync_timeout"`
	SyncInterval         time.Duration `yaml:"sync_interval"`
	RoundsPerSync        int           `yaml:"rounds_per_sync"`
	SyncThreshold        time.Duration `yaml:"sync_threshold"`
	LargeOffsetThreshold time.Duration `yaml:"large_offset_threshold"`
	MasterOfflineTimeout time.Duration `yaml:"master_offline_timeout"`
	PIDKp                float64       `yaml:"pid_kp"`
	PIDKi                float64       `yaml:"pid_ki"`
	PIDKd                float64       `yaml:"pid_kd"`
	PIDIntegralLimit     float64       `yaml:"pid_integral_limit"`
	MaxRateAdjustment    float64       `yaml:"max_rate_adjustment"`
	PIDLargeOffsetReset  time.Duration `yaml:"pid_large_offset_reset"`
	MetricsPort          int           `yaml:"metrics_port"`
}

// InvalidConfigurationError wraps an out-of-range configuration value.
// Configuration errors are fatal at startup and never silently clamped.
type InvalidConfigurationError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Default returns the sync engine's default configuration.
func Default() *Config {
	return &Config{
		MasterIP:             DefaultMasterIP,
		SyncPort:             DefaultSyncPort,
		SyncTimeout:          DefaultSyncTimeout,
		SyncInterval:         DefaultSyncInterval,
		RoundsPerSync:        DefaultRoundsPerSync,
		SyncThreshold:        DefaultSyncThreshold,
		LargeOffsetThreshold: DefaultLargeOffsetThreshold,
		MasterOfflineTimeout: DefaultMasterOfflineTimeout,
		PIDKp:                DefaultPIDKp,
		PIDKi:                DefaultPIDKi,
		PIDKd:                DefaultPIDKd,
		PIDIntegralLimit:     DefaultPIDIntegralLimit,
		MaxRateAdjustment:    DefaultMaxRateAdjustment,
		PIDLargeOffsetReset:  DefaultPIDLargeOffsetReset,
		MetricsPort:          DefaultMetricsPort,
	}
}

// ReadConfig reads and validates a Config from a YAML file, starting
// from defaults so a partial file only overrides what it sets.
func ReadConfig(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate returns an InvalidConfigurationError for the first
// out-of-range knob found. It never clamps a value into range; clamping
// is reserved for the runtime saturation rules the servo and roundctl
// packages apply (rate/integral saturation, delay's max(0, …)).
func (c *Config) Validate() error {
	switch {
	case c.MasterIP == "":
		return &InvalidConfigurationError{Field: "master_ip", Reason: "must not be empty"}
	case c.SyncPort <= 0 || c.SyncPort > 65535:
		return &InvalidConfigurationError{Field: "sync_port", Reason: "must be in (0, 65535]"}
	case c.SyncTimeout <= 0:
		return &InvalidConfigurationError{Field: "sync_timeout", Reason: "must be positive"}
	case c.SyncInterval <= 0:
		return &InvalidConfigurationError{Field: "sync_interval", Reason: "must be positive"}
	case c.RoundsPerSync <= 0:
		return &InvalidConfigurationError{Field: "rounds_per_sync", Reason: "must be positive"}
	case c.SyncTimeout >= c.SyncInterval:
		return &InvalidConfigurationError{Field: "sync_timeout", Reason: "must be shorter than sync_interval"}
	case c.SyncThreshold < 0:
		return &InvalidConfigurationError{Field: "sync_threshold", Reason: "must not be negative"}
	case c.LargeOffsetThreshold <= c.SyncThreshold:
		return &InvalidConfigurationError{Field: "large_offset_threshold", Reason: "must exceed sync_threshold"}
	case c.MasterOfflineTimeout <= 0:
		return &InvalidConfigurationError{Field: "master_offline_timeout", Reason: "must be positive"}
	case c.PIDIntegralLimit <= 0:
		return &InvalidConfigurationError{Field: "pid_integral_limit", Reason: "must be positive"}
	case c.MaxRateAdjustment <= 0:
		return &InvalidConfigurationError{Field: "max_rate_adjustment", Reason: "must be positive"}
	case c.PIDLargeOffsetReset <= 0:
		return &InvalidConfigurationError{Field: "pid_large_offset_reset", Reason: "must be positive"}
	case c.MetricsPort < 0 || c.MetricsPort > 65535:
		return &InvalidConfigurationError{Field: "metrics_port", Reason: "must be in [0, 65535]"}
	}
	return nil
}
