// Copyright 2024 The Erigon Authors
// (original work)
// This file is part of stateversions.
//
// stateversions is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config holds the tunables a StateVersions handle needs at
// construction: the recent-diff fetch window, the build version stamped
// into every encoded State/StateDiff, and the clock/hostname the teacher's
// own config layers inject rather than call directly, so tests can
// substitute both.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRecentLiveDiffsLimit bounds fetch_recent_live_diffs' fast-path
// scan before it falls back to Consensus.Head.
const DefaultRecentLiveDiffsLimit = 100

// Config collects the tunables shared by every shard opened from a given
// process. Zero value is not valid; use New.
type Config struct {
	// RecentLiveDiffsLimit bounds the fast-path scan in
	// fetch_recent_live_diffs.
	RecentLiveDiffsLimit int `yaml:"recent_live_diffs_limit"`
	// BuildVersion is stamped into every encoded State/StateDiff and
	// checked on decode; a mismatch surfaces as a CodecMismatch.
	BuildVersion string `yaml:"build_version"`
	// Hostname is recorded in every State for operational diagnosis
	// (which process last proposed this version).
	Hostname string `yaml:"hostname"`
	// Now returns the current time; overridable in tests.
	Now func() time.Time `yaml:"-"`
}

// Option mutates a Config at construction time.
type Option func(*Config)

// WithRecentLiveDiffsLimit overrides DefaultRecentLiveDiffsLimit.
func WithRecentLiveDiffsLimit(limit int) Option {
	return func(c *Config) { c.RecentLiveDiffsLimit = limit }
}

// WithNow overrides the default time.Now clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(c *Config) { c.Now = now }
}

// New builds a Config for buildVersion with the host's own hostname,
// applying opts over the defaults.
func New(buildVersion string, opts ...Option) (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	c := &Config{
		RecentLiveDiffsLimit: DefaultRecentLiveDiffsLimit,
		BuildVersion:         buildVersion,
		Hostname:             hostname,
		Now:                  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports whether c is usable.
func (c *Config) Validate() error {
	if c.RecentLiveDiffsLimit <= 0 {
		return fmt.Errorf("config: recent_live_diffs_limit must be positive, got %d", c.RecentLiveDiffsLimit)
	}
	if c.BuildVersion == "" {
		return fmt.Errorf("config: build_version must not be empty")
	}
	return nil
}

// LoadYAML reads a Config from YAML-encoded data, applying opts after the
// file's own values (so callers can still override file-configured
// behavior for tests).
func LoadYAML(data []byte, opts ...Option) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	if c.RecentLiveDiffsLimit == 0 {
		c.RecentLiveDiffsLimit = DefaultRecentLiveDiffsLimit
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
