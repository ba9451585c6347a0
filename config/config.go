// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the tunables for a DiscoveryEngine and Resolver:
// queue capacity, how many nodes of a cluster to probe concurrently, and
// the optional ZooKeeper membership feed's connection settings.
package config

import (
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the root configuration structure, loaded from YAML.
type Config struct {
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Membership MembershipConfig `yaml:"membership"`
}

// DiscoveryConfig tunes DiscoveryEngine.
type DiscoveryConfig struct {
	// QueueCapacity bounds the pre-allocated buffer of a ServicesQueue.
	QueueCapacity int `yaml:"queue_capacity"`
	// MaxConnectedClusterNodes is the per-cluster probe budget applied
	// during cluster-membership enumeration (spec step 4.D.3).
	MaxConnectedClusterNodes int `yaml:"max_connected_cluster_nodes"`
}

// MembershipConfig tunes the optional ZooKeeper-backed membership feed.
type MembershipConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Servers       []string      `yaml:"servers"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	RootPath      string        `yaml:"root_path"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// Default returns a baseline configuration suitable for a single-process
// deployment with no membership feed.
func Default() Config {
	return Config{
		Discovery: DiscoveryConfig{
			QueueCapacity:            16,
			MaxConnectedClusterNodes: 5,
		},
		Membership: MembershipConfig{
			Enabled:       false,
			SessionTTL:    10 * time.Second,
			RootPath:      "/ejb-discovery",
			ReconnectWait: time.Second,
		},
	}
}

// Load parses YAML-encoded configuration, starting from Default and
// overwriting only the fields present in data, then clamping every numeric
// field to a sane minimum instead of validating and rejecting the input.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) clamp() {
	if c.Discovery.QueueCapacity < 1 {
		c.Discovery.QueueCapacity = 1
	}
	if c.Discovery.MaxConnectedClusterNodes < 1 {
		c.Discovery.MaxConnectedClusterNodes = 1
	}
	if c.Membership.SessionTTL <= 0 {
		c.Membership.SessionTTL = 10 * time.Second
	}
	if c.Membership.ReconnectWait <= 0 {
		c.Membership.ReconnectWait = time.Second
	}
}
