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

package config_test

import (
	"testing"
	"time"

	"github.com/jbossnetty/ejbresolve/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsUsable(t *testing.T) {
	cfg := config.Default()
	assert.Positive(t, cfg.Discovery.QueueCapacity)
	assert.Positive(t, cfg.Discovery.MaxConnectedClusterNodes)
	assert.False(t, cfg.Membership.Enabled)
}

func TestLoadOverlaysOntoDefaults(t *testing.T) {
	yamlDoc := []byte(`
discovery:
  max_connected_cluster_nodes: 10
membership:
  enabled: true
  servers: ["zk1:2181", "zk2:2181"]
`)
	cfg, err := config.Load(yamlDoc)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Discovery.MaxConnectedClusterNodes)
	assert.Equal(t, config.Default().Discovery.QueueCapacity, cfg.Discovery.QueueCapacity)
	assert.True(t, cfg.Membership.Enabled)
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, cfg.Membership.Servers)
}

func TestLoadClampsInvalidValues(t *testing.T) {
	yamlDoc := []byte(`
discovery:
  queue_capacity: -5
  max_connected_cluster_nodes: 0
membership:
  session_ttl: -1s
`)
	cfg, err := config.Load(yamlDoc)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Discovery.QueueCapacity)
	assert.Equal(t, 1, cfg.Discovery.MaxConnectedClusterNodes)
	assert.Equal(t, 10*time.Second, cfg.Membership.SessionTTL)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := config.Load([]byte("not: [valid"))
	assert.Error(t, err)
}
