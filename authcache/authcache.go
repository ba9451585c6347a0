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

// Package authcache holds the per-cluster "effective authentication URI"
// override: the URI whose authentication configuration governs probes
// issued against nodes discovered through cluster membership rather than
// through a directly configured endpoint.
package authcache

import (
	"net/url"
	"sync"
)

// Cache maps a cluster name to its effective authentication URI. A cluster
// is written exactly once: the first call to SetIfAbsent for a given
// cluster wins, and every later call is a no-op until the entry is cleared.
//
// The cache is small and rarely written (once per cluster, on its first
// membership observation), so a plain mutex-guarded map is the right tool
// here rather than the lock-free maps used for NodeRegistry's hotter,
// read-dominated state.
type Cache struct {
	mu      sync.RWMutex
	byNamed map[string]*url.URL
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{byNamed: make(map[string]*url.URL)}
}

// SetIfAbsent records uri as the effective authentication URI for cluster
// if none has been recorded yet. It reports whether its uri was the one
// actually stored.
func (c *Cache) SetIfAbsent(cluster string, uri *url.URL) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byNamed[cluster]; ok {
		return false
	}
	c.byNamed[cluster] = uri
	return true
}

// Get returns the effective authentication URI for cluster, if one has
// been recorded.
func (c *Cache) Get(cluster string) (*url.URL, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uri, ok := c.byNamed[cluster]
	return uri, ok
}

// Clear removes the entry for cluster, if any, so the next SetIfAbsent for
// that cluster name wins again.
func (c *Cache) Clear(cluster string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byNamed, cluster)
}
