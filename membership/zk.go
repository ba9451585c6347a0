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

// Package membership supplies concrete, optional feeds that keep a
// registry.Registry's cluster membership in sync with an external source
// of truth. The resolution core never imports this package: it only ever
// consumes a *registry.Registry, and how that registry's membership gets
// populated is entirely up to the embedding application.
package membership

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/jbossnetty/ejbresolve/registry"
	"github.com/jbossnetty/ejbresolve/trace"
)

// ZKFeed watches ZooKeeper znodes laid out as /<root>/clusters/<cluster>/<node>,
// where each child znode's data is the node's registering URI, and keeps a
// registry.Registry's cluster membership synchronized with what it
// observes. Each cluster's child list is re-read in full on every
// notification; there is no incremental diffing, which is acceptable at
// the scale this membership layer targets.
type ZKFeed struct {
	conn     *zk.Conn
	rootPath string
	reg      *registry.Registry
	sink     trace.Sink

	reconnectWait time.Duration
}

// NewZKFeed dials servers and returns a feed that will populate reg once
// Run is called. rootPath is the znode prefix above "/clusters".
// reconnectWait is how long Run waits before retrying a failed
// ChildrenW call; a non-positive value falls back to one second.
func NewZKFeed(servers []string, sessionTimeout time.Duration, rootPath string, reconnectWait time.Duration, reg *registry.Registry, sink trace.Sink) (*ZKFeed, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	if sink == nil {
		sink = trace.Noop
	}
	if reconnectWait <= 0 {
		reconnectWait = time.Second
	}
	return &ZKFeed{conn: conn, rootPath: strings.TrimSuffix(rootPath, "/"), reg: reg, sink: sink, reconnectWait: reconnectWait}, nil
}

// Close releases the ZooKeeper session.
func (f *ZKFeed) Close() error {
	f.conn.Close()
	return nil
}

func (f *ZKFeed) clustersPath() string {
	return f.rootPath + "/clusters"
}

// Run watches the cluster list and, for each cluster, its member nodes,
// applying every observed change to the registry until ctx is cancelled.
// It is meant to be run in its own goroutine.
func (f *ZKFeed) Run(ctx context.Context) {
	watched := map[string]context.CancelFunc{}
	defer func() {
		for _, cancel := range watched {
			cancel()
		}
	}()

	for {
		clusters, _, changed, err := f.conn.ChildrenW(f.clustersPath())
		if err != nil {
			f.sink.Tracef("membership: list clusters failed: %v", err)
			select {
			case <-time.After(f.reconnectWait):
				continue
			case <-ctx.Done():
				return
			}
		}

		seen := make(map[string]bool, len(clusters))
		for _, cluster := range clusters {
			seen[cluster] = true
			if _, ok := watched[cluster]; ok {
				continue
			}
			clusterCtx, cancel := context.WithCancel(ctx)
			watched[cluster] = cancel
			go f.watchCluster(clusterCtx, cluster)
		}
		for cluster, cancel := range watched {
			if !seen[cluster] {
				cancel()
				delete(watched, cluster)
				f.reg.RemoveCluster(cluster)
			}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

func (f *ZKFeed) watchCluster(ctx context.Context, cluster string) {
	path := f.clustersPath() + "/" + cluster
	known := map[string]bool{}
	for {
		children, _, changed, err := f.conn.ChildrenW(path)
		if err != nil {
			f.sink.Tracef("membership: watch cluster %q failed: %v", cluster, err)
			select {
			case <-time.After(f.reconnectWait):
				continue
			case <-ctx.Done():
				return
			}
		}

		current := make(map[string]bool, len(children))
		for _, node := range children {
			current[node] = true
			if known[node] {
				continue
			}
			registeringURI := f.readRegisteringURI(path + "/" + node)
			f.reg.AddNode(cluster, node, registeringURI)
		}
		for node := range known {
			if !current[node] {
				f.reg.RemoveNode(cluster, node)
			}
		}
		known = current

		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

func (f *ZKFeed) readRegisteringURI(nodePath string) *url.URL {
	data, _, err := f.conn.Get(nodePath)
	if err != nil || len(data) == 0 {
		return nil
	}
	uri, err := url.Parse(string(data))
	if err != nil {
		return nil
	}
	return uri
}
