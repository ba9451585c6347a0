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

// Package registry holds everything known about the nodes and clusters a
// resolution core can probe: per-node address tables, cluster membership,
// and the process-wide set of destinations recently observed to fail.
//
// All exported operations are safe under arbitrary concurrent use; nodes
// and clusters are only ever inserted, never removed from the underlying
// skip lists except by an explicit RemoveNode/RemoveCluster call, so a
// snapshot taken mid-resolution never observes a half-torn-down entry.
package registry

import (
	"net/url"

	"github.com/jbossnetty/ejbresolve/authcache"
	"github.com/zhangyunhao116/skipmap"
	"github.com/zhangyunhao116/skipset"
)

// ClusterNodeInformation is the per-protocol address-table set a node
// advertises for a single cluster it belongs to.
type ClusterNodeInformation struct {
	addressTables *skipmap.StringMap[*CidrAddressTable]
}

func newClusterNodeInformation() *ClusterNodeInformation {
	return &ClusterNodeInformation{addressTables: skipmap.NewString[*CidrAddressTable]()}
}

// AddressTable returns the CidrAddressTable for the given protocol scheme,
// creating an empty one on first use.
func (c *ClusterNodeInformation) AddressTable(scheme string) *CidrAddressTable {
	table, _ := c.addressTables.LoadOrStore(scheme, NewCidrAddressTable())
	return table
}

// Protocols calls fn for every protocol scheme this node has an address
// table for, in no particular order.
func (c *ClusterNodeInformation) Protocols(fn func(scheme string, table *CidrAddressTable)) {
	c.addressTables.Range(func(scheme string, table *CidrAddressTable) bool {
		fn(scheme, table)
		return true
	})
}

// NodeInformation is everything the registry knows about one named node:
// which clusters it belongs to, the address table advertised for each, and
// the set of EJB module identifiers it has announced over its channel.
type NodeInformation struct {
	NodeName   string
	clusters   *skipmap.StringMap[*ClusterNodeInformation]
	moduleList *skipset.StringSet
}

func newNodeInformation(name string) *NodeInformation {
	return &NodeInformation{
		NodeName:   name,
		clusters:   skipmap.NewString[*ClusterNodeInformation](),
		moduleList: skipset.NewString(),
	}
}

// Cluster returns this node's ClusterNodeInformation for the given
// cluster, creating it on first use.
func (n *NodeInformation) Cluster(name string) *ClusterNodeInformation {
	info, _ := n.clusters.LoadOrStore(name, newClusterNodeInformation())
	return info
}

// Clusters calls fn for every cluster this node belongs to.
func (n *NodeInformation) Clusters(fn func(cluster string, info *ClusterNodeInformation)) {
	n.clusters.Range(func(cluster string, info *ClusterNodeInformation) bool {
		fn(cluster, info)
		return true
	})
}

// moduleKey packs a module identifier into the flat string moduleList is
// keyed by, since skipset needs an ordered scalar rather than a struct.
func moduleKey(app, module, distinct string) string {
	return app + "\x00" + module + "\x00" + distinct
}

// AnnounceModule records that this node serves the given module, as
// reported by the node's channel registration.
func (n *NodeInformation) AnnounceModule(app, module, distinct string) {
	n.moduleList.Add(moduleKey(app, module, distinct))
}

// ServesModule reports whether this node has announced the given module.
// An empty app or distinct name matches any value for that field, mirroring
// the partial identifiers ModuleExtractor produces for two-segment
// "ejb-module" filters.
func (n *NodeInformation) ServesModule(app, module, distinct string) bool {
	if n.moduleList.Contains(moduleKey(app, module, distinct)) {
		return true
	}
	if app == "" || distinct == "" {
		matched := false
		n.moduleList.Range(func(key string) bool {
			a, m, d := splitModuleKey(key)
			if m != module {
				return true
			}
			if app != "" && a != app {
				return true
			}
			if distinct != "" && d != distinct {
				return true
			}
			matched = true
			return false
		})
		return matched
	}
	return false
}

func splitModuleKey(key string) (app, module, distinct string) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	return parts[0], parts[1], parts[2]
}

// Registry is the in-memory map of known nodes, their per-cluster address
// tables, cluster membership, and the process-wide failed-destination set.
type Registry struct {
	nodes      *skipmap.StringMap[*NodeInformation]
	members    *skipmap.StringMap[*skipset.StringSet]
	failed     *skipset.StringSet
	authEffect *authcache.Cache
}

// New returns an empty Registry that keeps each cluster's first-writer-wins
// authentication URI in auth. auth may be nil, in which case New allocates
// a fresh *authcache.Cache; either way AddNode records the URI there and
// AuthEffective reads it back.
func New(auth *authcache.Cache) *Registry {
	if auth == nil {
		auth = authcache.New()
	}
	return &Registry{
		nodes:      skipmap.NewString[*NodeInformation](),
		members:    skipmap.NewString[*skipset.StringSet](),
		failed:     skipset.NewString(),
		authEffect: auth,
	}
}

// GetOrCreate returns the NodeInformation for nodeName, allocating it on
// first observation. It never overwrites an existing entry.
func (r *Registry) GetOrCreate(nodeName string) *NodeInformation {
	info, _ := r.nodes.LoadOrStore(nodeName, newNodeInformation(nodeName))
	return info
}

// Lookup returns the NodeInformation for nodeName without creating it.
func (r *Registry) Lookup(nodeName string) (*NodeInformation, bool) {
	return r.nodes.Load(nodeName)
}

// All returns a snapshot of every known node. The snapshot does not need
// to be point-in-time consistent with concurrent AddNode/RemoveNode calls.
func (r *Registry) All() []*NodeInformation {
	out := make([]*NodeInformation, 0, r.nodes.Len())
	r.nodes.Range(func(_ string, info *NodeInformation) bool {
		out = append(out, info)
		return true
	})
	return out
}

// ClusterMembers returns the current set of node names belonging to
// cluster, or nil if the cluster is unknown.
func (r *Registry) ClusterMembers(cluster string) []string {
	set, ok := r.members.Load(cluster)
	if !ok {
		return nil
	}
	out := make([]string, 0, set.Len())
	set.Range(func(node string) bool {
		out = append(out, node)
		return true
	})
	return out
}

// Clusters calls fn for every known cluster and its current member set.
func (r *Registry) Clusters(fn func(cluster string, nodes []string)) {
	r.members.Range(func(cluster string, set *skipset.StringSet) bool {
		nodes := make([]string, 0, set.Len())
		set.Range(func(node string) bool {
			nodes = append(nodes, node)
			return true
		})
		fn(cluster, nodes)
		return true
	})
}

// AddNode records that node belongs to cluster, creating the node's
// registry entry if needed, and records registeringURI as the cluster's
// effective authentication URI if none has been recorded yet.
func (r *Registry) AddNode(cluster, node string, registeringURI *url.URL) *NodeInformation {
	info := r.GetOrCreate(node)
	members, _ := r.members.LoadOrStore(cluster, skipset.NewString())
	members.Add(node)
	if registeringURI != nil {
		r.authEffect.SetIfAbsent(cluster, registeringURI)
	}
	return info
}

// RemoveNode removes node from cluster's membership set. It does not
// delete the node's NodeInformation entry, since the node may still belong
// to other clusters or still be directly addressable.
func (r *Registry) RemoveNode(cluster, node string) {
	if members, ok := r.members.Load(cluster); ok {
		members.Remove(node)
	}
}

// RemoveCluster deletes cluster's membership entry entirely and clears its
// effective authentication URI, so a later AddNode for the same cluster
// name starts the first-writer-wins race over again.
func (r *Registry) RemoveCluster(cluster string) {
	r.members.Delete(cluster)
	r.authEffect.Clear(cluster)
}

// AuthEffective returns the effective authentication URI for cluster, if
// one has been recorded.
func (r *Registry) AuthEffective(cluster string) (*url.URL, bool) {
	return r.authEffect.Get(cluster)
}

// MarkFailed adds uri to the process-wide failed-destination set.
func (r *Registry) MarkFailed(uri string) {
	r.failed.Add(uri)
}

// ClearFailed removes uri from the process-wide failed-destination set.
func (r *Registry) ClearFailed(uri string) {
	r.failed.Remove(uri)
}

// IsFailed reports whether uri is currently in the failed-destination set.
func (r *Registry) IsFailed(uri string) bool {
	return r.failed.Contains(uri)
}
