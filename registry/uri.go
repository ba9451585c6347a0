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

package registry

import (
	"fmt"
	"net/netip"
	"net/url"

	"github.com/jbossnetty/ejbresolve/discovery"
)

// BuildURI constructs the URI for a cluster-derived endpoint: scheme is the
// address table's protocol key, host/port come from addr. IPv6 literals
// are bracketed by AddrPort.String().
func BuildURI(scheme string, addr netip.AddrPort) *url.URL {
	return &url.URL{Scheme: scheme, Host: addr.String()}
}

// Attributes returns the multimap of well-known attribute values this node
// currently carries: its own name, the clusters it belongs to, and the
// modules it has announced, in the canonical form a FilterSpec built by a
// caller would compare against.
func (n *NodeInformation) Attributes() map[string][]string {
	attrs := map[string][]string{discovery.AttrNode: {n.NodeName}}
	n.clusters.Range(func(cluster string, _ *ClusterNodeInformation) bool {
		attrs[discovery.AttrCluster] = append(attrs[discovery.AttrCluster], cluster)
		return true
	})
	n.moduleList.Range(func(key string) bool {
		app, module, distinct := splitModuleKey(key)
		attrs[discovery.AttrEJBModule] = append(attrs[discovery.AttrEJBModule], fmt.Sprintf("%s/%s", app, module))
		attrs[discovery.AttrEJBModuleDistinct] = append(attrs[discovery.AttrEJBModuleDistinct], fmt.Sprintf("%s/%s/%s", app, module, distinct))
		return true
	})
	return attrs
}

// Discover evaluates spec against this node's own announced attributes and,
// if it matches, synthesizes a ServiceRecord per (cluster, protocol,
// address-table mapping) this node is reachable on. It lets an already-known
// node answer a discovery filter without a further network probe.
func (n *NodeInformation) Discover(spec discovery.FilterSpec) []*discovery.Record {
	if !discovery.Evaluate(spec, n.Attributes()) {
		return nil
	}
	var records []*discovery.Record
	n.clusters.Range(func(cluster string, info *ClusterNodeInformation) bool {
		info.Protocols(func(scheme string, table *CidrAddressTable) {
			for _, mapping := range table.All() {
				record := discovery.NewRecord(BuildURI(scheme, mapping.Address)).
					WithAttribute(discovery.AttrNode, n.NodeName).
					WithAttribute(discovery.AttrCluster, cluster)
				records = append(records, record)
			}
		})
		return true
	})
	return records
}
