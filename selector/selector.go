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

// Package selector holds the three pluggable node-selection policies a
// Resolver consults once discovery has produced more than one candidate:
// which node to pick within a cluster, which node to pick for a deployed
// module, and which discovered URI to pick when nothing else disambiguates.
//
// None of the default implementations here are required; callers are free
// to supply their own, the way a caller of the teacher's picker.Factory can
// swap in a custom load-balancing policy.
package selector

import (
	"math/rand/v2"

	kerrors "github.com/go-kratos/kratos/v2/errors"

	"github.com/jbossnetty/ejbresolve/internal"
)

// ErrNoAvailable is returned by a selector that was asked to choose among
// zero candidates.
var ErrNoAvailable = kerrors.ServiceUnavailable("no_available_node", "selector had no candidates to choose from")

// ClusterNodeSelector chooses one node among a cluster's nodes, given the
// subset the transport currently holds an open connection to. Returning an
// empty string, or a name absent from available, is a fatal configuration
// error.
type ClusterNodeSelector interface {
	SelectNode(cluster string, connected, available []string) (string, error)
}

// DeploymentNodeSelector chooses one node among every node known to serve a
// given deployment, when discovery found node names for every candidate
// URI. Returning an empty string, or a name absent from nodes, is a fatal
// configuration error.
type DeploymentNodeSelector interface {
	SelectNode(nodes []string, appName, moduleName, distinctName string) (string, error)
}

// DiscoveredURISelector chooses one URI among candidates discovery could
// not otherwise disambiguate (typically because some, but not all, carried
// a node name). locatorKey is a caller-supplied stable string identifying
// the invocation's locator; the default RANDOM policy ignores it, but a
// consistent-hashing policy could use it to pin a given bean identity to
// the same URI across calls. Returning an empty string, or a URI absent
// from uris, is a fatal configuration error.
type DiscoveredURISelector interface {
	SelectNode(uris []string, locatorKey string) (string, error)
}

// RandomClusterNodeSelector prefers an already-connected node when one
// exists, falling back to a uniform random pick across every available
// node otherwise. This mirrors the teacher's own round-robin picker, which
// randomizes order up front rather than ever doing a weighted pick.
type RandomClusterNodeSelector struct{}

// SelectNode implements ClusterNodeSelector.
func (RandomClusterNodeSelector) SelectNode(_ string, connected, available []string) (string, error) {
	if len(connected) > 0 {
		return connected[rand.IntN(len(connected))], nil
	}
	if len(available) == 0 {
		return "", ErrNoAvailable
	}
	return available[rand.IntN(len(available))], nil
}

// RandomDeploymentNodeSelector picks uniformly at random among the nodes
// known to serve a deployment. The deployment identity is accepted but
// unused by this policy; it exists for selectors that do care, such as one
// that pins a distinct-name to a fixed node.
type RandomDeploymentNodeSelector struct{}

// SelectNode implements DeploymentNodeSelector.
func (RandomDeploymentNodeSelector) SelectNode(nodes []string, _, _, _ string) (string, error) {
	if len(nodes) == 0 {
		return "", ErrNoAvailable
	}
	return nodes[rand.IntN(len(nodes))], nil
}

// RandomURISelector is the default DiscoveredURISelector: uniform random
// selection among the candidate URIs, the "RANDOM" policy named in the
// component design.
type RandomURISelector struct{}

// SelectNode implements DiscoveredURISelector.
func (RandomURISelector) SelectNode(uris []string, _ string) (string, error) {
	if len(uris) == 0 {
		return "", ErrNoAvailable
	}
	return uris[rand.IntN(len(uris))], nil
}

// RendezvousURISelector picks, for a given locatorKey, the URI with the
// highest rendezvous (highest-random-weight) hash rank among the candidates.
// Unlike RandomURISelector, the same locator keeps landing on the same URI
// across calls as long as that URI keeps showing up in the candidate set;
// when it disappears, affected locators redistribute across whatever
// remains rather than all failing over to one survivor. This mirrors the
// teacher's RendezvousHashSubsetter, adapted from subset-of-k selection down
// to a single pick.
type RendezvousURISelector struct{}

// SelectNode implements DiscoveredURISelector.
func (RendezvousURISelector) SelectNode(uris []string, locatorKey string) (string, error) {
	if len(uris) == 0 {
		return "", ErrNoAvailable
	}
	best, bestRank := uris[0], rendezvousRank(locatorKey, uris[0])
	for _, uri := range uris[1:] {
		if rank := rendezvousRank(locatorKey, uri); rank > bestRank {
			best, bestRank = uri, rank
		}
	}
	return best, nil
}

func rendezvousRank(key, candidate string) uint32 {
	h := internal.NewMurmurHash3(0)
	_, _ = h.Write([]byte(key))
	_, _ = h.Write([]byte(candidate))
	return h.Sum32()
}
