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

package ejbresolve

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"net/url"
	"strconv"

	"github.com/jbossnetty/ejbresolve/discovery"
	"github.com/jbossnetty/ejbresolve/engine"
	"github.com/jbossnetty/ejbresolve/naming"
	"github.com/jbossnetty/ejbresolve/selector"
	"github.com/jbossnetty/ejbresolve/trace"
)

// Resolver is the affinity-driven state machine that turns an invocation's
// locator and affinity hints into a concrete destination, consulting the
// wired Engine for discovery and the selector package for tie-breaking.
type Resolver struct {
	engine    *engine.Engine
	transport TransportProvider
	sink      trace.Sink

	clusterSelector    selector.ClusterNodeSelector
	deploymentSelector selector.DeploymentNodeSelector
	uriSelector        selector.DiscoveredURISelector
}

// ResolverOption customizes a Resolver built by NewResolver.
type ResolverOption interface {
	apply(*Resolver)
}

type resolverOptionFunc func(*Resolver)

func (f resolverOptionFunc) apply(r *Resolver) { f(r) }

// WithClusterNodeSelector overrides the default RandomClusterNodeSelector.
func WithClusterNodeSelector(s selector.ClusterNodeSelector) ResolverOption {
	return resolverOptionFunc(func(r *Resolver) { r.clusterSelector = s })
}

// WithDeploymentNodeSelector overrides the default RandomDeploymentNodeSelector.
func WithDeploymentNodeSelector(s selector.DeploymentNodeSelector) ResolverOption {
	return resolverOptionFunc(func(r *Resolver) { r.deploymentSelector = s })
}

// WithDiscoveredURISelector overrides the default RandomURISelector.
func WithDiscoveredURISelector(s selector.DiscoveredURISelector) ResolverOption {
	return resolverOptionFunc(func(r *Resolver) { r.uriSelector = s })
}

// WithResolverTraceSink attaches a diagnostic sink for non-fatal resolution
// events, mirroring the one the Engine was built with.
func WithResolverTraceSink(sink trace.Sink) ResolverOption {
	return resolverOptionFunc(func(r *Resolver) { r.sink = sink })
}

// NewResolver returns a Resolver that discovers through eng and queries
// transport for connectivity and source-address facts.
func NewResolver(eng *engine.Engine, transport TransportProvider, options ...ResolverOption) *Resolver {
	r := &Resolver{
		engine:             eng,
		transport:          transport,
		sink:               trace.Noop,
		clusterSelector:    selector.RandomClusterNodeSelector{},
		deploymentSelector: selector.RandomDeploymentNodeSelector{},
		uriSelector:        selector.RandomURISelector{},
	}
	for _, opt := range options {
		opt.apply(r)
	}
	return r
}

// Resolve fills in invocation's destination, or leaves it unset if nothing
// could be resolved. A non-nil return is always fatal (a selector
// misconfiguration, or ErrOperationInterrupted when ctx ends while
// discovery results are awaited); ordinary "nothing found" is reported by
// leaving the
// destination unset, per §7.6.
func (r *Resolver) Resolve(ctx context.Context, invocation Context) error {
	if invocation.Destination() != nil {
		return nil
	}

	strong := invocation.Locator().Affinity
	if strong == nil {
		strong = NoneAffinity{}
	}
	weak := invocation.WeakAffinity()
	if weak == nil {
		weak = NoneAffinity{}
	}
	r.sink.Tracef("resolve: bean=%s strong=%T weak=%T", invocation.Locator().BeanName, strong, weak)

	switch s := strong.(type) {
	case URIAffinity:
		r.resolveToURIIfNotBlacklisted(invocation, s.URI, s)
		return nil
	case LocalAffinity:
		// Colocated beans resolve outside this state machine; if the
		// pipeline reached here with no destination set, there is nothing
		// more this resolver can do.
		return nil
	case NodeAffinity:
		return r.firstMatch(ctx, invocation, discovery.Equal(discovery.AttrNode, s.Node), nil, "")
	case ClusterAffinity:
		switch w := weak.(type) {
		case NodeAffinity:
			primary := discovery.All(
				discovery.Equal(discovery.AttrCluster, s.Cluster),
				discovery.Equal(discovery.AttrNode, w.Node),
			)
			fallback := discovery.All(
				discovery.Equal(discovery.AttrCluster, s.Cluster),
				discovery.HasAttribute(discovery.AttrNode),
			)
			return r.firstMatch(ctx, invocation, primary, &clusterFallback{filter: fallback, cluster: s.Cluster}, "")
		case URIAffinity:
			r.resolveToURIIfNotBlacklisted(invocation, w.URI, w)
			return nil
		case LocalAffinity:
			return nil
		default:
			return r.clusterDiscovery(ctx, invocation, discovery.Equal(discovery.AttrCluster, s.Cluster), s.Cluster)
		}
	default: // NoneAffinity
		switch w := weak.(type) {
		case URIAffinity:
			r.resolveToURIIfNotBlacklisted(invocation, w.URI, w)
			return nil
		case LocalAffinity:
			return nil
		case NodeAffinity:
			return r.firstMatch(ctx, invocation, discovery.Equal(discovery.AttrNode, w.Node), nil, "")
		default:
			return r.anyDiscovery(ctx, invocation)
		}
	}
}

// resolveToURIIfNotBlacklisted implements the "Uri(u), *", "None, Uri(u)"
// and "Cluster, Uri(u)" affinity cases (Local affinities never reach it): a
// directly named URI wins outright unless the
// current invocation already blacklisted it, in which case no destination
// is set at all and discovery is not attempted.
func (r *Resolver) resolveToURIIfNotBlacklisted(invocation Context, uri *url.URL, affinity Affinity) {
	if blacklistOf(invocation).Contains(uri) {
		return
	}
	invocation.SetDestination(uri)
	invocation.SetTargetAffinity(affinity)
}

// clusterFallback pairs a fallback filter with the cluster name it should
// be attributed to once cluster-discovery resolves a destination.
type clusterFallback struct {
	filter  discovery.FilterSpec
	cluster string
}

// firstMatch drains filter's discovery results and takes the first record
// whose URI is not blacklisted. If none matches and fallback is non-nil, it
// falls back to cluster-discovery with the fallback's filter.
func (r *Resolver) firstMatch(ctx context.Context, invocation Context, filter discovery.FilterSpec, fallback *clusterFallback, cluster string) error {
	att := r.engine.Discover(ctx, discovery.ServiceType, filter)
	bl := blacklistOf(invocation)

	var found *discovery.Record
	for {
		record, ok, err := att.Queue.Take(ctx)
		if err != nil {
			att.Cancel()
			return newFatalError(ErrOperationInterrupted, att.Queue.Problems())
		}
		if !ok {
			break
		}
		if !bl.Contains(record.Location) {
			found = record
			att.Cancel()
			break
		}
	}
	for _, problem := range att.Queue.Problems() {
		invocation.AddSuppressed(problem)
	}

	if found != nil {
		r.sink.Tracef("firstMatch: matched %s", found.Location)
		setResolvedDestination(invocation, found, cluster)
		return nil
	}
	if fallback != nil {
		r.sink.Tracef("firstMatch: no match, falling back to cluster discovery for %s", fallback.cluster)
		return r.clusterDiscovery(ctx, invocation, fallback.filter, fallback.cluster)
	}
	r.sink.Tracef("firstMatch: no match, no fallback")
	return nil
}

// setResolvedDestination applies a matched record: destination is the
// record's URI, target affinity is Node(name) when the record carries one,
// else Uri(location). cluster, if non-empty, is recorded via
// SetInitialCluster so later authentication can consult the AuthEffective
// cache.
func setResolvedDestination(invocation Context, record *discovery.Record, cluster string) {
	invocation.SetDestination(record.Location)
	if node, ok := record.FirstAttribute(discovery.AttrNode); ok && node != "" {
		invocation.SetTargetAffinity(NodeAffinity{Node: node})
	} else {
		invocation.SetTargetAffinity(URIAffinity{URI: record.Location})
	}
	if cluster != "" {
		invocation.SetInitialCluster(cluster)
	}
}

// clusterDiscovery implements §4.E's cluster-discovery strategy: drain
// every record, keep the ones whose transport and source-ip constraints
// are satisfiable, narrow to the preferred-destinations attachment if one
// is set, then pick among the survivors.
func (r *Resolver) clusterDiscovery(ctx context.Context, invocation Context, filter discovery.FilterSpec, cluster string) error {
	att := r.engine.Discover(ctx, discovery.ServiceType, filter)
	bl := blacklistOf(invocation)

	nodes := map[string]string{} // nodeName -> uri string; nodeless records key on their own URI
	for {
		record, ok, err := att.Queue.Take(ctx)
		if err != nil {
			att.Cancel()
			return newFatalError(ErrOperationInterrupted, att.Queue.Problems())
		}
		if !ok {
			break
		}
		if bl.Contains(record.Location) {
			continue
		}
		if !r.transport.SupportsProtocol(record.Location.Scheme) {
			continue
		}
		if !satisfiesSourceAddress(r.transport, record) {
			continue
		}
		node, _ := record.FirstAttribute(discovery.AttrNode)
		if node == "" {
			node = record.Location.String()
		}
		if _, exists := nodes[node]; !exists {
			nodes[node] = record.Location.String()
		}
	}
	suppressed := att.Queue.Problems()
	for _, problem := range suppressed {
		invocation.AddSuppressed(problem)
	}

	nodes = tryFilterToPreferredNodes(invocation, nodes)
	r.sink.Tracef("clusterDiscovery: cluster=%s candidates=%d", cluster, len(nodes))

	if len(nodes) == 0 {
		return r.fallbackToNamingProvider(invocation)
	}
	if len(nodes) == 1 {
		for node, uriStr := range nodes {
			return r.commitClusterChoice(invocation, node, uriStr, cluster)
		}
	}

	var connected, available []string
	for node, uriStr := range nodes {
		available = append(available, node)
		if u, err := url.Parse(uriStr); err == nil && r.transport.IsConnected(u) {
			connected = append(connected, node)
		}
	}
	chosen, err := r.clusterSelector.SelectNode(cluster, connected, available)
	if err != nil || chosen == "" {
		return newFatalError(ErrSelectorReturnedNothing, suppressed)
	}
	r.sink.Tracef("clusterDiscovery: selector chose node=%s", chosen)
	uriStr, ok := nodes[chosen]
	if !ok {
		return newFatalError(ErrSelectorReturnedUnknownNode, suppressed)
	}
	return r.commitClusterChoice(invocation, chosen, uriStr, cluster)
}

// commitClusterChoice finishes cluster-discovery once a single (node, uri)
// pair has been chosen: parses the URI, sets the destination and target
// affinity, and records the initial cluster.
func (r *Resolver) commitClusterChoice(invocation Context, node, uriStr, cluster string) error {
	u, err := url.Parse(uriStr)
	if err != nil {
		return nil
	}
	invocation.SetDestination(u)
	if node == uriStr {
		invocation.SetTargetAffinity(URIAffinity{URI: u})
	} else {
		invocation.SetTargetAffinity(NodeAffinity{Node: node})
	}
	if cluster != "" {
		invocation.SetInitialCluster(cluster)
	}
	return nil
}

// tryFilterToPreferredNodes narrows nodes to those whose URI also appears
// in the invocation's PREFERRED_DESTINATIONS attachment, when that set is
// non-empty and the intersection is non-empty. Otherwise nodes is returned
// unchanged.
func tryFilterToPreferredNodes(invocation Context, nodes map[string]string) map[string]string {
	v, ok := invocation.Attachment(AttachmentPreferredDestinations)
	if !ok {
		return nodes
	}
	preferred, ok := v.([]string)
	if !ok || len(preferred) == 0 {
		return nodes
	}
	preferredSet := make(map[string]struct{}, len(preferred))
	for _, p := range preferred {
		preferredSet[p] = struct{}{}
	}
	filtered := make(map[string]string, len(nodes))
	for node, uriStr := range nodes {
		if _, ok := preferredSet[uriStr]; ok {
			filtered[node] = uriStr
		}
	}
	if len(filtered) == 0 {
		return nodes
	}
	return filtered
}

// fallbackToNamingProvider consults the NAMING_PROVIDER attachment, if any,
// when cluster-discovery's candidate set came back empty.
func (r *Resolver) fallbackToNamingProvider(invocation Context) error {
	v, ok := invocation.Attachment(AttachmentNamingProvider)
	if !ok {
		r.sink.Tracef("fallbackToNamingProvider: no naming provider attached")
		return nil
	}
	provider, ok := v.(naming.Provider)
	if !ok {
		return nil
	}
	locations, err := provider.GetLocations()
	if err != nil {
		invocation.AddSuppressed(err)
		return nil
	}
	if len(locations) == 0 {
		r.sink.Tracef("fallbackToNamingProvider: naming provider returned no locations")
		return nil
	}
	chosen := locations[rand.IntN(len(locations))]
	r.sink.Tracef("fallbackToNamingProvider: chose %s", chosen)
	invocation.SetDestination(chosen)
	invocation.SetTargetAffinity(URIAffinity{URI: chosen})
	return nil
}

// anyDiscovery implements §4.E's any-discovery strategy for a strong
// affinity of None with a weak affinity of None or Cluster: the broadest
// search, scoped only by the locator's module identity.
func (r *Resolver) anyDiscovery(ctx context.Context, invocation Context) error {
	filter := buildModuleFilter(invocation.Locator())
	att := r.engine.Discover(ctx, discovery.ServiceType, filter)
	bl := blacklistOf(invocation)

	nodes := map[string]string{}                 // uri string -> node name ("" if none)
	uris := map[string]string{}                   // node name -> uri string
	clusterAssociations := map[string][]string{}  // uri string -> clusters
	nodeless := 0

	for {
		record, ok, err := att.Queue.Take(ctx)
		if err != nil {
			att.Cancel()
			return newFatalError(ErrOperationInterrupted, att.Queue.Problems())
		}
		if !ok {
			break
		}
		if bl.Contains(record.Location) {
			continue
		}
		uriStr := record.Location.String()
		node, _ := record.FirstAttribute(discovery.AttrNode)
		if _, exists := nodes[uriStr]; !exists {
			nodes[uriStr] = node
			if node != "" {
				uris[node] = uriStr
			} else {
				nodeless++
			}
		}
		if clusters := record.Attributes(discovery.AttrCluster); len(clusters) > 0 {
			clusterAssociations[uriStr] = append(clusterAssociations[uriStr], clusters...)
		}
	}
	suppressed := att.Queue.Problems()
	for _, problem := range suppressed {
		invocation.AddSuppressed(problem)
	}

	r.sink.Tracef("anyDiscovery: candidates=%d nodeless=%d", len(nodes), nodeless)
	if len(nodes) == 0 {
		return nil
	}

	var chosenURI string
	switch {
	case len(nodes) == 1:
		for uriStr := range nodes {
			chosenURI = uriStr
		}
	case nodeless == 0:
		names := make([]string, 0, len(uris))
		for name := range uris {
			names = append(names, name)
		}
		loc := invocation.Locator()
		chosenNode, err := r.deploymentSelector.SelectNode(names, loc.AppName, loc.ModuleName, loc.DistinctName)
		if err != nil || chosenNode == "" {
			return newFatalError(ErrSelectorReturnedNothing, suppressed)
		}
		uriStr, ok := uris[chosenNode]
		if !ok {
			return newFatalError(ErrSelectorReturnedUnknownNode, suppressed)
		}
		chosenURI = uriStr
	default:
		candidates := make([]string, 0, len(nodes))
		for uriStr := range nodes {
			candidates = append(candidates, uriStr)
		}
		chosen, err := r.uriSelector.SelectNode(candidates, locatorKey(invocation.Locator()))
		if err != nil || chosen == "" {
			return newFatalError(ErrSelectorReturnedNothing, suppressed)
		}
		if _, ok := nodes[chosen]; !ok {
			return newFatalError(ErrSelectorReturnedUnknownNode, suppressed)
		}
		chosenURI = chosen
	}

	u, err := url.Parse(chosenURI)
	if err != nil {
		return nil
	}
	if clusters := clusterAssociations[chosenURI]; len(clusters) > 0 {
		invocation.SetInitialCluster(clusters[rand.IntN(len(clusters))])
	}
	invocation.SetDestination(u)
	if node := nodes[chosenURI]; node != "" {
		invocation.SetTargetAffinity(NodeAffinity{Node: node})
	} else {
		invocation.SetTargetAffinity(URIAffinity{URI: u})
	}
	return nil
}

// buildModuleFilter constructs the Equals filter ModuleExtractor's parsing
// rules would invert back into loc's identity: an ejb-module-distinct
// filter when a distinct name is present, else ejb-module.
func buildModuleFilter(loc Locator) discovery.FilterSpec {
	if loc.DistinctName != "" {
		if loc.AppName != "" {
			return discovery.Equal(discovery.AttrEJBModuleDistinct, fmt.Sprintf("%s/%s/%s", loc.AppName, loc.ModuleName, loc.DistinctName))
		}
		return discovery.Equal(discovery.AttrEJBModuleDistinct, fmt.Sprintf("%s/%s", loc.ModuleName, loc.DistinctName))
	}
	if loc.AppName != "" {
		return discovery.Equal(discovery.AttrEJBModule, fmt.Sprintf("%s/%s", loc.AppName, loc.ModuleName))
	}
	return discovery.Equal(discovery.AttrEJBModule, loc.ModuleName)
}

// locatorKey produces the stable string a DiscoveredURISelector receives in
// place of the full Locator, avoiding a selector -> root package import.
func locatorKey(loc Locator) string {
	return fmt.Sprintf("%s/%s/%s/%s", loc.AppName, loc.ModuleName, loc.DistinctName, loc.BeanName)
}

// satisfiesSourceAddress implements §4.E's source-ip satisfaction check: an
// empty attribute list is always satisfied; otherwise the transport's
// source address for the record's location must fall within one of the
// listed CIDRs, or, if the transport doesn't know its source address or
// the destination isn't a literal address, one of the listed CIDRs must be
// the default route.
func satisfiesSourceAddress(transport TransportProvider, record *discovery.Record) bool {
	values := record.Attributes(discovery.AttrSourceIP)
	if len(values) == 0 {
		return true
	}
	dest, ok := addrPortOf(record.Location)
	var addr netip.Addr
	if ok {
		addr, ok = transport.SourceAddress(dest)
	}
	if !ok {
		for _, v := range values {
			if prefix, err := netip.ParsePrefix(v); err == nil && prefix.Bits() == 0 {
				return true
			}
		}
		return false
	}
	for _, v := range values {
		if prefix, err := netip.ParsePrefix(v); err == nil && prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// addrPortOf parses uri's host:port into a netip.AddrPort, which only
// succeeds when the host is a literal address rather than a hostname
// requiring resolution.
func addrPortOf(uri *url.URL) (netip.AddrPort, bool) {
	host, port, err := net.SplitHostPort(uri.Host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.AddrPort{}, false
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr, uint16(portNum)), true
}

// HandleInvocationResult implements the post-invocation half of §4.E: on
// success it updates weak affinity to favor sticking with whatever just
// served the request; on a target-missing failure it blacklists the
// destination, clears all affinity state, and requests a retry.
func (r *Resolver) HandleInvocationResult(invocation Context, invocationErr error) error {
	if invocationErr == nil {
		r.updateWeakAffinityOnSuccess(invocation)
		return nil
	}
	if IsTargetMissing(invocationErr) {
		if dest := invocation.Destination(); dest != nil {
			r.sink.Tracef("HandleInvocationResult: blacklisting %s after target-missing failure", dest)
			blacklistOf(invocation).Add(dest)
		}
		invocation.SetDestination(nil)
		invocation.SetTargetAffinity(NoneAffinity{})
		invocation.SetWeakAffinity(NoneAffinity{})
		invocation.RequestRetry()
	}
	return invocationErr
}

func (r *Resolver) updateWeakAffinityOnSuccess(invocation Context) {
	loc := invocation.Locator()
	_, clusterAffinity := loc.Affinity.(ClusterAffinity)
	if loc.HasSession() && clusterAffinity {
		if _, isNone := invocation.WeakAffinity().(NoneAffinity); isNone {
			if target := invocation.TargetAffinity(); target != nil {
				invocation.SetWeakAffinity(target)
				return
			}
		}
	}
	if dest := invocation.Destination(); dest != nil {
		invocation.SetWeakAffinity(URIAffinity{URI: dest})
	}
}
