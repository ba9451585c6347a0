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

// Package engine implements the two-phase fan-out probe coordinator that
// turns a discovery.FilterSpec into a populated discovery.Queue: probing
// directly configured endpoints and cluster-derived node addresses in
// parallel, then escalating to an unconditional retry pass if nothing
// survived the first round.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/jbossnetty/ejbresolve/config"
	"github.com/jbossnetty/ejbresolve/discovery"
	"github.com/jbossnetty/ejbresolve/registry"
	"github.com/jbossnetty/ejbresolve/trace"
	"golang.org/x/sync/errgroup"
)

// Engine is a fan-out probe coordinator bound to one NodeRegistry and one
// set of transport collaborators. A single Engine serves any number of
// concurrent Discover calls.
type Engine struct {
	reg        *registry.Registry
	transport  Transport
	endpoint   Endpoint
	authClient AuthenticationClient
	sink       trace.Sink

	cfg       config.DiscoveryConfig
	endpoints []*url.URL
}

// New returns an Engine that probes endpoints (the statically configured
// discovery endpoints) in addition to whatever NodeRegistry cluster
// membership reg observes.
func New(reg *registry.Registry, transport Transport, endpoint Endpoint, authClient AuthenticationClient, cfg config.DiscoveryConfig, endpoints []*url.URL, sink trace.Sink) *Engine {
	if sink == nil {
		sink = trace.Noop
	}
	return &Engine{
		reg:        reg,
		transport:  transport,
		endpoint:   endpoint,
		authClient: authClient,
		sink:       sink,
		cfg:        cfg,
		endpoints:  endpoints,
	}
}

// Attempt is the handle returned by Discover: the queue results arrive on,
// and the means to cancel every outstanding probe early.
type Attempt struct {
	Queue *discovery.Queue

	eng    *Engine
	filter discovery.FilterSpec

	outstanding atomic.Int64
	phase2      atomic.Bool

	mu         sync.Mutex
	cancellers []context.CancelFunc

	grp    *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// Cancel invokes every registered probe canceller. Cancellation is
// cooperative: each outstanding probe still calls countDown on its way
// out, so Queue eventually closes regardless.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	cancellers := a.cancellers
	a.mu.Unlock()
	for _, cancel := range cancellers {
		cancel()
	}
	a.cancel()
}

// Wait blocks until every probe goroutine this attempt launched has
// actually returned, guaranteeing no goroutine leak after Queue closes.
func (a *Attempt) Wait() error {
	return a.grp.Wait()
}

func (a *Attempt) registerCanceller(cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancellers = append(a.cancellers, cancel)
	a.mu.Unlock()
}

// Discover matches the EJB discovery service type, and no-ops (returning a
// queue already closed with no records) for any other. It snapshots
// configured endpoints and cluster-derived node addresses, probes every
// one not in the process-wide failed set, and falls back to an
// unconditional retry of the configured endpoints if every one of them was
// presumed failed.
func (e *Engine) Discover(ctx context.Context, serviceType string, filter discovery.FilterSpec) *Attempt {
	if serviceType != discovery.ServiceType {
		queue := discovery.NewQueue(0)
		queue.Close()
		attemptCtx, cancel := context.WithCancel(ctx)
		return &Attempt{Queue: queue, grp: &errgroup.Group{}, ctx: attemptCtx, cancel: cancel}
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	attemptCtx, cancel := context.WithCancel(grpCtx)
	att := &Attempt{
		Queue:  discovery.NewQueue(e.cfg.QueueCapacity),
		eng:    e,
		filter: filter,
		grp:    grp,
		ctx:    attemptCtx,
		cancel: cancel,
	}
	att.outstanding.Store(1)

	anyConfigured := len(e.endpoints) > 0
	anySurvived := false
	for _, uri := range e.endpoints {
		if e.reg.IsFailed(uri.String()) {
			continue
		}
		anySurvived = true
		att.launchProbe(uri, nil)
	}

	e.reg.Clusters(func(cluster string, nodes []string) {
		budget := e.cfg.MaxConnectedClusterNodes
		for _, node := range nodes {
			if budget <= 0 {
				break
			}
			info, ok := e.reg.Lookup(node)
			if !ok {
				continue
			}
			uri := e.firstCandidateURI(info, cluster)
			if uri == nil || e.reg.IsFailed(uri.String()) {
				continue
			}
			clusterName := cluster
			att.launchProbe(uri, &clusterName)
			budget--
		}
	})

	if anyConfigured && !anySurvived {
		for _, uri := range e.endpoints {
			att.launchProbe(uri, nil)
		}
	}

	att.countDown()
	return att
}

// firstCandidateURI returns the URI of the first address-table mapping
// across every protocol info advertises for cluster whose CIDR range is
// satisfied, per the "first successful candidate per node wins" rule.
func (e *Engine) firstCandidateURI(info *registry.NodeInformation, cluster string) *url.URL {
	clusterInfo := info.Cluster(cluster)
	var found *url.URL
	clusterInfo.Protocols(func(scheme string, table *registry.CidrAddressTable) {
		if found != nil {
			return
		}
		for _, mapping := range table.All() {
			if mapping.Prefix.Bits() == 0 {
				found = registry.BuildURI(scheme, mapping.Address)
				return
			}
			src, ok := e.transport.SourceAddress(mapping.Address)
			if ok && mapping.Prefix.Contains(src) {
				found = registry.BuildURI(scheme, mapping.Address)
				return
			}
		}
	})
	return found
}

// allCandidateURIs enumerates the configured endpoints plus every
// cluster-derived address-table mapping, ignoring both the
// maxConnectedClusterNodes budget and the failed-destination set. It backs
// the phase-2 retry pass, which assumes the failed set is stale.
func (e *Engine) allCandidateURIs() []*url.URL {
	uris := make([]*url.URL, 0, len(e.endpoints))
	uris = append(uris, e.endpoints...)
	e.reg.Clusters(func(cluster string, nodes []string) {
		for _, node := range nodes {
			info, ok := e.reg.Lookup(node)
			if !ok {
				continue
			}
			clusterInfo := info.Cluster(cluster)
			clusterInfo.Protocols(func(scheme string, table *registry.CidrAddressTable) {
				for _, mapping := range table.All() {
					uris = append(uris, registry.BuildURI(scheme, mapping.Address))
				}
			})
		}
	})
	return uris
}

func (a *Attempt) launchProbe(uri *url.URL, clusterEffective *string) {
	a.outstanding.Add(1)
	a.grp.Go(func() error {
		a.probe(uri, clusterEffective)
		return nil
	})
}

// probe implements connectAndDiscover: reject unsupported schemes, obtain
// an authenticated identity, open the channel, and push whatever records
// come back. Every exit path calls countDown exactly once.
func (a *Attempt) probe(uri *url.URL, clusterEffective *string) {
	scheme := uri.Scheme
	if !a.eng.endpoint.IsValidURIScheme(scheme) || !a.eng.transport.SupportsProtocol(scheme) {
		a.countDown()
		return
	}

	probeCtx, cancel := context.WithCancel(a.ctx)
	a.registerCanceller(cancel)
	defer cancel()

	authURI := uri
	if clusterEffective != nil {
		if effective, ok := a.eng.reg.AuthEffective(*clusterEffective); ok {
			authURI = effective
		}
	}
	authConfig, err := a.eng.authClient.AuthenticationConfiguration(authURI, clusterEffective != nil)
	if err != nil {
		a.reportFailure(uri, fmt.Errorf("authentication configuration: %w", err))
		a.countDown()
		return
	}
	if clusterEffective != nil {
		authConfig.Protocol, authConfig.Host, authConfig.Port = "", "", 0
	}

	identity, err := a.eng.endpoint.GetConnectedIdentity(probeCtx, uri, authConfig)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.countDown()
			return
		}
		a.reportFailure(uri, err)
		a.countDown()
		return
	}

	records, err := a.eng.transport.OpenChannel(probeCtx, uri, identity)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.countDown()
			return
		}
		a.reportFailure(uri, err)
		a.countDown()
		return
	}

	a.eng.reg.ClearFailed(uri.String())
	for _, record := range records {
		a.Queue.Push(record)
	}
	a.countDown()
}

func (a *Attempt) reportFailure(uri *url.URL, err error) {
	a.eng.reg.MarkFailed(uri.String())
	a.eng.sink.Tracef("probe %s failed: %v", uri, err)
	a.Queue.ReportProblem(fmt.Errorf("probe %s: %w", uri, err))
}

// countDown decrements the outstanding counter and, exactly once when it
// reaches zero, either completes the queue (after a local match pass
// against already-known nodes) or escalates to the phase-2 retry pass.
func (a *Attempt) countDown() {
	if a.outstanding.Add(-1) != 0 {
		return
	}

	node, hasNode := discovery.NodeExtractor(a.filter)
	matched := a.matchPass(node, hasNode)

	if a.phase2.Load() {
		a.Queue.Close()
		return
	}
	if matched {
		a.Queue.Close()
		return
	}

	a.phase2.Store(true)
	a.outstanding.Store(1)
	for _, uri := range a.eng.allCandidateURIs() {
		a.launchProbe(uri, nil)
	}
	a.countDown()
}

// matchPass runs the local, network-free match against already-known
// registry nodes and pushes any resulting records onto the queue. It
// reports whether at least one node matched.
func (a *Attempt) matchPass(node string, hasNode bool) bool {
	matched := false
	if hasNode {
		if info, ok := a.eng.reg.Lookup(node); ok {
			records := info.Discover(a.filter)
			if len(records) > 0 {
				matched = true
			}
			for _, record := range records {
				a.Queue.Push(record)
			}
		}
		return matched
	}
	for _, info := range a.eng.reg.All() {
		records := info.Discover(a.filter)
		if len(records) > 0 {
			matched = true
		}
		for _, record := range records {
			a.Queue.Push(record)
		}
	}
	return matched
}
