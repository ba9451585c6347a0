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
	"net/url"

	"github.com/jbossnetty/ejbresolve/config"
	"github.com/jbossnetty/ejbresolve/engine"
	"github.com/jbossnetty/ejbresolve/membership"
	"github.com/jbossnetty/ejbresolve/registry"
	"github.com/jbossnetty/ejbresolve/selector"
	"github.com/jbossnetty/ejbresolve/trace"
)

// Client wires a NodeRegistry, a DiscoveryEngine, and a Resolver into the
// one entry point an invocation pipeline needs: Resolve.
type Client struct {
	registry *registry.Registry
	engine   *engine.Engine
	resolver *Resolver

	membershipFeed   *membership.ZKFeed
	membershipCancel context.CancelFunc
}

// ClientOption customizes a Client built by NewClient.
type ClientOption interface {
	apply(*clientOptions)
}

type clientOptionFunc func(*clientOptions)

func (f clientOptionFunc) apply(opts *clientOptions) { f(opts) }

type clientOptions struct {
	cfg                config.Config
	sink               trace.Sink
	discoveryEndpoints []*url.URL
	clusterSelector    selector.ClusterNodeSelector
	deploymentSelector selector.DeploymentNodeSelector
	uriSelector        selector.DiscoveredURISelector
}

// WithConfig overrides the default configuration. If not given,
// config.Default() is used.
func WithConfig(cfg config.Config) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) { opts.cfg = cfg })
}

// WithDiscoveryEndpoints sets the statically configured endpoints the
// engine probes in addition to whatever cluster membership is observed.
func WithDiscoveryEndpoints(endpoints ...*url.URL) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) { opts.discoveryEndpoints = endpoints })
}

// WithTraceSink attaches a diagnostic sink shared by the engine and the
// resolver.
func WithTraceSink(sink trace.Sink) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) { opts.sink = sink })
}

// WithClusterSelector overrides the resolver's ClusterNodeSelector.
func WithClusterSelector(s selector.ClusterNodeSelector) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) { opts.clusterSelector = s })
}

// WithDeploymentSelector overrides the resolver's DeploymentNodeSelector.
func WithDeploymentSelector(s selector.DeploymentNodeSelector) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) { opts.deploymentSelector = s })
}

// WithURISelector overrides the resolver's DiscoveredURISelector.
func WithURISelector(s selector.DiscoveredURISelector) ClientOption {
	return clientOptionFunc(func(opts *clientOptions) { opts.uriSelector = s })
}

// NewClient builds a Client around the given wire-level collaborators.
// transport, endpoint, and authClient satisfy the engine's probe machinery;
// provider satisfies the resolver's post-discovery connectivity checks. In
// practice the same concrete type usually implements both transport and
// provider.
func NewClient(transport engine.Transport, provider TransportProvider, endpoint engine.Endpoint, authClient engine.AuthenticationClient, options ...ClientOption) *Client {
	opts := clientOptions{cfg: config.Default(), sink: trace.Noop}
	for _, opt := range options {
		opt.apply(&opts)
	}

	reg := registry.New(nil)
	eng := engine.New(reg, transport, endpoint, authClient, opts.cfg.Discovery, opts.discoveryEndpoints, opts.sink)

	var resolverOpts []ResolverOption
	resolverOpts = append(resolverOpts, WithResolverTraceSink(opts.sink))
	if opts.clusterSelector != nil {
		resolverOpts = append(resolverOpts, WithClusterNodeSelector(opts.clusterSelector))
	}
	if opts.deploymentSelector != nil {
		resolverOpts = append(resolverOpts, WithDeploymentNodeSelector(opts.deploymentSelector))
	}
	if opts.uriSelector != nil {
		resolverOpts = append(resolverOpts, WithDiscoveredURISelector(opts.uriSelector))
	}

	return &Client{
		registry: reg,
		engine:   eng,
		resolver: NewResolver(eng, provider, resolverOpts...),
	}
}

// Registry returns the NodeRegistry backing this client, for callers that
// need to wire in a membership feed of their own (see package membership)
// or otherwise observe/populate cluster state directly.
func (c *Client) Registry() *registry.Registry {
	return c.registry
}

// StartZooKeeperMembership wires an optional membership.ZKFeed into this
// client's registry using the membership settings of cfg, and starts it
// running in the background. It is a no-op if cfg.Enabled is false. Once a
// feed has been started, every later call returns an error, including one
// made after Close; Close on a client that never started a feed does not
// prevent a first start.
func (c *Client) StartZooKeeperMembership(cfg config.MembershipConfig, sink trace.Sink) error {
	if !cfg.Enabled {
		return nil
	}
	if c.membershipFeed != nil {
		return fmt.Errorf("ejbresolve: membership feed already started")
	}
	feed, err := membership.NewZKFeed(cfg.Servers, cfg.SessionTTL, cfg.RootPath, cfg.ReconnectWait, c.registry, sink)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.membershipFeed = feed
	c.membershipCancel = cancel
	go feed.Run(ctx)
	return nil
}

// Resolve fills in invocation's destination by delegating to this client's
// Resolver. See Resolver.Resolve.
func (c *Client) Resolve(ctx context.Context, invocation Context) error {
	return c.resolver.Resolve(ctx, invocation)
}

// HandleInvocationResult delegates to this client's Resolver. See
// Resolver.HandleInvocationResult.
func (c *Client) HandleInvocationResult(invocation Context, invocationErr error) error {
	return c.resolver.HandleInvocationResult(invocation, invocationErr)
}

// Close stops the membership feed, if one was started, and releases its
// ZooKeeper session.
func (c *Client) Close() error {
	if c.membershipCancel != nil {
		c.membershipCancel()
	}
	if c.membershipFeed != nil {
		return c.membershipFeed.Close()
	}
	return nil
}
