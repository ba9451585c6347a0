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

package engine

import (
	"context"
	"net/netip"
	"net/url"

	"github.com/jbossnetty/ejbresolve/discovery"
)

// AuthConfig is the authentication material a probe presents to a remote
// endpoint. Protocol/Host/Port are cleared by the engine before use when
// the probe targets a cluster-derived node, so a dynamically discovered
// node can never redirect authentication to an attacker-chosen endpoint.
type AuthConfig struct {
	Protocol string
	Host     string
	Port     int
	Raw      any
}

// Identity is the opaque peer identity an Endpoint hands back once a
// connection is authenticated. Its contents are never inspected by the
// engine; it is only ever threaded through to Transport.OpenChannel.
type Identity any

// Transport is the minimal subset of the wire transport a DiscoveryEngine
// needs: whether it can speak a given scheme at all, what local address it
// would use to reach a candidate destination, and how to turn an
// authenticated identity into a set of discovered records.
type Transport interface {
	// SupportsProtocol reports whether this transport can dial scheme.
	SupportsProtocol(scheme string) bool
	// SourceAddress returns the local address this transport would bind
	// to reach dest, if known.
	SourceAddress(dest netip.AddrPort) (netip.Addr, bool)
	// OpenChannel establishes the EJB client channel to uri using
	// identity and returns whatever service records the remote endpoint
	// reports over it.
	OpenChannel(ctx context.Context, uri *url.URL, identity Identity) ([]*discovery.Record, error)
}

// Endpoint validates candidate URIs and turns authentication material into
// a connected peer identity.
type Endpoint interface {
	IsValidURIScheme(scheme string) bool
	GetConnectedIdentity(ctx context.Context, uri *url.URL, auth AuthConfig) (Identity, error)
}

// AuthenticationClient produces the authentication configuration for a
// probe. clusterEffective is true when uri is a cluster-derived node
// rather than a directly configured endpoint.
type AuthenticationClient interface {
	AuthenticationConfiguration(uri *url.URL, clusterEffective bool) (AuthConfig, error)
}
