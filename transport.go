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
	"net/netip"
	"net/url"
)

// TransportProvider is the subset of the wire transport the resolver needs
// once the engine has already produced candidate records: whether a scheme
// is dialable at all, what local address would be used to reach a
// destination, and whether a URI already has a live connection. Its
// SupportsProtocol and SourceAddress methods are deliberately shaped the
// same as engine.Transport's, so a single concrete transport type can
// satisfy both interfaces by structural typing instead of needing two
// differently-named methods for the same fact.
type TransportProvider interface {
	// SupportsProtocol reports whether this transport can dial scheme.
	SupportsProtocol(scheme string) bool
	// SourceAddress returns the local address this transport would use to
	// reach dest, if known.
	SourceAddress(dest netip.AddrPort) (netip.Addr, bool)
	// IsConnected reports whether a channel to uri is already open.
	IsConnected(uri *url.URL) bool
}
