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
	"net/netip"
	"sort"
)

// cidrMapping is one (range, address) pair of a CidrAddressTable.
type cidrMapping struct {
	prefix  netip.Prefix
	address netip.AddrPort
}

// CidrAddressTable is an ordered collection of CIDR-range-to-socket-address
// mappings for a single protocol, iterated from most specific to least
// specific. A /0 prefix, if present, always sorts last and serves as the
// default fallback.
type CidrAddressTable struct {
	mappings []cidrMapping
}

// NewCidrAddressTable returns an empty table.
func NewCidrAddressTable() *CidrAddressTable {
	return &CidrAddressTable{}
}

// Add records a mapping from prefix to address. The table re-sorts itself
// most-specific-first, so callers may add mappings in any order.
func (t *CidrAddressTable) Add(prefix netip.Prefix, address netip.AddrPort) {
	t.mappings = append(t.mappings, cidrMapping{prefix: prefix, address: address})
	sort.SliceStable(t.mappings, func(i, j int) bool {
		return t.mappings[i].prefix.Bits() > t.mappings[j].prefix.Bits()
	})
}

// Lookup returns the address of the most specific mapping whose prefix
// contains addr. If addr is the zero value (unknown source address), only
// the default (/0) mapping, if any, matches.
func (t *CidrAddressTable) Lookup(addr netip.Addr) (netip.AddrPort, bool) {
	for _, m := range t.mappings {
		if m.prefix.Bits() == 0 {
			return m.address, true
		}
		if addr.IsValid() && m.prefix.Contains(addr) {
			return m.address, true
		}
	}
	return netip.AddrPort{}, false
}

// All returns every mapping in most-specific-first order. The returned
// slice must not be mutated by the caller.
func (t *CidrAddressTable) All() []struct {
	Prefix  netip.Prefix
	Address netip.AddrPort
} {
	out := make([]struct {
		Prefix  netip.Prefix
		Address netip.AddrPort
	}, len(t.mappings))
	for i, m := range t.mappings {
		out[i].Prefix = m.prefix
		out[i].Address = m.address
	}
	return out
}
