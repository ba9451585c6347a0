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

package registry_test

import (
	"net/netip"
	"testing"

	"github.com/jbossnetty/ejbresolve/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCidrAddressTableMostSpecificWins(t *testing.T) {
	table := registry.NewCidrAddressTable()
	defaultAddr := netip.MustParseAddrPort("10.0.0.1:8080")
	specificAddr := netip.MustParseAddrPort("10.0.0.2:8080")

	table.Add(netip.MustParsePrefix("0.0.0.0/0"), defaultAddr)
	table.Add(netip.MustParsePrefix("192.168.1.0/24"), specificAddr)

	got, ok := table.Lookup(netip.MustParseAddr("192.168.1.5"))
	require.True(t, ok)
	assert.Equal(t, specificAddr, got)

	got, ok = table.Lookup(netip.MustParseAddr("172.16.0.1"))
	require.True(t, ok)
	assert.Equal(t, defaultAddr, got)
}

func TestCidrAddressTableUnknownAddressUsesDefaultOnly(t *testing.T) {
	table := registry.NewCidrAddressTable()
	specificAddr := netip.MustParseAddrPort("10.0.0.2:8080")
	table.Add(netip.MustParsePrefix("192.168.1.0/24"), specificAddr)

	_, ok := table.Lookup(netip.Addr{})
	assert.False(t, ok)
}

func TestCidrAddressTableNoMatchReportsMiss(t *testing.T) {
	table := registry.NewCidrAddressTable()
	table.Add(netip.MustParsePrefix("192.168.1.0/24"), netip.MustParseAddrPort("10.0.0.2:8080"))

	_, ok := table.Lookup(netip.MustParseAddr("8.8.8.8"))
	assert.False(t, ok)
}
