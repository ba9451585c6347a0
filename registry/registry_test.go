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
	"net/url"
	"sync"
	"testing"

	"github.com/jbossnetty/ejbresolve/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {
	r := registry.New(nil)
	first := r.GetOrCreate("n1")
	second := r.GetOrCreate("n1")
	assert.Same(t, first, second)
}

func TestAddNodeRecordsMembershipAndFirstAuthURI(t *testing.T) {
	r := registry.New(nil)
	first, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)
	second, err := url.Parse("remote://h2:8080")
	require.NoError(t, err)

	r.AddNode("c1", "n1", first)
	r.AddNode("c1", "n2", second)

	members := r.ClusterMembers("c1")
	assert.ElementsMatch(t, []string{"n1", "n2"}, members)

	got, ok := r.AuthEffective("c1")
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestRemoveNodeLeavesNodeInformationIntact(t *testing.T) {
	r := registry.New(nil)
	r.AddNode("c1", "n1", nil)
	r.RemoveNode("c1", "n1")

	assert.Empty(t, r.ClusterMembers("c1"))
	_, ok := r.Lookup("n1")
	assert.True(t, ok, "node information survives cluster removal")
}

func TestRemoveClusterClearsAuthEffective(t *testing.T) {
	r := registry.New(nil)
	first, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)
	r.AddNode("c1", "n1", first)

	r.RemoveCluster("c1")
	assert.Nil(t, r.ClusterMembers("c1"))
	_, ok := r.AuthEffective("c1")
	assert.False(t, ok)

	second, err := url.Parse("remote://h2:8080")
	require.NoError(t, err)
	r.AddNode("c1", "n1", second)
	got, ok := r.AuthEffective("c1")
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestFailedDestinationsSet(t *testing.T) {
	r := registry.New(nil)
	assert.False(t, r.IsFailed("remote://h1:8080"))
	r.MarkFailed("remote://h1:8080")
	assert.True(t, r.IsFailed("remote://h1:8080"))
	r.ClearFailed("remote://h1:8080")
	assert.False(t, r.IsFailed("remote://h1:8080"))
}

func TestNodeServesModuleMatchesPartialIdentifiers(t *testing.T) {
	info := registry.New(nil).GetOrCreate("n1")
	info.AnnounceModule("myapp", "mymodule", "")

	assert.True(t, info.ServesModule("myapp", "mymodule", ""))
	assert.True(t, info.ServesModule("", "mymodule", ""))
	assert.False(t, info.ServesModule("otherapp", "mymodule", ""))
}

func TestConcurrentMembershipConvergesToOperationSequence(t *testing.T) {
	r := registry.New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node := "n" + string(rune('a'+i%26))
			r.AddNode("c1", node, nil)
		}(i)
	}
	wg.Wait()

	members := r.ClusterMembers("c1")
	assert.NotEmpty(t, members)
	for _, m := range members {
		assert.Contains(t, m, "n")
	}
}
