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
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklistAddIsIdempotent(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)

	bl := NewBlacklist()
	assert.False(t, bl.Contains(u))
	bl.Add(u)
	bl.Add(u)
	assert.True(t, bl.Contains(u))
}

func TestBlacklistConcurrentAddsConverge(t *testing.T) {
	t.Parallel()

	u, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)

	bl := NewBlacklist()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bl.Add(u)
		}()
	}
	wg.Wait()
	assert.True(t, bl.Contains(u))
}

func TestBasicContextDefaultsToNoneWeakAffinityAndABlacklist(t *testing.T) {
	t.Parallel()

	ctx := NewBasicContext(Locator{BeanName: "Foo"})
	assert.Equal(t, NoneAffinity{}, ctx.WeakAffinity())
	assert.Nil(t, ctx.Destination())

	v, ok := ctx.Attachment(AttachmentBlacklist)
	require.True(t, ok)
	_, ok = v.(*Blacklist)
	assert.True(t, ok)
}

func TestBasicContextSettersRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := NewBasicContext(Locator{BeanName: "Foo"})
	u, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)

	ctx.SetDestination(u)
	ctx.SetTargetAffinity(NodeAffinity{Node: "n1"})
	ctx.SetWeakAffinity(NodeAffinity{Node: "n1"})
	ctx.SetInitialCluster("c1")

	assert.Equal(t, u, ctx.Destination())
	assert.Equal(t, NodeAffinity{Node: "n1"}, ctx.TargetAffinity())
	assert.Equal(t, NodeAffinity{Node: "n1"}, ctx.WeakAffinity())
	assert.Equal(t, "c1", ctx.InitialCluster())
}

func TestBasicContextRequestRetryAndSuppressed(t *testing.T) {
	t.Parallel()

	ctx := NewBasicContext(Locator{BeanName: "Foo"})
	assert.False(t, ctx.RetryRequested())
	ctx.RequestRetry()
	assert.True(t, ctx.RetryRequested())

	ctx.AddSuppressed(nil)
	assert.Empty(t, ctx.Suppressed())
	ctx.AddSuppressed(assert.AnError)
	assert.Equal(t, []error{assert.AnError}, ctx.Suppressed())
}

func TestBlacklistOfCreatesOneWhenAttachmentMissing(t *testing.T) {
	t.Parallel()

	ctx := NewBasicContext(Locator{BeanName: "Foo"})
	ctx.SetAttachment(AttachmentBlacklist, "not a blacklist")

	bl := blacklistOf(ctx)
	require.NotNil(t, bl)
	u, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)
	assert.False(t, bl.Contains(u))
}
