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
)

// Attachment keys recognized by Resolver in a Context's attachment map.
const (
	// AttachmentBlacklist holds the per-invocation *Blacklist.
	AttachmentBlacklist = "BLACKLIST"
	// AttachmentPreferredDestinations holds a []string of URIs that
	// cluster-discovery should prefer when more than one candidate remains.
	AttachmentPreferredDestinations = "PREFERRED_DESTINATIONS"
	// AttachmentNamingProvider holds a naming.Provider consulted when
	// cluster discovery finds no candidates at all.
	AttachmentNamingProvider = "NAMING_PROVIDER"
)

// Context is everything Resolver needs from one in-flight invocation. It is
// implemented by the caller's invocation pipeline; BasicContext is a
// ready-to-use implementation for callers with no pipeline of their own.
type Context interface {
	Locator() Locator
	WeakAffinity() Affinity
	Destination() *url.URL
	TargetAffinity() Affinity

	SetDestination(uri *url.URL)
	SetTargetAffinity(affinity Affinity)
	SetWeakAffinity(affinity Affinity)
	SetLocator(locator Locator)
	SetInitialCluster(cluster string)

	// RequestRetry asks the invoking pipeline to re-attempt the whole
	// invocation after the resolver cleared its destination.
	RequestRetry()
	// AddSuppressed attaches a non-fatal problem (typically a probe
	// failure) to whatever error the invocation ultimately raises.
	AddSuppressed(err error)

	// Attachment returns the value stored under key, if any.
	Attachment(key string) (any, bool)
	// SetAttachment stores a value under key.
	SetAttachment(key string, value any)
}

// Blacklist is a per-invocation, idempotent set of URIs rejected for the
// current invocation only. It is distinct from the process-wide failed
// destination set the engine maintains: blacklisting is a user-visible
// affinity-retry mechanism, not a probe-level hint.
type Blacklist struct {
	mu      sync.Mutex
	members map[string]struct{}
}

// NewBlacklist returns an empty Blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{members: map[string]struct{}{}}
}

// Add records uri as blacklisted. Adding the same URI twice is a no-op.
func (b *Blacklist) Add(uri *url.URL) {
	if uri == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members[uri.String()] = struct{}{}
}

// Contains reports whether uri was previously added.
func (b *Blacklist) Contains(uri *url.URL) bool {
	if uri == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.members[uri.String()]
	return ok
}

// BasicContext is a straightforward, mutex-guarded Context implementation
// suitable when the caller has no invocation pipeline of its own to wire
// the interface into.
type BasicContext struct {
	mu sync.Mutex

	locator        Locator
	weakAffinity   Affinity
	destination    *url.URL
	targetAffinity Affinity
	initialCluster string

	retryRequested bool
	suppressed     []error
	attachments    map[string]any
}

// NewBasicContext returns a BasicContext for invoking locator, with weak
// affinity initially unset.
func NewBasicContext(locator Locator) *BasicContext {
	if locator.Affinity == nil {
		locator.Affinity = NoneAffinity{}
	}
	return &BasicContext{
		locator:      locator,
		weakAffinity: NoneAffinity{},
		attachments:  map[string]any{AttachmentBlacklist: NewBlacklist()},
	}
}

func (c *BasicContext) Locator() Locator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locator
}

func (c *BasicContext) WeakAffinity() Affinity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.weakAffinity
}

func (c *BasicContext) Destination() *url.URL {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destination
}

func (c *BasicContext) TargetAffinity() Affinity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetAffinity
}

func (c *BasicContext) InitialCluster() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialCluster
}

func (c *BasicContext) SetDestination(uri *url.URL) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destination = uri
}

func (c *BasicContext) SetTargetAffinity(affinity Affinity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetAffinity = affinity
}

func (c *BasicContext) SetWeakAffinity(affinity Affinity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.weakAffinity = affinity
}

func (c *BasicContext) SetLocator(locator Locator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locator = locator
}

func (c *BasicContext) SetInitialCluster(cluster string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialCluster = cluster
}

func (c *BasicContext) RequestRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retryRequested = true
}

// RetryRequested reports whether RequestRetry has been called.
func (c *BasicContext) RetryRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryRequested
}

func (c *BasicContext) AddSuppressed(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suppressed = append(c.suppressed, err)
}

// Suppressed returns every problem accumulated via AddSuppressed, in order.
func (c *BasicContext) Suppressed() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.suppressed...)
}

func (c *BasicContext) Attachment(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attachments[key]
	return v, ok
}

func (c *BasicContext) SetAttachment(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments[key] = value
}

// blacklistOf returns ctx's Blacklist attachment, creating one if absent.
func blacklistOf(ctx Context) *Blacklist {
	if v, ok := ctx.Attachment(AttachmentBlacklist); ok {
		if b, ok := v.(*Blacklist); ok {
			return b
		}
	}
	b := NewBlacklist()
	ctx.SetAttachment(AttachmentBlacklist, b)
	return b
}
