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

import "net/url"

// Locator is the immutable identity of an invocation's target bean.
type Locator struct {
	AppName      string
	ModuleName   string
	DistinctName string
	BeanName     string
	SessionID    string // empty for a stateless bean
	Affinity     Affinity
}

// HasSession reports whether this locator identifies a stateful session.
func (l Locator) HasSession() bool { return l.SessionID != "" }

// Affinity is a closed sum type binding an invocation to a specific
// destination, node, or cluster, or to nothing at all. Rather than a
// dispatch object, callers switch on the concrete type; unlike
// discovery.FilterSpec, which is consumed through a Visitor, Affinity has no
// Accept method.
type Affinity interface {
	isAffinity()
}

// NoneAffinity carries no hint at all.
type NoneAffinity struct{}

func (NoneAffinity) isAffinity() {}

// URIAffinity pins the invocation to a specific destination URI.
type URIAffinity struct {
	URI *url.URL
}

func (URIAffinity) isAffinity() {}

// NodeAffinity pins the invocation to a named node, wherever it is
// currently reachable.
type NodeAffinity struct {
	Node string
}

func (NodeAffinity) isAffinity() {}

// ClusterAffinity pins the invocation to any node of a named cluster.
type ClusterAffinity struct {
	Cluster string
}

func (ClusterAffinity) isAffinity() {}

// LocalAffinity indicates the bean is colocated with the caller and no
// remote destination is needed. Resolver sets no destination for it, as
// either strong or weak affinity: whatever destination is already set
// stands, and if none is set it stays unset.
type LocalAffinity struct{}

func (LocalAffinity) isAffinity() {}
