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

// Package ejbresolve resolves an EJB invocation's abstract identity — an
// application, module, and bean name, plus an optional affinity hint — to
// a concrete destination URI.
//
// A Client wires together a node registry, a discovery engine, and a
// resolver. Callers drive one invocation at a time by implementing
// Context and passing it to Client.Resolve, which either fills in the
// context's destination or leaves it unset, signaling that the caller
// should treat the invocation as unresolvable.
//
// # Affinity
//
// Every invocation carries two affinity hints: a strong affinity, part of
// the bean's Locator and fixed for its lifetime, and a weak affinity, a
// mutable hint updated after each invocation to favor sticking with
// whatever destination last served the request. Resolve consults both, in
// the order described by Resolver, before falling back to discovery.
//
// # Destination discovery
//
// When affinity alone cannot name a destination, Resolve asks the wired
// Engine to probe configured endpoints and cluster-derived node addresses,
// consulting NodeRegistry for what's already known and the selector
// policies in package selector for how to break ties among multiple
// candidates.
package ejbresolve
