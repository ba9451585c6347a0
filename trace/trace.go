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

// Package trace carries the diagnostic-trace sink Resolver and
// DiscoveryEngine operations accept in place of a thread-local "current
// invocation" trace object. A Sink is plain data passed explicitly into
// every call that needs it; async probes capture one at construction so
// the trace keeps flowing after the call that started them returns.
package trace

import "github.com/go-kratos/kratos/v2/log"

// Sink receives free-form diagnostic events emitted while resolving a
// destination. Tracef mirrors the original's printf-style trace call.
type Sink interface {
	Tracef(format string, args ...any)
}

// noop discards every event. It is the zero-cost default used when a
// caller doesn't care to observe resolution activity.
type noop struct{}

// Tracef implements Sink.
func (noop) Tracef(string, ...any) {}

// Noop is the shared no-op Sink.
var Noop Sink = noop{}

// kratosSink adapts a kratos structured logger into a Sink.
type kratosSink struct {
	logger log.Logger
}

// FromLogger adapts logger into a Sink, emitting each Tracef call as a
// debug-level "msg" entry.
func FromLogger(logger log.Logger) Sink {
	return kratosSink{logger: logger}
}

// Tracef implements Sink.
func (k kratosSink) Tracef(format string, args ...any) {
	log.NewHelper(k.logger).Debugf(format, args...)
}
