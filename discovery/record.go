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

package discovery

import "net/url"

// Record is a single matching service discovered by a probe: a location
// URI plus the attributes the probe's endpoint reported alongside it. An
// endpoint may report zero or more "cluster" and "source-ip" values for
// the same record, so attributes is a multimap.
type Record struct {
	Location   *url.URL
	attributes map[string][]string
}

// NewRecord builds a Record with no attributes set.
func NewRecord(location *url.URL) *Record {
	return &Record{Location: location, attributes: map[string][]string{}}
}

// WithAttribute appends a value for the given attribute and returns the
// receiver, so calls can be chained while building a record in a test or a
// probe implementation.
func (r *Record) WithAttribute(attribute, value string) *Record {
	r.attributes[attribute] = append(r.attributes[attribute], value)
	return r
}

// FirstAttribute returns the first value recorded for the given attribute,
// or "" with ok=false if none was set.
func (r *Record) FirstAttribute(attribute string) (string, bool) {
	values := r.attributes[attribute]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Attributes returns every value recorded for the given attribute. The
// returned slice must not be mutated by the caller.
func (r *Record) Attributes(attribute string) []string {
	return r.attributes[attribute]
}
