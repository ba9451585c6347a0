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

// Package discovery provides the filter expressions used to describe what
// a probe is looking for, the records that probes produce, and the queue
// that collects those records for a consumer.
package discovery

import "strings"

// Well-known filter attribute names, the wire constants a ServiceRecord's
// attribute multimap is keyed by.
const (
	AttrNode              = "node"
	AttrCluster           = "cluster"
	AttrEJBModule         = "ejb-module"
	AttrEJBModuleDistinct = "ejb-module-distinct"
	AttrSourceIP          = "source-ip"
)

// ServiceType identifies the kind of service a filter is scoped to. The
// only service type this core responds to is "ejb.jboss".
const ServiceType = "ejb.jboss"

// FilterSpec is a boolean filter expression over named attributes. It is a
// closed sum type: Equals, All, or HasAttribute. Callers build one with the
// constructors below and consume it with Accept.
type FilterSpec interface {
	// Accept dispatches to the appropriate visitor method and returns its
	// result.
	Accept(v Visitor) any
	isFilterSpec()
}

// Visitor is implemented by callers that need to inspect a FilterSpec.
// Extractors (see ModuleExtractor and NodeExtractor) are the built-in
// visitors used by the resolution core; callers outside the core generally
// don't need to write their own.
type Visitor interface {
	VisitEquals(*EqualsSpec) any
	VisitAll(*AllSpec) any
	VisitHasAttribute(*HasAttributeSpec) any
}

// EqualsSpec matches a record whose attribute multimap contains the given
// value for the given attribute.
type EqualsSpec struct {
	Attribute string
	Value     string
}

func (e *EqualsSpec) isFilterSpec() {}

// Accept implements FilterSpec.
func (e *EqualsSpec) Accept(v Visitor) any { return v.VisitEquals(e) }

// AllSpec is the logical AND of its children.
type AllSpec struct {
	Children []FilterSpec
}

func (a *AllSpec) isFilterSpec() {}

// Accept implements FilterSpec.
func (a *AllSpec) Accept(v Visitor) any { return v.VisitAll(a) }

// HasAttributeSpec matches a record that carries any value at all for the
// given attribute.
type HasAttributeSpec struct {
	Attribute string
}

func (h *HasAttributeSpec) isFilterSpec() {}

// Accept implements FilterSpec.
func (h *HasAttributeSpec) Accept(v Visitor) any { return v.VisitHasAttribute(h) }

// Equal constructs an EqualsSpec.
func Equal(attribute, value string) FilterSpec {
	return &EqualsSpec{Attribute: attribute, Value: value}
}

// All constructs an AllSpec from its children.
func All(children ...FilterSpec) FilterSpec {
	return &AllSpec{Children: children}
}

// HasAttribute constructs a HasAttributeSpec.
func HasAttribute(attribute string) FilterSpec {
	return &HasAttributeSpec{Attribute: attribute}
}

// ModuleIdentifier is the (app, module, distinct) tuple parsed out of an
// ejb-module or ejb-module-distinct filter attribute.
type ModuleIdentifier struct {
	AppName      string
	ModuleName   string
	DistinctName string
}

// moduleExtractor implements Visitor, walking a FilterSpec tree to find the
// first ModuleIdentifier implied by an Equals on AttrEJBModule or
// AttrEJBModuleDistinct.
type moduleExtractor struct{}

// ModuleExtractor returns the first ModuleIdentifier implied by an Equals
// filter on "ejb-module" or "ejb-module-distinct" found anywhere in the
// (possibly nested, via All) filter tree. It returns nil if none is found.
func ModuleExtractor(spec FilterSpec) *ModuleIdentifier {
	result, _ := spec.Accept(moduleExtractor{}).(*ModuleIdentifier)
	return result
}

func (moduleExtractor) VisitEquals(e *EqualsSpec) any {
	return identifierForAttribute(e.Attribute, e.Value)
}

func (m moduleExtractor) VisitAll(a *AllSpec) any {
	for _, child := range a.Children {
		if match, _ := child.Accept(m).(*ModuleIdentifier); match != nil {
			return match
		}
	}
	return nil
}

func (moduleExtractor) VisitHasAttribute(*HasAttributeSpec) any {
	return nil
}

func identifierForAttribute(attribute, value string) *ModuleIdentifier {
	switch attribute {
	case AttrEJBModule:
		segments := strings.Split(value, "/")
		switch len(segments) {
		case 2:
			return &ModuleIdentifier{AppName: segments[0], ModuleName: segments[1]}
		case 1:
			return &ModuleIdentifier{ModuleName: segments[0]}
		default:
			return nil
		}
	case AttrEJBModuleDistinct:
		segments := strings.Split(value, "/")
		switch len(segments) {
		case 3:
			return &ModuleIdentifier{AppName: segments[0], ModuleName: segments[1], DistinctName: segments[2]}
		case 2:
			return &ModuleIdentifier{ModuleName: segments[0], DistinctName: segments[1]}
		default:
			return nil
		}
	default:
		return nil
	}
}

// nodeExtractor implements Visitor, walking a FilterSpec tree to find the
// first Equals on AttrNode.
type nodeExtractor struct{}

// NodeExtractor returns the string value of an Equals filter on "node"
// found anywhere in the filter tree, or "" with ok=false if none is found.
func NodeExtractor(spec FilterSpec) (string, bool) {
	result, ok := spec.Accept(nodeExtractor{}).(string)
	return result, ok
}

func (nodeExtractor) VisitEquals(e *EqualsSpec) any {
	if e.Attribute == AttrNode {
		return e.Value
	}
	return nil
}

func (n nodeExtractor) VisitAll(a *AllSpec) any {
	for _, child := range a.Children {
		if match, ok := child.Accept(n).(string); ok {
			return match
		}
	}
	return nil
}

func (nodeExtractor) VisitHasAttribute(*HasAttributeSpec) any {
	return nil
}

// Evaluate reports whether spec is satisfied by attrs, a multimap of the
// same shape a ServiceRecord carries. It is how a node already known to
// the registry answers a discovery filter locally, without a network
// probe, against the attributes it has previously announced.
func Evaluate(spec FilterSpec, attrs map[string][]string) bool {
	result, _ := spec.Accept(evaluator{attrs: attrs}).(bool)
	return result
}

type evaluator struct {
	attrs map[string][]string
}

func (e evaluator) VisitEquals(eq *EqualsSpec) any {
	for _, value := range e.attrs[eq.Attribute] {
		if value == eq.Value {
			return true
		}
	}
	return false
}

func (e evaluator) VisitAll(a *AllSpec) any {
	for _, child := range a.Children {
		if matched, _ := child.Accept(e).(bool); !matched {
			return false
		}
	}
	return true
}

func (e evaluator) VisitHasAttribute(h *HasAttributeSpec) any {
	return len(e.attrs[h.Attribute]) > 0
}
