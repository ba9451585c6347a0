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

// Package naming provides the NamingProvider external collaborator: a
// last-resort source of candidate locations, consulted only when
// cluster-discovery finds no candidates at all.
package naming

import (
	"context"
	"net/url"

	"github.com/go-kratos/kratos/v2/registry"
)

// Provider returns candidate destination locations from outside the
// discovery/registry machinery, e.g. a DNS SRV lookup or a service
// registry query.
type Provider interface {
	GetLocations() ([]*url.URL, error)
}

// FromDiscovery adapts a kratos registry.Discovery into a Provider by
// resolving serviceName's instances and flattening their endpoints.
// Malformed endpoint strings are skipped rather than failing the whole
// lookup, matching the discovery engine's own "skip silently" handling of
// malformed cluster-derived URIs.
func FromDiscovery(ctx context.Context, disc registry.Discovery, serviceName string) Provider {
	return &discoveryProvider{ctx: ctx, disc: disc, serviceName: serviceName}
}

type discoveryProvider struct {
	ctx         context.Context
	disc        registry.Discovery
	serviceName string
}

// GetLocations implements Provider.
func (p *discoveryProvider) GetLocations() ([]*url.URL, error) {
	instances, err := p.disc.GetService(p.ctx, p.serviceName)
	if err != nil {
		return nil, err
	}
	locations := make([]*url.URL, 0, len(instances))
	for _, instance := range instances {
		for _, endpoint := range instance.Endpoints {
			u, err := url.Parse(endpoint)
			if err != nil {
				continue
			}
			locations = append(locations, u)
		}
	}
	return locations, nil
}
