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

package engine_test

import (
	"context"
	"errors"
	"net/netip"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jbossnetty/ejbresolve/config"
	"github.com/jbossnetty/ejbresolve/discovery"
	"github.com/jbossnetty/ejbresolve/engine"
	"github.com/jbossnetty/ejbresolve/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu      sync.Mutex
	outcome map[string]error
	records map[string][]*discovery.Record
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{outcome: map[string]error{}, records: map[string][]*discovery.Record{}}
}

func (f *fakeTransport) SupportsProtocol(string) bool { return true }

func (f *fakeTransport) SourceAddress(netip.AddrPort) (netip.Addr, bool) {
	return netip.MustParseAddr("10.0.0.9"), true
}

func (f *fakeTransport) OpenChannel(_ context.Context, uri *url.URL, _ engine.Identity) ([]*discovery.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.outcome[uri.String()]; ok && err != nil {
		return nil, err
	}
	return f.records[uri.String()], nil
}

func (f *fakeTransport) failFor(uri string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcome[uri] = err
}

func (f *fakeTransport) succeedWith(uri string, records ...*discovery.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[uri] = records
}

type fakeEndpoint struct{}

func (fakeEndpoint) IsValidURIScheme(string) bool { return true }

func (fakeEndpoint) GetConnectedIdentity(context.Context, *url.URL, engine.AuthConfig) (engine.Identity, error) {
	return "identity", nil
}

type fakeAuthClient struct{}

func (fakeAuthClient) AuthenticationConfiguration(*url.URL, bool) (engine.AuthConfig, error) {
	return engine.AuthConfig{}, nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func drain(t *testing.T, att *engine.Attempt) ([]*discovery.Record, []error) {
	t.Helper()
	var records []*discovery.Record
	for {
		record, ok, err := att.Queue.Take(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		records = append(records, record)
	}
	return records, att.Queue.Problems()
}

func TestDiscoverWrongServiceTypeClosesImmediately(t *testing.T) {
	reg := registry.New(nil)
	eng := engine.New(reg, newFakeTransport(), fakeEndpoint{}, fakeAuthClient{}, config.Default().Discovery, nil, nil)

	att := eng.Discover(context.Background(), "not.ejb.jboss", discovery.Equal(discovery.AttrNode, "n1"))
	records, problems := drain(t, att)
	assert.Empty(t, records)
	assert.Empty(t, problems)
}

func TestDiscoverProbesConfiguredEndpoints(t *testing.T) {
	reg := registry.New(nil)
	transport := newFakeTransport()
	endpoint := mustURL(t, "remote://h1:8080")
	record := discovery.NewRecord(endpoint).WithAttribute(discovery.AttrNode, "n1")
	transport.succeedWith(endpoint.String(), record)

	eng := engine.New(reg, transport, fakeEndpoint{}, fakeAuthClient{}, config.Default().Discovery, []*url.URL{endpoint}, nil)
	// The filter's node name is never registered locally, so the phase-1
	// match pass against already-known nodes can never succeed and the
	// engine always escalates to phase 2, reprobing the same endpoint.
	att := eng.Discover(context.Background(), discovery.ServiceType, discovery.Equal(discovery.AttrNode, "n1"))

	records, problems := drain(t, att)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, endpoint, r.Location)
	}
	assert.Empty(t, problems)
	assert.False(t, reg.IsFailed(endpoint.String()))
}

func TestDiscoverFailedProbeIsRecordedAsAProblem(t *testing.T) {
	reg := registry.New(nil)
	transport := newFakeTransport()
	endpoint := mustURL(t, "remote://h1:8080")
	transport.failFor(endpoint.String(), errors.New("connection refused"))

	eng := engine.New(reg, transport, fakeEndpoint{}, fakeAuthClient{}, config.Default().Discovery, []*url.URL{endpoint}, nil)
	att := eng.Discover(context.Background(), discovery.ServiceType, discovery.Equal(discovery.AttrNode, "n1"))

	records, problems := drain(t, att)
	assert.Empty(t, records)
	// The lone configured endpoint fails phase 1, which has nothing else to
	// fall back on, so phase 2 retries it and fails again.
	assert.Len(t, problems, 2)
	assert.True(t, reg.IsFailed(endpoint.String()))
}

func TestDiscoverPhase2RetriesWhenEveryEndpointWasFailed(t *testing.T) {
	reg := registry.New(nil)
	transport := newFakeTransport()
	e1 := mustURL(t, "remote://h1:8080")
	e2 := mustURL(t, "remote://h2:8080")
	reg.MarkFailed(e1.String())
	reg.MarkFailed(e2.String())

	record := discovery.NewRecord(e1).WithAttribute(discovery.AttrNode, "n1")
	transport.succeedWith(e1.String(), record)
	transport.succeedWith(e2.String())

	eng := engine.New(reg, transport, fakeEndpoint{}, fakeAuthClient{}, config.Default().Discovery, []*url.URL{e1, e2}, nil)
	att := eng.Discover(context.Background(), discovery.ServiceType, discovery.Equal(discovery.AttrNode, "n1"))

	records, _ := drain(t, att)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Equal(t, e1, r.Location)
	}
}

func TestDiscoverMatchesAlreadyKnownNodeWithoutProbing(t *testing.T) {
	reg := registry.New(nil)
	info := reg.GetOrCreate("n1")
	info.AnnounceModule("myapp", "mymodule", "")
	clusterInfo := info.Cluster("c1")
	table := clusterInfo.AddressTable("remote")
	table.Add(netip.MustParsePrefix("0.0.0.0/0"), netip.MustParseAddrPort("10.0.0.1:8080"))
	reg.AddNode("c1", "n1", nil)

	eng := engine.New(reg, newFakeTransport(), fakeEndpoint{}, fakeAuthClient{}, config.Default().Discovery, nil, nil)
	att := eng.Discover(context.Background(), discovery.ServiceType, discovery.Equal(discovery.AttrNode, "n1"))

	records, problems := drain(t, att)
	require.Len(t, records, 1)
	assert.Equal(t, "remote://10.0.0.1:8080", records[0].Location.String())
	assert.Empty(t, problems)
}

func TestDiscoverCancelStopsFurtherWork(t *testing.T) {
	reg := registry.New(nil)
	transport := newFakeTransport()
	endpoint := mustURL(t, "remote://h1:8080")

	eng := engine.New(reg, transport, fakeEndpoint{}, fakeAuthClient{}, config.Default().Discovery, []*url.URL{endpoint}, nil)
	att := eng.Discover(context.Background(), discovery.ServiceType, discovery.Equal(discovery.AttrNode, "n1"))
	att.Cancel()

	done := make(chan error, 1)
	go func() { done <- att.Wait() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("attempt never drained after cancel")
	}
}
