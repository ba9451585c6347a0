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

package discovery_test

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/jbossnetty/ejbresolve/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueTakeBlocksUntilPush(t *testing.T) {
	q := discovery.NewQueue(4)
	loc, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)

	done := make(chan *discovery.Record, 1)
	go func() {
		record, ok, err := q.Take(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		done <- record
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(discovery.NewRecord(loc))

	select {
	case record := <-done:
		assert.Equal(t, loc, record.Location)
	case <-time.After(time.Second):
		t.Fatal("Take never returned")
	}
}

func TestQueueCloseUnblocksConsumerWithNoRecord(t *testing.T) {
	q := discovery.NewQueue(4)
	done := make(chan bool, 1)
	go func() {
		_, ok, err := q.Take(context.Background())
		require.NoError(t, err)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Take never returned")
	}
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := discovery.NewQueue(4)
	q.Close()
	assert.NotPanics(t, q.Close)
}

func TestQueueDrainsAllPushedRecordsBeforeClosing(t *testing.T) {
	q := discovery.NewQueue(4)
	loc, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)

	q.Push(discovery.NewRecord(loc))
	q.Push(discovery.NewRecord(loc))
	q.Close()

	count := 0
	for {
		_, ok, err := q.Take(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, 2, count)
}

func TestQueueAggregatesProblems(t *testing.T) {
	q := discovery.NewQueue(4)
	q.ReportProblem(errors.New("probe 1 failed"))
	q.ReportProblem(errors.New("probe 2 failed"))
	q.Close()

	_, ok, err := q.Take(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	assert.Len(t, q.Problems(), 2)
}

func TestQueueTakeRespectsContextCancellation(t *testing.T) {
	q := discovery.NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := q.Take(ctx)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Take never returned")
	}
}

func TestQueuePushAfterCloseIsDropped(t *testing.T) {
	q := discovery.NewQueue(4)
	loc, err := url.Parse("remote://h1:8080")
	require.NoError(t, err)

	q.Close()
	q.Push(discovery.NewRecord(loc))

	_, ok, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
