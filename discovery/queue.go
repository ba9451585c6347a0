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

import (
	"context"
	"sync"
)

// Queue is a multiple-producer, single-consumer collection of Records plus
// an aggregated list of problems encountered while producing them. It has
// no size bound: the capacity given to NewQueue only sizes the initial
// buffer, and Push never blocks. Producers call Push/ReportProblem
// concurrently; a single consumer calls Take in a loop until it returns
// ok=false, then reads Problems.
//
// Close is idempotent and unblocks any pending or future Take call. It is
// how a DiscoveryEngine signals "every probe has terminated" to the
// Resolver without the two packages importing one another.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	records  []*Record
	problems []error
	closed   bool
}

// NewQueue creates an empty Queue with the given buffer capacity. Capacity
// only bounds the internal slice's pre-allocation; Push never blocks the
// producer, since a stalled discovery probe must never be able to wedge
// another probe's completion.
func NewQueue(capacity int) *Queue {
	q := &Queue{records: make([]*Record, 0, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push adds a record for the consumer to take. It is safe to call from any
// number of goroutines, including after Close (in which case the record is
// silently dropped, since no consumer will ever observe it).
func (q *Queue) Push(record *Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.records = append(q.records, record)
	q.cond.Signal()
}

// ReportProblem appends a probe failure to the aggregated problem list.
func (q *Queue) ReportProblem(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.problems = append(q.problems, err)
}

// Close unblocks the consumer. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Take blocks until either a record is available or the queue has been
// closed with nothing left to deliver, in which case it returns nil, false.
// Take respects context cancellation, returning ctx.Err() in that case.
func (q *Queue) Take(ctx context.Context) (*Record, bool, error) {
	// A goroutine to translate ctx.Done() into a Broadcast, since sync.Cond
	// has no select-based wait. It exits as soon as Take returns, either
	// because ctx fired or because the cond was otherwise signaled.
	done := make(chan struct{})
	defer close(done)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.records) == 0 && !q.closed {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return nil, false, ctx.Err()
			default:
			}
		}
		q.cond.Wait()
	}
	if len(q.records) == 0 {
		return nil, false, nil
	}
	record := q.records[0]
	q.records = q.records[1:]
	return record, true, nil
}

// Problems returns the problems accumulated so far. It is meant to be
// called by the consumer after Take has returned ok=false, i.e. once the
// stream is fully drained, but it is also safe to call at any point.
func (q *Queue) Problems() []error {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]error, len(q.problems))
	copy(out, q.problems)
	return out
}
