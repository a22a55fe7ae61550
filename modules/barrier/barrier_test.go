// Copyright 2025 Nhat-Nguyen Nguyen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package barrier_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kodeflow/redisync/modules/barrier"
	"github.com/kodeflow/redisync/modules/redistest"
)

func noWaitBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = 2 * time.Millisecond
	return b
}

// TestLeaderUniquePerGeneration verifies that when N parties rendezvous on
// the same key, exactly one observes IsLeader true.
func TestLeaderUniquePerGeneration(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	key := "round:1"
	const parties = 5

	results := make([]barrier.WaitResult, parties)
	errs := make([]error, parties)
	bs := make([]*barrier.Barrier, parties)

	for i := 0; i < parties; i++ {
		b, err := barrier.New(ctx, parties, key, srv.Client, barrier.WithBackOff(noWaitBackOff))
		if err != nil {
			t.Fatalf("New party %d: %v", i, err)
		}
		bs[i] = b
	}

	var wg sync.WaitGroup
	for i := 0; i < parties; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = bs[i].Wait(ctx)
		}(i)
	}
	wg.Wait()

	leaders := 0
	for i := 0; i < parties; i++ {
		if errs[i] != nil {
			t.Fatalf("Wait party %d: %v", i, errs[i])
		}
		if results[i].IsLeader {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("got %d leaders, want exactly 1", leaders)
	}

	for i := 0; i < parties; i++ {
		if err := bs[i].Drop(ctx); err != nil {
			t.Fatalf("Drop party %d: %v", i, err)
		}
	}
}

// TestBarrierReusableAcrossGenerations exercises the reusability invariant:
// once every party drops, a fresh New/Wait cycle elects a new leader rather
// than reusing stale K:leader state.
func TestBarrierReusableAcrossGenerations(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	key := "round:2"
	const parties = 2

	for gen := 0; gen < 2; gen++ {
		bs := make([]*barrier.Barrier, parties)
		for i := 0; i < parties; i++ {
			b, err := barrier.New(ctx, parties, key, srv.Client, barrier.WithBackOff(noWaitBackOff))
			if err != nil {
				t.Fatalf("gen %d New party %d: %v", gen, i, err)
			}
			bs[i] = b
		}

		var wg sync.WaitGroup
		results := make([]barrier.WaitResult, parties)
		for i := 0; i < parties; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r, err := bs[i].Wait(ctx)
				if err != nil {
					t.Errorf("gen %d Wait party %d: %v", gen, i, err)
					return
				}
				results[i] = r
			}(i)
		}
		wg.Wait()

		leaders := 0
		for i := 0; i < parties; i++ {
			if results[i].IsLeader {
				leaders++
			}
		}
		if leaders != 1 {
			t.Fatalf("gen %d: got %d leaders, want exactly 1", gen, leaders)
		}

		for i := 0; i < parties; i++ {
			if err := bs[i].Drop(ctx); err != nil {
				t.Fatalf("gen %d Drop party %d: %v", gen, i, err)
			}
		}
	}
}
