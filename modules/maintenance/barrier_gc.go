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

// Package maintenance holds periodic sweeps over this module's primitives
// that a host process runs on its own schedule — e.g. a janitor that
// force-clears barrier generations stuck behind a dead leader.
package maintenance

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/script"
	"github.com/kodeflow/redisync/worker"
)

//go:embed barrier_gc.lua
var barrierGCLua string

const scriptBarrierGC = "maintenance:barrier_gc"

// BarrierGC reclaims a barrier's K:leader/K:uuids bookkeeping when every
// party's presence key has expired without a final Drop call completing
// the reset — the case where the elected leader's process dies before it
// releases.
type BarrierGC struct {
	client rueidis.Client
	runner *script.Runner
}

// NewBarrierGC constructs a BarrierGC over client.
func NewBarrierGC(client rueidis.Client) *BarrierGC {
	g := &BarrierGC{
		client: client,
		runner: script.NewRunner(client),
	}
	g.runner.Register(scriptBarrierGC, barrierGCLua)
	return g
}

// Sweep checks every key in keys and reclaims any whose barrier generation
// is stuck, fanning the round trips out across a bounded worker pool.
func (g *BarrierGC) Sweep(ctx context.Context, keys []string, concurrency int) ([]string, error) {
	type outcome struct {
		key       string
		reclaimed bool
		err       error
	}

	jobs := make(chan string, len(keys))
	for _, k := range keys {
		jobs <- k
	}
	close(jobs)

	results := make(chan outcome, len(keys))
	worker.BlockingPool(ctx, concurrency, jobs, func(ctx context.Context, key string) {
		reclaimed, err := g.sweepOne(ctx, key)
		results <- outcome{key: key, reclaimed: reclaimed, err: err}
	})
	close(results)

	var reclaimed []string
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("maintenance: sweep %s: %w", r.key, r.err)
			}
			continue
		}
		if r.reclaimed {
			reclaimed = append(reclaimed, r.key)
		}
	}
	return reclaimed, firstErr
}

func (g *BarrierGC) sweepOne(ctx context.Context, key string) (bool, error) {
	res, err := g.runner.Exec(ctx, scriptBarrierGC,
		[]string{key + ":leader", key + ":uuids"},
		[]string{key + ":waiting:*"},
	)
	if err != nil {
		return false, err
	}
	n, err := res.AsInt64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
