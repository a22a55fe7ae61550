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

// Package barrier implements a reusable N-party rendezvous barrier with
// leader election, scoped to a single Redis key.
//
// Slow waiters only delay the barrier, they never force a false quorum:
// each party's presence key must be refreshed faster than its TTL or it
// drops out of the count. The barrier is reusable across generations —
// once every K:waiting:* key drains, K:leader and the token counter reset.
package barrier

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/script"
	"github.com/kodeflow/redisync/modules/syncerr"
)

//go:embed waiting.lua
var waitingLua string

//go:embed drop.lua
var dropLua string

const (
	scriptWaiting = "barrier:waiting"
	scriptDrop    = "barrier:drop"

	// DefaultLeaseTTLSeconds is the TTL on both the per-party liveness key
	// and the elected leader key.
	DefaultLeaseTTLSeconds = 2
)

// WaitResult reports the outcome of a completed Wait call.
type WaitResult struct {
	// IsLeader is true for exactly one token per generation: the party
	// that observed quorum first and won the leader-election race.
	IsLeader bool
}

// Barrier is an N-party rendezvous point scoped to key K. Each call to New
// allocates a fresh token from K:uuids and represents one party.
type Barrier struct {
	client rueidis.Client
	runner *script.Runner
	logger *slog.Logger

	key            string
	waitingKey     string
	waitingPattern string
	leaderKey      string
	uuidsKey       string
	token          int64
	parties        int64
	leaseTTLSec    int64
	backOff        func() backoff.BackOff
}

// Option configures a Barrier at construction time.
type Option func(*Barrier)

// WithLeaseTTLSeconds overrides DefaultLeaseTTLSeconds.
func WithLeaseTTLSeconds(sec int64) Option {
	return func(b *Barrier) { b.leaseTTLSec = sec }
}

// WithBackOff overrides the retry strategy Wait uses while spinning for
// quorum. factory is called once per Wait call.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(b *Barrier) { b.backOff = factory }
}

// WithLogger overrides the barrier's slog.Logger. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Barrier) { b.logger = l }
}

// New allocates a token for this party and returns a Barrier for a rendezvous
// of parties parties, scoped to key.
func New(ctx context.Context, parties int64, key string, client rueidis.Client, opts ...Option) (*Barrier, error) {
	b := &Barrier{
		client:         client,
		runner:         script.NewRunner(client),
		logger:         slog.Default().With(slog.String("barrier_key", key)),
		key:            key,
		waitingKey:     "", // set below once the token is known
		waitingPattern: key + ":waiting:*",
		leaderKey:      key + ":leader",
		uuidsKey:       key + ":uuids",
		parties:        parties,
		leaseTTLSec:    DefaultLeaseTTLSeconds,
		backOff:        func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(b)
	}

	b.runner.Register(scriptWaiting, waitingLua)
	b.runner.Register(scriptDrop, dropLua)

	token, err := client.Do(ctx, client.B().Incr().Key(b.uuidsKey).Build()).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("barrier: allocate token: %w", err)
	}
	b.token = token
	b.waitingKey = key + ":waiting:" + strconv.FormatInt(token, 10)
	b.logger = b.logger.With(slog.Int64("token", token))

	return b, nil
}

// Token returns this party's fencing token.
func (b *Barrier) Token() int64 { return b.token }

// Wait refreshes this party's liveness key and spins until quorum is
// reached and a leader elected, returning which of the two this party is.
func (b *Barrier) Wait(ctx context.Context) (WaitResult, error) {
	token := strconv.FormatInt(b.token, 10)
	parties := strconv.FormatInt(b.parties, 10)
	ttl := strconv.FormatInt(b.leaseTTLSec, 10)

	op := func() (WaitResult, error) {
		res, err := b.runner.Exec(ctx, scriptWaiting, []string{b.waitingKey, b.leaderKey}, []string{token, parties, ttl, b.waitingPattern})
		if err != nil {
			return WaitResult{}, backoff.Permanent(fmt.Errorf("barrier: wait: %w: %w", syncerr.ErrLockFailed, err))
		}
		code, err := res.AsInt64()
		if err != nil {
			return WaitResult{}, backoff.Permanent(fmt.Errorf("barrier: wait: %w: %w", syncerr.ErrLockFailed, err))
		}
		switch code {
		case 1:
			return WaitResult{IsLeader: true}, nil
		case 2:
			return WaitResult{IsLeader: false}, nil
		default:
			return WaitResult{}, errStillWaiting
		}
	}

	r, err := backoff.Retry(ctx, op, backoff.WithBackOff(b.backOff()))
	if err != nil {
		return WaitResult{}, fmt.Errorf("barrier: wait %s: %w", b.key, err)
	}
	b.logger.DebugContext(ctx, "barrier wait complete", slog.Bool("leader", r.IsLeader))
	return r, nil
}

// Drop removes this party from the barrier. If it was the last party
// waiting, the generation resets: K:leader and the token counter are
// cleared so the next New/Wait cycle starts fresh.
func (b *Barrier) Drop(ctx context.Context) error {
	if _, err := b.runner.Exec(ctx, scriptDrop, []string{b.waitingKey, b.leaderKey, b.uuidsKey}, []string{b.waitingPattern}); err != nil {
		return fmt.Errorf("barrier: drop: %w", err)
	}
	return nil
}

var errStillWaiting = errors.New("barrier: quorum not yet reached")
