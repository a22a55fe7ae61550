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

// Package mutex implements a lease-based distributed exclusive lock on top
// of cell.Cell, with a fencing token checked on every guarded operation.
//
// Correctness over availability: a client that stalls past the lease TTL
// and then calls Store, Acquire or Expand on its Guard observes
// syncerr.LockExpiredError, even if it still believes it holds the lock.
// That is a deliberate trade-off, not a bug — see the state machine in the
// Mutex type's doc comment.
package mutex

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/cell"
	"github.com/kodeflow/redisync/modules/codec"
	"github.com/kodeflow/redisync/modules/script"
	"github.com/kodeflow/redisync/modules/syncerr"
)

//go:embed lock.lua
var lockLua string

//go:embed store.lua
var storeLua string

//go:embed load.lua
var loadLua string

//go:embed expand.lua
var expandLua string

//go:embed drop.lua
var dropLua string

const (
	scriptLock   = "mutex:lock"
	scriptStore  = "mutex:store"
	scriptLoad   = "mutex:load"
	scriptExpand = "mutex:expand"
	scriptDrop   = "mutex:drop"

	// DefaultLeaseTTLSeconds is the lock lease granted by Lock.
	DefaultLeaseTTLSeconds = 1
	// DefaultExpandTTLSeconds is the extension Guard.Expand grants, once.
	DefaultExpandTTLSeconds = 2
)

// ErrAlreadyExpanded is returned by Guard.Expand when called a second time
// on the same Guard; a lease may only be expanded once.
var ErrAlreadyExpanded = errors.New("mutex: guard lease already expanded")

// Mutex is a distributed exclusive lock bound to the same key as its
// wrapped cell.Cell[T]. Construction allocates a fencing token from the
// server-side K:uuids counter; every Guard produced by Lock carries that
// token and every Guard method is rejected server-side once the lease has
// moved to a different token.
//
// State machine: Unlocked -> (Lock succeeds) -> Held(token) -> (Drop, or
// lease TTL elapses) -> Unlocked. A held lease is cooperatively releasable
// (Guard.Drop) but the server never distinguishes "released" from "never
// acquired"; both read back as Unlocked.
type Mutex[T any] struct {
	client rueidis.Client
	runner *script.Runner
	codec  codec.Codec[T]
	logger *slog.Logger

	key          string
	lockKey      string
	uuidsKey     string
	token        int64
	leaseTTLSec  int64
	expandTTLSec int64
	backOff      func() backoff.BackOff
}

// Option configures a Mutex at construction time.
type Option[T any] func(*Mutex[T])

// WithLeaseTTLSeconds overrides DefaultLeaseTTLSeconds.
func WithLeaseTTLSeconds[T any](sec int64) Option[T] {
	return func(m *Mutex[T]) { m.leaseTTLSec = sec }
}

// WithExpandTTLSeconds overrides DefaultExpandTTLSeconds.
func WithExpandTTLSeconds[T any](sec int64) Option[T] {
	return func(m *Mutex[T]) { m.expandTTLSec = sec }
}

// WithBackOff overrides the retry/backoff strategy Lock uses while spinning
// for the lease. factory is called once per Lock call, since a
// backoff.BackOff carries mutable retry state.
func WithBackOff[T any](factory func() backoff.BackOff) Option[T] {
	return func(m *Mutex[T]) { m.backOff = factory }
}

// WithLogger overrides the mutex's slog.Logger. The default is
// slog.Default().
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(m *Mutex[T]) { m.logger = l }
}

// New allocates a fencing token for c's key and returns a Mutex bound to it.
// c's own Store/Acquire/Cached/IntoInner are not lease-aware; callers that
// construct a Mutex over a Cell should route all further access through the
// Mutex's Guard instead of c directly.
func New[T any](ctx context.Context, c *cell.Cell[T], opts ...Option[T]) (*Mutex[T], error) {
	client := c.Client()
	key := c.Key()

	m := &Mutex[T]{
		client:       client,
		runner:       script.NewRunner(client),
		codec:        c.Codec(),
		logger:       slog.Default(),
		key:          key,
		lockKey:      key + ":lock",
		uuidsKey:     key + ":uuids",
		leaseTTLSec:  DefaultLeaseTTLSeconds,
		expandTTLSec: DefaultExpandTTLSeconds,
		backOff:      func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(m)
	}

	m.runner.Register(scriptLock, lockLua)
	m.runner.Register(scriptStore, storeLua)
	m.runner.Register(scriptLoad, loadLua)
	m.runner.Register(scriptExpand, expandLua)
	m.runner.Register(scriptDrop, dropLua)

	token, err := client.Do(ctx, client.B().Incr().Key(m.uuidsKey).Build()).AsInt64()
	if err != nil {
		return nil, fmt.Errorf("mutex: allocate token: %w", err)
	}
	m.token = token
	m.logger = m.logger.With(slog.String("mutex_key", key), slog.Int64("token", token), slog.String("instance", uuid.NewString()))

	return m, nil
}

// Token returns the fencing token this Mutex was allocated at New.
func (m *Mutex[T]) Token() int64 { return m.token }

// Key returns the Redis key this Mutex coordinates access to.
func (m *Mutex[T]) Key() string { return m.key }

var errLeaseHeldByOther = errors.New("mutex: lease held by another token")

// Lock spins, retrying with the configured backoff, until it acquires the
// lease or ctx is done. It is safe to call Lock again on the same Mutex
// after the previous Guard has Dropped or expired; repeated Lock calls by
// the same Mutex reacquire idempotently (see lock.lua).
func (m *Mutex[T]) Lock(ctx context.Context) (*Guard[T], error) {
	ttl := strconv.FormatInt(m.leaseTTLSec, 10)
	token := strconv.FormatInt(m.token, 10)

	op := func() (*Guard[T], error) {
		res, err := m.runner.Exec(ctx, scriptLock, []string{m.lockKey}, []string{ttl, token})
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("mutex: lock: %w: %w", syncerr.ErrLockFailed, err))
		}
		granted, err := res.AsInt64()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("mutex: lock: %w: %w", syncerr.ErrLockFailed, err))
		}
		if granted == 0 {
			return nil, errLeaseHeldByOther
		}
		return &Guard[T]{m: m}, nil
	}

	g, err := backoff.Retry(ctx, op, backoff.WithBackOff(m.backOff()))
	if err != nil {
		return nil, fmt.Errorf("mutex: lock %s: %w", m.key, err)
	}
	m.logger.DebugContext(ctx, "lease acquired")
	return g, nil
}

// Guard represents a held lease on a Mutex's key. Every method is gated
// server-side on the fencing token still being the current lease holder;
// a Guard whose lease expired returns syncerr.LockExpiredError from Store,
// Acquire and Expand instead of silently succeeding against stale state.
// Drop on an expired Guard is a no-op that returns nil.
type Guard[T any] struct {
	m        *Mutex[T]
	expanded bool
}

// Store serializes v and writes it to the guarded key, but only if this
// Guard's token is still the lease holder.
func (g *Guard[T]) Store(ctx context.Context, v T) error {
	s, err := g.m.codec.Encode(v)
	if err != nil {
		return err
	}

	token := strconv.FormatInt(g.m.token, 10)
	res, err := g.m.runner.Exec(ctx, scriptStore, []string{g.m.lockKey, g.m.key}, []string{token, s})
	if err != nil {
		return fmt.Errorf("mutex: store: %w", err)
	}
	ok, err := res.AsInt64()
	if err != nil {
		return fmt.Errorf("mutex: store: %w", err)
	}
	if ok == 0 {
		return &syncerr.LockExpiredError{Token: g.m.token}
	}
	return nil
}

// Acquire reads and deserializes the guarded key, but only if this Guard's
// token is still the lease holder. It returns syncerr.ErrNotFound if the
// key has never been written.
func (g *Guard[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	token := strconv.FormatInt(g.m.token, 10)
	res, err := g.m.runner.Exec(ctx, scriptLoad, []string{g.m.lockKey, g.m.key}, []string{token})
	if err != nil {
		return zero, fmt.Errorf("mutex: acquire: %w", err)
	}

	arr, err := res.ToArray()
	if err != nil {
		return zero, fmt.Errorf("mutex: acquire: %w", err)
	}
	if len(arr) == 0 {
		return zero, fmt.Errorf("mutex: acquire: malformed script reply")
	}

	held, err := arr[0].ToInt64()
	if err != nil {
		return zero, fmt.Errorf("mutex: acquire: %w", err)
	}
	if held == 0 {
		return zero, &syncerr.LockExpiredError{Token: g.m.token}
	}

	if len(arr) < 2 || arr[1].IsNil() {
		return zero, syncerr.ErrNotFound
	}

	s, err := arr[1].ToString()
	if err != nil {
		return zero, fmt.Errorf("mutex: acquire: %w", err)
	}
	return g.m.codec.Decode(s)
}

// Expand extends the lease TTL to DefaultExpandTTLSeconds (or the value set
// via WithExpandTTLSeconds). It may be called at most once per Guard.
func (g *Guard[T]) Expand(ctx context.Context) error {
	if g.expanded {
		return ErrAlreadyExpanded
	}

	token := strconv.FormatInt(g.m.token, 10)
	newTTL := strconv.FormatInt(g.m.expandTTLSec, 10)
	res, err := g.m.runner.Exec(ctx, scriptExpand, []string{g.m.lockKey}, []string{token, newTTL})
	if err != nil {
		return fmt.Errorf("mutex: expand: %w", err)
	}
	ok, err := res.AsInt64()
	if err != nil {
		return fmt.Errorf("mutex: expand: %w", err)
	}
	if ok == 0 {
		return &syncerr.LockExpiredError{Token: g.m.token}
	}
	g.expanded = true
	return nil
}

// Drop releases the lease, but only if this Guard's token is still the
// lease holder. Dropping an already-expired Guard is a no-op, not an error:
// release is idempotent by design, since the caller's only recourse to an
// expired lease is to let go of it anyway.
func (g *Guard[T]) Drop(ctx context.Context) error {
	token := strconv.FormatInt(g.m.token, 10)
	res, err := g.m.runner.Exec(ctx, scriptDrop, []string{g.m.lockKey}, []string{token})
	if err != nil {
		return fmt.Errorf("mutex: drop: %w", err)
	}
	if _, err := res.AsInt64(); err != nil {
		return fmt.Errorf("mutex: drop: %w", err)
	}
	g.m.logger.DebugContext(ctx, "lease dropped")
	return nil
}
