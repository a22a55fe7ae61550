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

// Package rwlock implements a multi-reader/single-writer distributed lock
// with writer-intent signaling on top of cell.Cell.
//
// A waiting writer registers its intent key before every acquisition
// attempt, including every retry of a spin; that blocks new readers from
// being admitted even while the writer itself has not yet acquired the
// exclusive lock. Existing readers are left alone until they drop or their
// lease expires — the writer spins on K:lock's absence while its own
// intent key is kept alive by each retry.
package rwlock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/cell"
	"github.com/kodeflow/redisync/modules/codec"
	"github.com/kodeflow/redisync/modules/script"
	"github.com/kodeflow/redisync/modules/syncerr"
)

//go:embed reader_lock.lua
var readerLockLua string

//go:embed writer_lock.lua
var writerLockLua string

//go:embed reader_drop.lua
var readerDropLua string

//go:embed writer_drop.lua
var writerDropLua string

//go:embed store.lua
var storeLua string

//go:embed load.lua
var loadLua string

const (
	scriptReaderLock = "rwlock:reader_lock"
	scriptWriterLock = "rwlock:writer_lock"
	scriptReaderDrop = "rwlock:reader_drop"
	scriptWriterDrop = "rwlock:writer_drop"
	scriptStore      = "rwlock:store"
	scriptLoad       = "rwlock:load"

	// DefaultLeaseTTLSeconds covers both the exclusive lock and the
	// reader/writer-intent presence keys.
	DefaultLeaseTTLSeconds = 1
)

// RwLock coordinates shared/exclusive access to the key of a wrapped
// cell.Cell[T]. Each Read or Write call allocates a fresh per-holder token
// from K:lock_counter.
type RwLock[T any] struct {
	client rueidis.Client
	runner *script.Runner
	codec  codec.Codec[T]
	logger *slog.Logger

	key             string
	lockKey         string
	counterKey      string
	writerPattern   string
	readerKeyPrefix string
	writerKeyPrefix string
	leaseTTLSec     int64
	backOff         func() backoff.BackOff
}

// Option configures an RwLock at construction time.
type Option[T any] func(*RwLock[T])

// WithLeaseTTLSeconds overrides DefaultLeaseTTLSeconds.
func WithLeaseTTLSeconds[T any](sec int64) Option[T] {
	return func(r *RwLock[T]) { r.leaseTTLSec = sec }
}

// WithBackOff overrides the retry strategy Read and Write use while
// spinning. factory is called once per Read/Write call.
func WithBackOff[T any](factory func() backoff.BackOff) Option[T] {
	return func(r *RwLock[T]) { r.backOff = factory }
}

// WithLogger overrides the rwlock's slog.Logger. The default is
// slog.Default().
func WithLogger[T any](l *slog.Logger) Option[T] {
	return func(r *RwLock[T]) { r.logger = l }
}

// New constructs an RwLock bound to c's key. Unlike Mutex, New itself does
// not allocate a token; each Read/Write call allocates its own.
func New[T any](c *cell.Cell[T], opts ...Option[T]) *RwLock[T] {
	key := c.Key()
	client := c.Client()

	r := &RwLock[T]{
		client:          client,
		runner:          script.NewRunner(client),
		codec:           c.Codec(),
		logger:          slog.Default().With(slog.String("rwlock_key", key)),
		key:             key,
		lockKey:         key + ":lock",
		counterKey:      key + ":lock_counter",
		writerPattern:   key + ":writer_waiting_list:*",
		readerKeyPrefix: key + ":reader_locks:",
		writerKeyPrefix: key + ":writer_waiting_list:",
		leaseTTLSec:     DefaultLeaseTTLSeconds,
		backOff:         func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(r)
	}

	r.runner.Register(scriptReaderLock, readerLockLua)
	r.runner.Register(scriptWriterLock, writerLockLua)
	r.runner.Register(scriptReaderDrop, readerDropLua)
	r.runner.Register(scriptWriterDrop, writerDropLua)
	r.runner.Register(scriptStore, storeLua)
	r.runner.Register(scriptLoad, loadLua)

	return r
}

// Key returns the Redis key this RwLock coordinates access to.
func (r *RwLock[T]) Key() string { return r.key }

func (r *RwLock[T]) allocateToken(ctx context.Context) (int64, error) {
	token, err := r.client.Do(ctx, r.client.B().Incr().Key(r.counterKey).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("rwlock: allocate token: %w", err)
	}
	return token, nil
}

// ReadGuard represents a held shared (reader) lease.
type ReadGuard[T any] struct {
	r     *RwLock[T]
	token int64
}

// Token returns this ReadGuard's fencing token.
func (g *ReadGuard[T]) Token() int64 { return g.token }

// Acquire reads and deserializes the guarded key. It is gated on this
// reader's presence key (or, degenerately, on holding the exclusive lock)
// still being valid.
func (g *ReadGuard[T]) Acquire(ctx context.Context) (T, error) {
	var zero T
	token := strconv.FormatInt(g.token, 10)
	readerKey := g.r.readerKeyPrefix + token

	res, err := g.r.runner.Exec(ctx, scriptLoad, []string{g.r.lockKey, readerKey, g.r.key}, []string{token})
	if err != nil {
		return zero, fmt.Errorf("rwlock: acquire: %w", err)
	}
	arr, err := res.ToArray()
	if err != nil {
		return zero, fmt.Errorf("rwlock: acquire: %w", err)
	}
	if len(arr) == 0 {
		return zero, fmt.Errorf("rwlock: acquire: malformed script reply")
	}
	ok, err := arr[0].ToInt64()
	if err != nil {
		return zero, fmt.Errorf("rwlock: acquire: %w", err)
	}
	if ok == 0 {
		return zero, &syncerr.LockExpiredError{Token: g.token}
	}
	if len(arr) < 2 || arr[1].IsNil() {
		return zero, syncerr.ErrNotFound
	}
	s, err := arr[1].ToString()
	if err != nil {
		return zero, fmt.Errorf("rwlock: acquire: %w", err)
	}
	return g.r.codec.Decode(s)
}

// Drop releases this reader's presence key. It is idempotent: dropping
// after the presence key has already expired is a no-op.
func (g *ReadGuard[T]) Drop(ctx context.Context) error {
	readerKey := g.r.readerKeyPrefix + strconv.FormatInt(g.token, 10)
	if _, err := g.r.runner.Exec(ctx, scriptReaderDrop, []string{readerKey}, nil); err != nil {
		return fmt.Errorf("rwlock: drop reader: %w", err)
	}
	return nil
}

// WriteGuard represents a held exclusive (writer) lease.
type WriteGuard[T any] struct {
	r     *RwLock[T]
	token int64
}

// Token returns this WriteGuard's fencing token.
func (g *WriteGuard[T]) Token() int64 { return g.token }

// Store serializes v and writes it to the guarded key, gated on this
// writer's token still holding K:lock.
func (g *WriteGuard[T]) Store(ctx context.Context, v T) error {
	s, err := g.r.codec.Encode(v)
	if err != nil {
		return err
	}
	token := strconv.FormatInt(g.token, 10)
	res, err := g.r.runner.Exec(ctx, scriptStore, []string{g.r.lockKey, g.r.key}, []string{token, s})
	if err != nil {
		return fmt.Errorf("rwlock: store: %w", err)
	}
	ok, err := res.AsInt64()
	if err != nil {
		return fmt.Errorf("rwlock: store: %w", err)
	}
	if ok == 0 {
		return &syncerr.LockExpiredError{Token: g.token}
	}
	return nil
}

// Drop releases the writer's intent key and, if still held, the exclusive
// lock itself.
func (g *WriteGuard[T]) Drop(ctx context.Context) error {
	token := strconv.FormatInt(g.token, 10)
	writerKey := g.r.writerKeyPrefix + token
	if _, err := g.r.runner.Exec(ctx, scriptWriterDrop, []string{g.r.lockKey, writerKey}, []string{token}); err != nil {
		return fmt.Errorf("rwlock: drop writer: %w", err)
	}
	return nil
}

// Read allocates a reader token and spins until it is admitted: K:lock must
// be absent and no writer-intent key may exist at the moment of admission.
func (r *RwLock[T]) Read(ctx context.Context) (*ReadGuard[T], error) {
	token, err := r.allocateToken(ctx)
	if err != nil {
		return nil, err
	}
	tokenStr := strconv.FormatInt(token, 10)
	readerKey := r.readerKeyPrefix + tokenStr
	ttl := strconv.FormatInt(r.leaseTTLSec, 10)

	op := func() (*ReadGuard[T], error) {
		res, err := r.runner.Exec(ctx, scriptReaderLock, []string{r.lockKey, readerKey}, []string{r.writerPattern, ttl})
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rwlock: read: %w: %w", syncerr.ErrLockFailed, err))
		}
		granted, err := res.AsInt64()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rwlock: read: %w: %w", syncerr.ErrLockFailed, err))
		}
		if granted == 0 {
			return nil, errNotAdmitted
		}
		return &ReadGuard[T]{r: r, token: token}, nil
	}

	g, err := backoff.Retry(ctx, op, backoff.WithBackOff(r.backOff()))
	if err != nil {
		return nil, fmt.Errorf("rwlock: read %s: %w", r.key, err)
	}
	r.logger.DebugContext(ctx, "reader admitted", slog.Int64("token", token))
	return g, nil
}

// Write allocates a writer token and spins until the exclusive lock is
// acquired, re-registering its intent key on every attempt so a long spin
// never lets new readers slip in.
func (r *RwLock[T]) Write(ctx context.Context) (*WriteGuard[T], error) {
	token, err := r.allocateToken(ctx)
	if err != nil {
		return nil, err
	}
	tokenStr := strconv.FormatInt(token, 10)
	writerKey := r.writerKeyPrefix + tokenStr
	ttl := strconv.FormatInt(r.leaseTTLSec, 10)

	op := func() (*WriteGuard[T], error) {
		res, err := r.runner.Exec(ctx, scriptWriterLock, []string{r.lockKey, writerKey}, []string{ttl, tokenStr})
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rwlock: write: %w: %w", syncerr.ErrLockFailed, err))
		}
		granted, err := res.AsInt64()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("rwlock: write: %w: %w", syncerr.ErrLockFailed, err))
		}
		if granted == 0 {
			return nil, errNotAdmitted
		}
		return &WriteGuard[T]{r: r, token: token}, nil
	}

	g, err := backoff.Retry(ctx, op, backoff.WithBackOff(r.backOff()))
	if err != nil {
		return nil, fmt.Errorf("rwlock: write %s: %w", r.key, err)
	}
	r.logger.DebugContext(ctx, "writer acquired", slog.Int64("token", token))
	return g, nil
}

var errNotAdmitted = errors.New("rwlock: not admitted yet")
