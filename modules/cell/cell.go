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

// Package cell implements Cell[T], the generic key-bound value cell that
// every other coordination primitive in this module wraps.
//
// Binary arithmetic/bitwise operators and the typed integer/bool/string
// aliases some implementations of this idea expose are intentionally not
// provided here: they are thin wrappers over Store and are treated as an
// external concern of this library (see SPEC_FULL.md).
package cell

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/codec"
	"github.com/kodeflow/redisync/modules/syncerr"
)

// Cell is a client-side handle naming a Redis key K and carrying the last
// observed or last written value, or no cached value at all.
//
// A Cell is single-owner: its local cache is not safe for concurrent use by
// multiple goroutines. The server state under K is shared by every Cell (in
// this or any other process) naming the same K.
type Cell[T any] struct {
	key    string
	client rueidis.Client
	codec  codec.Codec[T]

	cache    T
	hasCache bool
}

// Option configures a Cell at construction time.
type Option[T any] func(*Cell[T])

// WithCodec overrides the default codec.JSON[T] codec.
func WithCodec[T any](c codec.Codec[T]) Option[T] {
	return func(cl *Cell[T]) {
		cl.codec = c
	}
}

func newCell[T any](key string, client rueidis.Client, opts ...Option[T]) *Cell[T] {
	c := &Cell[T]{
		key:    key,
		client: client,
		codec:  codec.JSON[T]{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Empty constructs a Cell bound to key with no cache populated and performs
// no I/O.
func Empty[T any](key string, client rueidis.Client, opts ...Option[T]) *Cell[T] {
	return newCell(key, client, opts...)
}

// WithValue constructs a Cell bound to key and unconditionally writes v to
// the server (Store), seeding the local cache.
func WithValue[T any](ctx context.Context, v T, key string, client rueidis.Client, opts ...Option[T]) (*Cell[T], error) {
	c := newCell(key, client, opts...)
	if err := c.Store(ctx, v); err != nil {
		return nil, err
	}
	return c, nil
}

// WithLoad constructs a Cell bound to key and reads the current server
// value into the cache (Acquire). If key is absent, the cache stays empty
// rather than surfacing an error.
func WithLoad[T any](ctx context.Context, key string, client rueidis.Client, opts ...Option[T]) (*Cell[T], error) {
	c := newCell(key, client, opts...)
	_, err := c.Acquire(ctx)
	if err != nil && !errors.Is(err, syncerr.ErrNotFound) {
		return nil, err
	}
	return c, nil
}

// WithValueDefault constructs a Cell bound to key. If the server already
// has a value under key, that value is loaded into the cache; otherwise v
// is written (Store). The read and the write are two separate commands, not
// one atomic step: a value another client writes between them is
// overwritten by v.
func WithValueDefault[T any](ctx context.Context, v T, key string, client rueidis.Client, opts ...Option[T]) (*Cell[T], error) {
	c := newCell(key, client, opts...)
	_, err := c.Acquire(ctx)
	switch {
	case err == nil:
		return c, nil
	case errors.Is(err, syncerr.ErrNotFound):
		if err := c.Store(ctx, v); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, err
	}
}

// Key returns the Redis key this Cell is bound to.
func (c *Cell[T]) Key() string { return c.key }

// Client returns the rueidis.Client this Cell talks to. Other coordination
// primitives in this module that wrap a Cell use this to share a single
// connection and build their own Lua-scripted operations against the same
// key space.
func (c *Cell[T]) Client() rueidis.Client { return c.client }

// Codec returns the codec.Codec[T] this Cell serializes values with.
func (c *Cell[T]) Codec() codec.Codec[T] { return c.codec }

// Store serializes v, unconditionally overwrites K on the server, and
// updates the local cache to v.
func (c *Cell[T]) Store(ctx context.Context, v T) error {
	s, err := c.codec.Encode(v)
	if err != nil {
		return err
	}

	cmd := c.client.B().Set().Key(c.key).Value(s).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return errBackend(err)
	}

	c.cache = v
	c.hasCache = true
	return nil
}

// Acquire reads K from the server, deserializes it, updates the local
// cache, and returns the value. If K does not exist, Acquire returns
// syncerr.ErrNotFound and leaves the cache untouched.
func (c *Cell[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	res := c.client.Do(ctx, c.client.B().Get().Key(c.key).Build())
	s, err := res.ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return zero, syncerr.ErrNotFound
		}
		return zero, errBackend(err)
	}

	v, err := c.codec.Decode(s)
	if err != nil {
		return zero, err
	}

	c.cache = v
	c.hasCache = true
	return v, nil
}

// Cached returns the local cache without performing any I/O. The second
// return value is false if no value has been observed or written yet.
func (c *Cell[T]) Cached() (T, bool) {
	return c.cache, c.hasCache
}

// IntoInner deletes K on the server and returns the cached value, leaving
// the cache empty. If the cache is already empty it fails with
// syncerr.ErrNotFound and sends no delete to the server.
func (c *Cell[T]) IntoInner(ctx context.Context) (T, error) {
	var zero T
	if !c.hasCache {
		return zero, syncerr.ErrNotFound
	}

	if err := c.client.Do(ctx, c.client.B().Del().Key(c.key).Build()).Error(); err != nil {
		return zero, errBackend(err)
	}

	v := c.cache
	c.hasCache = false
	c.cache = zero
	return v, nil
}

func errBackend(err error) error {
	return fmt.Errorf("cell: %w: %v", syncerr.ErrBackendUnavailable, err)
}
