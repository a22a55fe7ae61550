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

// Package setload implements a causal register: concurrent writers agree
// on a total order via a monotone per-writer counter, and the write
// carrying the highest counter the server has seen always wins.
package setload

import (
	_ "embed"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/cell"
	"github.com/kodeflow/redisync/modules/codec"
	"github.com/kodeflow/redisync/modules/script"
	"github.com/kodeflow/redisync/modules/syncerr"
)

//go:embed set_load.lua
var setLoadLua string

//go:embed load.lua
var loadLua string

const (
	scriptSetLoad = "setload:set_load"
	scriptLoad    = "setload:load"
)

// SetLoad is a causal register bound to K. Its local counter c is bumped
// on every Store attempt and only ever moves forward, including past
// conflicting writers' observed order on StoreBlocking retries.
type SetLoad[T any] struct {
	client rueidis.Client
	runner *script.Runner
	codec  codec.Codec[T]

	key      string
	orderKey string

	counter  int64
	cache    T
	hasCache bool
}

// New constructs a SetLoad bound to c's key and immediately loads current
// server state into its cache and counter.
func New[T any](ctx context.Context, c *cell.Cell[T]) (*SetLoad[T], error) {
	s := &SetLoad[T]{
		client:   c.Client(),
		runner:   script.NewRunner(c.Client()),
		codec:    c.Codec(),
		key:      c.Key(),
		orderKey: c.Key() + ":order",
	}
	s.runner.Register(scriptSetLoad, setLoadLua)
	s.runner.Register(scriptLoad, loadLua)

	if _, err := s.Load(ctx); err != nil && !errors.Is(err, syncerr.ErrNotFound) {
		return nil, err
	}
	return s, nil
}

// Key returns the Redis key this SetLoad is bound to.
func (s *SetLoad[T]) Key() string { return s.key }

// Cached returns the local cache without performing any I/O.
func (s *SetLoad[T]) Cached() (T, bool) { return s.cache, s.hasCache }

// Counter returns this writer's current local counter value.
func (s *SetLoad[T]) Counter() int64 { return s.counter }

// attempt submits c as this writer's counter for v and reports whether it
// won (the value and order it wrote are the ones now on the server), along
// with the order the server settled on regardless of outcome.
func (s *SetLoad[T]) attempt(ctx context.Context, c int64, v T) (won bool, serverOrder int64, err error) {
	encoded, err := s.codec.Encode(v)
	if err != nil {
		return false, 0, err
	}

	res, execErr := s.runner.Exec(ctx, scriptSetLoad, []string{s.orderKey, s.key}, []string{strconv.FormatInt(c, 10), encoded})
	if execErr != nil {
		return false, 0, fmt.Errorf("setload: store: %w", execErr)
	}
	arr, err := res.ToArray()
	if err != nil {
		return false, 0, fmt.Errorf("setload: store: %w", err)
	}
	if len(arr) < 2 {
		return false, 0, fmt.Errorf("setload: store: malformed script reply")
	}

	serverOrder, err = arr[1].ToInt64()
	if err != nil {
		return false, 0, fmt.Errorf("setload: store: %w", err)
	}
	if serverOrder != c {
		return false, serverOrder, nil
	}

	serverValue, err := arr[0].ToString()
	if err != nil {
		return false, 0, fmt.Errorf("setload: store: %w", err)
	}
	return serverValue == encoded, serverOrder, nil
}

// Store increments the local counter and attempts to write v with it. If
// another writer's counter is already ahead on the server, Store returns
// syncerr.ErrOrderConflict and leaves the cache untouched; the local
// counter still advances, matching the source's "always bump, even on
// loss" behavior.
func (s *SetLoad[T]) Store(ctx context.Context, v T) error {
	s.counter++
	won, _, err := s.attempt(ctx, s.counter, v)
	if err != nil {
		return err
	}
	if !won {
		return syncerr.ErrOrderConflict
	}
	s.cache = v
	s.hasCache = true
	return nil
}

// StoreBlocking retries Store, bumping the local counter past the server's
// observed order on every conflict, until the write wins.
func (s *SetLoad[T]) StoreBlocking(ctx context.Context, v T) error {
	for {
		s.counter++
		won, serverOrder, err := s.attempt(ctx, s.counter, v)
		if err != nil {
			return err
		}
		if won {
			s.cache = v
			s.hasCache = true
			return nil
		}
		s.counter = serverOrder
	}
}

// Load reads K and K:order together, updates the local cache and counter
// to match, and returns the loaded value. It returns syncerr.ErrNotFound
// if K has never been written, leaving the counter at 0.
func (s *SetLoad[T]) Load(ctx context.Context) (T, error) {
	var zero T

	res, err := s.runner.Exec(ctx, scriptLoad, []string{s.key, s.orderKey}, nil)
	if err != nil {
		return zero, fmt.Errorf("setload: load: %w", err)
	}
	arr, err := res.ToArray()
	if err != nil {
		return zero, fmt.Errorf("setload: load: %w", err)
	}
	if len(arr) < 2 {
		return zero, fmt.Errorf("setload: load: malformed script reply")
	}

	if arr[1].IsNil() {
		s.counter = 0
	} else {
		o, err := arr[1].ToInt64()
		if err != nil {
			return zero, fmt.Errorf("setload: load: %w", err)
		}
		s.counter = o
	}

	if arr[0].IsNil() {
		s.hasCache = false
		return zero, syncerr.ErrNotFound
	}

	str, err := arr[0].ToString()
	if err != nil {
		return zero, fmt.Errorf("setload: load: %w", err)
	}
	v, err := s.codec.Decode(str)
	if err != nil {
		return zero, err
	}
	s.cache = v
	s.hasCache = true
	return v, nil
}
