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

package list

import (
	"context"

	"github.com/redis/rueidis"
)

// CachedList wraps a List[T] and mirrors it in a local deque (a slice used
// as a double-ended queue, front at index 0). Every mutation is
// server-first, cache-second: a failed server call must never leave the
// local cache ahead of the server, so the cache is only updated after the
// server call that justifies the update has succeeded.
type CachedList[T any] struct {
	list  *List[T]
	local []T
}

// NewCached binds a CachedList to key. The local cache starts empty; call
// Pull to populate it from the server.
func NewCached[T any](key string, client rueidis.Client, opts ...Option[T]) *CachedList[T] {
	return &CachedList[T]{list: New[T](key, client, opts...)}
}

// Key returns the Redis key this CachedList is bound to.
func (c *CachedList[T]) Key() string { return c.list.Key() }

// PushFront prepends v server-first, then mirrors it onto the local cache.
func (c *CachedList[T]) PushFront(ctx context.Context, v T) error {
	if err := c.list.PushFront(ctx, v); err != nil {
		return err
	}
	c.local = append([]T{v}, c.local...)
	return nil
}

// PushBack appends v server-first, then mirrors it onto the local cache.
func (c *CachedList[T]) PushBack(ctx context.Context, v T) error {
	if err := c.list.PushBack(ctx, v); err != nil {
		return err
	}
	c.local = append(c.local, v)
	return nil
}

// PopFront removes the first element server-first; the local cache is only
// trimmed after the server call succeeds.
func (c *CachedList[T]) PopFront(ctx context.Context) (T, error) {
	v, err := c.list.PopFront(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(c.local) > 0 {
		c.local = c.local[1:]
	}
	return v, nil
}

// PopBack removes the last element server-first; the local cache is only
// trimmed after the server call succeeds.
func (c *CachedList[T]) PopBack(ctx context.Context) (T, error) {
	v, err := c.list.PopBack(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if len(c.local) > 0 {
		c.local = c.local[:len(c.local)-1]
	}
	return v, nil
}

// Len returns the length of the local cache without I/O. Call Pull first if
// the cache may be stale.
func (c *CachedList[T]) Len() int { return len(c.local) }

// Local returns a snapshot copy of the local cache without I/O.
func (c *CachedList[T]) Local() []T {
	out := make([]T, len(c.local))
	copy(out, c.local)
	return out
}

// Pull resynchronizes the local cache with a full range read of the server
// list, discarding whatever the cache held before.
func (c *CachedList[T]) Pull(ctx context.Context) error {
	all, err := c.list.rangeAll(ctx)
	if err != nil {
		return err
	}
	fresh := make([]T, 0, len(all))
	for _, s := range all {
		v, err := c.list.codec.Decode(s)
		if err != nil {
			return err
		}
		fresh = append(fresh, v)
	}
	c.local = fresh
	return nil
}

// Clear removes the list server-side, then clears the local cache.
func (c *CachedList[T]) Clear(ctx context.Context) error {
	if err := c.list.Clear(ctx); err != nil {
		return err
	}
	c.local = nil
	return nil
}
