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

// Package list implements List[T], a thin typed wrapper over a server-side
// Redis list, and CachedList[T], which mirrors it in a local deque.
package list

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kodeflow/redisync/modules/codec"
	"github.com/kodeflow/redisync/modules/syncerr"
)

// List is a typed FIFO/LIFO handle over the native Redis list stored at key.
type List[T any] struct {
	key    string
	client rueidis.Client
	codec  codec.Codec[T]
}

// Option configures a List at construction time.
type Option[T any] func(*listConfig[T])

type listConfig[T any] struct {
	codec codec.Codec[T]
}

// WithCodec overrides the default codec.JSON[T] codec.
func WithCodec[T any](c codec.Codec[T]) Option[T] {
	return func(cfg *listConfig[T]) { cfg.codec = c }
}

// New binds a List to key. No I/O is performed.
func New[T any](key string, client rueidis.Client, opts ...Option[T]) *List[T] {
	cfg := listConfig[T]{codec: codec.JSON[T]{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &List[T]{key: key, client: client, codec: cfg.codec}
}

// Key returns the Redis key this List is bound to.
func (l *List[T]) Key() string { return l.key }

// PushFront prepends v (LPUSH).
func (l *List[T]) PushFront(ctx context.Context, v T) error {
	s, err := l.codec.Encode(v)
	if err != nil {
		return err
	}
	return backendErr(l.client.Do(ctx, l.client.B().Lpush().Key(l.key).Element(s).Build()).Error())
}

// PushBack appends v (RPUSH).
func (l *List[T]) PushBack(ctx context.Context, v T) error {
	s, err := l.codec.Encode(v)
	if err != nil {
		return err
	}
	return backendErr(l.client.Do(ctx, l.client.B().Rpush().Key(l.key).Element(s).Build()).Error())
}

// PopFront removes and returns the first element (LPOP). Returns
// syncerr.ErrNotFound if the list is empty.
func (l *List[T]) PopFront(ctx context.Context) (T, error) {
	return l.pop(ctx, l.client.B().Lpop().Key(l.key).Build())
}

// PopBack removes and returns the last element (RPOP). Returns
// syncerr.ErrNotFound if the list is empty.
func (l *List[T]) PopBack(ctx context.Context) (T, error) {
	return l.pop(ctx, l.client.B().Rpop().Key(l.key).Build())
}

func (l *List[T]) pop(ctx context.Context, cmd rueidis.Completed) (T, error) {
	var zero T
	res := l.client.Do(ctx, cmd)
	s, err := res.ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return zero, syncerr.ErrNotFound
		}
		return zero, backendErr(err)
	}
	return l.codec.Decode(s)
}

// Len returns the number of elements (LLEN).
func (l *List[T]) Len(ctx context.Context) (int64, error) {
	n, err := l.client.Do(ctx, l.client.B().Llen().Key(l.key).Build()).AsInt64()
	if err != nil {
		return 0, backendErr(err)
	}
	return n, nil
}

// Clear removes the entire list (DEL).
func (l *List[T]) Clear(ctx context.Context) error {
	return backendErr(l.client.Do(ctx, l.client.B().Del().Key(l.key).Build()).Error())
}

// Contains reads the whole list (LRANGE 0 -1) and scans it linearly on the
// client, looking for an element whose encoded form equals v's.
func (l *List[T]) Contains(ctx context.Context, v T) (bool, error) {
	want, err := l.codec.Encode(v)
	if err != nil {
		return false, err
	}
	all, err := l.rangeAll(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range all {
		if s == want {
			return true, nil
		}
	}
	return false, nil
}

// At returns the element at index (LINDEX), or syncerr.ErrNotFound if index
// is out of range. It is not snapshot-isolated: a concurrent mutation may
// shift indices between calls.
func (l *List[T]) At(ctx context.Context, index int64) (T, error) {
	var zero T
	res := l.client.Do(ctx, l.client.B().Lindex().Key(l.key).Index(index).Build())
	s, err := res.ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return zero, syncerr.ErrNotFound
		}
		return zero, backendErr(err)
	}
	return l.codec.Decode(s)
}

func (l *List[T]) rangeAll(ctx context.Context) ([]string, error) {
	res := l.client.Do(ctx, l.client.B().Lrange().Key(l.key).Start(0).Stop(-1).Build())
	raw, err := res.AsStrSlice()
	if err != nil {
		return nil, backendErr(err)
	}
	return raw, nil
}

func backendErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("list: %w: %v", syncerr.ErrBackendUnavailable, err)
}
