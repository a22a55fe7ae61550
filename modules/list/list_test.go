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
	"errors"
	"testing"

	"github.com/kodeflow/redisync/modules/redistest"
	"github.com/kodeflow/redisync/modules/syncerr"
)

func TestListFIFO(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	l := New[int]("q", srv.Client)

	for _, v := range []int{1, 2, 3} {
		if err := l.PushBack(ctx, v); err != nil {
			t.Fatalf("PushBack(%d): %v", v, err)
		}
	}

	for _, want := range []int{1, 2, 3} {
		got, err := l.PopFront(ctx)
		if err != nil {
			t.Fatalf("PopFront: %v", err)
		}
		if got != want {
			t.Fatalf("PopFront = %d, want %d", got, want)
		}
	}

	if _, err := l.PopFront(ctx); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("PopFront on empty list err = %v, want ErrNotFound", err)
	}
}

func TestListLIFO(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	l := New[string]("stack", srv.Client)

	for _, v := range []string{"a", "b", "c"} {
		if err := l.PushFront(ctx, v); err != nil {
			t.Fatalf("PushFront(%s): %v", v, err)
		}
	}

	for _, want := range []string{"c", "b", "a"} {
		got, err := l.PopFront(ctx)
		if err != nil {
			t.Fatalf("PopFront: %v", err)
		}
		if got != want {
			t.Fatalf("PopFront = %s, want %s", got, want)
		}
	}
}

func TestListContainsAndLen(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	l := New[int]("nums", srv.Client)

	for _, v := range []int{10, 20, 30} {
		if err := l.PushBack(ctx, v); err != nil {
			t.Fatalf("PushBack: %v", err)
		}
	}

	n, err := l.Len(ctx)
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("Len = %d, want 3", n)
	}

	found, err := l.Contains(ctx, 20)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if !found {
		t.Fatalf("Contains(20) = false, want true")
	}

	found, err = l.Contains(ctx, 99)
	if err != nil {
		t.Fatalf("Contains: %v", err)
	}
	if found {
		t.Fatalf("Contains(99) = true, want false")
	}
}

func TestListAtOutOfRange(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	l := New[int]("short", srv.Client)
	if err := l.PushBack(ctx, 1); err != nil {
		t.Fatalf("PushBack: %v", err)
	}

	if _, err := l.At(ctx, 5); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("At(5) err = %v, want ErrNotFound", err)
	}
}

func TestCachedListPullAndMutate(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	cl := NewCached[int]("cached", srv.Client)

	for _, v := range []int{1, 2, 3} {
		if err := cl.PushBack(ctx, v); err != nil {
			t.Fatalf("PushBack: %v", err)
		}
	}

	if got := cl.Local(); len(got) != 3 {
		t.Fatalf("Local() after pushes = %v, want 3 elements", got)
	}

	// A second handle on the same key starts with an empty cache until Pull.
	cl2 := NewCached[int]("cached", srv.Client)
	if cl2.Len() != 0 {
		t.Fatalf("fresh CachedList should start empty before Pull")
	}
	if err := cl2.Pull(ctx); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	want := []int{1, 2, 3}
	got := cl2.Local()
	if len(got) != len(want) {
		t.Fatalf("Local() after Pull = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Local()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	if _, err := cl.PopFront(ctx); err != nil {
		t.Fatalf("PopFront: %v", err)
	}
	if cl.Len() != 2 {
		t.Fatalf("Len() after PopFront = %d, want 2", cl.Len())
	}
}

func TestCachedListFailedServerCallDoesNotAdvanceCache(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()
	cl := NewCached[int]("empty-stack", srv.Client)

	if _, err := cl.PopFront(ctx); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("PopFront on empty server list err = %v, want ErrNotFound", err)
	}
	if cl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0 (cache must not advance on failed pop)", cl.Len())
	}
}
