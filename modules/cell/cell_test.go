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

package cell

import (
	"context"
	"errors"
	"testing"

	"github.com/kodeflow/redisync/modules/redistest"
	"github.com/kodeflow/redisync/modules/syncerr"
)

func TestTwoProcessStringHandoff(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()

	a, err := WithValue[string](ctx, "Hello", "test", srv.Client)
	if err != nil {
		t.Fatalf("withValue: %v", err)
	}
	if v, ok := a.Cached(); !ok || v != "Hello" {
		t.Fatalf("a.Cached() = %q, %v, want Hello, true", v, ok)
	}

	b, err := WithLoad[string](ctx, "test", srv.Client)
	if err != nil {
		t.Fatalf("withLoad: %v", err)
	}
	if v, ok := b.Cached(); !ok || v != "Hello" {
		t.Fatalf("b.Cached() = %q, %v, want Hello, true", v, ok)
	}

	if err := a.Store(ctx, "World"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := b.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if v, ok := b.Cached(); !ok || v != "World" {
		t.Fatalf("b.Cached() after acquire = %q, %v, want World, true", v, ok)
	}
}

func TestWithLoadMissingKeyLeavesCacheEmpty(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()

	c, err := WithLoad[string](ctx, "missing", srv.Client)
	if err != nil {
		t.Fatalf("withLoad: %v", err)
	}
	if _, ok := c.Cached(); ok {
		t.Fatalf("Cached() should report absent for a key never written")
	}
}

func TestWithValueDefaultSeedsOnlyWhenAbsent(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()

	c1, err := WithValueDefault[int](ctx, 1, "k", srv.Client)
	if err != nil {
		t.Fatalf("withValueDefault (seed): %v", err)
	}
	if v, _ := c1.Cached(); v != 1 {
		t.Fatalf("seed cache = %d, want 1", v)
	}

	c2, err := WithValueDefault[int](ctx, 2, "k", srv.Client)
	if err != nil {
		t.Fatalf("withValueDefault (existing): %v", err)
	}
	if v, _ := c2.Cached(); v != 1 {
		t.Fatalf("existing cache = %d, want 1 (should not overwrite)", v)
	}
}

func TestAcquireNotFound(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()

	c := Empty[string]("absent", srv.Client)
	if _, err := c.Acquire(ctx); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("Acquire() err = %v, want ErrNotFound", err)
	}
}

func TestIntoInnerDeletesKeyAndRequiresCache(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()

	empty := Empty[string]("x", srv.Client)
	if _, err := empty.IntoInner(ctx); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("IntoInner on empty cache err = %v, want ErrNotFound", err)
	}

	c, err := WithValue[string](ctx, "gone-soon", "x", srv.Client)
	if err != nil {
		t.Fatalf("withValue: %v", err)
	}

	v, err := c.IntoInner(ctx)
	if err != nil {
		t.Fatalf("IntoInner: %v", err)
	}
	if v != "gone-soon" {
		t.Fatalf("IntoInner value = %q, want gone-soon", v)
	}

	if _, err := srv.Mini.Get("x"); err == nil {
		t.Fatalf("key %q should have been deleted server-side", "x")
	}
}

func TestStoreIdempotence(t *testing.T) {
	srv := redistest.New(t)
	ctx := context.Background()

	c, err := WithValue[int](ctx, 42, "n", srv.Client)
	if err != nil {
		t.Fatalf("withValue: %v", err)
	}
	for range 3 {
		if err := c.Store(ctx, 42); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	got, _ := srv.Mini.Get("n")
	if got != "42" {
		t.Fatalf("server value = %q, want 42", got)
	}
	if v, _ := c.Cached(); v != 42 {
		t.Fatalf("cache = %d, want 42", v)
	}
}

func TestStructRoundTrip(t *testing.T) {
	type Profile struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}

	srv := redistest.New(t)
	ctx := context.Background()

	want := Profile{Name: "ada", Age: 36}
	_, err := WithValue[Profile](ctx, want, "profile", srv.Client)
	if err != nil {
		t.Fatalf("withValue: %v", err)
	}

	loaded, err := WithLoad[Profile](ctx, "profile", srv.Client)
	if err != nil {
		t.Fatalf("withLoad: %v", err)
	}
	got, ok := loaded.Cached()
	if !ok || got != want {
		t.Fatalf("Cached() = %+v, %v, want %+v, true", got, ok, want)
	}
}
