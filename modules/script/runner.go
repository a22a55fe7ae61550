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

// Package script wraps keyed Lua script invocation against a rueidis.Client.
//
// All coordination logic in this module lives in scripts run through a
// Runner: the mutex, rwlock, barrier, setload and maintenance packages
// perform every compound read-then-write against Redis as a single
// indivisible Lua script. The one client-side read-then-write is
// cell.WithValueDefault, which issues its GET and its SET as two separate
// commands.
package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/rueidis"
)

// Runner caches *rueidis.Lua scripts by name and submits them with
// positional string KEYS/ARGV. rueidis.Lua already performs EVALSHA with a
// transparent EVAL fallback on NOSCRIPT, so Runner's job is purely a named
// registry on top of that — it does not re-implement SHA caching itself.
type Runner struct {
	client rueidis.Client

	mu      sync.RWMutex
	scripts map[string]*rueidis.Lua
}

// NewRunner constructs a Runner bound to client. The same client may be
// shared by multiple Runners (e.g. one per coordination primitive).
func NewRunner(client rueidis.Client) *Runner {
	return &Runner{
		client:  client,
		scripts: make(map[string]*rueidis.Lua),
	}
}

// Register compiles and caches src under name. Calling Register twice with
// the same name replaces the previous script; each primitive registers its
// scripts once, in its constructor.
func (r *Runner) Register(name, src string) {
	s := rueidis.NewLuaScript(src)
	r.mu.Lock()
	r.scripts[name] = s
	r.mu.Unlock()
}

// Exec runs the named script with the given KEYS and ARGV and returns the
// raw rueidis.RedisResult for the caller to decode (AsInt64, AsBytes, ...).
// err is non-nil only when name was never Register-ed; Redis/script errors
// are carried inside the returned RedisResult itself.
func (r *Runner) Exec(ctx context.Context, name string, keys, args []string) (rueidis.RedisResult, error) {
	r.mu.RLock()
	s, ok := r.scripts[name]
	r.mu.RUnlock()
	if !ok {
		return rueidis.RedisResult{}, fmt.Errorf("script: unregistered script %q", name)
	}
	return s.Exec(ctx, r.client, keys, args), nil
}

// Client returns the underlying client, for primitives that also need to
// issue plain (non-scripted) commands such as INCR on a counter key.
func (r *Runner) Client() rueidis.Client {
	return r.client
}
