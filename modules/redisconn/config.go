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

package redisconn

import "time"

// Config contains configuration for constructing the rueidis.Client shared
// by every coordination primitive in this module.
//
// URL is a standard Redis URI, for example:
//
//   - Single:  redis://:password@localhost:6379/0
//   - TLS:     rediss://:password@my-redis.example.com:6379/0
//   - Cluster: redis://:password@host1:6379/0?addr=host2:6379&addr=host3:6379
//
// Cluster vs single vs sentinel is auto-detected by rueidis based on
// InitAddress and options.
type Config struct {
	// Required: Redis connection URL (redis:// or rediss://).
	URL string `env:"URL" envDefault:"redis://localhost:6379/0"`

	// Optional: client name visible in CLIENT LIST, etc.
	ClientName string `env:"CLIENT_NAME"`

	// SkipTLSVerify disables TLS certificate verification. Only use this in
	// trusted environments.
	SkipTLSVerify bool `env:"SKIP_TLS_VERIFY"`

	// RequireTLS enforces the use of rediss:// (or other TLS-enabled
	// schemes). If true and the URL is redis://, New returns an error.
	RequireTLS bool `env:"REQUIRE_TLS"`

	// Tuning flags — leave zero-valued to keep rueidis defaults.
	DisableRetry     bool          `env:"DISABLE_RETRY"`
	AlwaysPipelining bool          `env:"ALWAYS_PIPELINING"`
	ConnWriteTimeout time.Duration `env:"CONN_WRITE_TIMEOUT"`

	// EnableOtel builds the client with rueidisotel.NewClient.
	EnableOtel bool `env:"ENABLE_OTEL"`
}

// Defaults carries the chosen lease/TTL trade-offs shared across
// coordination primitives: correctness over availability under client
// pauses. Components may override any of these via their own Option.
type Defaults struct {
	// MutexLeaseTTL is the default Mutex lock TTL.
	MutexLeaseTTL time.Duration `env:"MUTEX_LEASE_TTL" envDefault:"1s"`
	// MutexExpandTTL is the default Guard.Expand extension.
	MutexExpandTTL time.Duration `env:"MUTEX_EXPAND_TTL" envDefault:"2s"`
	// RwLockLeaseTTL is the default RwLock reader/writer presence TTL.
	RwLockLeaseTTL time.Duration `env:"RWLOCK_LEASE_TTL" envDefault:"1s"`
	// BarrierLeaseTTL is the default Barrier waiting-presence TTL.
	BarrierLeaseTTL time.Duration `env:"BARRIER_LEASE_TTL" envDefault:"2s"`
}

// MutexLeaseTTLSeconds converts MutexLeaseTTL for mutex.WithLeaseTTLSeconds.
func (d Defaults) MutexLeaseTTLSeconds() int64 { return int64(d.MutexLeaseTTL.Seconds()) }

// MutexExpandTTLSeconds converts MutexExpandTTL for mutex.WithExpandTTLSeconds.
func (d Defaults) MutexExpandTTLSeconds() int64 { return int64(d.MutexExpandTTL.Seconds()) }

// RwLockLeaseTTLSeconds converts RwLockLeaseTTL for rwlock.WithLeaseTTLSeconds.
func (d Defaults) RwLockLeaseTTLSeconds() int64 { return int64(d.RwLockLeaseTTL.Seconds()) }

// BarrierLeaseTTLSeconds converts BarrierLeaseTTL for barrier.WithLeaseTTLSeconds.
func (d Defaults) BarrierLeaseTTLSeconds() int64 { return int64(d.BarrierLeaseTTL.Seconds()) }
