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

// Package redistest spins up an in-process miniredis server and a rueidis
// client pointed at it, for use by every coordination primitive's tests.
package redistest

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
)

// Server bundles a running miniredis instance with a connected client.
type Server struct {
	Mini   *miniredis.Miniredis
	Client rueidis.Client
}

// New starts a miniredis instance and a rueidis client against it, both torn
// down automatically via t.Cleanup.
func New(t *testing.T) *Server {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{mr.Addr()},
		DisableCache: true,
	})
	if err != nil {
		t.Fatalf("redistest: connect client: %v", err)
	}
	t.Cleanup(client.Close)

	return &Server{Mini: mr, Client: client}
}

// FastForward advances miniredis's internal clock, expiring any TTL'd keys
// whose lease has elapsed — used to simulate lease expiry deterministically
// instead of sleeping in real time.
func (s *Server) FastForward(d time.Duration) {
	s.Mini.FastForward(d)
}
