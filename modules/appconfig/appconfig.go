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

// Package appconfig aggregates this module's environment-driven
// configuration into a single struct a host process can load once at
// startup and pass down to redisconn.New and every primitive constructor.
package appconfig

import (
	"github.com/caarlos0/env/v11"

	"github.com/kodeflow/redisync/modules/redisconn"
)

// Config is the root configuration struct. A host process embeds or
// constructs one of these via Load and distributes its fields to
// redisconn.New and the primitive-level Option constructors.
type Config struct {
	Env string `env:"ENV" envDefault:"dev"`

	Redis    redisconn.Config   `envPrefix:"REDIS_"`
	Defaults redisconn.Defaults `envPrefix:"REDISYNC_"`
}

// Load parses Config from the process environment.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
