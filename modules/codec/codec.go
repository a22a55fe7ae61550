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

// Package codec defines the pluggable text codec every coordination
// primitive uses to move a typed Go value in and out of a Redis string.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/kodeflow/redisync/modules/syncerr"
)

// Codec serializes and deserializes values of type T to and from the
// text-safe form stored under a Redis key. Implementations must be
// deterministic: encoding the same value twice must produce the same
// string, since several primitives (e.g. SetLoad) compare the stored form
// for equality.
type Codec[T any] interface {
	Encode(v T) (string, error)
	Decode(s string) (T, error)
}

// JSON is the default Codec, generalizing the JSON fallback in a typical
// Redis KV wrapper: strings/[]byte pass through unchanged, everything else
// is marshaled. encoding/json already serializes struct fields in
// declaration order and map keys in sorted order, so output is stable.
type JSON[T any] struct{}

func (JSON[T]) Encode(v T) (string, error) {
	switch x := any(v).(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", syncerr.ErrSerialization, err)
	}
	return string(b), nil
}

func (JSON[T]) Decode(s string) (T, error) {
	var v T
	switch any(v).(type) {
	case string:
		return any(s).(T), nil
	case []byte:
		return any([]byte(s)).(T), nil
	}

	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return v, fmt.Errorf("%w: %v", syncerr.ErrSerialization, err)
	}
	return v, nil
}
