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

// Package syncerr defines the error taxonomy shared by every coordination
// primitive: cell, list, mutex, rwlock, barrier and setload all return
// sentinel or typed errors from this package instead of inventing their own.
package syncerr

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable signals a network/connection failure talking to Redis.
	// Callers may retry.
	ErrBackendUnavailable = errors.New("syncerr: backend unavailable")

	// ErrNotFound signals that an operation required a value that is absent,
	// e.g. Acquire on an empty key, or IntoInner with an empty cache.
	ErrNotFound = errors.New("syncerr: not found")

	// ErrLockFailed signals that a lock acquisition precondition could not be
	// evaluated because of a backend error during script execution.
	ErrLockFailed = errors.New("syncerr: lock acquisition failed")

	// ErrOrderConflict signals that a SetLoad write lost the race: another
	// writer's counter was already at or ahead of the one presented. Recoverable by
	// retrying with a larger counter (see setload.SetLoad.StoreBlocking).
	ErrOrderConflict = errors.New("syncerr: order conflict")

	// ErrSerialization signals a codec failure encoding or decoding a payload.
	ErrSerialization = errors.New("syncerr: serialization failed")
)

// LockExpiredError reports that fencing token Token no longer holds the
// lease it was issued for. It is non-recoverable within the current guard:
// the caller must release and re-lock. Token is carried so callers can log
// or compare it without string-parsing the error.
type LockExpiredError struct {
	Token int64
}

func (e *LockExpiredError) Error() string {
	return fmt.Sprintf("syncerr: lock expired for token %d", e.Token)
}

// IsLockExpired reports whether err is (or wraps) a *LockExpiredError.
func IsLockExpired(err error) bool {
	var lee *LockExpiredError
	return errors.As(err, &lee)
}
