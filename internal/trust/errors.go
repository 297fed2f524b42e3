// Copyright 2026 The Keyring Authors
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

package trust

import (
	"errors"
	"fmt"
)

// Domain errors.  Conflict and NotFound are always returned to the
// immediate caller; Transport stays inside the refresher and is only
// visible through the audit log.
var (
	// ErrInvalidKeyMaterial marks a candidate key that could not be
	// parsed or is otherwise unusable.  Local to the call, not a
	// trust event.
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// ErrConflict marks an import that requires an explicit trust
	// decision.  Callers resolve it by ignoring the candidate or by
	// calling Rotate.
	ErrConflict = errors.New("conflict")

	// ErrPolicyMismatch is returned when a store is reopened under a
	// context whose network policy differs from the one the store was
	// created with.
	ErrPolicyMismatch = errors.New("network policy mismatch")

	// ErrNotFound is returned for operations on deleted or
	// nonexistent stores, bindings and keys.
	ErrNotFound = errors.New("not found")

	// ErrTransport marks a failed fetch from a remote directory.
	ErrTransport = errors.New("transport error")

	// ErrStorage marks an unrecoverable persistence failure.
	ErrStorage = errors.New("storage failure")
)

// wrapStorage tags a persistence error so callers can match it with
// errors.Is(err, ErrStorage).
func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
