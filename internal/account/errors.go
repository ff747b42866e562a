// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package account

import "errors"

// Repository-level sentinel errors. The service maps these onto the
// gateway's sentinels before they cross the package boundary.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness violation on a name.
	ErrDuplicate = errors.New("duplicate name")
)
