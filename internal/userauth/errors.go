// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import "errors"

// Sentinel errors the AccountGateway contract is expressed in. The gateway
// implementation wraps these so the dialogue can distinguish user-recoverable
// input errors from store failures.
var (
	// ErrNotFound is returned when an account or character does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidName is returned when a username or character name fails
	// validation rules.
	ErrInvalidName = errors.New("invalid name")

	// ErrNameTaken is returned when a username or character name is already
	// in use.
	ErrNameTaken = errors.New("name taken")
)
