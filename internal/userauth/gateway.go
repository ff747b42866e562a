// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import "context"

// OfferedKey is a public key the client presented before its identity was
// established. Keys are only remembered for the lifetime of the session and
// persisted if an account is subsequently created.
type OfferedKey struct {
	Algorithm string
	Blob      []byte
}

// CreateAccountParams carries everything needed to register a new account.
type CreateAccountParams struct {
	Username   string
	Password   string
	Character  string
	PublicKeys []OfferedKey
}

// AccountGateway is the contract the state machine requires from the backing
// account store. Implementations wrap the package sentinels (ErrNotFound,
// ErrInvalidName, ErrNameTaken) so callers can branch on them.
type AccountGateway interface {
	// Exists reports whether an account with the given username exists.
	Exists(ctx context.Context, username string) (bool, error)

	// VerifyPassword checks a password against the stored credential.
	// A wrong password is (false, nil), not an error.
	VerifyPassword(ctx context.Context, username, password string) (bool, error)

	// CreateAccount registers a new account with its first character and any
	// public keys collected during negotiation.
	CreateAccount(ctx context.Context, params CreateAccountParams) error

	// ListCharacters returns the names of the account's characters.
	ListCharacters(ctx context.Context, username string) ([]string, error)

	// CreateCharacter adds a character to an existing account.
	CreateCharacter(ctx context.Context, username, name string) error

	// SelectCharacter validates that the named character belongs to the
	// account. Returns ErrNotFound (wrapped) if it does not.
	SelectCharacter(ctx context.Context, username, name string) error
}
