// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

// Package account manages player accounts, their characters, and the public
// keys offered during registration.
package account

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/embermush/embermush/internal/userauth"
)

// Name validation constraints, shared by usernames and character names.
const (
	MinNameLength = 2
	MaxNameLength = 30
)

// nameRegex matches names that start with a letter and contain only
// letters, numbers, and underscores.
var nameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Account is a registered player account.
type Account struct {
	ID           ulid.ULID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Character is a playable character belonging to an account.
type Character struct {
	ID           ulid.ULID
	AccountID    ulid.ULID
	Name         string
	CreatedAt    time.Time
	LastPlayedAt *time.Time
}

// PublicKey is a key offered during registration, kept for a future
// key-based login path.
type PublicKey struct {
	ID          ulid.ULID
	AccountID   ulid.ULID
	Algorithm   string
	Fingerprint string
	Blob        []byte
	CreatedAt   time.Time
}

// ValidateName checks a username or character name against the naming rules.
// Violations wrap the gateway's invalid-name sentinel so callers can branch
// on the category without parsing messages.
func ValidateName(name string) error {
	switch {
	case name == "":
		return oops.Code("ACCOUNT_INVALID_NAME").
			With("reason", "empty").
			Wrap(userauth.ErrInvalidName)
	case len(name) < MinNameLength:
		return oops.Code("ACCOUNT_INVALID_NAME").
			With("reason", "too short").
			With("min", MinNameLength).
			Wrap(userauth.ErrInvalidName)
	case len(name) > MaxNameLength:
		return oops.Code("ACCOUNT_INVALID_NAME").
			With("reason", "too long").
			With("max", MaxNameLength).
			Wrap(userauth.ErrInvalidName)
	case !nameRegex.MatchString(name):
		return oops.Code("ACCOUNT_INVALID_NAME").
			With("reason", "must start with a letter and contain only letters, numbers, and underscores").
			Wrap(userauth.ErrInvalidName)
	}
	return nil
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// Create stores a new account.
	// Returns ErrDuplicate if the username is already taken.
	Create(ctx context.Context, acct *Account) error

	// GetByUsername retrieves an account by username (case-insensitive).
	// Returns ErrNotFound if no account has the given username.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// AddPublicKey attaches an offered public key to an account.
	AddPublicKey(ctx context.Context, key *PublicKey) error
}

// CharacterRepository manages character persistence.
type CharacterRepository interface {
	// Create stores a new character.
	// Returns ErrDuplicate if the name is already taken.
	Create(ctx context.Context, ch *Character) error

	// GetByName retrieves a character by account and name (case-insensitive).
	// Returns ErrNotFound if the account has no such character.
	GetByName(ctx context.Context, accountID ulid.ULID, name string) (*Character, error)

	// ListByAccount returns the account's characters, oldest first.
	ListByAccount(ctx context.Context, accountID ulid.ULID) ([]Character, error)

	// TouchLastPlayed records that the character was just selected for play.
	TouchLastPlayed(ctx context.Context, id ulid.ULID, at time.Time) error
}
