// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package account

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"golang.org/x/crypto/ssh"

	"github.com/embermush/embermush/internal/userauth"
)

// dummyPasswordHash is used when an account doesn't exist to prevent timing
// attacks. We still run password verification to make response time
// consistent. This is NOT a real credential - it's a fake hash that will
// never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service implements the authentication gateway's account operations over
// the account and character repositories.
type Service struct {
	accounts   AccountRepository
	characters CharacterRepository
	hasher     PasswordHasher
	logger     *slog.Logger
}

// NewService creates a Service with a no-op logger.
// Returns an error if any required dependency is nil.
func NewService(accounts AccountRepository, characters CharacterRepository, hasher PasswordHasher) (*Service, error) {
	return NewServiceWithLogger(accounts, characters, hasher, slog.New(slog.DiscardHandler))
}

// NewServiceWithLogger creates a Service with the provided logger.
// Returns an error if any required dependency is nil.
func NewServiceWithLogger(accounts AccountRepository, characters CharacterRepository, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("account repository is required")
	}
	if characters == nil {
		return nil, oops.Errorf("character repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Service{
		accounts:   accounts,
		characters: characters,
		hasher:     hasher,
		logger:     logger,
	}, nil
}

// Exists reports whether an account with the given username is registered.
func (s *Service) Exists(ctx context.Context, username string) (bool, error) {
	_, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}
	return true, nil
}

// VerifyPassword checks the password for the given username.
// Uses constant-time operations to prevent timing-based username enumeration:
// a missing account still runs a full hash verification against a dummy hash.
func (s *Service) VerifyPassword(ctx context.Context, username, password string) (bool, error) {
	acct, lookupErr := s.accounts.GetByUsername(ctx, username)

	targetHash := dummyPasswordHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return false, oops.Code("ACCOUNT_VERIFY_FAILED").
				With("operation", "get account by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = acct.PasswordHash
		exists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return false, nil
		}
		return false, oops.Code("ACCOUNT_VERIFY_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	return exists && valid, nil
}

// CreateAccount registers a new account with its first character and any
// public keys offered during the dialogue.
func (s *Service) CreateAccount(ctx context.Context, params userauth.CreateAccountParams) error {
	if err := ValidateName(params.Username); err != nil {
		return err
	}
	if err := ValidateName(params.Character); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	now := time.Now()
	acct := &Account{
		ID:           ulid.Make(),
		Username:     params.Username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return oops.Code("ACCOUNT_NAME_TAKEN").
				With("username", params.Username).
				Wrap(userauth.ErrNameTaken)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "create account").
			Wrap(err)
	}

	ch := &Character{
		ID:        ulid.Make(),
		AccountID: acct.ID,
		Name:      params.Character,
		CreatedAt: now,
	}
	if err := s.characters.Create(ctx, ch); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return oops.Code("ACCOUNT_NAME_TAKEN").
				With("character", params.Character).
				Wrap(userauth.ErrNameTaken)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "create character").
			Wrap(err)
	}

	// Offered keys are kept for a future key login path. Failures here must
	// not undo a registration that already committed.
	for _, key := range params.PublicKeys {
		fingerprint := ""
		if parsed, parseErr := ssh.ParsePublicKey(key.Blob); parseErr == nil {
			fingerprint = ssh.FingerprintSHA256(parsed)
		}
		keyErr := s.accounts.AddPublicKey(ctx, &PublicKey{
			ID:          ulid.Make(),
			AccountID:   acct.ID,
			Algorithm:   key.Algorithm,
			Fingerprint: fingerprint,
			Blob:        key.Blob,
			CreatedAt:   now,
		})
		if keyErr != nil {
			s.logger.Warn("failed to store offered public key",
				"username", params.Username,
				"algorithm", key.Algorithm,
				"error", keyErr,
			)
		}
	}

	s.logger.Info("account registered",
		"username", params.Username,
		"character", params.Character,
		"keys", len(params.PublicKeys),
	)
	return nil
}

// ListCharacters returns the names of the account's characters, oldest first.
func (s *Service) ListCharacters(ctx context.Context, username string) ([]string, error) {
	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("ACCOUNT_NOT_FOUND").
				With("username", username).
				Wrap(userauth.ErrNotFound)
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}

	characters, err := s.characters.ListByAccount(ctx, acct.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "list characters").
			Wrap(err)
	}

	names := make([]string, len(characters))
	for i, ch := range characters {
		names[i] = ch.Name
	}
	return names, nil
}

// CreateCharacter adds a character to an existing account.
func (s *Service) CreateCharacter(ctx context.Context, username, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("username", username).
				Wrap(userauth.ErrNotFound)
		}
		return oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}

	ch := &Character{
		ID:        ulid.Make(),
		AccountID: acct.ID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.characters.Create(ctx, ch); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return oops.Code("ACCOUNT_NAME_TAKEN").
				With("character", name).
				Wrap(userauth.ErrNameTaken)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "create character").
			Wrap(err)
	}
	return nil
}

// SelectCharacter confirms the character exists and records the selection.
func (s *Service) SelectCharacter(ctx context.Context, username, name string) error {
	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("ACCOUNT_NOT_FOUND").
				With("username", username).
				Wrap(userauth.ErrNotFound)
		}
		return oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get account by username").
			Wrap(err)
	}

	ch, err := s.characters.GetByName(ctx, acct.ID, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("CHARACTER_NOT_FOUND").
				With("username", username).
				With("character", name).
				Wrap(userauth.ErrNotFound)
		}
		return oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get character by name").
			Wrap(err)
	}

	// Selection succeeds even if the last-played update doesn't stick.
	if touchErr := s.characters.TouchLastPlayed(ctx, ch.ID, time.Now()); touchErr != nil {
		s.logger.Warn("failed to record character selection",
			"character", name,
			"error", touchErr,
		)
	}
	return nil
}

// EnsureGuest provisions the reserved guest identity that temporary
// characters are created under. Idempotent; called at gateway startup.
// The guest account gets an unusable random password so it can never be
// logged into directly.
func (s *Service) EnsureGuest(ctx context.Context) error {
	_, err := s.accounts.GetByUsername(ctx, userauth.GuestUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "get guest account").
			Wrap(err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "generate guest secret").
			Wrap(err)
	}
	hash, err := s.hasher.Hash(base64.RawStdEncoding.EncodeToString(secret))
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "hash guest secret").
			Wrap(err)
	}

	now := time.Now()
	acct := &Account{
		ID:           ulid.Make(),
		Username:     userauth.GuestUsername,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		// A concurrent gateway may have won the race; that's fine.
		if errors.Is(err, ErrDuplicate) {
			return nil
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "create guest account").
			Wrap(err)
	}

	s.logger.Info("guest identity provisioned")
	return nil
}
