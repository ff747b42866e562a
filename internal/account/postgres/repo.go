// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

// Package postgres implements the account repositories using PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/embermush/embermush/internal/account"
)

// DB is the subset of pgxpool.Pool the repositories use. pgxmock satisfies
// it too, which keeps the query tests off a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// AccountRepository implements account.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, acct *account.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, username, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		acct.ID.String(),
		acct.Username,
		acct.PasswordHash,
		acct.CreatedAt,
		acct.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_DUPLICATE").
				With("username", acct.Username).
				Wrap(account.ErrDuplicate)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("username", acct.Username).
			Wrap(err)
	}
	return nil
}

// GetByUsername retrieves an account by username (case-insensitive).
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (*account.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM accounts
		WHERE LOWER(username) = LOWER($1)
	`, username)

	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("username", username).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_USERNAME_FAILED").
			With("operation", "get account by username").
			With("username", username).
			Wrap(err)
	}
	return acct, nil
}

// AddPublicKey attaches an offered public key to an account.
func (r *AccountRepository) AddPublicKey(ctx context.Context, key *account.PublicKey) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO public_keys (id, account_id, algorithm, fingerprint, blob, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, fingerprint) DO NOTHING
	`,
		key.ID.String(),
		key.AccountID.String(),
		key.Algorithm,
		key.Fingerprint,
		key.Blob,
		key.CreatedAt,
	)
	if err != nil {
		return oops.Code("PUBLIC_KEY_ADD_FAILED").
			With("operation", "insert public key").
			With("fingerprint", key.Fingerprint).
			Wrap(err)
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		idStr        string
		username     string
		passwordHash string
		createdAt    time.Time
		updatedAt    time.Time
	)

	err := row.Scan(&idStr, &username, &passwordHash, &createdAt, &updatedAt)
	if err != nil {
		// Propagate pgx.ErrNoRows unchanged for callers to handle with context.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").
			With("operation", "scan account").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("operation", "parse account id").
			With("id", idStr).
			Wrap(err)
	}

	return &account.Account{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// Compile-time interface check.
var _ account.AccountRepository = (*AccountRepository)(nil)

// CharacterRepository implements account.CharacterRepository using PostgreSQL.
type CharacterRepository struct {
	db DB
}

// NewCharacterRepository creates a new CharacterRepository.
func NewCharacterRepository(db DB) *CharacterRepository {
	return &CharacterRepository{db: db}
}

// Create stores a new character.
func (r *CharacterRepository) Create(ctx context.Context, ch *account.Character) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO characters (id, account_id, name, created_at, last_played_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		ch.ID.String(),
		ch.AccountID.String(),
		ch.Name,
		ch.CreatedAt,
		ch.LastPlayedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("CHARACTER_DUPLICATE").
				With("name", ch.Name).
				Wrap(account.ErrDuplicate)
		}
		return oops.Code("CHARACTER_CREATE_FAILED").
			With("operation", "insert character").
			With("name", ch.Name).
			Wrap(err)
	}
	return nil
}

// GetByName retrieves a character by account and name (case-insensitive).
func (r *CharacterRepository) GetByName(ctx context.Context, accountID ulid.ULID, name string) (*account.Character, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, account_id, name, created_at, last_played_at
		FROM characters
		WHERE account_id = $1 AND LOWER(name) = LOWER($2)
	`, accountID.String(), name)

	ch, err := scanCharacter(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("CHARACTER_NOT_FOUND").
			With("account_id", accountID.String()).
			With("name", name).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("CHARACTER_GET_BY_NAME_FAILED").
			With("operation", "get character by name").
			With("name", name).
			Wrap(err)
	}
	return ch, nil
}

// ListByAccount returns the account's characters, oldest first.
func (r *CharacterRepository) ListByAccount(ctx context.Context, accountID ulid.ULID) ([]account.Character, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, created_at, last_played_at
		FROM characters
		WHERE account_id = $1
		ORDER BY created_at ASC
	`, accountID.String())
	if err != nil {
		return nil, oops.Code("CHARACTER_LIST_FAILED").
			With("operation", "list characters").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var characters []account.Character
	for rows.Next() {
		ch, scanErr := scanCharacter(rows)
		if scanErr != nil {
			return nil, oops.Code("CHARACTER_LIST_FAILED").
				With("operation", "scan character").
				Wrap(scanErr)
		}
		characters = append(characters, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("CHARACTER_LIST_FAILED").
			With("operation", "iterate characters").
			Wrap(err)
	}
	return characters, nil
}

// TouchLastPlayed records that the character was just selected for play.
func (r *CharacterRepository) TouchLastPlayed(ctx context.Context, id ulid.ULID, at time.Time) error {
	result, err := r.db.Exec(ctx, `
		UPDATE characters SET last_played_at = $2 WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return oops.Code("CHARACTER_TOUCH_FAILED").
			With("operation", "update last played").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("CHARACTER_NOT_FOUND").
			With("id", id.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// scanCharacter scans a single row into a Character.
// Callers are responsible for handling pgx.ErrNoRows.
func scanCharacter(row pgx.Row) (*account.Character, error) {
	var (
		idStr        string
		accountIDStr string
		name         string
		createdAt    time.Time
		lastPlayedAt *time.Time
	)

	err := row.Scan(&idStr, &accountIDStr, &name, &createdAt, &lastPlayedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("CHARACTER_SCAN_FAILED").
			With("operation", "scan character").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("CHARACTER_INVALID_ID").
			With("operation", "parse character id").
			With("id", idStr).
			Wrap(err)
	}
	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("CHARACTER_INVALID_ACCOUNT_ID").
			With("operation", "parse account id").
			With("account_id", accountIDStr).
			Wrap(err)
	}

	return &account.Character{
		ID:           id,
		AccountID:    accountID,
		Name:         name,
		CreatedAt:    createdAt,
		LastPlayedAt: lastPlayedAt,
	}, nil
}

// Compile-time interface check.
var _ account.CharacterRepository = (*CharacterRepository)(nil)
