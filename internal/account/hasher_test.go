// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package account

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgon2idHasher_HashAndVerify(t *testing.T) {
	hasher := NewArgon2idHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"), "hash should be PHC format: %s", hash)

	ok, err := hasher.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok, "correct password should verify")

	ok, err = hasher.Verify("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok, "wrong password should not verify")
}

func TestArgon2idHasher_EmptyPassword(t *testing.T) {
	hasher := NewArgon2idHasher()

	_, err := hasher.Hash("")
	require.ErrorIs(t, err, ErrEmptyPassword)
}

func TestArgon2idHasher_UniqueSalts(t *testing.T) {
	hasher := NewArgon2idHasher()

	h1, err := hasher.Hash("same password")
	require.NoError(t, err)
	h2, err := hasher.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2, "two hashes of the same password should differ")
}

func TestArgon2idHasher_VerifyInvalidHash(t *testing.T) {
	hasher := NewArgon2idHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"wrong part count", "$argon2id$v=19$m=65536"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA"},
		{"bad hash encoding", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := hasher.Verify("password", tt.hash)
			assert.Error(t, err)
		})
	}
}

func TestArgon2idHasher_DummyHashVerifies(t *testing.T) {
	hasher := NewArgon2idHasher()

	// The dummy hash used for timing-attack prevention must parse cleanly
	// and never match.
	ok, err := hasher.Verify("any password", dummyPasswordHash)
	require.NoError(t, err)
	assert.False(t, ok)
}
