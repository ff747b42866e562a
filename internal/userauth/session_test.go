// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermush/embermush/pkg/errutil"
)

func TestNewSession_KnownIdentityOffersPassword(t *testing.T) {
	gateway := newStubGateway()
	gateway.addAccount("zara", "sekrit")

	sess, err := newSession(context.Background(), gateway, "zara", "game", "")
	require.NoError(t, err)

	assert.True(t, sess.Known)
	assert.Equal(t, []string{MethodPublicKey, MethodInteractive, MethodPassword}, sess.Methods)
}

func TestNewSession_UnknownIdentityOmitsPassword(t *testing.T) {
	sess, err := newSession(context.Background(), newStubGateway(), "newcomer", "game", "")
	require.NoError(t, err)

	assert.False(t, sess.Known)
	assert.Equal(t, []string{MethodPublicKey, MethodInteractive}, sess.Methods)
}

func TestNewSession_LookupFailure(t *testing.T) {
	gateway := newStubGateway()
	gateway.existsErr = assert.AnError

	_, err := newSession(context.Background(), gateway, "zara", "game", "")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_LOOKUP_FAILED")
	errutil.AssertErrorContext(t, err, "username", "zara")
}

func TestSession_Matches(t *testing.T) {
	sess, err := newSession(context.Background(), newStubGateway(), "zara", "game", "")
	require.NoError(t, err)

	assert.True(t, sess.matches("zara", "game"))
	assert.False(t, sess.matches("bob", "game"))
	assert.False(t, sess.matches("zara", "shell"))
}

func TestSession_AddKey(t *testing.T) {
	sess, err := newSession(context.Background(), newStubGateway(), "zara", "game", "")
	require.NoError(t, err)

	sess.addKey(OfferedKey{Algorithm: "ssh-ed25519", Blob: []byte{1}})
	sess.addKey(OfferedKey{Algorithm: "ssh-rsa", Blob: []byte{2}})

	require.Len(t, sess.Keys, 2)
	assert.Equal(t, "ssh-ed25519", sess.Keys[0].Algorithm)
}
