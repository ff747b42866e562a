// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermush/embermush/pkg/errutil"
)

func TestDenyList_DefaultPatterns(t *testing.T) {
	deny, err := NewDenyList(DefaultDenyPatterns())
	require.NoError(t, err)

	tests := []struct {
		username string
		blocked  bool
	}{
		{"root", true},
		{"ROOT", true},
		{"admin", true},
		{"pi", true},
		{"git", true},
		{"gitlab", true},
		{"GitHub", true},
		{"zara", false},
		{"rootbeer", false},
		{"pia", false},
		{"digit", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			assert.Equal(t, tt.blocked, deny.Blocked(tt.username))
		})
	}
}

func TestDenyList_CaseInsensitivePatterns(t *testing.T) {
	deny, err := NewDenyList([]string{"Admin*"})
	require.NoError(t, err)

	assert.True(t, deny.Blocked("administrator"))
	assert.True(t, deny.Blocked("ADMIN"))
	assert.False(t, deny.Blocked("zara"))
}

func TestDenyList_EmptyBlocksNothing(t *testing.T) {
	deny, err := NewDenyList(nil)
	require.NoError(t, err)

	assert.False(t, deny.Blocked("root"))
	assert.False(t, deny.Blocked(""))
}

func TestDenyList_InvalidPattern(t *testing.T) {
	_, err := NewDenyList([]string{"[unterminated"})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUTH_DENYLIST_INVALID")
	errutil.AssertErrorContext(t, err, "pattern", "[unterminated")
}
