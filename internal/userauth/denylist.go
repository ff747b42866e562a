// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// DefaultDenyPatterns are usernames constantly probed by credential-stuffing
// bots. Matching is case-insensitive; entries may use glob syntax. The list
// is configuration data, not policy baked into the state machine.
func DefaultDenyPatterns() []string {
	return []string{
		"root",
		"admin",
		"pi",
		"ubnt",
		"support",
		"user",
		"test",
		"oracle",
		"git*",
	}
}

// DenyList rejects claimed usernames before any session is created or any
// account-store lookup happens, so probing it never costs a database round
// trip.
type DenyList struct {
	globs []glob.Glob
}

// NewDenyList compiles the given patterns. Patterns are lower-cased before
// compilation and usernames are lower-cased before matching.
func NewDenyList(patterns []string) (*DenyList, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, oops.Code("AUTH_DENYLIST_INVALID").
				With("pattern", p).
				Wrap(err)
		}
		globs = append(globs, g)
	}
	return &DenyList{globs: globs}, nil
}

// Blocked reports whether the username matches any deny pattern.
func (d *DenyList) Blocked(username string) bool {
	name := strings.ToLower(username)
	for _, g := range d.globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
