// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"context"

	"github.com/samber/oops"
)

// Methods the gateway advertises. Password is only ever offered to known
// identities; unknown ones are pushed through keyboard-interactive so they
// reach the registration dialogue instead of a dead end.
const (
	MethodNone        = "none"
	MethodPublicKey   = "publickey"
	MethodPassword    = "password"
	MethodInteractive = "keyboard-interactive"
)

// CharacterSeparator splits an embedded character selector out of a claimed
// username, as in "alice:Vex".
const CharacterSeparator = ":"

// Session is the per-connection authentication state. It is replaced, never
// repaired, whenever the claimed username or requested service changes
// mid-negotiation; the abuse counters live on the Guard and survive that.
type Session struct {
	// Username is the claimed identity, selector already split off.
	Username string

	// Service is the application service requested for after authentication.
	Service string

	// Known reports whether Username existed in the account store when the
	// session was created. Computed exactly once.
	Known bool

	// Character is the selected character name, either embedded in the
	// username or chosen during the dialogue. Empty until selection.
	Character string

	// Keys are public keys offered before identity was established.
	Keys []OfferedKey

	// Methods is the offered-method list for failure replies, fixed at
	// session creation so per-session additions never leak across
	// connections.
	Methods []string

	asGuest  bool
	dialogue *dialogue
}

// newSession creates the state for a fresh (username, service) claim,
// consulting the account store once for the known/unknown decision.
func newSession(ctx context.Context, gateway AccountGateway, username, service, character string) (*Session, error) {
	known, err := gateway.Exists(ctx, username)
	if err != nil {
		return nil, oops.Code("AUTH_LOOKUP_FAILED").
			With("operation", "check username exists").
			With("username", username).
			Wrap(err)
	}

	methods := []string{MethodPublicKey, MethodInteractive}
	if known {
		methods = append(methods, MethodPassword)
	}

	return &Session{
		Username:  username,
		Service:   service,
		Known:     known,
		Character: character,
		Methods:   methods,
	}, nil
}

// matches reports whether the stored claim still matches the one on the
// latest request. A mismatch invalidates the whole session.
func (s *Session) matches(username, service string) bool {
	return s.Username == username && s.Service == service
}

// addKey remembers a public key offered during negotiation.
func (s *Session) addKey(key OfferedKey) {
	s.Keys = append(s.Keys, key)
}
