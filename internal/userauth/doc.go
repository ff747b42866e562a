// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

// Package userauth implements the authentication protocol state machine for
// the EmberMUSH gateway.
//
// The Negotiator consumes decoded userauth request and info-response
// messages delivered by the transport, tracks per-connection state in a
// Session, and either answers a method directly or drives a resumable
// Dialogue: a multi-round question/answer exchange used to register new
// identities, admit guests, and log known identities into a character.
//
// Unknown usernames are not rejected. They are pushed through the
// keyboard-interactive method and offered registration or guest access,
// which is the whole point of this gateway. Bots probing well-known
// usernames are disconnected before any account lookup happens.
package userauth
