// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

// Default abuse thresholds. Resets are rare in honest negotiations and cheap
// for bots, so they get a much lower ceiling than ordinary protocol chatter.
// The response ceiling is deliberately loose: dialogues re-prompt freely.
const (
	DefaultMaxStateResets     = 3
	DefaultMaxRequestPackets  = 20
	DefaultMaxResponsePackets = 20000
)

// Limits are the per-connection abuse thresholds. Zero fields fall back to
// the defaults.
type Limits struct {
	MaxStateResets     int
	MaxRequestPackets  int
	MaxResponsePackets int
}

// DefaultLimits returns the stock thresholds.
func DefaultLimits() Limits {
	return Limits{
		MaxStateResets:     DefaultMaxStateResets,
		MaxRequestPackets:  DefaultMaxRequestPackets,
		MaxResponsePackets: DefaultMaxResponsePackets,
	}
}

// Guard counts protocol-level events for one connection and decides when the
// connection must be terminated. It is owned by the connection, not the
// session: counters survive session resets, which is what makes them useful
// against bots that churn identities.
type Guard struct {
	limits Limits

	stateResets     int
	requestPackets  int
	responsePackets int
}

// NewGuard creates a Guard, substituting defaults for zero limits.
func NewGuard(limits Limits) *Guard {
	if limits.MaxStateResets <= 0 {
		limits.MaxStateResets = DefaultMaxStateResets
	}
	if limits.MaxRequestPackets <= 0 {
		limits.MaxRequestPackets = DefaultMaxRequestPackets
	}
	if limits.MaxResponsePackets <= 0 {
		limits.MaxResponsePackets = DefaultMaxResponsePackets
	}
	return &Guard{limits: limits}
}

// RecordStateChange counts a session replacement.
func (g *Guard) RecordStateChange() { g.stateResets++ }

// RecordRequest counts an inbound userauth request packet.
func (g *Guard) RecordRequest() { g.requestPackets++ }

// RecordResponse counts an inbound info-response packet.
func (g *Guard) RecordResponse() { g.responsePackets++ }

// ResetResponses clears the response counter. Called when a fresh dialogue
// starts so a long-lived honest conversation never inherits old chatter.
func (g *Guard) ResetResponses() { g.responsePackets = 0 }

// ShouldTerminate reports whether the connection has crossed a request-side
// threshold. Evaluated unconditionally per request, even for requests that
// would otherwise succeed.
func (g *Guard) ShouldTerminate() bool {
	return g.stateResets > g.limits.MaxStateResets ||
		g.requestPackets > g.limits.MaxRequestPackets
}

// ResponsesExceeded reports whether the info-response ceiling was crossed.
func (g *Guard) ResponsesExceeded() bool {
	return g.responsePackets > g.limits.MaxResponsePackets
}

// StateResets returns the reset count, for logging.
func (g *Guard) StateResets() int { return g.stateResets }
