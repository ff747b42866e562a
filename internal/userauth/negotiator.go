// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/ssh"

	"github.com/embermush/embermush/internal/observability"
	"github.com/embermush/embermush/internal/wire"
	"github.com/embermush/embermush/pkg/errutil"
)

// Negotiator is the top-level entry point of the authentication phase. It
// decodes inbound messages, maintains the Session, applies the Guard and
// deny-list, dispatches methods, and emits exactly one terminal outcome
// (success or disconnect) per connection.
type Negotiator struct {
	conn    Conn
	gateway AccountGateway
	deny    *DenyList
	guard   *Guard
	bans    BanSink
	logger  *slog.Logger

	session   *Session
	done      bool
	succeeded bool
}

// NewNegotiator creates a Negotiator with a no-op logger.
// Returns an error if any required dependency is nil.
func NewNegotiator(conn Conn, gateway AccountGateway, deny *DenyList, guard *Guard) (*Negotiator, error) {
	return NewNegotiatorWithLogger(conn, gateway, deny, guard, slog.New(slog.DiscardHandler))
}

// NewNegotiatorWithLogger creates a Negotiator with the provided logger.
// Returns an error if any required dependency is nil.
func NewNegotiatorWithLogger(conn Conn, gateway AccountGateway, deny *DenyList, guard *Guard, logger *slog.Logger) (*Negotiator, error) {
	if conn == nil {
		return nil, oops.Errorf("transport conn is required")
	}
	if gateway == nil {
		return nil, oops.Errorf("account gateway is required")
	}
	if deny == nil {
		return nil, oops.Errorf("deny list is required")
	}
	if guard == nil {
		return nil, oops.Errorf("abuse guard is required")
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	return &Negotiator{
		conn:    conn,
		gateway: gateway,
		deny:    deny,
		guard:   guard,
		logger:  logger,
	}, nil
}

// SetBanSink attaches an optional sink for ban-worthy protocol violations.
func (n *Negotiator) SetBanSink(bans BanSink) { n.bans = bans }

// Done reports whether a terminal outcome was reached. The transport stops
// feeding the negotiator once this is true.
func (n *Negotiator) Done() bool { return n.done }

// Succeeded reports whether the terminal outcome was a success.
func (n *Negotiator) Succeeded() bool { return n.succeeded }

// Identity returns who authenticated. Only meaningful once Succeeded.
func (n *Negotiator) Identity() Identity {
	if n.session == nil {
		return Identity{}
	}
	id := Identity{
		Username:  n.session.Username,
		Character: n.session.Character,
		Service:   n.session.Service,
		Guest:     n.session.asGuest,
	}
	if n.session.asGuest {
		id.Username = GuestUsername
	}
	return id
}

// HandleRequest processes one decoded userauth request message. Protocol
// outcomes (failures, disconnects) are handled internally; the returned
// error is reserved for transport write failures.
func (n *Negotiator) HandleRequest(ctx context.Context, payload []byte) error {
	if n.done {
		return nil
	}

	req, err := wire.ParseAuthRequest(payload)
	if err != nil {
		errutil.LogError(n.logger, "malformed userauth request", err)
		return n.disconnect(ReasonConnectionLost, "malformed authentication request")
	}

	// Deny-listed usernames are rejected before any session or store work.
	if n.deny.Blocked(req.Username) {
		n.logger.Info("disconnecting user: deny-listed username",
			"username", req.Username,
			"remote", n.conn.RemoteAddr(),
		)
		return n.disconnect(ReasonIllegalUsername,
			"You can't use that username ("+req.Username+") here. Please reconnect using a different one.")
	}

	username := req.Username
	character := ""
	if i := strings.Index(username, CharacterSeparator); i >= 0 {
		username, character = username[:i], username[i+1:]
	}

	if n.session == nil || !n.session.matches(username, req.Service) {
		// Identity or target service changed mid-negotiation: discard all
		// prior state, including any in-flight dialogue and collected keys.
		sess, sessErr := newSession(ctx, n.gateway, username, req.Service, character)
		if sessErr != nil {
			return n.storeFailure(sessErr)
		}
		n.session = sess
		n.guard.RecordStateChange()
		n.firstContact()
	} else if character != "" {
		n.session.Character = character
	}

	n.guard.RecordRequest()
	if n.guard.ShouldTerminate() {
		n.logger.Info("disconnecting user: too many attempts",
			"username", n.session.Username,
			"remote", n.conn.RemoteAddr(),
			"state_resets", n.guard.StateResets(),
		)
		return n.disconnect(ReasonHostNotAllowed, "You are doing that too much!")
	}

	n.logger.Debug("auth request",
		"username", n.session.Username,
		"service", req.Service,
		"method", req.Method,
	)

	switch req.Method {
	case MethodNone:
		// Advertises the supported methods; never succeeds.
		return n.failAuth(false)
	case MethodPublicKey:
		return n.handlePublicKey(req.Payload)
	case MethodPassword:
		return n.handlePassword()
	case MethodInteractive:
		n.guard.ResetResponses()
		n.session.dialogue = newDialogue(n, n.session)
		return n.session.dialogue.start()
	default:
		n.logger.Debug("unsupported auth method", "method", req.Method)
		return n.failAuth(false)
	}
}

// HandleInfoResponse processes one decoded info-response message, forwarding
// the answers to the active dialogue. Spurious responses are ignored.
func (n *Negotiator) HandleInfoResponse(ctx context.Context, payload []byte) error {
	if n.done {
		return nil
	}

	n.guard.RecordResponse()
	if n.guard.ResponsesExceeded() {
		n.logger.Info("disconnecting user: too many responses",
			"remote", n.conn.RemoteAddr(),
		)
		return n.disconnect(ReasonHostNotAllowed, "You are doing that too much!")
	}

	answers, trailing := wire.ParseInfoResponse(payload)
	if trailing > 0 {
		n.logger.Warn("ignoring extra data in info response", "bytes", trailing)
	}

	if n.session == nil || n.session.dialogue == nil {
		n.logger.Debug("spurious info response with no active dialogue")
		return nil
	}
	return n.session.dialogue.resume(ctx, answers)
}

func (n *Negotiator) firstContact() {
	knownText := "unknown"
	if n.session.Known {
		knownText = "known"
	}
	n.logger.Info(knownText+" user is authenticating",
		"username", n.session.Username,
		"service", n.session.Service,
		"remote", n.conn.RemoteAddr(),
	)
}

// handlePublicKey stores keys offered by unknown identities so they can be
// attached to an account on registration. Direct key login for known
// identities is reserved; it always fails for now.
func (n *Negotiator) handlePublicKey(payload []byte) error {
	algo, blob, err := wire.ParsePublicKeyOffer(payload)
	if err != nil {
		errutil.LogError(n.logger, "malformed publickey offer", err)
		return n.failAuth(false)
	}

	fingerprint := "unparseable"
	if key, parseErr := ssh.ParsePublicKey(blob); parseErr == nil {
		fingerprint = ssh.FingerprintSHA256(key)
	}

	if !n.session.Known {
		n.session.addKey(OfferedKey{Algorithm: algo, Blob: blob})
		n.logger.Debug("stored offered public key",
			"username", n.session.Username,
			"algorithm", algo,
			"fingerprint", fingerprint,
		)
	} else {
		n.logger.Debug("publickey login not yet supported",
			"username", n.session.Username,
			"algorithm", algo,
			"fingerprint", fingerprint,
		)
	}
	return n.failAuth(false)
}

// handlePassword treats a password attempt from an unknown identity as a
// protocol violation: the failure replies never offered it, so an honest
// client cannot get here. Known identities get a plain failure until a
// fast-path password login ships.
func (n *Negotiator) handlePassword() error {
	if !n.session.Known {
		n.logger.Info("disconnecting user: password method was not offered",
			"username", n.session.Username,
			"remote", n.conn.RemoteAddr(),
		)
		if n.bans != nil {
			n.bans.Ban(n.conn.RemoteAddr())
		}
		return n.disconnect(ReasonHostNotAllowed, "This auth method is not allowed")
	}
	return n.failAuth(false)
}

// failAuth replies with the offered-method list. Banner and failure are the
// only messages that may repeat within one connection.
func (n *Negotiator) failAuth(partial bool) error {
	if err := n.conn.SendPacket(wire.MsgUserAuthFailure, wire.EncodeFailure(n.session.Methods, partial)); err != nil {
		return oops.Code("AUTH_SEND_FAILED").With("packet", "failure").Wrap(err)
	}
	return nil
}

func (n *Negotiator) sendBanner(text string) error {
	if err := n.conn.SendPacket(wire.MsgUserAuthBanner, wire.EncodeBanner(text)); err != nil {
		return oops.Code("AUTH_SEND_FAILED").With("packet", "banner").Wrap(err)
	}
	return nil
}

func (n *Negotiator) askQuestions(questions []wire.Question) error {
	if err := n.conn.SendPacket(wire.MsgUserAuthInfoReq, wire.EncodeInfoRequest(questions)); err != nil {
		return oops.Code("AUTH_SEND_FAILED").With("packet", "info request").Wrap(err)
	}
	n.logger.Debug("asked the user questions", "count", len(questions))
	return nil
}

// disconnect emits the terminal disconnect outcome.
func (n *Negotiator) disconnect(reason DisconnectReason, message string) error {
	n.done = true
	observability.RecordAuthOutcome(reason.String())
	if err := n.conn.Disconnect(reason, message); err != nil {
		return oops.Code("AUTH_DISCONNECT_FAILED").With("reason", reason.String()).Wrap(err)
	}
	return nil
}

// succeed emits the terminal success outcome and hands the connection to the
// requested target service.
func (n *Negotiator) succeed() error {
	n.done = true
	n.succeeded = true
	observability.RecordAuthOutcome("success")
	n.logger.Info("authentication succeeded",
		"username", n.Identity().Username,
		"character", n.session.Character,
		"service", n.session.Service,
		"guest", n.session.asGuest,
	)
	if err := n.conn.SendPacket(wire.MsgUserAuthSuccess, wire.EncodeSuccess()); err != nil {
		return oops.Code("AUTH_SEND_FAILED").With("packet", "success").Wrap(err)
	}
	if err := n.conn.StartService(n.session.Service); err != nil {
		return oops.Code("AUTH_SERVICE_START_FAILED").
			With("service", n.session.Service).
			Wrap(err)
	}
	return nil
}

// storeFailure surfaces an account-store failure to the user as a banner and
// closes the connection. A session must never be left silently hung.
func (n *Negotiator) storeFailure(err error) error {
	errutil.LogError(n.logger, "account store failure", err)
	if bErr := n.sendBanner("The account service is unavailable. Please try again later."); bErr != nil {
		return bErr
	}
	return n.disconnect(ReasonConnectionLost, "account store failure")
}
