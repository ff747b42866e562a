// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermush/embermush/internal/wire"
)

// fakeConn records everything the negotiator sends.
type fakeConn struct {
	packets     []sentPacket
	disconnects []disconnectCall
	services    []string
	sendErr     error
}

type sentPacket struct {
	msg     byte
	payload []byte
}

type disconnectCall struct {
	reason  DisconnectReason
	message string
}

func (c *fakeConn) SendPacket(msg byte, payload []byte) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.packets = append(c.packets, sentPacket{msg, payload})
	return nil
}

func (c *fakeConn) Disconnect(reason DisconnectReason, message string) error {
	c.disconnects = append(c.disconnects, disconnectCall{reason, message})
	return nil
}

func (c *fakeConn) StartService(name string) error {
	c.services = append(c.services, name)
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "198.51.100.9" }

func (c *fakeConn) lastPacket(t *testing.T) sentPacket {
	t.Helper()
	require.NotEmpty(t, c.packets, "no packets were sent")
	return c.packets[len(c.packets)-1]
}

// lastQuestions parses the most recent packet as an info-request.
func (c *fakeConn) lastQuestions(t *testing.T) []wire.Question {
	t.Helper()
	pkt := c.lastPacket(t)
	require.Equal(t, byte(wire.MsgUserAuthInfoReq), pkt.msg, "last packet is not an info request")
	questions, err := wire.ParseInfoRequest(pkt.payload)
	require.NoError(t, err)
	return questions
}

func (c *fakeConn) requireDisconnect(t *testing.T, reason DisconnectReason) disconnectCall {
	t.Helper()
	require.Len(t, c.disconnects, 1, "expected exactly one disconnect")
	assert.Equal(t, reason, c.disconnects[0].reason)
	return c.disconnects[0]
}

// stubGateway is a map-backed account gateway with per-operation error
// injection.
type stubGateway struct {
	exists     map[string]bool
	passwords  map[string]string
	characters map[string][]string

	created      []CreateAccountParams
	createdChars []string

	existsErr     error
	verifyErr     error
	createErr     error
	listErr       error
	createCharErr error
	selectErr     error

	calls int
}

func newStubGateway() *stubGateway {
	return &stubGateway{
		exists:     make(map[string]bool),
		passwords:  make(map[string]string),
		characters: make(map[string][]string),
	}
}

func (g *stubGateway) addAccount(username, password string, characters ...string) {
	g.exists[username] = true
	g.passwords[username] = password
	g.characters[username] = characters
}

func (g *stubGateway) Exists(_ context.Context, username string) (bool, error) {
	g.calls++
	return g.exists[username], g.existsErr
}

func (g *stubGateway) VerifyPassword(_ context.Context, username, password string) (bool, error) {
	g.calls++
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	return g.passwords[username] == password && password != "", nil
}

func (g *stubGateway) CreateAccount(_ context.Context, params CreateAccountParams) error {
	g.calls++
	if g.createErr != nil {
		return g.createErr
	}
	g.created = append(g.created, params)
	return nil
}

func (g *stubGateway) ListCharacters(_ context.Context, username string) ([]string, error) {
	g.calls++
	return g.characters[username], g.listErr
}

func (g *stubGateway) CreateCharacter(_ context.Context, username, name string) error {
	g.calls++
	if g.createCharErr != nil {
		return g.createCharErr
	}
	g.createdChars = append(g.createdChars, name)
	g.characters[username] = append(g.characters[username], name)
	return nil
}

func (g *stubGateway) SelectCharacter(_ context.Context, username, name string) error {
	g.calls++
	if g.selectErr != nil {
		return g.selectErr
	}
	for _, existing := range g.characters[username] {
		if existing == name {
			return nil
		}
	}
	return ErrNotFound
}

// Payload builders matching the userauth wire formats.

func ns(s string) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(s)))
	return append(b, s...)
}

func requestPayload(username, service, method string, rest ...byte) []byte {
	b := ns(username)
	b = append(b, ns(service)...)
	b = append(b, ns(method)...)
	return append(b, rest...)
}

func answersPayload(answers ...string) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(answers)))
	for _, a := range answers {
		b = append(b, ns(a)...)
	}
	return b
}

func keyOfferPayload(algo string, blob []byte) []byte {
	b := []byte{0} // have-signature flag
	b = append(b, ns(algo)...)
	b = append(b, binary.BigEndian.AppendUint32(nil, uint32(len(blob)))...)
	return append(b, blob...)
}

func newTestNegotiator(t *testing.T, gateway AccountGateway) (*Negotiator, *fakeConn) {
	return newTestNegotiatorWithLimits(t, gateway, Limits{})
}

func newTestNegotiatorWithLimits(t *testing.T, gateway AccountGateway, limits Limits) (*Negotiator, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	deny, err := NewDenyList(DefaultDenyPatterns())
	require.NoError(t, err)
	neg, err := NewNegotiator(conn, gateway, deny, NewGuard(limits))
	require.NoError(t, err)
	return neg, conn
}

func TestNewNegotiator_NilDependencies(t *testing.T) {
	conn := &fakeConn{}
	gateway := newStubGateway()
	deny, err := NewDenyList(nil)
	require.NoError(t, err)
	guard := NewGuard(Limits{})

	_, err = NewNegotiator(nil, gateway, deny, guard)
	assert.Error(t, err)
	_, err = NewNegotiator(conn, nil, deny, guard)
	assert.Error(t, err)
	_, err = NewNegotiator(conn, gateway, nil, guard)
	assert.Error(t, err)
	_, err = NewNegotiator(conn, gateway, deny, nil)
	assert.Error(t, err)
}

func TestNegotiator_NoneMethodAdvertisesMethods(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown identity omits password", func(t *testing.T) {
		neg, conn := newTestNegotiator(t, newStubGateway())

		require.NoError(t, neg.HandleRequest(ctx, requestPayload("newcomer", "game", MethodNone)))

		pkt := conn.lastPacket(t)
		assert.Equal(t, byte(wire.MsgUserAuthFailure), pkt.msg)
		assert.Equal(t, wire.EncodeFailure([]string{MethodPublicKey, MethodInteractive}, false), pkt.payload)
		assert.False(t, neg.Done())
	})

	t.Run("known identity includes password", func(t *testing.T) {
		gateway := newStubGateway()
		gateway.addAccount("zara", "sekrit")
		neg, conn := newTestNegotiator(t, gateway)

		require.NoError(t, neg.HandleRequest(ctx, requestPayload("zara", "game", MethodNone)))

		pkt := conn.lastPacket(t)
		assert.Equal(t, byte(wire.MsgUserAuthFailure), pkt.msg)
		assert.Equal(t, wire.EncodeFailure([]string{MethodPublicKey, MethodInteractive, MethodPassword}, false), pkt.payload)
	})
}

func TestNegotiator_MalformedRequestDisconnects(t *testing.T) {
	neg, conn := newTestNegotiator(t, newStubGateway())

	require.NoError(t, neg.HandleRequest(context.Background(), []byte{0x00, 0x00}))

	conn.requireDisconnect(t, ReasonConnectionLost)
	assert.True(t, neg.Done())
}

func TestNegotiator_DenyListedUsername(t *testing.T) {
	tests := []string{"root", "Root", "admin", "gitlab", "git"}
	for _, username := range tests {
		t.Run(username, func(t *testing.T) {
			gateway := newStubGateway()
			neg, conn := newTestNegotiator(t, gateway)

			require.NoError(t, neg.HandleRequest(context.Background(),
				requestPayload(username, "game", MethodNone)))

			call := conn.requireDisconnect(t, ReasonIllegalUsername)
			assert.Contains(t, call.message, username)
			assert.Zero(t, gateway.calls, "deny-listed usernames must never reach the account store")
			assert.True(t, neg.Done())
		})
	}
}

func TestNegotiator_CharacterSelectorSplit(t *testing.T) {
	ctx := context.Background()
	gateway := newStubGateway()
	gateway.addAccount("zara", "sekrit", "Ember")
	neg, conn := newTestNegotiator(t, gateway)

	// "zara:Ember" claims zara and pre-selects Ember.
	require.NoError(t, neg.HandleRequest(ctx, requestPayload("zara:Ember", "game", MethodInteractive)))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("sekrit")))

	assert.Equal(t, byte(wire.MsgUserAuthSuccess), conn.lastPacket(t).msg)
	assert.Equal(t, []string{"game"}, conn.services)
	assert.True(t, neg.Succeeded())

	id := neg.Identity()
	assert.Equal(t, "zara", id.Username)
	assert.Equal(t, "Ember", id.Character)
}

func TestNegotiator_TooManyRequests(t *testing.T) {
	ctx := context.Background()
	neg, conn := newTestNegotiator(t, newStubGateway())

	for i := 0; i <= DefaultMaxRequestPackets && !neg.Done(); i++ {
		require.NoError(t, neg.HandleRequest(ctx, requestPayload("newcomer", "game", MethodNone)))
	}

	call := conn.requireDisconnect(t, ReasonHostNotAllowed)
	assert.Equal(t, "You are doing that too much!", call.message)
}

func TestNegotiator_TooManyStateResets(t *testing.T) {
	ctx := context.Background()
	neg, conn := newTestNegotiator(t, newStubGateway())

	// Each alternation replaces the session; the reset counter survives.
	usernames := []string{"alice", "bob", "alice", "bob", "alice"}
	for _, username := range usernames {
		if neg.Done() {
			break
		}
		require.NoError(t, neg.HandleRequest(ctx, requestPayload(username, "game", MethodNone)))
	}

	call := conn.requireDisconnect(t, ReasonHostNotAllowed)
	assert.Equal(t, "You are doing that too much!", call.message)
}

func TestNegotiator_SessionResetDiscardsOfferedKeys(t *testing.T) {
	ctx := context.Background()
	gateway := newStubGateway()
	neg, conn := newTestNegotiator(t, gateway)

	// alice offers a key, then the client re-identifies as bob and registers.
	require.NoError(t, neg.HandleRequest(ctx,
		requestPayload("alice", "game", MethodPublicKey, keyOfferPayload("ssh-ed25519", []byte{1, 2, 3})...)))
	require.NoError(t, neg.HandleRequest(ctx, requestPayload("bob", "game", MethodInteractive)))

	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("r")))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("hunter2", "hunter2")))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("Vex")))

	require.Len(t, gateway.created, 1)
	assert.Equal(t, "bob", gateway.created[0].Username)
	assert.Empty(t, gateway.created[0].PublicKeys, "keys offered under a discarded identity must not survive the reset")
	conn.requireDisconnect(t, ReasonAuthCancelled)
}

func TestNegotiator_PublicKeyOfferKeptForRegistration(t *testing.T) {
	ctx := context.Background()
	gateway := newStubGateway()
	neg, conn := newTestNegotiator(t, gateway)

	require.NoError(t, neg.HandleRequest(ctx,
		requestPayload("bob", "game", MethodPublicKey, keyOfferPayload("ssh-ed25519", []byte{1, 2, 3})...)))

	// The offer itself always fails authentication.
	assert.Equal(t, byte(wire.MsgUserAuthFailure), conn.lastPacket(t).msg)

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("bob", "game", MethodInteractive)))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("r")))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("hunter2", "hunter2")))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("Vex")))

	require.Len(t, gateway.created, 1)
	require.Len(t, gateway.created[0].PublicKeys, 1)
	assert.Equal(t, "ssh-ed25519", gateway.created[0].PublicKeys[0].Algorithm)
	assert.Equal(t, []byte{1, 2, 3}, gateway.created[0].PublicKeys[0].Blob)
}

func TestNegotiator_PasswordFromUnknownIdentityBans(t *testing.T) {
	ctx := context.Background()
	neg, conn := newTestNegotiator(t, newStubGateway())

	bans := &recordingBanSink{}
	neg.SetBanSink(bans)

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("newcomer", "game", MethodPassword)))

	call := conn.requireDisconnect(t, ReasonHostNotAllowed)
	assert.Equal(t, "This auth method is not allowed", call.message)
	assert.Equal(t, []string{"198.51.100.9"}, bans.banned)
}

type recordingBanSink struct {
	banned []string
}

func (b *recordingBanSink) Ban(host string) { b.banned = append(b.banned, host) }

func TestNegotiator_PasswordFromKnownIdentityJustFails(t *testing.T) {
	ctx := context.Background()
	gateway := newStubGateway()
	gateway.addAccount("zara", "sekrit")
	neg, conn := newTestNegotiator(t, gateway)

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("zara", "game", MethodPassword)))

	assert.Equal(t, byte(wire.MsgUserAuthFailure), conn.lastPacket(t).msg)
	assert.Empty(t, conn.disconnects)
	assert.False(t, neg.Done())
}

func TestNegotiator_UnsupportedMethodFails(t *testing.T) {
	neg, conn := newTestNegotiator(t, newStubGateway())

	require.NoError(t, neg.HandleRequest(context.Background(),
		requestPayload("newcomer", "game", "hostbased")))

	assert.Equal(t, byte(wire.MsgUserAuthFailure), conn.lastPacket(t).msg)
	assert.False(t, neg.Done())
}

func TestNegotiator_ResponseFloodDisconnects(t *testing.T) {
	ctx := context.Background()
	neg, conn := newTestNegotiatorWithLimits(t, newStubGateway(), Limits{MaxResponsePackets: 3})

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("newcomer", "game", MethodInteractive)))

	for i := 0; i < 4 && !neg.Done(); i++ {
		// Wrong answer counts keep the dialogue re-asking until the guard trips.
		require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("a", "b", "c")))
	}

	call := conn.requireDisconnect(t, ReasonHostNotAllowed)
	assert.Equal(t, "You are doing that too much!", call.message)
}

func TestNegotiator_SpuriousInfoResponseIgnored(t *testing.T) {
	neg, conn := newTestNegotiator(t, newStubGateway())

	require.NoError(t, neg.HandleInfoResponse(context.Background(), answersPayload("ghost")))

	assert.Empty(t, conn.packets)
	assert.Empty(t, conn.disconnects)
	assert.False(t, neg.Done())
}

func TestNegotiator_AnswerCountMismatchReasks(t *testing.T) {
	ctx := context.Background()
	gateway := newStubGateway()
	gateway.addAccount("zara", "sekrit", "Ember")
	neg, conn := newTestNegotiator(t, gateway)

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("zara", "game", MethodInteractive)))
	asked := conn.lastQuestions(t)

	// Two answers to a one-question prompt: re-ask, don't crash or proceed.
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("sekrit", "extra")))

	reasked := conn.lastQuestions(t)
	assert.Equal(t, asked, reasked)
	assert.False(t, neg.Done())

	// The conversation is still live.
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("sekrit")))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("Ember")))
	assert.True(t, neg.Succeeded())
}

func TestNegotiator_StoreFailureOnLookup(t *testing.T) {
	gateway := newStubGateway()
	gateway.existsErr = assert.AnError
	neg, conn := newTestNegotiator(t, gateway)

	require.NoError(t, neg.HandleRequest(context.Background(),
		requestPayload("zara", "game", MethodNone)))

	// The user sees a banner before the connection drops.
	require.NotEmpty(t, conn.packets)
	assert.Equal(t, byte(wire.MsgUserAuthBanner), conn.packets[0].msg)
	conn.requireDisconnect(t, ReasonConnectionLost)
}

func TestNegotiator_DoneGatesFurtherTraffic(t *testing.T) {
	ctx := context.Background()
	neg, conn := newTestNegotiator(t, newStubGateway())

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("root", "game", MethodNone)))
	require.True(t, neg.Done())
	sent := len(conn.packets)
	disconnects := len(conn.disconnects)

	require.NoError(t, neg.HandleRequest(ctx, requestPayload("newcomer", "game", MethodNone)))
	require.NoError(t, neg.HandleInfoResponse(ctx, answersPayload("late")))

	assert.Equal(t, sent, len(conn.packets))
	assert.Equal(t, disconnects, len(conn.disconnects))
}

func TestNegotiator_IdentityBeforeSession(t *testing.T) {
	neg, _ := newTestNegotiator(t, newStubGateway())
	assert.Equal(t, Identity{}, neg.Identity())
}
