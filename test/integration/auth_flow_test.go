// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/embermush/embermush/internal/account"
	accountpg "github.com/embermush/embermush/internal/account/postgres"
	"github.com/embermush/embermush/internal/sshd"
	"github.com/embermush/embermush/internal/store"
	"github.com/embermush/embermush/internal/userauth"
	"github.com/embermush/embermush/internal/wire"
)

// testEnv holds the resources shared by the auth flow specs.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      interface{ Close() }
	accounts  *account.Service
}

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("embermush_test"),
		postgres.WithUsername("embermush"),
		postgres.WithPassword("embermush"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Open(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	env.pool = pool

	env.accounts, err = account.NewService(
		accountpg.NewAccountRepository(pool),
		accountpg.NewCharacterRepository(pool),
		account.NewArgon2idHasher(),
	)
	if err != nil {
		return nil, err
	}
	if err := env.accounts.EnsureGuest(ctx); err != nil {
		return nil, err
	}
	return env, nil
}

func (env *testEnv) teardown() {
	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(context.Background())
	}
	env.cancel()
}

// authClient speaks the framed auth protocol over a raw TCP connection.
type authClient struct {
	conn net.Conn
}

func nstring(s string) []byte {
	b := binary.BigEndian.AppendUint32(nil, uint32(len(s)))
	return append(b, s...)
}

func (c *authClient) send(msg byte, payload []byte) {
	frame := binary.BigEndian.AppendUint32(nil, uint32(1+len(payload)))
	frame = append(frame, msg)
	frame = append(frame, payload...)
	_, err := c.conn.Write(frame)
	Expect(err).NotTo(HaveOccurred())
}

func (c *authClient) sendRequest(username, service, method string) {
	payload := nstring(username)
	payload = append(payload, nstring(service)...)
	payload = append(payload, nstring(method)...)
	c.send(wire.MsgUserAuthRequest, payload)
}

func (c *authClient) sendAnswers(answers ...string) {
	payload := binary.BigEndian.AppendUint32(nil, uint32(len(answers)))
	for _, a := range answers {
		payload = append(payload, nstring(a)...)
	}
	c.send(wire.MsgUserAuthInfoResp, payload)
}

func (c *authClient) read() (byte, []byte) {
	Expect(c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))).To(Succeed())
	var head [4]byte
	_, err := io.ReadFull(c.conn, head[:])
	Expect(err).NotTo(HaveOccurred())
	body := make([]byte, binary.BigEndian.Uint32(head[:]))
	_, err = io.ReadFull(c.conn, body)
	Expect(err).NotTo(HaveOccurred())
	return body[0], body[1:]
}

// readPast skips banners and failures until one of the wanted messages
// arrives.
func (c *authClient) readPast(wanted ...byte) (byte, []byte) {
	for {
		msg, payload := c.read()
		for _, w := range wanted {
			if msg == w {
				return msg, payload
			}
		}
	}
}

var _ = Describe("Authentication flow", Ordered, func() {
	var (
		env      *testEnv
		srv      *sshd.Server
		srvDone  chan struct{}
		srvStop  context.CancelFunc
		identity userauth.Identity
		idCh     chan userauth.Identity
	)

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())

		deny, err := userauth.NewDenyList(userauth.DefaultDenyPatterns())
		Expect(err).NotTo(HaveOccurred())

		idCh = make(chan userauth.Identity, 1)
		srv, err = sshd.NewServer(sshd.Config{
			Addr:    "127.0.0.1:0",
			Gateway: env.accounts,
			Deny:    deny,
			Runner: sshd.ServiceRunnerFunc(func(_ context.Context, id userauth.Identity, conn net.Conn) error {
				idCh <- id
				return conn.Close()
			}),
			Logger: slog.New(slog.DiscardHandler),
		})
		Expect(err).NotTo(HaveOccurred())

		var runCtx context.Context
		runCtx, srvStop = context.WithCancel(context.Background())
		srvDone = make(chan struct{})
		go func() {
			defer close(srvDone)
			_ = srv.Run(runCtx)
		}()
		Eventually(srv.Addr).WithTimeout(5 * time.Second).ShouldNot(BeEmpty())
	})

	AfterAll(func() {
		if srvStop != nil {
			srvStop()
			Eventually(srvDone).WithTimeout(5 * time.Second).Should(BeClosed())
		}
		if env != nil {
			env.teardown()
		}
	})

	dial := func() *authClient {
		conn, err := net.Dial("tcp", srv.Addr())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = conn.Close() })
		return &authClient{conn: conn}
	}

	It("registers a new account through the dialogue", func() {
		client := dial()
		client.sendRequest("zara", "game", "keyboard-interactive")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // r/g/q menu
		client.sendAnswers("r")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // password pair
		client.sendAnswers("correct horse", "correct horse")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // first character
		client.sendAnswers("Ember")

		// Registration ends with a banner and a disconnect, never a login.
		msg, payload := client.readPast(wire.MsgDisconnect)
		Expect(msg).To(Equal(byte(wire.MsgDisconnect)))
		Expect(binary.BigEndian.Uint32(payload[:4])).To(Equal(uint32(userauth.ReasonAuthCancelled)))
	})

	It("persists the account across connections", func() {
		exists, err := env.accounts.Exists(env.ctx, "zara")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())

		names, err := env.accounts.ListCharacters(env.ctx, "zara")
		Expect(err).NotTo(HaveOccurred())
		Expect(names).To(ConsistOf("Ember"))
	})

	It("logs the registered account in with the stored password", func() {
		client := dial()
		client.sendRequest("zara", "game", "keyboard-interactive")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // password prompt
		client.sendAnswers("correct horse")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // character selection
		client.sendAnswers("Ember")

		msg, _ := client.readPast(wire.MsgUserAuthSuccess, wire.MsgDisconnect)
		Expect(msg).To(Equal(byte(wire.MsgUserAuthSuccess)))

		Eventually(idCh).WithTimeout(5 * time.Second).Should(Receive(&identity))
		Expect(identity.Username).To(Equal("zara"))
		Expect(identity.Character).To(Equal("Ember"))
		Expect(identity.Guest).To(BeFalse())
	})

	It("rejects a wrong password three times and disconnects", func() {
		client := dial()
		client.sendRequest("zara", "game", "keyboard-interactive")

		for i := 0; i < 3; i++ {
			_, _ = client.readPast(wire.MsgUserAuthInfoReq)
			client.sendAnswers("not it")
		}

		msg, payload := client.readPast(wire.MsgDisconnect)
		Expect(msg).To(Equal(byte(wire.MsgDisconnect)))
		Expect(binary.BigEndian.Uint32(payload[:4])).To(Equal(uint32(userauth.ReasonNoMoreAuthMethods)))
	})

	It("admits guests under the reserved guest identity", func() {
		client := dial()
		client.sendRequest("visitor", "game", "keyboard-interactive")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // r/g/q menu
		client.sendAnswers("g")

		_, _ = client.readPast(wire.MsgUserAuthInfoReq) // temporary character name
		client.sendAnswers("Wanderer")

		msg, _ := client.readPast(wire.MsgUserAuthSuccess, wire.MsgDisconnect)
		Expect(msg).To(Equal(byte(wire.MsgUserAuthSuccess)))

		Eventually(idCh).WithTimeout(5 * time.Second).Should(Receive(&identity))
		Expect(identity.Username).To(Equal(userauth.GuestUsername))
		Expect(identity.Character).To(Equal("Wanderer"))
		Expect(identity.Guest).To(BeTrue())
	})

	It("rejects character names that are already taken game-wide", func() {
		err := env.accounts.CreateAccount(env.ctx, userauth.CreateAccountParams{
			Username:  "marn",
			Password:  "another pass",
			Character: "Ember",
		})
		Expect(err).To(MatchError(userauth.ErrNameTaken))
	})

	It("disconnects deny-listed usernames without touching the store", func() {
		client := dial()
		client.sendRequest("root", "game", "none")

		msg, payload := client.readPast(wire.MsgDisconnect)
		Expect(msg).To(Equal(byte(wire.MsgDisconnect)))
		Expect(binary.BigEndian.Uint32(payload[:4])).To(Equal(uint32(userauth.ReasonIllegalUsername)))
	})
})
