// Package sshd accepts client connections and runs the authentication phase
// over a framed message stream, handing authenticated connections to the
// target service.
package sshd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/embermush/embermush/internal/observability"
	"github.com/embermush/embermush/internal/userauth"
	"github.com/embermush/embermush/internal/wire"
)

// DefaultIdleTimeout bounds how long a connection may sit between messages
// before authentication completes.
const DefaultIdleTimeout = 5 * time.Minute

// ServiceRunner takes over a connection once authentication succeeds.
type ServiceRunner interface {
	Run(ctx context.Context, identity userauth.Identity, conn net.Conn) error
}

// ServiceRunnerFunc adapts a function to the ServiceRunner interface.
type ServiceRunnerFunc func(ctx context.Context, identity userauth.Identity, conn net.Conn) error

// Run calls the wrapped function.
func (f ServiceRunnerFunc) Run(ctx context.Context, identity userauth.Identity, conn net.Conn) error {
	return f(ctx, identity, conn)
}

// Config carries the server's dependencies.
type Config struct {
	Addr        string
	IdleTimeout time.Duration

	// Banner is sent to every accepted connection before the first request
	// is read. Empty disables it.
	Banner string

	Gateway userauth.AccountGateway
	Deny    *userauth.DenyList
	Limits  userauth.Limits
	Runner  ServiceRunner

	// Metrics is optional; nil disables counters.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Server accepts connections and drives one authentication state machine per
// connection.
type Server struct {
	cfg    Config
	bans   *BanList
	logger *slog.Logger

	mu       sync.RWMutex
	listener net.Listener
}

// NewServer creates a Server.
// Returns an error if any required dependency is nil.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, oops.Errorf("listen address is required")
	}
	if cfg.Gateway == nil {
		return nil, oops.Errorf("account gateway is required")
	}
	if cfg.Deny == nil {
		return nil, oops.Errorf("deny list is required")
	}
	if cfg.Runner == nil {
		return nil, oops.Errorf("service runner is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:    cfg,
		bans:   NewBanList(),
		logger: logger,
	}, nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Bans returns the server's in-memory ban list.
func (s *Server) Bans() *BanList { return s.bans }

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", s.cfg.Addr).Wrap(err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("auth server started", "addr", listener.Addr())

	go func() {
		<-ctx.Done()
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", "error", err)
		}
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.logger.Error("accept failed", "error", err)
				continue
			}
		}
		go s.handle(ctx, conn)
	}
}

// handle drives one connection through the authentication phase.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	ac := newAuthConn(conn)

	if s.bans.Banned(ac.RemoteAddr()) {
		s.countConnection("banned")
		s.logger.Info("rejecting banned host", "remote", ac.RemoteAddr())
		_ = ac.Disconnect(userauth.ReasonHostNotAllowed, "This auth method is not allowed") //nolint:errcheck // best effort toward a banned peer
		return
	}
	s.countConnection("accepted")

	if s.cfg.Banner != "" {
		if err := ac.SendPacket(wire.MsgUserAuthBanner, wire.EncodeBanner(s.cfg.Banner)); err != nil {
			s.logger.Debug("failed to send welcome banner", "error", err)
			_ = conn.Close() //nolint:errcheck // connection is already broken
			return
		}
	}

	neg, err := userauth.NewNegotiatorWithLogger(
		ac, s.cfg.Gateway, s.cfg.Deny, userauth.NewGuard(s.cfg.Limits), s.logger)
	if err != nil {
		s.logger.Error("failed to create negotiator", "error", err)
		_ = conn.Close() //nolint:errcheck // nothing useful to do with a close error here
		return
	}
	neg.SetBanSink(s.bans)

	for !neg.Done() {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			s.logger.Debug("failed to set read deadline", "error", err)
		}

		msg, payload, err := readFrame(conn)
		if err != nil {
			s.readFailed(ac, err)
			return
		}

		switch msg {
		case wire.MsgUserAuthRequest:
			s.countPacket("request")
			err = neg.HandleRequest(ctx, payload)
		case wire.MsgUserAuthInfoResp:
			s.countPacket("info_response")
			err = neg.HandleInfoResponse(ctx, payload)
		case wire.MsgDisconnect:
			s.countPacket("disconnect")
			s.logger.Debug("client disconnected during authentication", "remote", ac.RemoteAddr())
			_ = conn.Close() //nolint:errcheck // peer already gone
			return
		default:
			s.countPacket("unknown")
			s.logger.Debug("ignoring unexpected message during authentication", "msg", msg)
			continue
		}
		if err != nil {
			s.logger.Warn("authentication aborted on transport error",
				"remote", ac.RemoteAddr(),
				"error", err,
			)
			_ = conn.Close() //nolint:errcheck // connection is already broken
			return
		}
	}

	if !neg.Succeeded() {
		// The negotiator already sent the disconnect and closed the conn.
		return
	}

	// Authenticated: the connection now belongs to the target service.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		s.logger.Debug("failed to clear read deadline", "error", err)
	}
	identity := neg.Identity()
	if err := s.cfg.Runner.Run(ctx, identity, conn); err != nil {
		s.logger.Warn("service runner failed",
			"username", identity.Username,
			"character", identity.Character,
			"error", err,
		)
	}
}

// readFailed logs a read-loop error at a severity matching how expected it is.
func (s *Server) readFailed(ac *authConn, err error) {
	if ac.closed || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Info("dropping idle unauthenticated connection", "remote", ac.RemoteAddr())
	} else {
		s.logger.Debug("connection read error", "remote", ac.RemoteAddr(), "error", err)
	}
	_ = ac.conn.Close() //nolint:errcheck // teardown path
}

func (s *Server) countConnection(disposition string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ConnectionsTotal.WithLabelValues(disposition).Inc()
	}
}

func (s *Server) countPacket(packetType string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.PacketsTotal.WithLabelValues(packetType).Inc()
	}
}
