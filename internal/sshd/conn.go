package sshd

import (
	"net"

	"github.com/samber/oops"

	"github.com/embermush/embermush/internal/userauth"
	"github.com/embermush/embermush/internal/wire"
)

// authConn adapts a framed network connection to the transport interface the
// authentication state machine writes to. It sits above the deployment's
// secure transport, so everything here is already decrypted and
// integrity-checked.
type authConn struct {
	conn net.Conn

	// service is set by StartService once authentication succeeds. The
	// server reads it to hand the connection to the target service.
	service string

	// closed is set after Disconnect so the read loop can tell an expected
	// teardown from a peer drop.
	closed bool
}

func newAuthConn(conn net.Conn) *authConn {
	return &authConn{conn: conn}
}

// SendPacket writes one protocol message.
func (c *authConn) SendPacket(msg byte, payload []byte) error {
	return writeFrame(c.conn, msg, payload)
}

// Disconnect sends a disconnect message and closes the connection.
func (c *authConn) Disconnect(reason userauth.DisconnectReason, message string) error {
	c.closed = true
	writeErr := writeFrame(c.conn, wire.MsgDisconnect, wire.EncodeDisconnect(uint32(reason), message))
	closeErr := c.conn.Close()
	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return oops.Code("CONN_CLOSE_FAILED").Wrap(closeErr)
	}
	return nil
}

// StartService records the service the authenticated connection should be
// handed to. The actual hand-off happens in the server's read loop, after
// the state machine returns.
func (c *authConn) StartService(name string) error {
	c.service = name
	return nil
}

// RemoteAddr returns the peer's host without the port, matching how bans and
// logs identify clients.
func (c *authConn) RemoteAddr() string {
	addr := c.conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Compile-time interface check.
var _ userauth.Conn = (*authConn)(nil)
