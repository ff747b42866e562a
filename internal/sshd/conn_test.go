package sshd

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embermush/embermush/internal/userauth"
	"github.com/embermush/embermush/internal/wire"
)

func TestAuthConn_Disconnect(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()

	type frame struct {
		msg     byte
		payload []byte
		err     error
	}
	frames := make(chan frame, 1)
	go func() {
		msg, payload, err := readFrame(client)
		frames <- frame{msg, payload, err}
	}()

	ac := newAuthConn(server)
	require.NoError(t, ac.Disconnect(userauth.ReasonAuthCancelled, "Please come again soon!"))
	assert.True(t, ac.closed)

	got := <-frames
	require.NoError(t, got.err)
	assert.Equal(t, byte(wire.MsgDisconnect), got.msg)
	assert.Equal(t, uint32(userauth.ReasonAuthCancelled), binary.BigEndian.Uint32(got.payload[:4]))

	// The connection is closed after the disconnect message.
	_, err := server.Write([]byte{0})
	assert.Error(t, err)
}

func TestAuthConn_StartServiceRecordsName(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	ac := newAuthConn(server)
	require.NoError(t, ac.StartService("game"))
	assert.Equal(t, "game", ac.service)
}

func TestAuthConn_RemoteAddrStripsPort(t *testing.T) {
	// net.Pipe addresses have no port; fall through unchanged.
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	ac := newAuthConn(server)
	assert.Equal(t, "pipe", ac.RemoteAddr())
}
