// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

// DisconnectReason selects the category of a protocol disconnect. The
// numeric values follow RFC 4253 §11.1; the transport layer owns the actual
// encoding, the state machine only picks the category.
type DisconnectReason uint32

// Disconnect categories the state machine emits.
const (
	ReasonHostNotAllowed    DisconnectReason = 1
	ReasonConnectionLost    DisconnectReason = 10
	ReasonByApplication     DisconnectReason = 11
	ReasonAuthCancelled     DisconnectReason = 13
	ReasonNoMoreAuthMethods DisconnectReason = 14
	ReasonIllegalUsername   DisconnectReason = 15
)

// String returns the snake_case label used in logs and metrics.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonHostNotAllowed:
		return "host_not_allowed"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonByApplication:
		return "by_application"
	case ReasonAuthCancelled:
		return "auth_cancelled"
	case ReasonNoMoreAuthMethods:
		return "no_more_auth_methods"
	case ReasonIllegalUsername:
		return "illegal_username"
	default:
		return "unknown"
	}
}

// Conn is the transport boundary the state machine writes to. The secure
// transport below it (encryption, key exchange, integrity) is a trusted
// external collaborator; the state machine never sees raw connection bytes.
type Conn interface {
	// SendPacket writes one protocol message.
	SendPacket(msg byte, payload []byte) error

	// Disconnect sends a disconnect message and tears the connection down.
	Disconnect(reason DisconnectReason, message string) error

	// StartService hands the connection over to the named application
	// service after authentication succeeds.
	StartService(name string) error

	// RemoteAddr returns the peer's host for logging and ban decisions.
	RemoteAddr() string
}

// BanSink receives hosts that committed ban-worthy protocol violations,
// such as sending a password after being told passwords are not offered.
type BanSink interface {
	Ban(host string)
}

// Identity describes who authenticated, once Succeeded reports true.
type Identity struct {
	Username  string
	Character string
	Service   string
	Guest     bool
}
