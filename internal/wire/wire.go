// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

// Package wire encodes and decodes the userauth messages exchanged during
// authentication. All multi-byte integers are big-endian and all strings are
// length-prefixed with a uint32, per RFC 4251 §5. The functions here are pure
// transforms over byte slices; they never touch the transport.
package wire

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// Message numbers used by the authentication protocol (RFC 4252/4253).
const (
	MsgDisconnect       = 1
	MsgUserAuthRequest  = 50
	MsgUserAuthFailure  = 51
	MsgUserAuthSuccess  = 52
	MsgUserAuthBanner   = 53
	MsgUserAuthInfoReq  = 60
	MsgUserAuthInfoResp = 61
)

// bannerLanguage is the RFC 3066 language tag attached to banner messages.
const bannerLanguage = "en-US"

// ErrMalformed is returned when a length field overruns its buffer.
var ErrMalformed = errors.New("malformed wire message")

// AuthRequest is a decoded userauth request message.
type AuthRequest struct {
	Username string
	Service  string
	Method   string
	// Payload is the method-specific remainder, kept raw.
	Payload []byte
}

// Question is a single prompt within an info-request.
type Question struct {
	Prompt string
	// Echo reports whether the client should display the typed answer.
	// False for passwords.
	Echo bool
}

// readString consumes one length-prefixed string from b.
func readString(b []byte) (s []byte, rest []byte, ok bool) {
	if len(b) < 4 {
		return nil, b, false
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(n) > uint64(len(b)-4) {
		return nil, b, false
	}
	return b[4 : 4+n], b[4+n:], true
}

// appendString appends a length-prefixed string to b.
func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// ParseAuthRequest decodes a userauth request: three length-prefixed fields
// (username, service, method) followed by the raw method-specific payload.
func ParseAuthRequest(b []byte) (AuthRequest, error) {
	var req AuthRequest
	fields := make([]string, 0, 3)
	rest := b
	for _, name := range []string{"username", "service", "method"} {
		s, r, ok := readString(rest)
		if !ok {
			return AuthRequest{}, oops.Code("WIRE_MALFORMED").
				With("field", name).
				Wrap(ErrMalformed)
		}
		fields = append(fields, string(s))
		rest = r
	}
	req.Username = fields[0]
	req.Service = fields[1]
	req.Method = fields[2]
	req.Payload = rest
	return req, nil
}

// ParsePublicKeyOffer decodes the method-specific payload of a publickey
// request: a has-signature flag, the algorithm name and the key blob. Any
// trailing signature is ignored; keys offered during onboarding are only
// remembered, never verified here.
func ParsePublicKeyOffer(payload []byte) (algo string, blob []byte, err error) {
	if len(payload) < 1 {
		return "", nil, oops.Code("WIRE_MALFORMED").
			With("field", "signature flag").
			Wrap(ErrMalformed)
	}
	a, rest, ok := readString(payload[1:])
	if !ok {
		return "", nil, oops.Code("WIRE_MALFORMED").
			With("field", "algorithm").
			Wrap(ErrMalformed)
	}
	b, _, ok := readString(rest)
	if !ok {
		return "", nil, oops.Code("WIRE_MALFORMED").
			With("field", "key blob").
			Wrap(ErrMalformed)
	}
	return string(a), b, nil
}

// ParseInfoResponse decodes the answers from an info-response message: a
// uint32 count followed by that many length-prefixed strings.
//
// Malformed responses degrade instead of failing: if the count or a length
// field overruns the buffer, the answers parsed so far are returned and the
// caller decides whether to re-prompt. Trailing unconsumed bytes are reported
// so the caller can log them; they are never an error.
func ParseInfoResponse(b []byte) (answers []string, trailing int) {
	if len(b) < 4 {
		return nil, 0
	}
	count := binary.BigEndian.Uint32(b)
	rest := b[4:]
	for uint32(len(answers)) < count {
		s, r, ok := readString(rest)
		if !ok {
			return answers, 0
		}
		answers = append(answers, string(s))
		rest = r
	}
	return answers, len(rest)
}

// EncodeInfoRequest packs questions into an info-request message. The name,
// instruction and language-tag fields required by the format are sent empty;
// clients render the prompts alone.
func EncodeInfoRequest(questions []Question) []byte {
	b := appendString(nil, "")
	b = appendString(b, "")
	b = appendString(b, "")
	b = binary.BigEndian.AppendUint32(b, uint32(len(questions)))
	for _, q := range questions {
		b = appendString(b, q.Prompt)
		if q.Echo {
			b = append(b, 0x01)
		} else {
			b = append(b, 0x00)
		}
	}
	return b
}

// ParseInfoRequest decodes an info-request message. Used by tests and client
// tooling; the server only ever encodes these.
func ParseInfoRequest(b []byte) (questions []Question, err error) {
	rest := b
	var ok bool
	for _, name := range []string{"name", "instruction", "language"} {
		if _, rest, ok = readString(rest); !ok {
			return nil, oops.Code("WIRE_MALFORMED").
				With("field", name).
				Wrap(ErrMalformed)
		}
	}
	if len(rest) < 4 {
		return nil, oops.Code("WIRE_MALFORMED").
			With("field", "question count").
			Wrap(ErrMalformed)
	}
	count := binary.BigEndian.Uint32(rest)
	rest = rest[4:]
	for i := uint32(0); i < count; i++ {
		var prompt []byte
		prompt, rest, ok = readString(rest)
		if !ok {
			return nil, oops.Code("WIRE_MALFORMED").
				With("field", "prompt").
				Wrap(ErrMalformed)
		}
		if len(rest) < 1 {
			return nil, oops.Code("WIRE_MALFORMED").
				With("field", "echo flag").
				Wrap(ErrMalformed)
		}
		questions = append(questions, Question{
			Prompt: string(prompt),
			Echo:   rest[0] != 0x00,
		})
		rest = rest[1:]
	}
	return questions, nil
}

// EncodeFailure packs a failure message: the comma-joined list of methods
// that may still be attempted and the partial-success flag. No current flow
// sets partial; the capability is kept for future multi-factor use.
func EncodeFailure(methods []string, partial bool) []byte {
	b := appendString(nil, strings.Join(methods, ","))
	if partial {
		return append(b, 0xff)
	}
	return append(b, 0x00)
}

// EncodeSuccess packs a success message. The body is empty.
func EncodeSuccess() []byte {
	return []byte{}
}

// EncodeBanner packs a banner message: the text plus a trailing newline and
// the language tag.
func EncodeBanner(text string) []byte {
	b := appendString(nil, text+"\n")
	return appendString(b, bannerLanguage)
}

// EncodeDisconnect packs a disconnect message: reason code, description and
// language tag.
func EncodeDisconnect(reason uint32, description string) []byte {
	b := binary.BigEndian.AppendUint32(nil, reason)
	b = appendString(b, description)
	return appendString(b, bannerLanguage)
}
