package sshd

import (
	"encoding/binary"
	"io"

	"github.com/samber/oops"
)

// maxFrameSize bounds a single inbound frame. Authentication messages are
// small; anything near this limit is hostile.
const maxFrameSize = 64 * 1024

// readFrame reads one length-prefixed message from r. The frame layout is
// uint32 length, one message-number byte, then the payload; the length
// counts the message byte.
func readFrame(r io.Reader) (msg byte, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err //nolint:wrapcheck // io.EOF must reach the caller unwrapped
	}

	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return 0, nil, oops.Code("FRAME_MALFORMED").Errorf("zero-length frame")
	}
	if length > maxFrameSize {
		return 0, nil, oops.Code("FRAME_TOO_LARGE").
			With("length", length).
			With("max", maxFrameSize).
			Errorf("frame exceeds maximum size")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, oops.Code("FRAME_TRUNCATED").Wrap(err)
	}
	return body[0], body[1:], nil
}

// writeFrame writes one length-prefixed message to w.
func writeFrame(w io.Writer, msg byte, payload []byte) error {
	frame := make([]byte, 0, 5+len(payload))
	frame = binary.BigEndian.AppendUint32(frame, uint32(1+len(payload)))
	frame = append(frame, msg)
	frame = append(frame, payload...)

	if _, err := w.Write(frame); err != nil {
		return oops.Code("FRAME_WRITE_FAILED").With("msg", msg).Wrap(err)
	}
	return nil
}
