package wsecho

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

// StatusCode represents a WebSocket status code.
// https://tools.ietf.org/html/rfc6455#section-7.4
type StatusCode int

// These codes were retrieved from:
// https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusProtocolError   StatusCode = 1002
	StatusUnsupportedData StatusCode = 1003

	// StatusNoStatusRcvd is never sent on the wire.
	StatusNoStatusRcvd StatusCode = 1005

	StatusPolicyViolation StatusCode = 1008
	StatusMessageTooBig   StatusCode = 1009
)

func (c StatusCode) String() string {
	switch c {
	case StatusNormalClosure:
		return "StatusNormalClosure"
	case StatusGoingAway:
		return "StatusGoingAway"
	case StatusProtocolError:
		return "StatusProtocolError"
	case StatusUnsupportedData:
		return "StatusUnsupportedData"
	case StatusNoStatusRcvd:
		return "StatusNoStatusRcvd"
	case StatusPolicyViolation:
		return "StatusPolicyViolation"
	case StatusMessageTooBig:
		return "StatusMessageTooBig"
	}
	return fmt.Sprintf("StatusCode(%d)", int(c))
}

// CloseError represents the contents of a WebSocket close frame,
// either one received from the client or one sent by the server.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseStatus is a convenience wrapper around errors.As to grab
// the status code from a CloseError. If the passed error is nil
// or not a CloseError, the returned StatusCode will be -1.
func CloseStatus(err error) StatusCode {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// parseClosePayload reads the status code and reason from the
// unmasked payload of a close frame.
// The reason is not validated as UTF-8.
func parseClosePayload(p []byte) (CloseError, error) {
	if len(p) < 2 {
		return CloseError{}, xerrors.Errorf("close payload %q too small, cannot even contain the 2 byte status code", p)
	}

	return CloseError{
		Code:   StatusCode(binary.BigEndian.Uint16(p)),
		Reason: string(p[2:]),
	}, nil
}

// bytes returns the close frame payload for ce.
// The reason is not limited to 123 bytes, the frame
// encoder picks whichever length tier fits.
func (ce CloseError) bytes() []byte {
	p := make([]byte, 2+len(ce.Reason))
	binary.BigEndian.PutUint16(p, uint16(ce.Code))
	copy(p[2:], ce.Reason)
	return p
}
