package wsecho

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/xerrors"

	"github.com/coder/wsecho/internal/errd"
)

// ErrHandshakeRejected is wrapped by every error Accept returns
// for a request that is not a valid WebSocket upgrade.
var ErrHandshakeRejected = errors.New("websocket handshake rejected")

const rejectionMessage = "400 bad request. The HTTP headers do not comply with the RFC 6455 spec."

// HandshakeError describes why an upgrade request was rejected.
type HandshakeError struct {
	// Header is the offending request header, or "Method".
	Header string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket: protocol violation: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeRejected
}

func verifyClientRequest(r *http.Request, cfg *Config) error {
	if r.Method != http.MethodGet {
		return &HandshakeError{
			Header: "Method",
			Err:    xerrors.Errorf("handshake request method %q is not GET", r.Method),
		}
	}

	if !headerValuesContainsToken(r.Header, "Upgrade", "websocket") {
		return &HandshakeError{
			Header: "Upgrade",
			Err:    xerrors.Errorf("Upgrade header %q does not contain websocket", r.Header.Get("Upgrade")),
		}
	}

	if !headerValuesContainsToken(r.Header, "Connection", "Upgrade") {
		return &HandshakeError{
			Header: "Connection",
			Err:    xerrors.Errorf("Connection header %q does not contain Upgrade", r.Header.Get("Connection")),
		}
	}

	origin := r.Header.Get("Origin")
	if !cfg.originAllowed(origin) {
		return &HandshakeError{
			Header: "Origin",
			Err:    xerrors.Errorf("request origin %q is not authorized", origin),
		}
	}

	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return &HandshakeError{
			Header: "Sec-WebSocket-Version",
			Err:    xerrors.Errorf("unsupported protocol version: %q", r.Header.Get("Sec-WebSocket-Version")),
		}
	}

	if r.Header.Get("Sec-WebSocket-Key") == "" {
		return &HandshakeError{
			Header: "Sec-WebSocket-Key",
			Err:    xerrors.New("missing Sec-WebSocket-Key"),
		}
	}

	return nil
}

// reject writes the 400 response for a failed handshake.
// net/http closes the transport once it has been written.
func reject(w http.ResponseWriter, err error) {
	h := w.Header()
	h.Set("Content-Type", "text/plain")
	h.Set("Connection", "close")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusBadRequest)
	io.WriteString(w, rejectionMessage+"\n"+err.Error()+"\n")
}

// Accept validates r as a WebSocket upgrade request and, if it is one,
// completes the handshake and returns the upgraded connection.
//
// Accept only allows the handshake to succeed if the Origin header is one
// of cfg.AllowedOrigins. A rejected request is answered with
// 400 Bad Request and the returned error wraps ErrHandshakeRejected.
//
// Accept uses w to write the handshake response so the timeouts on the
// http.Server apply. Once it returns a Conn the transport no longer
// speaks HTTP. A nil cfg means DefaultConfig. A cfg that fails Validate
// is answered with 500 Internal Server Error.
func Accept(w http.ResponseWriter, r *http.Request, cfg *Config) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to accept WebSocket connection")

	if cfg == nil {
		cfg = DefaultConfig()
	}
	err = cfg.Validate()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, xerrors.Errorf("invalid config: %w", err)
	}

	err = verifyClientRequest(r, cfg)
	if err != nil {
		reject(w, err)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		err = xerrors.New("http.ResponseWriter does not implement http.Hijacker")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, err
	}

	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", acceptKey(r.Header.Get("Sec-WebSocket-Key")))

	w.WriteHeader(http.StatusSwitchingProtocols)
	// gin holds back the status code until the first write.
	if ginWriter, ok := w.(interface{ WriteHeaderNow() }); ok {
		ginWriter.WriteHeaderNow()
	}

	netConn, brw, err := hj.Hijack()
	if err != nil {
		err = xerrors.Errorf("failed to hijack connection: %w", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, err
	}

	return newConn(connConfig{
		rwc: netConn,
		br:  brw.Reader,
		cfg: cfg,
	}), nil
}

func headerValuesContainsToken(h http.Header, key, val string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	return httpguts.HeaderValuesContainsToken(h[key], val)
}

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// acceptKey computes the Sec-WebSocket-Accept value for the
// Sec-WebSocket-Key the client sent.
func acceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write(keyGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
