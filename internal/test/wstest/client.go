// Package wstest holds a minimal WebSocket client for tests
// that need to put exact bytes on the wire.
package wstest

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/gobwas/ws"

	"github.com/coder/wsecho/internal/errd"
	"github.com/coder/wsecho/internal/test/xrand"
)

// Conn is a raw client connection that has completed the handshake.
type Conn struct {
	net.Conn
	br *bufio.Reader
}

// Dial connects to addr and performs the opening handshake with
// the given Origin header. An empty origin sends none.
func Dial(ctx context.Context, addr, origin string) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to dial %v", addr)

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	br, err := Handshake(nc, addr, origin)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &Conn{
		Conn: nc,
		br:   br,
	}, nil
}

// Handshake writes an upgrade request to nc and reads the response.
// The returned reader must be used for everything read from nc
// afterwards as it may hold the first server frames.
func Handshake(nc net.Conn, host, origin string) (*bufio.Reader, error) {
	req, err := http.NewRequest(http.MethodGet, "http://"+host+"/", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", SecWebSocketKey())
	if origin != "" {
		req.Header.Set("Origin", origin)
	}

	err = req.Write(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to write handshake request: %w", err)
	}

	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("failed to read handshake response: %w", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("expected handshake response status code %v but got %v: %q", http.StatusSwitchingProtocols, resp.StatusCode, b)
	}
	return br, nil
}

// SecWebSocketKey returns a random Sec-WebSocket-Key.
func SecWebSocketKey() string {
	return base64.StdEncoding.EncodeToString(xrand.Bytes(16))
}

// Frame returns a masked client frame carrying p.
// p is not modified.
func Frame(op ws.OpCode, fin bool, p []byte) []byte {
	p = append([]byte(nil), p...)
	f := ws.MaskFrameWith(ws.NewFrame(op, fin, p), xrand.MaskKey())
	b, err := ws.CompileFrame(f)
	if err != nil {
		panic(fmt.Sprintf("failed to compile frame: %v", err))
	}
	return b
}

// UnmaskedFrame returns a client frame without a masking key.
func UnmaskedFrame(op ws.OpCode, fin bool, p []byte) []byte {
	b, err := ws.CompileFrame(ws.NewFrame(op, fin, p))
	if err != nil {
		panic(fmt.Sprintf("failed to compile frame: %v", err))
	}
	return b
}

// CloseFrame returns a masked client close frame.
func CloseFrame(code int, reason string) []byte {
	return Frame(ws.OpClose, true, ws.NewCloseFrameBody(ws.StatusCode(code), reason))
}

// WriteChunked writes b n bytes at a time.
func (c *Conn) WriteChunked(b []byte, n int) error {
	for len(b) > 0 {
		m := n
		if m > len(b) {
			m = len(b)
		}
		_, err := c.Conn.Write(b[:m])
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

// ReadFrame reads the next server frame, failing if none arrives
// within d.
func (c *Conn) ReadFrame(d time.Duration) (ws.Frame, error) {
	err := c.SetReadDeadline(time.Now().Add(d))
	if err != nil {
		return ws.Frame{}, err
	}
	return ws.ReadFrame(c.br)
}

// ReadClose reads the next server frame and parses it as a close frame.
func (c *Conn) ReadClose(d time.Duration) (code int, reason string, err error) {
	f, err := c.ReadFrame(d)
	if err != nil {
		return 0, "", err
	}
	if f.Header.OpCode != ws.OpClose {
		return 0, "", fmt.Errorf("expected close frame but got %v", f.Header.OpCode)
	}
	sc, r := ws.ParseCloseFrameData(f.Payload)
	return int(sc), r, nil
}

// ExpectEOF asserts the server closes the transport without
// sending anything else within d.
func (c *Conn) ExpectEOF(d time.Duration) error {
	err := c.SetReadDeadline(time.Now().Add(d))
	if err != nil {
		return err
	}
	b, err := c.br.ReadByte()
	if err == nil {
		return fmt.Errorf("expected EOF but read %#x", b)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET) {
		return nil
	}
	return err
}
