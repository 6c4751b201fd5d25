package wsecho

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/slogtest"
	"github.com/gobwas/ws"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coder/wsecho/internal/metrics"
	"github.com/coder/wsecho/internal/test/assert"
	"github.com/coder/wsecho/internal/test/wstest"
	"github.com/coder/wsecho/internal/test/xrand"
)

const testOrigin = "http://localhost:5500"

func testLogger(t testing.TB) slog.Logger {
	return slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
}

// newTestServer serves h and waits for every handler to return,
// hijacked ones included, before the test completes.
func newTestServer(t testing.TB, h http.Handler) *httptest.Server {
	t.Helper()

	var wg sync.WaitGroup
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wg.Add(1)
		defer wg.Done()
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		s.Close()
		wg.Wait()
	})
	return s
}

func dial(ctx context.Context, t testing.TB, u string) *websocket.Conn {
	t.Helper()

	c, _, err := websocket.DefaultDialer.DialContext(ctx, u, http.Header{
		"Origin": []string{testOrigin},
	})
	assert.Success(t, err)
	return c
}

func TestServer(t *testing.T) {
	t.Parallel()

	t.Run("echo", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		s := newTestServer(t, &Server{
			Logger: testLogger(t),
		})
		c := dial(ctx, t, wstest.URL(s))
		defer c.Close()

		msgs := [][]byte{
			[]byte("hello"),
			xrand.Bytes(126),
			// Written as several frames by gorilla.
			xrand.Bytes(100000),
		}
		for _, msg := range msgs {
			err := c.WriteMessage(websocket.TextMessage, msg)
			assert.Success(t, err)

			typ, p, err := c.ReadMessage()
			assert.Success(t, err)
			assert.Equal(t, "type", websocket.BinaryMessage, typ)
			assert.Equal(t, "payload", msg, p)
		}

		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		assert.Success(t, err)

		_, _, err = c.ReadMessage()
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close error: %v", err)
		}
		assert.Equal(t, "code", websocket.CloseNormalClosure, ce.Code)
		assert.Equal(t, "reason", DefaultFarewellReason, ce.Text)
	})

	t.Run("badOrigin", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		s := newTestServer(t, &Server{
			Logger: testLogger(t),
		})
		_, resp, err := websocket.DefaultDialer.DialContext(ctx, wstest.URL(s), http.Header{
			"Origin": []string{"https://evil.example.com"},
		})
		assert.ErrorIs(t, websocket.ErrBadHandshake, err)
		defer resp.Body.Close()
		assert.Equal(t, "status", http.StatusBadRequest, resp.StatusCode)

		b, err := io.ReadAll(resp.Body)
		assert.Success(t, err)
		assert.Contains(t, string(b), rejectionMessage)
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &Server{
			Logger: testLogger(t),
			Fallback: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "hi")
			}),
		})

		resp, err := http.Get(s.URL)
		assert.Success(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		assert.Success(t, err)
		assert.Equal(t, "status", http.StatusOK, resp.StatusCode)
		assert.Equal(t, "body", "hi", string(b))
	})

	t.Run("noFallback", func(t *testing.T) {
		t.Parallel()

		s := newTestServer(t, &Server{
			Logger: testLogger(t),
		})

		resp, err := http.Get(s.URL)
		assert.Success(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "status", http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServerRaw(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &Server{
		Logger: testLogger(t),
	})

	rawDial := func(t *testing.T) *wstest.Conn {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()

		c, err := wstest.Dial(ctx, wstest.Addr(s), testOrigin)
		assert.Success(t, err)
		t.Cleanup(func() {
			c.Close()
		})
		return c
	}

	t.Run("oneByteAtATime", func(t *testing.T) {
		t.Parallel()

		c := rawDial(t)

		p := xrand.Bytes(300)
		var b []byte
		b = append(b, wstest.Frame(ws.OpText, false, p[:100])...)
		b = append(b, wstest.Frame(ws.OpContinuation, true, p[100:])...)
		err := c.WriteChunked(b, 1)
		assert.Success(t, err)

		f, err := c.ReadFrame(time.Second * 10)
		assert.Success(t, err)
		assert.Equal(t, "opcode", ws.OpBinary, f.Header.OpCode)
		assert.Equal(t, "fin", true, f.Header.Fin)
		assert.Equal(t, "masked", false, f.Header.Masked)
		assert.Equal(t, "payload", p, f.Payload)
	})

	t.Run("pipelined", func(t *testing.T) {
		t.Parallel()

		c := rawDial(t)

		var b []byte
		for i := 0; i < 3; i++ {
			b = append(b, wstest.Frame(ws.OpText, true, []byte(strings.Repeat("x", i+1)))...)
		}
		_, err := c.Write(b)
		assert.Success(t, err)

		for i := 0; i < 3; i++ {
			f, err := c.ReadFrame(time.Second * 10)
			assert.Success(t, err)
			assert.Equal(t, "payload", strings.Repeat("x", i+1), string(f.Payload))
		}
	})

	t.Run("goingAway", func(t *testing.T) {
		t.Parallel()

		c := rawDial(t)

		_, err := c.Write(wstest.CloseFrame(1001, ""))
		assert.Success(t, err)
		assert.Success(t, c.ExpectEOF(time.Second*10))
	})

	failures := []struct {
		name   string
		frame  []byte
		code   int
		reason string
	}{
		{
			name:   "unmasked",
			frame:  wstest.UnmaskedFrame(ws.OpText, true, []byte("hello")),
			code:   1002,
			reason: reasonMaskRequired,
		},
		{
			name:   "ping",
			frame:  wstest.Frame(ws.OpPing, true, nil),
			code:   1003,
			reason: reasonKeepAlive,
		},
		{
			name:   "empty",
			frame:  wstest.Frame(ws.OpBinary, true, nil),
			code:   1008,
			reason: reasonEmptyPayload,
		},
		{
			name:   "noStatus",
			frame:  wstest.Frame(ws.OpClose, true, nil),
			code:   1008,
			reason: reasonStatusRequired,
		},
	}
	for _, tc := range failures {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := rawDial(t)

			_, err := c.Write(tc.frame)
			assert.Success(t, err)

			code, reason, err := c.ReadClose(time.Second * 10)
			assert.Success(t, err)
			assert.Equal(t, "code", tc.code, code)
			assert.Equal(t, "reason", tc.reason, reason)
			assert.Success(t, c.ExpectEOF(time.Second*10))
		})
	}
}

func TestConnServe(t *testing.T) {
	t.Parallel()

	serve := func(t *testing.T) (*httptest.Server, <-chan error) {
		errc := make(chan error, 1)
		s := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, err := Accept(w, r, nil)
			if err != nil {
				errc <- err
				return
			}
			err = c.Serve(r.Context())
			if c.State() != StateClosed {
				t.Errorf("expected closed machine after Serve: %v", c.State())
			}
			errc <- err
		}))
		return s, errc
	}

	t.Run("peerClose", func(t *testing.T) {
		t.Parallel()

		s, errc := serve(t)
		c, err := wstest.Dial(context.Background(), wstest.Addr(s), testOrigin)
		assert.Success(t, err)
		defer c.Close()

		_, err = c.Write(wstest.CloseFrame(1000, "bye"))
		assert.Success(t, err)

		err = <-errc
		assert.Equal(t, "close status", StatusNormalClosure, CloseStatus(err))
		var ce CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected CloseError: %v", err)
		}
		assert.Equal(t, "reason", "bye", ce.Reason)
		if strings.Contains(err.Error(), "sent close frame") {
			t.Fatalf("peer close reported as sent: %v", err)
		}
	})

	t.Run("serverClose", func(t *testing.T) {
		t.Parallel()

		s, errc := serve(t)
		c, err := wstest.Dial(context.Background(), wstest.Addr(s), testOrigin)
		assert.Success(t, err)
		defer c.Close()

		_, err = c.Write(wstest.Frame(ws.OpPong, true, nil))
		assert.Success(t, err)

		err = <-errc
		assert.Equal(t, "close status", StatusUnsupportedData, CloseStatus(err))
		assert.Contains(t, err, "sent close frame")
	})

	t.Run("drop", func(t *testing.T) {
		t.Parallel()

		s, errc := serve(t)
		c, err := wstest.Dial(context.Background(), wstest.Addr(s), testOrigin)
		assert.Success(t, err)
		c.Close()

		err = <-errc
		assert.ErrorIs(t, io.EOF, err)
		assert.Equal(t, "close status", StatusCode(-1), CloseStatus(err))
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		s, errc := serve(t)
		resp, err := http.Get(s.URL)
		assert.Success(t, err)
		resp.Body.Close()

		assert.ErrorIs(t, ErrHandshakeRejected, <-errc)
	})
}

func TestServerMetrics(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	reg := prometheus.NewRegistry()
	s := newTestServer(t, &Server{
		Logger:  testLogger(t),
		Metrics: metrics.New(reg),
	})

	_, resp, err := websocket.DefaultDialer.DialContext(ctx, wstest.URL(s), nil)
	assert.ErrorIs(t, websocket.ErrBadHandshake, err)
	resp.Body.Close()

	c := dial(ctx, t, wstest.URL(s))
	defer c.Close()
	for i := 0; i < 2; i++ {
		err = c.WriteMessage(websocket.BinaryMessage, []byte("ping"))
		assert.Success(t, err)
		_, _, err = c.ReadMessage()
		assert.Success(t, err)
	}

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP wsecho_handshake_total Total number of upgrade requests by result
# TYPE wsecho_handshake_total counter
wsecho_handshake_total{result="accepted"} 1
wsecho_handshake_total{result="rejected"} 1
# HELP wsecho_handshake_rejections_total Total number of rejected upgrade requests by offending header
# TYPE wsecho_handshake_rejections_total counter
wsecho_handshake_rejections_total{header="Origin"} 1
# HELP wsecho_message_echoed_total Total number of messages echoed
# TYPE wsecho_message_echoed_total counter
wsecho_message_echoed_total 2
# HELP wsecho_message_payload_bytes_total Total payload bytes echoed
# TYPE wsecho_message_payload_bytes_total counter
wsecho_message_payload_bytes_total 8
`),
		"wsecho_handshake_total",
		"wsecho_handshake_rejections_total",
		"wsecho_message_echoed_total",
		"wsecho_message_payload_bytes_total",
	)
	assert.Success(t, err)
}
