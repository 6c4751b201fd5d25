package wsecho

import (
	"errors"
	"io"
	"net/http"

	"cdr.dev/slog"

	"github.com/coder/wsecho/internal/metrics"
)

// Server is an http.Handler that upgrades requests to WebSocket
// connections and echoes every message received on them.
//
// Each connection is independent, a failing connection never
// affects another one.
type Server struct {
	// Config is shared by every connection. Nil means DefaultConfig.
	Config *Config

	Logger  slog.Logger
	Metrics *metrics.Metrics

	// Fallback serves requests that do not ask for an upgrade at all.
	// When nil they are rejected like any other invalid handshake.
	Fallback http.Handler

	// Grace, if set, tracks connections for graceful shutdown.
	Grace *Grace
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Fallback != nil && r.Header.Get("Upgrade") == "" {
		s.Fallback.ServeHTTP(w, r)
		return
	}

	ctx := r.Context()
	log := s.Logger.With(
		slog.F("remote_addr", r.RemoteAddr),
		slog.F("origin", r.Header.Get("Origin")),
	)

	if s.Grace != nil && s.Grace.isClosing() {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	c, err := Accept(w, r, s.Config)
	if err != nil {
		var he *HandshakeError
		if errors.As(err, &he) {
			s.Metrics.HandshakeRejected(he.Header)
			log.Warn(ctx, "rejected handshake", slog.Error(err))
			return
		}
		log.Error(ctx, "failed to accept", slog.Error(err))
		return
	}
	s.Metrics.HandshakeAccepted()

	c.log = log
	c.metrics = s.Metrics

	if s.Grace != nil {
		err = s.Grace.addConn(c)
		if err != nil {
			log.Info(ctx, "refused connection during shutdown")
			return
		}
		defer s.Grace.handlerDone()
	}

	s.Metrics.ConnOpened()
	defer s.Metrics.ConnClosed()
	log.Info(ctx, "connection established")

	err = c.Serve(ctx)
	switch {
	case CloseStatus(err) != -1:
		log.Info(ctx, "connection closed", slog.F("status", CloseStatus(err)))
	case errors.Is(err, io.EOF):
		log.Info(ctx, "client disconnected without a close frame")
	default:
		log.Error(ctx, "connection failed", slog.Error(err))
	}
}
