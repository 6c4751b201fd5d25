package wsecho

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"

	"cdr.dev/slog"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"

	"github.com/coder/wsecho/internal/errd"
	"github.com/coder/wsecho/internal/metrics"
)

// Conn is an upgraded WebSocket connection.
//
// It owns the hijacked transport and the Machine parsing it.
// Serve must be called to run the connection and only Close
// may be called concurrently with it.
type Conn struct {
	rwc     net.Conn
	br      *bufio.Reader
	m       *Machine
	limiter *rate.Limiter

	log     slog.Logger
	metrics *metrics.Metrics
	g       *Grace

	writeMu sync.Mutex

	closeMu  sync.Mutex
	closed   chan struct{}
	closeErr error
}

type connConfig struct {
	rwc net.Conn
	br  *bufio.Reader
	cfg *Config
}

func newConn(cfg connConfig) *Conn {
	br := cfg.br
	if br == nil {
		br = bufio.NewReader(cfg.rwc)
	}
	return &Conn{
		rwc:     cfg.rwc,
		br:      br,
		m:       NewMachine(cfg.cfg),
		limiter: cfg.cfg.newLimiter(),
		closed:  make(chan struct{}),
	}
}

// State returns the state of the connection's Machine.
// It is only meaningful once Serve has returned.
func (c *Conn) State() State {
	return c.m.State()
}

// Serve reads the connection until it is closed, echoing every message.
//
// It returns the CloseError the connection ended with, wrapped in
// "sent close frame" when the server failed the connection, or the
// transport error that ended it. A client that disconnects without
// a close frame results in an error wrapping io.EOF.
//
// Cancelling ctx terminates the transport without a close frame.
func (c *Conn) Serve(ctx context.Context) (err error) {
	defer errd.Wrap(&err, "failed to serve WebSocket connection")
	defer c.m.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			c.terminate(xerrors.Errorf("connection cancelled: %w", ctx.Err()))
		case <-c.closed:
		}
	}()

	b := make([]byte, 32<<10)
	for {
		n, rerr := c.br.Read(b)
		if n > 0 {
			done, err := c.apply(ctx, c.m.Feed(b[:n]))
			if done || err != nil {
				return err
			}
		}
		if rerr != nil {
			return c.fail(xerrors.Errorf("failed to read from transport: %w", rerr))
		}
	}
}

// apply carries out effects in order. done is set once the
// connection has been terminated.
func (c *Conn) apply(ctx context.Context, effects []Effect) (done bool, err error) {
	for _, e := range effects {
		switch e := e.(type) {
		case Message:
			c.log.Debug(ctx, "message received",
				slog.F("frames", e.Frames),
				slog.F("payload_len", len(e.Payload)),
			)
			c.metrics.MessageEchoed(e.Frames, len(e.Payload))
		case Write:
			if !e.Close {
				err = c.limiter.Wait(ctx)
				if err != nil {
					return true, c.fail(xerrors.Errorf("failed to wait for echo limiter: %w", err))
				}
			}
			err = c.writeFrame(e.Frame)
			if err != nil {
				return true, c.fail(err)
			}
		case Terminate:
			c.metrics.Closed(int(e.Close.Code), e.Peer)
			if e.Peer {
				c.log.Info(ctx, "received close frame",
					slog.F("code", e.Close.Code),
					slog.F("reason", e.Close.Reason),
				)
				err = e.Close
			} else {
				c.log.Info(ctx, "failed connection",
					slog.F("code", e.Close.Code),
					slog.F("reason", e.Close.Reason),
				)
				err = fmt.Errorf("sent close frame: %w", e.Close)
			}
			if cerr := c.terminate(err); cerr != nil {
				err = multierr.Append(err, cerr)
			}
			return true, err
		}
	}
	return false, nil
}

func (c *Conn) writeFrame(p []byte) (err error) {
	defer errd.Wrap(&err, "failed to write frame")

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, err = c.rwc.Write(p)
	return err
}

// Close writes a close frame with code and reason and terminates
// the transport without waiting for the client to answer.
// Serve returns once the transport is closed.
//
// The connection can only be closed once. Additional calls to Close
// are no-ops.
func (c *Conn) Close(code StatusCode, reason string) (err error) {
	defer errd.Wrap(&err, "failed to close WebSocket")

	if c.isClosed() {
		return nil
	}

	ce := CloseError{
		Code:   code,
		Reason: reason,
	}
	c.metrics.Closed(int(code), false)
	return multierr.Combine(
		c.writeFrame(encodeCloseFrame(code, reason)),
		c.terminate(fmt.Errorf("sent close frame: %w", ce)),
	)
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) closeError() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// terminate closes the transport, recording err as the reason
// the connection ended. Only the first call has any effect.
func (c *Conn) terminate(err error) error {
	c.closeMu.Lock()
	if c.isClosed() {
		c.closeMu.Unlock()
		return nil
	}
	c.closeErr = err
	close(c.closed)
	c.closeMu.Unlock()

	if c.g != nil {
		c.g.delConn(c)
	}

	return errd.IgnoreClosed(c.rwc.Close())
}

// fail terminates the connection with err unless it was already
// closed, in which case the original reason is returned instead.
func (c *Conn) fail(err error) error {
	if c.isClosed() {
		return c.closeError()
	}
	c.terminate(err)
	return err
}
