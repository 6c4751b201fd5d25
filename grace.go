package wsecho

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// Grace enables graceful shutdown of accepted WebSocket connections.
//
// Set it on a Server to record accepted connections and then use
// Close or Shutdown to close them with StatusGoingAway.
//
// Grace is intended to be used in harmony with net/http.Server's
// Shutdown and Close methods, which do not track hijacked connections.
type Grace struct {
	mu      sync.Mutex
	closing bool
	conns   map[*Conn]struct{}

	// handlers counts Server handlers still running for accepted connections.
	handlers sync.WaitGroup
}

const shutdownReason = "server shutting down"

var errShuttingDown = xerrors.New("server shutting down")

func (g *Grace) isClosing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closing
}

func (g *Grace) addConn(c *Conn) error {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		c.Close(StatusGoingAway, shutdownReason)
		// Serve never runs for a refused connection.
		c.m.Close()
		return errShuttingDown
	}
	if g.conns == nil {
		g.conns = make(map[*Conn]struct{})
	}
	g.conns[c] = struct{}{}
	g.handlers.Add(1)
	c.g = g
	g.mu.Unlock()
	return nil
}

func (g *Grace) handlerDone() {
	g.handlers.Done()
}

func (g *Grace) delConn(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c)
}

// Len returns the number of connections being tracked.
func (g *Grace) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close prevents the acceptance of new connections with
// http.StatusServiceUnavailable and closes all accepted
// connections with StatusGoingAway. It returns once the
// handlers serving them have returned.
func (g *Grace) Close() error {
	g.mu.Lock()
	g.closing = true
	conns := make([]*Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
		delete(g.conns, c)
	}
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.Close(StatusGoingAway, shutdownReason)
		}(c)
	}
	wg.Wait()

	g.handlers.Wait()
	return nil
}

// Shutdown prevents the acceptance of new connections and waits until
// all connections close. If the context is cancelled before that, it
// calls Close to close all connections immediately.
func (g *Grace) Shutdown(ctx context.Context) error {
	defer g.Close()

	g.mu.Lock()
	g.closing = true
	g.mu.Unlock()

	// Same poll period used by net/http.
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	for {
		if g.Len() == 0 {
			return nil
		}

		select {
		case <-t.C:
		case <-ctx.Done():
			return fmt.Errorf("failed to shutdown WebSockets: %w", ctx.Err())
		}
	}
}
