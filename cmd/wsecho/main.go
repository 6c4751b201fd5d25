// Command wsecho runs the WebSocket echo server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog"
	"cdr.dev/slog/sloggers/sloghuman"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/coder/wsecho"
	"github.com/coder/wsecho/internal/metrics"
	"github.com/coder/wsecho/internal/xsync"
)

const greeting = `Hello, I hope you enjoy the "under-the-hood" WebSocket implementation`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := slog.Make(sloghuman.Sink(os.Stderr))

	opts, err := parseFlags(os.Args[1:], os.Getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(ctx, "invalid flags", slog.Error(err))
	}
	if opts.debug {
		log = log.Leveled(slog.LevelDebug)
	}

	l, err := net.Listen("tcp", opts.addr)
	if err != nil {
		log.Fatal(ctx, "failed to listen", slog.Error(err))
	}

	err = run(ctx, log, l, opts)
	if err != nil {
		log.Fatal(ctx, "server failed", slog.Error(err))
	}
}

type options struct {
	addr    string
	debug   bool
	metrics bool
	cfg     *wsecho.Config
}

func parseFlags(args []string, getenv func(string) string) (*options, error) {
	opts := &options{
		cfg: wsecho.DefaultConfig(),
	}

	port := getenv("PORT")
	if port == "" {
		port = "4430"
	}

	var echoRate float64
	fs := pflag.NewFlagSet("wsecho", pflag.ContinueOnError)
	fs.StringVar(&opts.addr, "addr", net.JoinHostPort("", port), "address to listen on, defaults to $PORT or 4430")
	fs.Uint64Var(&opts.cfg.MaxPayload, "max-payload", wsecho.DefaultMaxPayload, "largest message accepted in bytes")
	fs.StringSliceVar(&opts.cfg.AllowedOrigins, "allowed-origin", opts.cfg.AllowedOrigins, "Origin header values allowed to connect, repeatable")
	fs.Float64Var(&echoRate, "echo-rate", 0, "messages echoed per second per connection, 0 for no limit")
	fs.IntVar(&opts.cfg.EchoBurst, "echo-burst", 10, "burst allowed above the echo rate")
	fs.BoolVar(&opts.debug, "debug", false, "log every message")
	fs.BoolVar(&opts.metrics, "metrics", true, "serve Prometheus metrics on /metrics")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	if echoRate > 0 {
		opts.cfg.EchoLimit = rate.Limit(echoRate)
	}

	err = opts.cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return opts, nil
}

func newHandler(log slog.Logger, opts *options, g *wsecho.Grace) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/", &wsecho.Server{
		Config:  opts.cfg,
		Logger:  log,
		Metrics: metrics.New(reg),
		Grace:   g,
		Fallback: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, greeting)
		}),
	})
	if opts.metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return mux
}

// run serves on l until ctx is cancelled and then shuts down,
// sending StatusGoingAway to every open WebSocket connection.
func run(ctx context.Context, log slog.Logger, l net.Listener, opts *options) error {
	var g wsecho.Grace
	s := &http.Server{
		Handler:           newHandler(log, opts, &g),
		ReadHeaderTimeout: time.Second * 15,
	}

	errc := xsync.Go(func() error {
		return s.Serve(l)
	})
	log.Info(ctx, "listening", slog.F("addr", l.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info(ctx, "shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	err := s.Shutdown(ctx)
	cerr := g.Close()
	if err != nil {
		return err
	}
	return cerr
}
