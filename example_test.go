package wsecho_test

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/coder/wsecho"
)

func ExampleServer() {
	// Serves the echo protocol on /ws and tracks connections so
	// they can be closed with StatusGoingAway on shutdown.
	var g wsecho.Grace
	mux := http.NewServeMux()
	mux.Handle("/ws", &wsecho.Server{
		Grace: &g,
	})

	s := &http.Server{
		Addr:    "localhost:4430",
		Handler: mux,
	}
	defer g.Close()

	err := s.ListenAndServe()
	log.Fatal(err)
}

func ExampleAccept() {
	// This handler accepts WebSocket connections from
	// https://example.com and echoes messages until the
	// client closes, then logs how the connection ended.
	cfg := wsecho.DefaultConfig()
	cfg.AllowedOrigins = []string{"https://example.com"}

	fn := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := wsecho.Accept(w, r, cfg)
		if err != nil {
			log.Println(err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), time.Hour)
		defer cancel()

		err = c.Serve(ctx)
		log.Printf("connection closed with %v: %v", wsecho.CloseStatus(err), err)
	})

	err := http.ListenAndServe("localhost:8080", fn)
	log.Fatal(err)
}

func ExampleMachine() {
	// Machine can be driven without any transport at all.
	m := wsecho.NewMachine(nil)
	defer m.Close()

	var frame []byte // A masked client frame read from somewhere.
	for _, e := range m.Feed(frame) {
		switch e := e.(type) {
		case wsecho.Write:
			log.Printf("write %d bytes", len(e.Frame))
		case wsecho.Message:
			log.Printf("received %q", e.Payload)
		case wsecho.Terminate:
			log.Printf("closed with %v", e.Close)
		}
	}
}
