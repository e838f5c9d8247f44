// Package docserver hosts a shared document store over websockets so that
// both peers of a call observe the same documents.
package docserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/BioHazard786/findit/internal/store"
	"github.com/BioHazard786/findit/internal/version"
)

const timeout = 10 * time.Second

// Config holds the listener settings of the document server.
type Config struct {
	Bind           string
	Port           int
	AllowedOrigins []string
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Serve runs the document server on st until ctx is cancelled, then shuts
// down gracefully.
func Serve(ctx context.Context, cfg Config, st store.Store) error {
	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, cfg, st)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, cfg Config, st store.Store) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()

	hub := NewHub(st)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Handler:           Routes(hub, cfg.AllowedOrigins),
		IdleTimeout:       10 * time.Minute,
		ReadHeaderTimeout: timeout,
	}

	log.Info().Str("version", version.Version).Str("addr", ln.Addr().String()).Msg("document server listening")

	errs := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them.
	stopHub()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("document server stopped")
	return nil
}
