package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dqx0.com/go/httpwire/httpx"
	"dqx0.com/go/httpwire/internal/obs"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr            string
		stats           bool
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the echo server until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			meter := obs.NewMemoryMeter()
			srv := httpx.NewServer(a.cfg.Server, echoHandler())
			srv.Logger = a.log
			srv.Meter = meter

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errs := make(chan error, 1)
			go func() { errs <- srv.ListenAndServe(ctx) }()

			var err error
			select {
			case err = <-errs:
				if !errors.Is(err, httpx.ErrServerClosed) {
					return fmt.Errorf("serve: %w", err)
				}
			case <-ctx.Done():
				a.log.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
				return fmt.Errorf("server didn't stop gracefully: %w", err)
			}
			a.log.Info("shutdown complete")
			if stats {
				fmt.Fprint(cmd.OutOrStdout(), meter.String())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&stats, "stats", false, "print counters on shutdown")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 20*time.Second, "grace period for idle connections")
	return cmd
}

// echoHandler answers every request with a text rendering of what it
// received: the request line, the header fields in arrival order, and the
// body.
func echoHandler() httpx.Handler {
	return httpx.HandlerFunc(func(ctx context.Context, r *httpx.Request) (*httpx.Response, error) {
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n", r)
		r.Header.Each(func(name, value string) {
			fmt.Fprintf(&b, "%s: %s\n", name, value)
		})
		if id, ok := httpx.ConnIDFrom(ctx); ok {
			fmt.Fprintf(&b, "(conn %s)\n", id)
		}
		b.WriteString("\n")
		b.Write(r.Body)

		res := httpx.NewResponse(200, []byte(b.String()))
		res.Header.Set("Content-Type", "text/plain; charset=utf-8")
		return res, nil
	})
}
