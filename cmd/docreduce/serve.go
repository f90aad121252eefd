package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docreduce/internal/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts, true)
			if err != nil {
				return err
			}
			if err := a.cfg.ValidateServe(); err != nil {
				a.llm.Close()
				return err
			}
			return serve(cmd.Context(), a)
		},
	}
}

// serve runs until ctx is cancelled by a signal. The job queue is stopped
// only after in-flight requests have drained, since handlers submit to it.
func serve(ctx context.Context, a *app) error {
	a.orch.Start(ctx)
	defer a.llm.Close()
	defer a.orch.Stop()

	srv := api.NewServer(a.orch, a.llm, a.metrics, a.log, a.cfg)
	httpServer := &http.Server{
		Addr:         ":" + a.cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // process requests run whole reductions
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", httpServer.Addr, err)
	}

	a.log.Info("starting docreduce", "port", a.cfg.Port, "output_dir", a.cfg.OutputDir, "index_backend", a.cfg.IndexBackend)
	if err := serveUntilDone(ctx, httpServer, ln, a.log); err != nil {
		a.log.Error("server error", "error", err)
		return err
	}
	return nil
}

// serveUntilDone serves on ln and, once ctx is done, returns only after
// Shutdown has finished draining requests.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener, log *slog.Logger) error {
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown incomplete", "error", err)
		}
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-drained
	return nil
}
