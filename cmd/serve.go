package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/asaidimu/anansi-fixtures/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST API and run the retention sweeper",
		Long: `Starts the HTTP API and the background retention sweeper. Both stop
on SIGINT or SIGTERM; in-flight requests are given the configured shutdown
timeout to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			return app.serve(ctx)
		},
	}
}

// serve runs the HTTP server and the sweeper until ctx is cancelled or
// either of them fails.
func (a *application) serve(ctx context.Context) error {
	server := api.NewAPIServer(a.service, api.Options{
		Settings: a.settings,
		Events:   a.hub,
		Health:   a.db.PingContext,
		Logger:   a.logger.Named("api"),
	})

	httpServer := &http.Server{
		Addr:         a.cfg.Server.ListenAddr,
		Handler:      server.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting API server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down API server")
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := a.sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	return g.Wait()
}
