package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bidon15/popdeploy/internal/handler"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the deployment registry over HTTP",
		Long: `Serve a read-only JSON API over the deployment registry.

Routes:
  GET /health
  GET /metrics
  GET /v1/deployments?network=&status=
  GET /v1/deployments/{network}/{contract}
  GET /v1/deployments/{network}/{contract}/history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reg, err := a.openRegistry(ctx)
			if err != nil {
				return err
			}
			defer reg.Close()

			srv := &http.Server{
				Addr: a.cfg.Server.Addr(),
				Handler: handler.NewRouter(handler.RouterConfig{
					Registry:    reg,
					Logger:      a.logger,
					CORSOrigins: a.cfg.Server.CORSOrigins,
				}),
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Server listening",
					slog.String("addr", srv.Addr),
					slog.String("registry", a.cfg.Registry.Backend),
				)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err, ok := <-errCh:
				if ok {
					return err
				}
				return nil
			case sig := <-quit:
				a.logger.Info("Shutting down server", slog.String("signal", sig.String()))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}

			a.logger.Info("Server stopped gracefully")
			return nil
		},
	}
}
