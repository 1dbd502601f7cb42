package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyaraben/kyaraben/internal/api"
	"github.com/kyaraben/kyaraben/internal/broker"
	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/logging"
	"github.com/kyaraben/kyaraben/internal/metrics"
	"github.com/kyaraben/kyaraben/internal/store"
)

func daemonCmd() *cobra.Command {
	var dbUpdate bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(logFormat(cfg), cfg.Log.Level)

			ctx := context.Background()

			st, err := store.New(ctx, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer st.Close()

			if dbUpdate {
				if err := st.Update(ctx); err != nil {
					return err
				}
			} else if err := st.RequireLatest(ctx); err != nil {
				return err
			}

			bk, err := broker.Dial(cfg.AMQP)
			if err != nil {
				return err
			}
			defer bk.Close()

			dc := docker.New(cfg.Docker, cfg.Media.Tempdir)

			handler := &api.Handler{
				Cfg:    cfg,
				Store:  st,
				Broker: bk,
				Docker: dc,
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/", handler.Router())

			addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.ListenPort)
			srv := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("api server listening", "addr", addr)
				if err := srv.ListenAndServe(); err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				slog.Info("shutting down", "signal", sig.String())
			}

			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().BoolVar(&dbUpdate, "db-update", false, "Apply pending schema migrations before serving")

	return cmd
}
