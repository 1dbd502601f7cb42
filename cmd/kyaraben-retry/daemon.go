package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kyaraben/kyaraben/internal/logging"
	"github.com/kyaraben/kyaraben/internal/pkg/lock"
	"github.com/kyaraben/kyaraben/internal/retrycollector"
)

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the retry collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(logFormat(cfg), cfg.Log.Level)

			// Reposting dead-lettered messages is not idempotent across
			// processes, so only one collector may run per host.
			l := lock.MustAcquire("kyaraben-retry")
			defer l.Release()

			col, err := retrycollector.Dial(cfg.AMQP, cfg.Retry)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				slog.Info("shutting down", "signal", sig.String())
				col.Close()
			}()

			return col.Run()
		},
	}
}
