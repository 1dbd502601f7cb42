package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kyaraben/kyaraben/internal/amqpadmin"
	"github.com/kyaraben/kyaraben/internal/broker"
	"github.com/kyaraben/kyaraben/internal/docker"
	"github.com/kyaraben/kyaraben/internal/heat"
	"github.com/kyaraben/kyaraben/internal/logging"
	"github.com/kyaraben/kyaraben/internal/store"
	"github.com/kyaraben/kyaraben/internal/worker"
)

func daemonCmd() *cobra.Command {
	var dbUpdate bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the task worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logging.InitStructured(logFormat(cfg), cfg.Log.Level)

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

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

			gw, err := heat.NewGateway(cfg.OpenStack)
			if err != nil {
				return err
			}
			hc := heat.NewClient(gw)

			admin := amqpadmin.New(cfg.AMQP)
			dc := docker.New(cfg.Docker, cfg.Media.Tempdir)

			w := worker.New(cfg, st, bk, admin, hc, dc)
			return w.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&dbUpdate, "db-update", false, "Apply pending schema migrations before consuming")

	return cmd
}
