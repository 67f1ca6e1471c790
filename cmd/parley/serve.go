package main

import (
	"context"
	"os/signal"
	"syscall"

	"parley/internal/gateway"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve conversations over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Gateway.Addr = serveAddr
		}

		s, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close(context.WithoutCancel(ctx))

		srv := gateway.NewServer(s.client, s.registry,
			gateway.WithConversationOptions(s.convOpts...),
			gateway.WithMaxFollowUps(cfg.Functions.MaxFollowUps),
		)
		return srv.ListenAndServe(ctx, cfg.Gateway.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "override gateway listen address")
}
