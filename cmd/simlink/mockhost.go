package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simlink/simhost"
)

const shutdownGrace = 5 * time.Second

func (c *cli) mockHostCmd() *cobra.Command {
	var (
		listen   string
		name     string
		tick     time.Duration
		register bool
	)
	cmd := &cobra.Command{
		Use:   "mockhost",
		Short: "Run a simulated host for development and tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mh := c.cfg.MockHost
			if cmd.Flags().Changed("listen") {
				mh.ListenAddr = listen
			}
			if cmd.Flags().Changed("name") {
				mh.ApplicationName = name
			}
			if cmd.Flags().Changed("register") {
				mh.Register = register
			}

			opts := simhost.Options{
				ApplicationName: mh.ApplicationName,
				Tick:            tick,
				MaxBodySize:     c.cfg.Transport.MaxBodySize,
				Logger:          c.logger.Named("mockhost"),
				Metrics:         c.metrics,
				HostName:        c.cfg.Session.HostName,
				LeaseTTL:        mh.LeaseTTL,
			}
			if mh.Register {
				disc, closeDisc, err := c.discovery()
				if err != nil {
					return err
				}
				defer closeDisc()
				if c.cfg.Discovery.Kind == "static" {
					c.logger.Warn("static discovery is process local; other processes will not see this host")
				}
				opts.Discovery = disc
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := simhost.New(opts)
			addr, err := srv.Start(mh.ListenAddr)
			if err != nil {
				return fmt.Errorf("mock host: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mock host %q listening on %s\n", mh.ApplicationName, addr)

			<-ctx.Done()
			c.logger.Info("shutting down mock host", zap.Int("connections", srv.Conns()))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&listen, "listen", "", "listen address (default from config)")
	flags.StringVar(&name, "name", "", "application name reported in the handshake")
	flags.DurationVar(&tick, "tick", simhost.DefaultTick, "period of frame-rate data requests")
	flags.BoolVar(&register, "register", false, "announce the host through discovery")
	return cmd
}
