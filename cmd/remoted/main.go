// Command remoted runs the development remote: REST rows, image storage
// and the realtime change feed, for local testing of basketbuddy clients.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/app"
	"github.com/colabottles/basketbuddy/internal/config"
	"github.com/colabottles/basketbuddy/internal/remote/server"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "remoted",
		Short:         "Development remote for basketbuddy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath, addr, dbPath, blobDir, token string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Server.Addr = addr
			}
			if flags.Changed("db") {
				cfg.Server.DBPath = dbPath
			}
			if flags.Changed("blobs") {
				cfg.Server.BlobDir = blobDir
			}
			if flags.Changed("token") {
				cfg.Server.Token = token
			}

			if closer := app.SetupLogging(cfg.Log); closer != nil {
				defer closer.Close()
			}

			srv, err := server.New(server.Config{
				Addr:    cfg.Server.Addr,
				DBPath:  cfg.Server.DBPath,
				BlobDir: cfg.Server.BlobDir,
				Token:   cfg.Server.Token,
			})
			if err != nil {
				return err
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.OutOrStdout(), "remoted listening on %s\n", cfg.Server.Addr)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (default ~/.basketbuddy/config.toml)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "", "row store path; empty keeps rows in memory")
	cmd.Flags().StringVar(&blobDir, "blobs", "", "image storage directory")
	cmd.Flags().StringVar(&token, "token", "", "bearer token clients must present")
	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
