// Command basketbuddy is the local-first grocery list client.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/app"
	"github.com/colabottles/basketbuddy/internal/config"
)

// Version is set at build time.
var Version = "0.1.0"

// cli carries the persistent flags.
type cli struct {
	configPath string
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "basketbuddy",
		Short:         "Local-first shared grocery lists",
		Long:          "Manage grocery lists offline. Changes are kept locally and synced to the remote when it is reachable.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.basketbuddy/config.toml)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		c.configCmd(),
		c.listsCmd(),
		c.listCmd(),
		c.itemsCmd(),
		c.itemCmd(),
		c.categoriesCmd(),
		c.categoryCmd(),
		c.sharesCmd(),
		c.syncCmd(),
		c.statusCmd(),
		c.requeueCmd(),
		c.watchCmd(),
	)
	return root
}

// withEngine opens the engine, checks reachability once and runs fn.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	e, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	e.Probe(ctx)
	return fn(ctx, e)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
