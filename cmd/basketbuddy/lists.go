package main

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/app"
)

func (c *cli) listsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show every list, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				lists, err := e.Lists.FetchLists(ctx)
				if err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), lists, func(w io.Writer) { printLists(w, lists) })
			})
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Create, rename or delete a list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				l, rc, err := e.Lists.CreateList(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), l, l.ID, rc)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <list-id> <name>",
		Short: "Rename a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				l, rc, err := e.Lists.RenameList(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), l, l.ID, rc)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "rm <list-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a list with its items and categories",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rc, err := e.Lists.DeleteList(ctx, args[0])
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), nil, args[0], rc)
			})
		},
	})
	return cmd
}

func (c *cli) sharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shares <list-id>",
		Short: "Show who a list is shared with",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				shares, err := e.Lists.FetchShares(ctx, args[0])
				if err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), shares, func(w io.Writer) { printShares(w, shares) })
			})
		},
	}
}
