package main

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/app"
)

func (c *cli) categoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories <list-id>",
		Short: "Show a list's categories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				cats, err := e.Lists.FetchCategories(ctx, args[0])
				if err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), cats, func(w io.Writer) { printCategories(w, cats) })
			})
		},
	}
}

func (c *cli) categoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "category",
		Short: "Create, change or delete categories",
	}

	var addColor string
	add := &cobra.Command{
		Use:   "add <list-id> <name>",
		Short: "Add a category to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				cat, rc, err := e.Lists.CreateCategory(ctx, args[0], strings.Join(args[1:], " "), addColor)
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), cat, cat.ID, rc)
			})
		},
	}
	add.Flags().StringVar(&addColor, "color", "", "hex color, e.g. #22c55e")

	var name, color string
	update := &cobra.Command{
		Use:   "update <category-id>",
		Short: "Rename or recolor a category; a rename moves its items along",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var namePtr, colorPtr *string
			if cmd.Flags().Changed("name") {
				namePtr = &name
			}
			if cmd.Flags().Changed("color") {
				colorPtr = &color
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				cat, receipts, err := e.Lists.UpdateCategory(ctx, args[0], namePtr, colorPtr)
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), cat, cat.ID, receipts...)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "new name")
	update.Flags().StringVar(&color, "color", "", "new hex color")

	rm := &cobra.Command{
		Use:     "rm <category-id>",
		Aliases: []string{"delete"},
		Short:   "Delete a category; its items keep the name",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rc, err := e.Lists.DeleteCategory(ctx, args[0])
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), nil, args[0], rc)
			})
		},
	}

	cmd.AddCommand(add, update, rm)
	return cmd
}
