package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/app"
	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/services"
)

func (c *cli) itemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items <list-id>",
		Short: "Show a list's items in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				items, err := e.Lists.FetchItems(ctx, args[0])
				if err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), items, func(w io.Writer) { printItems(w, items) })
			})
		},
	}
}

// itemMutation adapts a single-item update to a cobra RunE.
func (c *cli) itemMutation(fn func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
			it, rc, err := fn(ctx, e, args)
			if err != nil {
				return err
			}
			return c.emitMutation(cmd.OutOrStdout(), it, it.ID, rc)
		})
	}
}

func (c *cli) itemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Add, change, reorder or delete items",
	}

	var category string
	add := &cobra.Command{
		Use:   "add <list-id> <text>",
		Short: "Append an item to a list",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.itemMutation(func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error) {
			return e.Lists.AddItem(ctx, args[0], strings.Join(args[1:], " "), models.StringPtr(category))
		}),
	}
	add.Flags().StringVarP(&category, "category", "c", "", "category name")

	toggle := &cobra.Command{
		Use:   "toggle <item-id>",
		Short: "Check or uncheck an item",
		Args:  cobra.ExactArgs(1),
		RunE: c.itemMutation(func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error) {
			return e.Lists.ToggleItem(ctx, args[0])
		}),
	}

	text := &cobra.Command{
		Use:   "text <item-id> <text>",
		Short: "Replace an item's text",
		Args:  cobra.MinimumNArgs(2),
		RunE: c.itemMutation(func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error) {
			return e.Lists.UpdateItemText(ctx, args[0], strings.Join(args[1:], " "))
		}),
	}

	notes := &cobra.Command{
		Use:   "notes <item-id> [notes]",
		Short: "Set an item's notes, or clear them when omitted",
		Args:  cobra.MinimumNArgs(1),
		RunE: c.itemMutation(func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error) {
			return e.Lists.UpdateItemNotes(ctx, args[0], models.StringPtr(strings.Join(args[1:], " ")))
		}),
	}

	setCategory := &cobra.Command{
		Use:   "category <item-id> [name]",
		Short: "File an item under a category, or clear it when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: c.itemMutation(func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error) {
			var name *string
			if len(args) == 2 {
				name = models.StringPtr(strings.TrimSpace(args[1]))
			}
			return e.Lists.UpdateItemCategory(ctx, args[0], name)
		}),
	}

	image := &cobra.Command{
		Use:   "image <item-id> [file]",
		Short: "Attach an image to an item, or remove it when no file is given",
		Long:  "Attach an image to an item. Large images are downscaled before upload. Uploads need the remote to be reachable.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: c.itemMutation(func(ctx context.Context, e *app.Engine, args []string) (*models.Item, services.Receipt, error) {
			var data []byte
			if len(args) == 2 {
				var err error
				if data, err = os.ReadFile(args[1]); err != nil {
					return nil, services.Receipt{}, fmt.Errorf("cannot read image: %w", err)
				}
			}
			return e.Lists.UpdateItemImage(ctx, args[0], data)
		}),
	}

	rm := &cobra.Command{
		Use:     "rm <item-id>",
		Aliases: []string{"delete"},
		Short:   "Delete an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rc, err := e.Lists.DeleteItem(ctx, args[0])
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), nil, args[0], rc)
			})
		},
	}

	reorder := &cobra.Command{
		Use:   "reorder <list-id> <item-id>...",
		Short: "Set the display order; every item of the list must be named once",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				receipts, err := e.Lists.ReorderItems(ctx, args[0], args[1:])
				if err != nil {
					return err
				}
				return c.emitMutation(cmd.OutOrStdout(), nil, args[0], receipts...)
			})
		},
	}

	cmd.AddCommand(add, toggle, text, notes, setCategory, image, rm, reorder)
	return cmd
}
