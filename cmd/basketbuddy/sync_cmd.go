package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/colabottles/basketbuddy/internal/app"
	"github.com/colabottles/basketbuddy/internal/models"
)

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send queued changes to the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				res, err := e.Sync.Drain(ctx)
				if err != nil {
					return err
				}
				return c.emit(cmd.OutOrStdout(), viewDrain(res), func(w io.Writer) { printDrain(w, res) })
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity, last sync and outbox counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				st, err := e.Sync.Status(ctx)
				if err != nil {
					return err
				}
				view := map[string]interface{}{
					"online":  st.Online,
					"state":   string(st.State),
					"pending": st.Outbox.Pending,
					"dead":    st.Outbox.Dead,
					"remote":  e.Config.Remote.URL,
				}
				if st.LastSync != nil {
					view["last_sync"] = st.LastSync.UTC().Format(time.RFC3339)
				}
				return c.emit(cmd.OutOrStdout(), view, func(w io.Writer) {
					online := "offline"
					if st.Online {
						online = "online"
					}
					fmt.Fprintf(w, "Remote:    %s (%s)\n", e.Config.Remote.URL, online)
					last := "never"
					if st.LastSync != nil {
						last = st.LastSync.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "Last sync: %s\n", last)
					fmt.Fprintf(w, "Outbox:    %d pending, %d dead-lettered\n", st.Outbox.Pending, st.Outbox.Dead)
				})
			})
		},
	}
}

func (c *cli) requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Give dead-lettered changes a fresh retry budget and sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				n, err := e.Outbox.Requeue(ctx)
				if err != nil {
					return err
				}
				res, err := e.Sync.Drain(ctx)
				if err != nil {
					return err
				}
				out := map[string]interface{}{"requeued": n, "drain": viewDrain(res)}
				return c.emit(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "requeued %d\n", n)
					printDrain(w, res)
				})
			})
		},
	}
}

func (c *cli) watchCmd() *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch <list-id>",
		Short: "Follow a list live and keep syncing until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}

				w := cmd.OutOrStdout()
				items, err := e.Lists.FetchItems(ctx, args[0])
				if err != nil {
					return err
				}
				if !c.jsonOut {
					printItems(w, items)
				}

				sub, err := e.Lists.Watch(ctx, e.Realtime, args[0], func(ev models.ChangeEvent, applied bool, err error) {
					c.printEvent(w, ev, applied, err)
				})
				if err != nil {
					return err
				}
				defer sub.Close()

				return e.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (default: until interrupted)")
	return cmd
}

func (c *cli) printEvent(w io.Writer, ev models.ChangeEvent, applied bool, err error) {
	id := "?"
	if row, rerr := ev.Record(); rerr == nil {
		id = row.EntityID()
	}
	view := map[string]interface{}{
		"type":    string(ev.Type),
		"table":   string(ev.Table),
		"id":      id,
		"applied": applied,
	}
	if err != nil {
		view["error"] = err.Error()
	}
	c.emit(w, view, func(w io.Writer) {
		state := "applied"
		switch {
		case err != nil:
			state = "error: " + err.Error()
		case !applied:
			state = "ignored"
		}
		fmt.Fprintf(w, "%s %s %s %s\n", ev.Type, ev.Table, id, state)
	})
}
