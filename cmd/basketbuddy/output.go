package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/colabottles/basketbuddy/internal/models"
	"github.com/colabottles/basketbuddy/internal/services"
	syncpkg "github.com/colabottles/basketbuddy/internal/sync"
)

func (c *cli) emit(w io.Writer, v interface{}, text func(io.Writer)) error {
	if c.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func table(w io.Writer, header string, rows func(tw *tabwriter.Writer)) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, header)
	rows(tw)
	tw.Flush()
}

func describeReceipt(rc services.Receipt) string {
	if rc.Delivery == services.Queued {
		return fmt.Sprintf("queued (op %s)", rc.OpID)
	}
	return string(rc.Delivery)
}

type receiptView struct {
	Delivery string `json:"delivery"`
	Table    string `json:"table"`
	EntityID string `json:"entity_id"`
	OpID     string `json:"op_id,omitempty"`
	Error    string `json:"remote_error,omitempty"`
}

func viewReceipt(rc services.Receipt) receiptView {
	v := receiptView{
		Delivery: string(rc.Delivery),
		Table:    string(rc.Table),
		EntityID: rc.EntityID,
		OpID:     rc.OpID,
	}
	if rc.RemoteErr != nil {
		v.Error = rc.RemoteErr.Error()
	}
	return v
}

// emitMutation prints the written row and how it left the device.
func (c *cli) emitMutation(w io.Writer, row interface{}, id string, receipts ...services.Receipt) error {
	views := make([]receiptView, len(receipts))
	for i, rc := range receipts {
		views[i] = viewReceipt(rc)
	}
	out := map[string]interface{}{"receipts": views}
	if row != nil {
		out["row"] = row
	}
	return c.emit(w, out, func(w io.Writer) {
		switch len(receipts) {
		case 0:
			fmt.Fprintf(w, "%s: nothing to send\n", id)
		case 1:
			fmt.Fprintf(w, "%s: %s\n", id, describeReceipt(receipts[0]))
		default:
			queued := 0
			for _, rc := range receipts {
				if rc.Delivery == services.Queued {
					queued++
				}
			}
			fmt.Fprintf(w, "%s: %d changes, %d queued\n", id, len(receipts), queued)
		}
	})
}

func printLists(w io.Writer, lists []models.List) {
	table(w, "ID\tNAME\tUPDATED", func(tw *tabwriter.Writer) {
		for _, l := range lists {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", l.ID, l.Name, l.UpdatedAt.Local().Format(time.DateTime))
		}
	})
}

func printItems(w io.Writer, items []models.Item) {
	table(w, "ID\t \tTEXT\tCATEGORY\tNOTES", func(tw *tabwriter.Writer) {
		for _, it := range items {
			mark := "[ ]"
			if it.Checked {
				mark = "[x]"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", it.ID, mark, it.Text,
				models.Deref(it.Category), strings.ReplaceAll(models.Deref(it.Notes), "\n", " "))
		}
	})
}

func printCategories(w io.Writer, cats []models.Category) {
	table(w, "ID\tNAME\tCOLOR", func(tw *tabwriter.Writer) {
		for _, c := range cats {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Name, c.Color)
		}
	})
}

func printShares(w io.Writer, shares []models.ListShare) {
	table(w, "USER\tPERMISSION\tSINCE", func(tw *tabwriter.Writer) {
		for _, s := range shares {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", s.UserID, s.PermissionLevel, s.CreatedAt.Local().Format(time.DateOnly))
		}
	})
}

type drainView struct {
	Skipped   string   `json:"skipped,omitempty"`
	Attempted int      `json:"attempted"`
	Synced    int      `json:"synced"`
	Failed    int      `json:"failed"`
	Dead      int      `json:"dead"`
	Held      int      `json:"held"`
	Purged    int64    `json:"purged"`
	Failures  []string `json:"failures,omitempty"`
	Duration  string   `json:"duration"`
}

func viewDrain(r *syncpkg.DrainResult) drainView {
	v := drainView{
		Skipped:   string(r.Skipped),
		Attempted: r.Attempted,
		Synced:    r.Synced,
		Failed:    r.Failed,
		Dead:      r.Dead,
		Held:      r.Held,
		Purged:    r.Purged,
		Duration:  r.Duration.String(),
	}
	for _, f := range r.Failures {
		v.Failures = append(v.Failures, fmt.Sprintf("%s %s %s: %v", f.Type, f.Table, f.EntityID, f.Err))
	}
	return v
}

func printDrain(w io.Writer, r *syncpkg.DrainResult) {
	if r.Skipped != syncpkg.SkipNone {
		fmt.Fprintf(w, "sync skipped: %s\n", r.Skipped)
		return
	}
	fmt.Fprintf(w, "synced %d of %d, %d failed, %d dead-lettered (%s)\n",
		r.Synced, r.Attempted, r.Failed, r.Dead, r.Duration.Round(time.Millisecond))
	if r.Held > 0 {
		fmt.Fprintf(w, "  %d held behind failed changes to the same row\n", r.Held)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s %s %s: %v\n", f.Type, f.Table, f.EntityID, f.Err)
	}
}
