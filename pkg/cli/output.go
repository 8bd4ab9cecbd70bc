package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/schedule"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func legMark(t model.Task, leg model.Leg) string {
	ls := t.Signatures.Leg(leg)
	switch {
	case ls.Done():
		return "✓"
	case ls != nil:
		return "½"
	}
	return "·"
}

func printTasks(w io.Writer, tasks []model.Task) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tLEG\tT\tR\tTRANSFER\tRETURN\tPLANNED")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Key(), t.DisplayName(), t.DefaultLeg(),
			legMark(t, model.Transfer), legMark(t, model.Return),
			t.TransferDate, t.ReturnDate, t.Pending.PlannedDate)
	}
	return tw.Flush()
}

func printBuckets(w io.Writer, buckets []schedule.Bucket) error {
	for i, b := range buckets {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%d)\n", b.Day, len(b.Tasks))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, t := range b.Tasks {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d pkg\n", t.DisplayName(), t.DefaultLeg(), t.Key(), t.PackageCount)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
