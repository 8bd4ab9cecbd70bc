package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/store"
)

func storeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect and edit the local sign queue file",
	}

	var f queueFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, period, err := f.filter(cmd)
			if err != nil {
				return err
			}
			recs, err := a.taskStore().List(cmd.Context(), store.Filter{Type: typ, Period: period})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), recs)
		},
	}
	f.register(list)

	var planned string
	upsert := &cobra.Command{
		Use:   "upsert <key>",
		Short: "Add an entry or update its planned date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := model.ParseKey(args[0])
			if err != nil {
				return err
			}
			e := store.Entry{Key: k}
			if planned != "" {
				if e.PlannedDate, err = model.ParseDate(planned); err != nil {
					return err
				}
			}
			if _, err := a.taskStore().Upsert(cmd.Context(), e); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: stored\n", k)
			return nil
		},
	}
	upsert.Flags().StringVar(&planned, "planned", "", "Planned date as YYYY-MM-DD")

	remove := &cobra.Command{
		Use:   "remove <key>",
		Short: "Remove an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := model.ParseKey(args[0])
			if err != nil {
				return err
			}
			removed, err := a.taskStore().Remove(cmd.Context(), k)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: not stored\n", k)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed\n", k)
			return nil
		},
	}

	cmd.AddCommand(list, upsert, remove)
	return cmd
}

func legacyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy",
		Short: "Inspect the legacy queue file",
	}

	var f queueFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List legacy items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			typ, period, err := f.filter(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a.legacyQueue().List(cmd.Context(), typ, period))
		},
	}
	f.register(list)

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every legacy item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.legacyQueue().Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "legacy queue cleared")
			return nil
		},
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}
