package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/damian-sirenko/signq/pkg/auth"
	"github.com/damian-sirenko/signq/pkg/colors"
	"github.com/damian-sirenko/signq/pkg/config"
	"github.com/damian-sirenko/signq/pkg/google"
	"github.com/damian-sirenko/signq/pkg/index"
	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/reconcile"
)

func (a *app) authPaths() auth.Paths {
	return auth.Paths{
		Credentials: a.cfg.Calendar.CredentialsPath,
		Token:       a.cfg.Calendar.TokenPath,
	}
}

// syncCalendar publishes the courier days of period to the configured
// calendar.
func (a *app) syncCalendar(ctx context.Context, period model.Period) (google.SyncStats, error) {
	svc, err := a.service()
	if err != nil {
		return google.SyncStats{}, err
	}
	req := reconcile.Request{Type: model.Courier, Period: period}
	buckets := svc.Days(ctx, req, model.Date{})

	idx, err := index.New(a.cfg.Calendar.IndexPath)
	if err != nil {
		a.log.Warn("event index unavailable", "err", err)
	}
	cc, err := colors.New(a.cfg.Calendar.ColorsPath, time.Now)
	if err != nil {
		a.log.Warn("color cache unavailable", "err", err)
	}
	client, err := google.NewClient(ctx, a.authPaths(), a.cfg.Calendar.Name, idx, cc, a.log)
	if err != nil {
		return google.SyncStats{}, err
	}
	return client.SyncDays(ctx, buckets, svc.Today())
}

func calendarCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Publish the courier schedule to Google Calendar",
	}

	var (
		month string
		name  string
	)
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Create, update and prune one all-day event per queued task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			period := model.Today(time.Now()).Period()
			if month != "" {
				var err error
				if period, err = model.ParsePeriod(month); err != nil {
					return err
				}
			}
			if name != "" {
				a.cfg.Calendar.Name = name
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			stats, err := a.syncCalendar(ctx, period)
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d, failed %d, pruned %d\n", stats.Synced, stats.Failed, stats.Pruned)
			return err
		},
	}
	syncCmd.Flags().StringVarP(&month, "month", "m", "", "Period as YYYY-MM (default: current month)")
	syncCmd.Flags().StringVar(&name, "calendar", "", "Calendar name (overrides config)")

	cmd.AddCommand(syncCmd)
	return cmd
}

func authCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with Google Calendar, replacing any saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := a.authPaths()
			if err := auth.ResetToken(paths); err != nil {
				return err
			}
			if _, err := auth.GetCalendarService(cmd.Context(), paths, a.log); err != nil {
				return fmt.Errorf("authentication failed: %w", err)
			}
			a.log.Info("authentication successful", "token", paths.Token)
			return nil
		},
	}
}

func configCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *a.cfg
			if cfg.Records.Token != "" {
				cfg.Records.Token = "***"
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	setCalendar := &cobra.Command{
		Use:   "set-calendar <name>",
		Short: "Set the default calendar name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cfg.Calendar.Name = args[0]
			if err := config.Validate(a.cfg); err != nil {
				return err
			}
			save := config.Save
			if a.cfgPath != "" {
				save = func(c *config.Config) error { return config.SaveTo(a.cfgPath, c) }
			}
			if err := save(a.cfg); err != nil {
				return fmt.Errorf("error saving config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default calendar set to: %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(show, setCalendar)
	return cmd
}
