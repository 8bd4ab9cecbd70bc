package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/damian-sirenko/signq/pkg/api"
	"github.com/damian-sirenko/signq/pkg/model"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sign queue files over HTTP",
		Long: "Serve the sign queue and the legacy queue so other processes can use\n" +
			"them as remote tiers. With calendar.schedule set, the courier calendar\n" +
			"is also synced on that cron schedule.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	router := api.NewRouter(&api.App{
		Store:  a.taskStore(),
		Legacy: a.legacyQueue(),
		Logger: a.log,
	})
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if sched := a.cfg.Calendar.Schedule; sched != "" {
		c, err := a.calendarCron(ctx, sched)
		if err != nil {
			return err
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// calendarCron schedules a calendar sync of the current month. Overlapping
// runs are skipped.
func (a *app) calendarCron(ctx context.Context, sched string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(sched, func() {
		runCtx, cancel := a.context(ctx)
		defer cancel()
		period := model.Today(time.Now()).Period()
		stats, err := a.syncCalendar(runCtx, period)
		if err != nil {
			a.log.Error("scheduled calendar sync failed", "period", period, "err", err)
			return
		}
		a.log.Info("scheduled calendar sync", "period", period,
			"synced", stats.Synced, "failed", stats.Failed, "pruned", stats.Pruned)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid calendar schedule %q: %w", sched, err)
	}
	return c, nil
}
