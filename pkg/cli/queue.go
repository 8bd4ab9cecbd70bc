package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/damian-sirenko/signq/pkg/model"
	"github.com/damian-sirenko/signq/pkg/reconcile"
	"github.com/damian-sirenko/signq/pkg/schedule"
)

type queueFlags struct {
	typ   string
	month string
	json  bool
}

func (f *queueFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.typ, "type", "t", string(model.Courier), "Queue type: courier or point")
	cmd.Flags().StringVarP(&f.month, "month", "m", "", "Period as YYYY-MM (default: current month)")
}

func (f *queueFlags) registerJSON(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.json, "json", false, "Print JSON")
}

func (f *queueFlags) request() (reconcile.Request, error) {
	typ, err := model.ParseType(f.typ)
	if err != nil {
		return reconcile.Request{}, err
	}
	period := model.Today(time.Now()).Period()
	if f.month != "" {
		if period, err = model.ParsePeriod(f.month); err != nil {
			return reconcile.Request{}, err
		}
	}
	return reconcile.Request{Type: typ, Period: period}, nil
}

// filter is like request but leaves unset flags empty so they match
// everything.
func (f *queueFlags) filter(cmd *cobra.Command) (model.Type, model.Period, error) {
	var (
		typ    model.Type
		period model.Period
		err    error
	)
	if cmd.Flags().Changed("type") {
		if typ, err = model.ParseType(f.typ); err != nil {
			return "", "", err
		}
	}
	if cmd.Flags().Changed("month") {
		if period, err = model.ParsePeriod(f.month); err != nil {
			return "", "", err
		}
	}
	return typ, period, nil
}

func listCmd(a *app) *cobra.Command {
	var f queueFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the queue for a type and month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			view := svc.Load(ctx, req)
			if f.json {
				return printJSON(cmd.OutOrStdout(), view)
			}
			a.log.Debug("queue loaded", "tier", view.Tier, "tasks", len(view.Tasks))
			return printTasks(cmd.OutOrStdout(), view.Tasks)
		},
	}
	f.register(cmd)
	f.registerJSON(cmd)
	return cmd
}

func daysCmd(a *app) *cobra.Command {
	var (
		f    queueFlags
		date string
	)
	cmd := &cobra.Command{
		Use:   "days",
		Short: "Show the queue grouped by day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}
			var filter model.Date
			if date != "" {
				if filter, err = model.ParseDate(date); err != nil {
					return err
				}
			}
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, cancel := a.context(cmd.Context())
			defer cancel()

			buckets := svc.Days(ctx, req, filter)
			if f.json {
				return printJSON(cmd.OutOrStdout(), buckets)
			}
			return printBuckets(cmd.OutOrStdout(), buckets)
		},
	}
	f.register(cmd)
	f.registerJSON(cmd)
	cmd.Flags().StringVarP(&date, "date", "d", "", "Viewed day as YYYY-MM-DD (default: today)")
	return cmd
}

// mutation runs fn against the service for the key in args[0] and prints
// the reloaded queue size.
func mutation(a *app, cmd *cobra.Command, args []string, fn func(*schedule.Service, model.Key) (schedule.View, error)) error {
	k, err := model.ParseKey(args[0])
	if err != nil {
		return err
	}
	svc, err := a.service()
	if err != nil {
		return err
	}
	ctx, cancel := a.context(cmd.Context())
	defer cancel()
	cmd.SetContext(ctx)

	view, err := fn(svc, k)
	if err != nil {
		return fmt.Errorf("%s %s: %w", cmd.Name(), k, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d task(s) queued (%s)\n", k, len(view.Tasks), view.Tier)
	return nil
}

func signCmd(a *app) *cobra.Command {
	var (
		leg, role, ref string
		defaultStaff   bool
	)
	cmd := &cobra.Command{
		Use:   "sign <key>",
		Short: "Attach a signature to a task leg",
		Long: "Attach a signature to a task leg. Either leg can be signed at any time;\n" +
			"without --leg the task's suggested leg is used.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutation(a, cmd, args, func(svc *schedule.Service, k model.Key) (schedule.View, error) {
				l, err := legOrDefault(cmd, svc, k, leg)
				if err != nil {
					return schedule.View{}, err
				}
				if defaultStaff {
					return svc.SignDefaultStaff(cmd.Context(), k, l)
				}
				r, err := model.ParseRole(role)
				if err != nil {
					return schedule.View{}, err
				}
				if ref == "" {
					return schedule.View{}, fmt.Errorf("--ref is required unless --default-staff is set")
				}
				return svc.Sign(cmd.Context(), k, l, r, ref)
			})
		},
	}
	cmd.Flags().StringVar(&leg, "leg", "", "Leg: transfer or return (default: suggested leg)")
	cmd.Flags().StringVar(&role, "role", string(model.Client), "Signer: client or staff")
	cmd.Flags().StringVar(&ref, "ref", "", "Signature reference")
	cmd.Flags().BoolVar(&defaultStaff, "default-staff", false, "Use the stored staff signature")
	return cmd
}

// legOrDefault parses leg, falling back to the task's suggested leg.
func legOrDefault(cmd *cobra.Command, svc *schedule.Service, k model.Key, leg string) (model.Leg, error) {
	if leg != "" {
		return model.ParseLeg(leg)
	}
	t, ok := svc.Current().Find(k)
	if !ok {
		t, ok = svc.Load(cmd.Context(), reconcile.Request{Type: k.Type, Period: k.Period}).Find(k)
	}
	if !ok {
		return model.Transfer, nil
	}
	return t.DefaultLeg(), nil
}

func unsignCmd(a *app) *cobra.Command {
	var leg, role string
	cmd := &cobra.Command{
		Use:   "unsign <key>",
		Short: "Remove a signature from a task leg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutation(a, cmd, args, func(svc *schedule.Service, k model.Key) (schedule.View, error) {
				l, err := model.ParseLeg(leg)
				if err != nil {
					return schedule.View{}, err
				}
				r, err := model.ParseRole(role)
				if err != nil {
					return schedule.View{}, err
				}
				return svc.Unsign(cmd.Context(), k, l, r)
			})
		},
	}
	cmd.Flags().StringVar(&leg, "leg", "", "Leg: transfer or return")
	cmd.Flags().StringVar(&role, "role", "", "Signer: client or staff")
	_ = cmd.MarkFlagRequired("leg")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func moveCmd(a *app) *cobra.Command {
	var leg string
	cmd := &cobra.Command{
		Use:   "move <key> <YYYY-MM-DD>",
		Short: "Reschedule a task to another day",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutation(a, cmd, args, func(svc *schedule.Service, k model.Key) (schedule.View, error) {
				var l model.Leg
				if leg != "" {
					var err error
					if l, err = model.ParseLeg(leg); err != nil {
						return schedule.View{}, err
					}
				}
				return svc.MoveToDay(cmd.Context(), k, l, args[1])
			})
		},
	}
	cmd.Flags().StringVar(&leg, "leg", "", "Leg whose date moves (default: suggested leg)")
	return cmd
}

func dequeueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dequeue <key>",
		Short: "Take a task out of its queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutation(a, cmd, args, func(svc *schedule.Service, k model.Key) (schedule.View, error) {
				return svc.Dequeue(cmd.Context(), k)
			})
		},
	}
}

func enqueueCmd(a *app) *cobra.Command {
	var planned string
	cmd := &cobra.Command{
		Use:   "enqueue <key>",
		Short: "Put an entry into the queue of the key's type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutation(a, cmd, args, func(svc *schedule.Service, k model.Key) (schedule.View, error) {
				var d model.Date
				if planned != "" {
					var err error
					if d, err = model.ParseDate(planned); err != nil {
						return schedule.View{}, err
					}
				}
				return svc.Enqueue(cmd.Context(), k, d)
			})
		},
	}
	cmd.Flags().StringVar(&planned, "planned", "", "Planned courier date as YYYY-MM-DD")
	return cmd
}
