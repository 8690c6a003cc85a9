package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/flightrecorder/internal/core"
)

func init() {
	Register("run", Run)
	Register("backfill", Backfill)
}

// selectionFlags are the project and entity-type filters shared by run and
// backfill.
type selectionFlags struct {
	projects    []string
	entityTypes []string
	group       string
	dryRun      bool
}

func (f *selectionFlags) add(fs *pflag.FlagSet) {
	fs.StringSliceVar(&f.projects, "projects", nil, "Projects to run (default: all configured)")
	fs.StringSliceVar(&f.entityTypes, "entity-types", nil, "Entity types to diff (default: all registered)")
	fs.StringVar(&f.group, "group", "", "Entity group to diff, e.g. Control or Outcomes")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Compute and print diffs without storing them")
}

func (f *selectionFlags) apply(req *core.SyncRequest) {
	req.Projects = f.projects
	req.EntityTypes = f.entityTypes
	req.Group = f.group
	req.DryRun = f.dryRun
}

// Run returns the command that diffs one day.
func Run(ctx context.Context, env *Env) *cobra.Command {
	var (
		sel  selectionFlags
		date string
	)
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Diff one day's snapshots against the previous ones",
		Example: "recorder run --date 2025-06-02 --group Control --dry-run",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req core.SyncRequest
			d, err := parseDateFlag("date", date)
			if err != nil {
				return err
			}
			req.Date = d
			sel.apply(&req)
			return runSync(cmd.Context(), env, req, "cli")
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to diff, YYYY-MM-DD (default: yesterday)")
	sel.add(cmd.Flags())
	return cmd
}

// Backfill returns the command that diffs a range of days.
func Backfill(ctx context.Context, env *Env) *cobra.Command {
	var (
		sel        selectionFlags
		start, end string
		batchDays  int
		delay      time.Duration
	)
	cmd := &cobra.Command{
		Use:     "backfill",
		Short:   "Diff every day in a date range",
		Example: "recorder backfill --start 2025-05-01 --end 2025-05-31 --batch-days 7 --delay 5s",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req core.SyncRequest
			var err error
			if req.StartDate, err = parseDateFlag("start", start); err != nil {
				return err
			}
			if req.StartDate.IsZero() {
				return fmt.Errorf("invalid date: --start is required")
			}
			if req.EndDate, err = parseDateFlag("end", end); err != nil {
				return err
			}
			req.BatchDays = batchDays
			req.BatchDelay = delay
			sel.apply(&req)
			return runSync(cmd.Context(), env, req, "backfill")
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "Last day, YYYY-MM-DD (default: yesterday)")
	cmd.Flags().IntVar(&batchDays, "batch-days", 0, "Days per chunk (default: RUN_BATCH_DAYS)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Pause between chunks (default: RUN_BATCH_DELAY)")
	sel.add(cmd.Flags())
	return cmd
}

func runSync(ctx context.Context, env *Env, req core.SyncRequest, trigger string) error {
	return withService(ctx, env, func(svc *core.Service) error {
		report, err := svc.Sync(ctx, req, trigger)
		if err != nil {
			return err
		}
		if err := printReport(env.Out, report); err != nil {
			return err
		}
		if req.DryRun {
			if err := printDryRun(env.Out, report); err != nil {
				return err
			}
		}
		if report.Failed > 0 {
			return errUnitsFailed
		}
		return nil
	})
}

// parseDateFlag parses an optional date flag value.
func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	d, ok := core.ParseDate(value)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid date for --%s: %q", name, value)
	}
	return d, nil
}
