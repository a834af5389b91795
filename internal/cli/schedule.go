package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/config"
	"github.com/alerislife/welcome-home/internal/engine"
	"github.com/alerislife/welcome-home/internal/flags"
)

type scheduleOptions struct {
	cron     string
	timezone string
	once     bool
	run      runOptions
}

var scheduleOpts scheduleOptions

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run exports on a cron schedule",
	Long: `Stay in the foreground and start an export run at every tick of a cron
schedule (default: daily at 06:00 America/New_York). Runs never overlap: a
tick that fires while the previous run is still going is skipped.

The selection and output flags apply to every scheduled run.

Examples:
	whexport schedule
	whexport schedule --cron "30 5 * * *" --timezone UTC
	whexport schedule --once --no-console --report reports/latest.md

	# Show the next fire times without running anything
	whexport schedule --dry-run
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		stderr := cmd.ErrOrStderr()
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			os.Exit(engine.ExitFatal)
		}
		applyScheduleFlags(cmd, &scheduleOpts, cfg)
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			os.Exit(engine.ExitFatal)
		}
		sched, loc, err := parseSchedule(cfg.Schedule)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			os.Exit(engine.ExitFatal)
		}

		if cfg.Selection.DryRun {
			printNextRuns(cmd.OutOrStdout(), sched, loc, time.Now(), 5)
			return
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		code := serveSchedule(ctx, cfg.Schedule.Cron, loc, scheduleOpts.once, cfg.Runtime.Verbose, stderr,
			func(ctx context.Context) int { return runExport(ctx, cfg, cmd.OutOrStdout(), stderr) })
		stop()
		os.Exit(code)
	},
}

func applyScheduleFlags(cmd *cobra.Command, o *scheduleOptions, cfg *config.Config) {
	applyRunFlags(cmd, &o.run, cfg)
	if f := cmd.Flags().Lookup(flags.FlagCron); f != nil && f.Changed {
		cfg.Schedule.Cron = o.cron
	}
	if f := cmd.Flags().Lookup(flags.FlagTimezone); f != nil && f.Changed {
		cfg.Schedule.Timezone = o.timezone
	}
}

// parseSchedule validates the cron spec (five fields or a descriptor such as
// "@daily") and the IANA timezone it is evaluated in.
func parseSchedule(s config.Schedule) (cron.Schedule, *time.Location, error) {
	loc := time.Local
	if s.Timezone != "" {
		l, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid schedule timezone %q: %w", s.Timezone, err)
		}
		loc = l
	}
	sched, err := cron.ParseStandard(s.Cron)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid schedule cron %q: %w", s.Cron, err)
	}
	return sched, loc, nil
}

func printNextRuns(w io.Writer, sched cron.Schedule, loc *time.Location, from time.Time, n int) {
	fmt.Fprintf(w, "Next %d runs (%s):\n", n, loc)
	t := from.In(loc)
	for range n {
		t = sched.Next(t)
		fmt.Fprintf(w, "  %s\n", t.Format(time.RFC3339))
	}
}

// serveSchedule fires run at every tick of spec until ctx is done. With once,
// it returns the exit code of the first run instead.
func serveSchedule(ctx context.Context, spec string, loc *time.Location, once, verbose bool, stderr io.Writer, run func(context.Context) int) int {
	printf := log.New(stderr, "[schedule] ", log.LstdFlags)
	logger := cron.PrintfLogger(printf)
	if verbose {
		logger = cron.VerbosePrintfLogger(printf)
	}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	done := make(chan int, 1)
	var id cron.EntryID
	id, err := c.AddFunc(spec, func() {
		code := run(ctx)
		printf.Printf("run finished with exit code %d; next run at %s", code, c.Entry(id).Next.Format(time.RFC3339))
		if once {
			select {
			case done <- code:
			default:
			}
		}
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid schedule cron %q: %v\n", spec, err)
		return engine.ExitFatal
	}

	c.Start()
	printf.Printf("scheduled %q in %s; next run at %s", spec, loc, c.Entry(id).Next.Format(time.RFC3339))

	code := engine.ExitAllSuccess
	select {
	case <-ctx.Done():
		printf.Printf("stopping: %v", context.Cause(ctx))
	case code = <-done:
	}
	<-c.Stop().Done()
	return code
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	defaults := config.New()
	addRunFlags(scheduleCmd, &scheduleOpts.run)
	scheduleCmd.Flags().StringVar(&scheduleOpts.cron, flags.FlagCron, defaults.Schedule.Cron, "Cron schedule (five fields or @daily style descriptor)")
	scheduleCmd.Flags().StringVar(&scheduleOpts.timezone, flags.FlagTimezone, defaults.Schedule.Timezone, "IANA timezone the schedule is evaluated in")
	scheduleCmd.Flags().BoolVar(&scheduleOpts.once, flags.FlagOnce, false, "Exit after the first scheduled run, with its exit code")
}
