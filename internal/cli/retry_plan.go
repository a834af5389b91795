package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/engine"
	"github.com/alerislife/welcome-home/internal/flags"
	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/output"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

var (
	retryPlanRun   string
	retryPlanQuiet bool
)

var retryPlanCmd = &cobra.Command{
	Use:   "retry-plan",
	Short: "Print the invocations that re-run a run's unsuccessful units",
	Long: `Print the narrowed "whexport run" invocations that re-execute exactly the
units of a run that failed or were blocked.

A table whose extract failed is retried with --step-type both; a table whose
load alone failed is retried with snowflake_only and loads the latest staged
file.

Examples:
  whexport retry-plan
  whexport retry-plan --run 2f0c6b4e-...
  whexport retry-plan -q | sh
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		l, err := openLedger(ctx, cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		run, plan, err := retryPlanFor(ctx, l, retryPlanRun)
		if err != nil {
			return err
		}
		printRetryPlan(cmd.OutOrStdout(), run, plan, retryPlanQuiet)
		return nil
	},
}

// retryPlanFor loads runID (the newest run when empty) and derives its retry
// plan from the recorded outcomes and the units the run never reached.
func retryPlanFor(ctx context.Context, l ledger.Ledger, runID string) (ledger.Run, []pipeline.Selection, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	run, err := findRun(ctx, l, runID)
	if err != nil {
		return ledger.Run{}, nil, err
	}
	outcomes, err := l.Outcomes(ctx, run.ID)
	if err != nil {
		return ledger.Run{}, nil, err
	}
	// Units the run selected but never recorded did not succeed either. A
	// selection naming a table since removed from the registry plans from the
	// recorded outcomes alone.
	if units, err := engine.Select(run.Selection.Tables, run.Selection.StepType); err == nil {
		outcomes = append(outcomes, engine.Unrecorded(units, outcomes)...)
	}
	return run, engine.RetryPlan(outcomes), nil
}

func findRun(ctx context.Context, l ledger.Ledger, runID string) (ledger.Run, error) {
	if runID == "" {
		runs, err := l.Runs(ctx, 1)
		if err != nil {
			return ledger.Run{}, err
		}
		if len(runs) == 0 {
			return ledger.Run{}, errors.New("no runs recorded")
		}
		return runs[0], nil
	}
	runs, err := l.Runs(ctx, 0)
	if err != nil {
		return ledger.Run{}, err
	}
	for _, r := range runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return ledger.Run{}, fmt.Errorf("%w: %s", ledger.ErrRunNotFound, runID)
}

func printRetryPlan(w io.Writer, run ledger.Run, plan []pipeline.Selection, quiet bool) {
	if quiet {
		for _, sel := range plan {
			fmt.Fprintln(w, output.RetryCommand(sel))
		}
		return
	}
	status := string(run.Status)
	if status == "" {
		status = "unfinished"
	}
	fmt.Fprintf(w, "Run %s (%s, started %s)\n", run.ID, status, run.Started.UTC().Format(time.RFC3339))
	if len(plan) == 0 {
		fmt.Fprintln(w, "Nothing to retry.")
		return
	}
	fmt.Fprint(w, output.RetryHints(plan))
}

func init() {
	rootCmd.AddCommand(retryPlanCmd)
	retryPlanCmd.Flags().StringVar(&retryPlanRun, flags.FlagRun, "", "Run ID to plan for (default: the most recent run)")
	retryPlanCmd.Flags().BoolVarP(&retryPlanQuiet, flags.FlagQuiet, "q", false, "Only print the commands")
}
