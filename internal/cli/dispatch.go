package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/config"
	"github.com/alerislife/welcome-home/internal/dispatch"
	"github.com/alerislife/welcome-home/internal/engine"
	"github.com/alerislife/welcome-home/internal/flags"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

type dispatchOptions struct {
	repo     string
	workflow string
	ref      string
	fromRun  string
	sel      runOptions
}

var dispatchOpts dispatchOptions

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Trigger the export workflow on GitHub Actions",
	Long: `Trigger the export workflow remotely through workflow_dispatch, with the
same tables and step-type inputs as "whexport run".

With --run, dispatches the retry plan of a recorded run instead: one workflow
run per narrowed selection.

Authentication:
	Uses GITHUB_TOKEN, or GitHub CLI auth (gh auth token) when it is not set.
	The token needs actions:write on the repository.

Examples:
  whexport dispatch --repo alerislife/welcome-home --tables Residents --step-type snowflake_only
  whexport dispatch --run 2f0c6b4e-...
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyDispatchFlags(cmd, &dispatchOpts, cfg)
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		target, err := dispatch.ParseTarget(cfg.Dispatch.Repo, cfg.Dispatch.Workflow, cfg.Dispatch.Ref)
		if err != nil {
			return err
		}

		var sels []pipeline.Selection
		if dispatchOpts.fromRun != "" {
			l, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			_, sels, err = retryPlanFor(ctx, l, dispatchOpts.fromRun)
			l.Close()
			if err != nil {
				return err
			}
			if len(sels) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s has nothing to retry.\n", dispatchOpts.fromRun)
				return nil
			}
		} else {
			sel, err := dispatchSelection(dispatchOpts.sel.tables, dispatchOpts.sel.stepType)
			if err != nil {
				return err
			}
			sels = []pipeline.Selection{sel}
		}

		token, source, err := dispatch.ResolveToken(ctx, cfg.Dispatch.Token)
		if err != nil {
			return fmt.Errorf("failed to resolve GitHub auth token: %w", err)
		}
		if cfg.Runtime.Verbose && source != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "[verbose] github token from %s\n", source)
		}
		opts := []dispatch.Option{dispatch.WithVerbose(cfg.Runtime.Verbose, nil)}
		if cfg.Dispatch.APIURL != "" {
			opts = append(opts, dispatch.WithBaseURL(cfg.Dispatch.APIURL))
		}
		client, err := dispatch.NewClient(token, opts...)
		if err != nil {
			return err
		}
		if err := triggerAll(ctx, cmd.OutOrStdout(), client, target, sels); err != nil {
			return errors.New(dispatch.Describe(err, cfg.Runtime.Verbose))
		}
		return nil
	},
}

// dispatchSelection validates the selection locally so an unknown table
// fails here instead of in CI.
func dispatchSelection(tablesArg []string, stepType string) (pipeline.Selection, error) {
	step, err := pipeline.ParseStepType(stepType)
	if err != nil {
		return pipeline.Selection{}, fmt.Errorf("invalid --%s: %w", flags.FlagStepType, err)
	}
	units, err := engine.Select(tablesArg, step)
	if err != nil {
		return pipeline.Selection{}, err
	}
	sel := pipeline.Selection{StepType: step}
	// No tables means all tables; keep the input empty so CI does the same.
	if len(engine.SplitTables(tablesArg...)) > 0 {
		sel.Tables = engine.SelectedTables(units)
	}
	return sel, nil
}

func triggerAll(ctx context.Context, w io.Writer, client *dispatch.Client, target dispatch.Target, sels []pipeline.Selection) error {
	for _, sel := range sels {
		if err := client.Trigger(ctx, target, sel); err != nil {
			return err
		}
		tablesArg := sel.TablesArg()
		if tablesArg == "" {
			tablesArg = "(all)"
		}
		fmt.Fprintf(w, "Dispatched %s: tables=%s step-type=%s\n", target, tablesArg, sel.StepType)
	}
	return nil
}

func applyDispatchFlags(cmd *cobra.Command, o *dispatchOptions, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed(flags.FlagRepo) {
		cfg.Dispatch.Repo = o.repo
	}
	if changed(flags.FlagWorkflow) {
		cfg.Dispatch.Workflow = o.workflow
	}
	if changed(flags.FlagRef) {
		cfg.Dispatch.Ref = o.ref
	}
}

func init() {
	rootCmd.AddCommand(dispatchCmd)
	addSelectionFlags(dispatchCmd, &dispatchOpts.sel)
	dispatchCmd.Flags().StringVar(&dispatchOpts.repo, flags.FlagRepo, "", "Repository hosting the export workflow as OWNER/REPO (default: dispatch.repo)")
	dispatchCmd.Flags().StringVar(&dispatchOpts.workflow, flags.FlagWorkflow, "", "Workflow file name (default: dispatch.workflow)")
	dispatchCmd.Flags().StringVar(&dispatchOpts.ref, flags.FlagRef, "", "Git ref to run the workflow on (default: dispatch.ref)")
	dispatchCmd.Flags().StringVar(&dispatchOpts.fromRun, flags.FlagRun, "", "Dispatch the retry plan of this recorded run instead of --tables/--step-type")
}
