package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/config"
	"github.com/alerislife/welcome-home/internal/flags"
	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/pipeline"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent export runs from the run ledger",
	Long: `List recent export runs, newest first, with their selection and aggregate
status. A run without a status did not finish (crashed or still running).

Examples:
  whexport history
  whexport history --limit 50
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
		return printHistory(ctx, cmd.OutOrStdout(), l, historyLimit)
	},
}

// openLedger opens the configured ledger for reading.
func openLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	lcfg, ok := cfg.LedgerConfig()
	if !ok {
		return nil, errors.New("the run ledger is disabled (ledger.kind: none)")
	}
	return ledger.Open(ctx, lcfg)
}

func printHistory(ctx context.Context, w io.Writer, l ledger.Ledger, limit int) error {
	runs, err := l.Runs(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-20s  %-9s  %-15s  %-14s  %s\n", "RUN", "STARTED", "DURATION", "STATUS", "STEP TYPE", "TABLES")
	for _, r := range runs {
		dur := "-"
		if !r.Finished.IsZero() {
			dur = r.Finished.Sub(r.Started).Truncate(time.Second).String()
		}
		tablesArg := r.Selection.TablesArg()
		if tablesArg == "" {
			tablesArg = "(all)"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %-9s  %s  %-14s  %s\n",
			r.ID, r.Started.UTC().Format(time.RFC3339), dur, runStatusCell(r.Status, 15), r.Selection.StepType, tablesArg)
	}
	return nil
}

// runStatusCell pads before colouring so escape codes do not break alignment.
func runStatusCell(st pipeline.RunStatus, width int) string {
	text := string(st)
	if text == "" {
		text = "unfinished"
	}
	text = fmt.Sprintf("%-*s", width, text)
	switch st {
	case pipeline.RunAllSuccess:
		return color.GreenString(text)
	case pipeline.RunPartialFailure:
		return color.YellowString(text)
	case pipeline.RunAllFailure:
		return color.RedString(text)
	}
	return text
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, flags.FlagLimit, 20, "Maximum runs to list (0 = all)")
}
