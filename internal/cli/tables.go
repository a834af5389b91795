package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/config"
	"github.com/alerislife/welcome-home/internal/flags"
	"github.com/alerislife/welcome-home/internal/tables"
)

var tablesListQuiet bool

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List exportable tables and their load templates",
	Long: `Inspect the table registry.

Only tables listed here can be selected with --tables.

Examples:
  whexport tables list
  whexport tables show DepositTransactions
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exportable tables",
	Long: `List every registered table in export order, with its Snowflake table and
staging folder.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printTables(cmd.OutOrStdout(), tables.List(), tablesListQuiet)
		return nil
	},
}

var tablesShowCmd = &cobra.Command{
	Use:   "show [table]",
	Short: "Show a table's load template",
	Long: `Show the load template of a table, rendered with the configured database,
schema and stage. {blob_name} is filled per run with the staged file.

Examples:
  whexport tables show Prospects
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := tables.Resolve(args[0])
		if err != nil {
			return fmt.Errorf("%w (valid tables: %s)", err, strings.Join(tables.Names(), ", "))
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printTable(cmd.OutOrStdout(), spec, cfg)
	},
}

func printTables(w io.Writer, specs []tables.TableSpec, quiet bool) {
	if quiet {
		for _, s := range specs {
			fmt.Fprintln(w, s.Name)
		}
		return
	}
	width := len("TABLE")
	for _, s := range specs {
		width = max(width, len(s.Name))
	}
	fmt.Fprintf(w, "%-*s  %-22s  %s\n", width, "TABLE", "SNOWFLAKE TABLE", "STAGING FOLDER")
	for _, s := range specs {
		fmt.Fprintf(w, "%-*s  %-22s  %s/\n", width, s.Name, s.TargetTable(), s.BlobStem())
	}
}

func printTable(w io.Writer, spec tables.TableSpec, cfg *config.Config) error {
	tmpl, err := spec.LoadTemplate()
	if err != nil {
		return err
	}
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "TABLE: %s\n", spec.Name)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "Snowflake table: %s.%s.%s\n", cfg.Warehouse.Database, cfg.Warehouse.Schema, spec.TargetTable())
	fmt.Fprintf(w, "Staging folder:  %s/%s/\n", cfg.Staging.Prefix, spec.BlobStem())
	fmt.Fprintf(w, "Template:        sql/%s\n", spec.Template)
	fmt.Fprintln(w)

	stage := cfg.Warehouse.StageName
	if stage == "" {
		stage = "{stage_name}"
	}
	rendered := tables.Render(tmpl, tables.LoadParams{
		Database:  cfg.Warehouse.Database,
		Schema:    cfg.Warehouse.Schema,
		StageName: stage,
		BlobName:  "{blob_name}",
	})
	for i, stmt := range tables.SplitStatements(rendered) {
		bold.Fprintf(w, "-- statement %d\n", i+1)
		fmt.Fprintf(w, "%s;\n\n", stmt)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(tablesCmd)
	tablesCmd.AddCommand(tablesListCmd)
	tablesListCmd.Flags().BoolVarP(&tablesListQuiet, flags.FlagQuiet, "q", false, "Only print table names")
	tablesCmd.AddCommand(tablesShowCmd)
}
