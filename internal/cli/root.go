package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alerislife/welcome-home/internal/config"
	"github.com/alerislife/welcome-home/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// Global flags.
var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "whexport",
	Short: "Export Welcome Home CRM tables to blob staging and Snowflake",
	Long: `whexport exports Welcome Home CRM tables through the source API into blob
staging, then replaces the matching Snowflake tables from the staged files.

Each table runs two stages: extract_stage (API -> staging) and load
(staging -> Snowflake). An operator can run any subset of tables and stages,
so a partial failure is retried by re-running only what failed.

Examples:
	# Export every table, both stages
	whexport run

	# Re-run only the Snowflake load for two tables
	whexport run --tables Prospects,Residents --step-type snowflake_only

	# Show what the last run needs to retry
	whexport retry-plan

	# List exportable tables
	whexport tables list

Configuration:
	Settings come from whexport.yaml (see --config), secrets from the
	environment or a .env file in the working directory.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, flags.FlagConfig, "", "Path to the YAML config file (default: "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().BoolVar(&verbose, flags.FlagVerbose, false, "Enable verbose logging (mirrors unit logs and prints every API call)")
}

// loadConfig reads the config file and environment and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Verbose = verbose
	return cfg, nil
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
