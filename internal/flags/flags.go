package flags

// Package flags defines canonical CLI flag names shared across the CLI and engine.
// Keeping these as constants avoids drift between Cobra flag wiring and the
// places that print commands back to the operator (retry hints, dispatch).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringSliceVar(&cfg.Selection.Tables, flags.FlagTables, nil, "...")
//	arg := "--" + flags.FlagTables
const (
	// Global
	FlagConfig  = "config"
	FlagVerbose = "verbose"

	// Selection (the operator trigger surface)
	FlagTables   = "tables"
	FlagStepType = "step-type"
	FlagDryRun   = "dry-run"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"

	// Runtime
	FlagConcurrency = "concurrency"
	FlagTimeout     = "timeout"

	// History and retries
	FlagLimit = "limit"
	FlagRun   = "run"
	FlagQuiet = "quiet"

	// Dispatch
	FlagRepo     = "repo"
	FlagWorkflow = "workflow"
	FlagRef      = "ref"

	// Schedule
	FlagCron     = "cron"
	FlagTimezone = "timezone"
	FlagOnce     = "once"
)
