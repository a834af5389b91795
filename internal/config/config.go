package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/alerislife/welcome-home/internal/ledger"
	"github.com/alerislife/welcome-home/internal/pipeline"
	"github.com/alerislife/welcome-home/internal/source"
	"github.com/alerislife/welcome-home/internal/staging"
	"github.com/alerislife/welcome-home/internal/warehouse"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove fields that affect a run, keep
	// these in sync:
	// - CLI flags in internal/cli/run.go
	// - env overrides in ApplyEnv (load.go)
	// - whexport.example.yaml
	Selection Selection `yaml:"-"`
	Source    Source    `yaml:"source"`
	Staging   Staging   `yaml:"staging"`
	Warehouse Warehouse `yaml:"warehouse"`
	Ledger    Ledger    `yaml:"ledger"`
	Logs      Logs      `yaml:"logs"`
	Metrics   Metrics   `yaml:"metrics"`
	Dispatch  Dispatch  `yaml:"dispatch"`
	Schedule  Schedule  `yaml:"schedule"`
	Output    Output    `yaml:"output"`
	Runtime   Runtime   `yaml:"runtime"`
}

// Selection is the operator trigger: which tables, which stages.
type Selection struct {
	// Tables to export (see --tables). Empty means every registered table.
	// Values may be provided as repeated flags and/or comma-separated lists.
	Tables []string

	// StepType is both, api_blob_only or snowflake_only (see --step-type).
	StepType string

	// Step is StepType parsed by Validate.
	Step pipeline.StepType

	// DryRun prints the selected work units without running them (see --dry-run).
	DryRun bool
}

type Source struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	// RateLimit is the request budget per hour before the API reports its own.
	RateLimit int `yaml:"rate_limit"`

	APIKey string `yaml:"-"` // WELCOME_HOME_API_KEY
}

type Staging struct {
	// Kind is one of the registered staging backends: azure, s3, local.
	Kind   string `yaml:"kind"`
	Prefix string `yaml:"prefix"`

	Dir string `yaml:"dir"`

	Container        string `yaml:"container"`
	ConnectionString string `yaml:"-"` // AZURE_CONNECTION_STRING

	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	AccessKeyID     string `yaml:"-"` // S3_ACCESS_KEY_ID
	SecretAccessKey string `yaml:"-"` // S3_SECRET_ACCESS_KEY
}

type Warehouse struct {
	Account      string   `yaml:"account"`
	User         string   `yaml:"user"`
	Warehouse    string   `yaml:"warehouse"`
	Database     string   `yaml:"database"`
	Schema       string   `yaml:"schema"`
	Role         string   `yaml:"role"`
	StageName    string   `yaml:"stage_name"`
	LoginTimeout Duration `yaml:"login_timeout"`

	Password string `yaml:"-"` // SNOWFLAKE_PASSWORD
}

type Ledger struct {
	// Kind is sqlite, postgres, or none to disable the ledger.
	Kind      string   `yaml:"kind"`
	DSN       string   `yaml:"dsn"` // LEDGER_DSN overrides
	Retention Duration `yaml:"retention"`
}

type Logs struct {
	// Dir holds one directory of unit logs per run. Empty disables log files.
	Dir       string   `yaml:"dir"`
	Retention Duration `yaml:"retention"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgateway_url"` // PUSHGATEWAY_URL overrides
	Job            string `yaml:"job"`
}

type Dispatch struct {
	// Repo is the OWNER/REPO hosting the export workflow.
	Repo     string `yaml:"repo"`
	Workflow string `yaml:"workflow"`
	Ref      string `yaml:"ref"`
	// APIURL is a GitHub Enterprise Server API root. Empty means github.com.
	APIURL string `yaml:"api_url"`
	Token  string `yaml:"-"` // GITHUB_TOKEN
}

type Schedule struct {
	// Cron is a standard five-field spec evaluated in Timezone.
	Cron     string `yaml:"cron"`
	Timezone string `yaml:"timezone"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `yaml:"console_format"`

	// ConsoleFilterStatus filters console output by unit status (see --console-filter-status).
	// Allowed values: SUCCESS, FAILURE, BLOCKED.
	ConsoleFilterStatus []string `yaml:"console_filter_status"`

	// Report writes a Markdown run report to this path (see --report).
	Report string `yaml:"report"`

	// Out writes structured output to this path (see --out).
	Out string `yaml:"out"`

	// OutFormat selects the format for --out. If empty, it is inferred from the extension.
	OutFormat string `yaml:"out_format"`

	// Emit writes an additional structured event stream to stdout (see --emit).
	Emit []string `yaml:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `yaml:"no_console"`
}

type Runtime struct {
	// Concurrency caps how many tables run at once. 0 means no cap.
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds the whole run.
	Timeout Duration `yaml:"timeout"`

	// TempDir holds extract spool files. Empty uses the OS default.
	TempDir string `yaml:"temp_dir"`

	// Verbose mirrors unit logs and HTTP traffic to stderr.
	Verbose bool `yaml:"-"`
}

func New() *Config {
	return &Config{
		Selection: Selection{
			StepType: string(pipeline.StepBoth),
		},
		Source: Source{
			BaseURL:   source.DefaultBaseURL,
			Timeout:   Duration(5 * time.Minute),
			RateLimit: source.DefaultBudget,
		},
		Staging: Staging{
			Kind:      "azure",
			Prefix:    "welcome_home",
			Container: "welcome-home",
			UseSSL:    true,
		},
		Warehouse: Warehouse{
			Warehouse:    "compute_wh",
			Database:     "raw",
			Schema:       "welcome_home",
			LoginTimeout: Duration(time.Minute),
		},
		Ledger: Ledger{
			Kind:      "sqlite",
			DSN:       filepath.Join(".whexport", "ledger.db"),
			Retention: Duration(90 * 24 * time.Hour),
		},
		Logs: Logs{
			Dir:       "logs",
			Retention: Duration(7 * 24 * time.Hour),
		},
		Dispatch: Dispatch{
			Workflow: "welcome-home-export.yml",
			Ref:      "main",
		},
		Schedule: Schedule{
			Cron:     "0 6 * * *",
			Timezone: "America/New_York",
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Timeout: Duration(2 * time.Hour),
		},
	}
}

// Validate normalizes the config and rejects a run that could not succeed:
// malformed flags, and selected stages whose collaborators are not configured.
func (c *Config) Validate() error {
	c.Selection.Tables = splitCommaList(c.Selection.Tables)
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	step, err := pipeline.ParseStepType(c.Selection.StepType)
	if err != nil {
		return fmt.Errorf("invalid --step-type: %w", err)
	}
	c.Selection.Step = step
	c.Selection.StepType = string(step)

	if err := c.validateOutput(); err != nil {
		return err
	}

	if c.Runtime.Concurrency < 0 {
		return errors.New("--concurrency must be >= 0 (0 means no cap)")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	if c.Logs.Retention < 0 {
		return errors.New("logs.retention must be >= 0")
	}

	c.Ledger.Kind = normalizeEnumValue(c.Ledger.Kind)
	if c.Ledger.Kind == "" {
		c.Ledger.Kind = "none"
	}
	if c.Ledger.Kind != "none" && c.Ledger.DSN == "" {
		return fmt.Errorf("ledger.dsn is required for ledger kind %s (or set LEDGER_DSN)", c.Ledger.Kind)
	}

	c.Staging.Kind = normalizeEnumValue(c.Staging.Kind)
	if !slices.Contains(staging.Kinds(), c.Staging.Kind) {
		return fmt.Errorf("unsupported staging.kind: %q (must be one of: %s)", c.Staging.Kind, strings.Join(staging.Kinds(), ", "))
	}

	if c.Selection.DryRun {
		return nil
	}
	return c.validateCollaborators()
}

func (c *Config) validateOutput() error {
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	switch c.Output.ConsoleFormat {
	case "text", "json", "ndjson":
	case "":
		return errors.New("--console-format must be one of: text, json, ndjson")
	default:
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}

	for i, st := range c.Output.ConsoleFilterStatus {
		v := pipeline.Status(strings.ToUpper(st))
		if v != pipeline.StatusSuccess && v != pipeline.StatusFailure && v != pipeline.StatusBlocked {
			return fmt.Errorf("unsupported --console-filter-status: %s (must be one of: SUCCESS, FAILURE, BLOCKED)", st)
		}
		c.Output.ConsoleFilterStatus[i] = string(v)
	}

	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", emit)
		}
		c.Output.Emit[i] = v
	}

	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			switch ext := strings.ToLower(filepath.Ext(c.Output.Out)); ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			case "":
				return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
			default:
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}
	return nil
}

// validateCollaborators checks that every stage the selection needs can
// reach its collaborators: extract needs the API and staging, load needs
// staging and the warehouse.
func (c *Config) validateCollaborators() error {
	var errs []error
	if c.Selection.Step.Includes(pipeline.StageExtract) {
		if strings.TrimSpace(c.Source.APIKey) == "" {
			errs = append(errs, errors.New("WELCOME_HOME_API_KEY is not set"))
		}
		if c.Source.BaseURL == "" {
			errs = append(errs, errors.New("source.base_url is required"))
		}
	}
	if err := c.validateStaging(); err != nil {
		errs = append(errs, err)
	}
	if c.Selection.Step.Includes(pipeline.StageLoad) {
		if err := c.WarehouseConfig().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w (SNOWFLAKE_PASSWORD comes from the environment)", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateStaging() error {
	s := c.Staging
	switch s.Kind {
	case "azure":
		if s.ConnectionString == "" {
			return errors.New("AZURE_CONNECTION_STRING is not set")
		}
		if s.Container == "" {
			return errors.New("staging.container is required")
		}
	case "s3":
		if s.Endpoint == "" || s.Bucket == "" {
			return errors.New("staging.endpoint and staging.bucket are required for s3")
		}
		if s.AccessKeyID == "" || s.SecretAccessKey == "" {
			return errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set for s3")
		}
	case "local":
		if s.Dir == "" {
			return errors.New("staging.dir is required for local staging")
		}
	}
	return nil
}

func (c *Config) StagingConfig() staging.Config {
	s := c.Staging
	return staging.Config{
		Kind:             s.Kind,
		Prefix:           s.Prefix,
		Dir:              s.Dir,
		Container:        s.Container,
		ConnectionString: s.ConnectionString,
		Endpoint:         s.Endpoint,
		Bucket:           s.Bucket,
		AccessKeyID:      s.AccessKeyID,
		SecretAccessKey:  s.SecretAccessKey,
		Region:           s.Region,
		UseSSL:           s.UseSSL,
	}
}

func (c *Config) WarehouseConfig() warehouse.Config {
	w := c.Warehouse
	return warehouse.Config{
		Account:      w.Account,
		User:         w.User,
		Password:     w.Password,
		Warehouse:    w.Warehouse,
		Database:     w.Database,
		Schema:       w.Schema,
		Role:         w.Role,
		StageName:    w.StageName,
		LoginTimeout: w.LoginTimeout.Duration(),
	}
}

// LedgerConfig returns the ledger settings and whether the ledger is enabled.
func (c *Config) LedgerConfig() (ledger.Config, bool) {
	if c.Ledger.Kind == "" || c.Ledger.Kind == "none" {
		return ledger.Config{}, false
	}
	return ledger.Config{Kind: c.Ledger.Kind, DSN: c.Ledger.DSN}, true
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
