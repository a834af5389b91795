package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when --config is not given. A missing default file is
// not an error; a missing explicit one is.
const DefaultPath = "whexport.yaml"

// Duration is a time.Duration that unmarshals from YAML strings (e.g. "90s", "168h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration back in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Load builds a config from defaults, the YAML file at path and the
// environment (a .env file in the working directory included). Flags are
// applied by the caller afterwards; Validate runs last.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := New()
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Parse overlays YAML onto cfg. Keys not present keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// ApplyEnv copies secrets and deployment overrides from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Source.APIKey, "WELCOME_HOME_API_KEY")
	set(&c.Source.BaseURL, "WELCOME_HOME_BASE_URL")
	set(&c.Staging.ConnectionString, "AZURE_CONNECTION_STRING")
	set(&c.Staging.AccessKeyID, "S3_ACCESS_KEY_ID")
	set(&c.Staging.SecretAccessKey, "S3_SECRET_ACCESS_KEY")
	set(&c.Warehouse.Password, "SNOWFLAKE_PASSWORD")
	set(&c.Ledger.DSN, "LEDGER_DSN")
	set(&c.Metrics.PushgatewayURL, "PUSHGATEWAY_URL")
	set(&c.Dispatch.Token, "GITHUB_TOKEN")
}
