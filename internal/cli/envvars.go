package cli

import (
	"fmt"
	"time"

	envparse "github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// baseEnv defines CLI defaults sourced from STACKCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the stacks.yaml path from STACKCTL_CONFIG.
	ConfigPath string `env:"STACKCTL_CONFIG"`
	// Env is the environment name from STACKCTL_ENV.
	Env string `env:"STACKCTL_ENV"`
	// LogLevel is the logging level from STACKCTL_LOG_LEVEL.
	LogLevel string `env:"STACKCTL_LOG_LEVEL"`
	// Region is the AWS region override from STACKCTL_REGION.
	Region string `env:"STACKCTL_REGION"`
	// Profile is the AWS profile override from STACKCTL_PROFILE.
	Profile string `env:"STACKCTL_PROFILE"`
	// Vars is a k=v,k2=v2 list from STACKCTL_VARS.
	Vars string `env:"STACKCTL_VARS"`
	// VarFile is a YAML/ENV path from STACKCTL_VAR_FILE.
	VarFile string `env:"STACKCTL_VAR_FILE"`

	// PollInterval overrides defaults.pollInterval from STACKCTL_POLL_INTERVAL.
	PollInterval time.Duration `env:"STACKCTL_POLL_INTERVAL"`
	// Timeout overrides defaults.timeout from STACKCTL_TIMEOUT.
	Timeout time.Duration `env:"STACKCTL_TIMEOUT"`
	// Concurrency overrides defaults.concurrency from STACKCTL_CONCURRENCY.
	Concurrency int `env:"STACKCTL_CONCURRENCY"`
	// MaxAttempts bounds SDK retries from STACKCTL_MAX_ATTEMPTS.
	MaxAttempts int `env:"STACKCTL_MAX_ATTEMPTS" envDefault:"5"`

	// AccessKeyID, SecretAccessKey and SessionToken select static credentials.
	AccessKeyID     string `env:"STACKCTL_AWS_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"STACKCTL_AWS_SECRET_ACCESS_KEY"`
	SessionToken    string `env:"STACKCTL_AWS_SESSION_TOKEN"`
}

// parseEnv fills target from STACKCTL_* env vars via caarlos0/env.
func parseEnv(target any) error {
	return envparse.Parse(target)
}

// applyEnvDefaults copies STACKCTL_* values into global flags the user did not set.
func applyEnvDefaults(cmd *cobra.Command, opts *Options) error {
	var e baseEnv
	if err := parseEnv(&e); err != nil {
		return fmt.Errorf("parse STACKCTL_* environment: %w", err)
	}
	opts.settings = e

	for _, f := range []struct {
		flag  string
		value string
	}{
		{"config", e.ConfigPath},
		{"env", e.Env},
		{"log-level", e.LogLevel},
		{"region", e.Region},
		{"profile", e.Profile},
		{"vars", e.Vars},
		{"var-file", e.VarFile},
	} {
		if f.value == "" || cmd.Flags().Changed(f.flag) {
			continue
		}
		if err := cmd.Flags().Set(f.flag, f.value); err != nil {
			return fmt.Errorf("apply %s from environment: %w", f.flag, err)
		}
	}
	return nil
}
