package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/stack"
)

const defaultConcurrency = 4

// waitFlags holds per-operation wait settings.
type waitFlags struct {
	timeout      time.Duration
	pollInterval time.Duration
	concurrency  int
}

func addWaitFlags(cmd *cobra.Command, w *waitFlags) {
	cmd.Flags().DurationVar(&w.timeout, "timeout", 0, "Maximum time to wait for each stack (0 uses stacks.yaml or 30m)")
	cmd.Flags().DurationVar(&w.pollInterval, "poll-interval", 0, "Delay between status checks (0 uses stacks.yaml or 5s)")
	cmd.Flags().IntVar(&w.concurrency, "concurrency", 0, "Number of stacks processed in parallel (0 uses stacks.yaml or 4)")
}

// resolveDuration picks the first non-zero value of flag, env, the stack's own setting and
// the project default, falling back to builtin.
func resolveDuration(flag, fromEnv time.Duration, stackValue, defaultsValue string, builtin time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	if fromEnv > 0 {
		return fromEnv, nil
	}
	for _, v := range []string{stackValue, defaultsValue} {
		d, err := config.ParseDuration(v)
		if err != nil {
			return 0, err
		}
		if d > 0 {
			return d, nil
		}
	}
	return builtin, nil
}

// resolveTimeout chooses the effective deploy wait timeout for s.
func resolveTimeout(opts *Options, w waitFlags, cfg *config.StackConfig, s config.Stack) (time.Duration, error) {
	return resolveDuration(w.timeout, opts.settings.Timeout, s.Timeout, cfg.Defaults.Timeout, stack.DefaultTimeout)
}

// resolvePollInterval chooses the effective delay between status checks for s.
func resolvePollInterval(opts *Options, w waitFlags, cfg *config.StackConfig, s config.Stack) (time.Duration, error) {
	return resolveDuration(w.pollInterval, opts.settings.PollInterval, s.PollInterval, cfg.Defaults.PollInterval, stack.DefaultPollInterval)
}

// resolveConcurrency chooses how many stacks run at once.
func resolveConcurrency(opts *Options, w waitFlags, cfg *config.StackConfig) int {
	switch {
	case w.concurrency > 0:
		return w.concurrency
	case opts.settings.Concurrency > 0:
		return opts.settings.Concurrency
	case cfg.Defaults.Concurrency > 0:
		return cfg.Defaults.Concurrency
	default:
		return defaultConcurrency
	}
}
