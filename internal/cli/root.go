// Package cli defines the command-line interface for stackctl.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/logging"
)

const (
	// defaultConfigPath is the default path to the stack configuration file.
	defaultConfigPath = "stacks.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Env        string
	LogLevel   logging.Level
	Region     string
	Profile    string
	Vars       string
	VarFile    string

	// settings holds STACKCTL_* values not bound to a global flag.
	settings baseEnv
	// newClient builds the remote client; replaced in tests.
	newClient clientFactory
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, logging.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   logging.LevelInfo,
		newClient:  newAWSClient,
	}

	// Interrupts stop waiting on stacks; the remote operations keep running.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return execute(ctx, rootOpts, logger, args)
}

func execute(ctx context.Context, opts *Options, logger *slog.Logger, args []string) error {
	rootCmd := newRootCommand(opts, logger)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "stackctl reconciles CloudFormation stacks declared in stacks.yaml",
		Long:          "stackctl creates, updates and deletes CloudFormation stacks declared in a stacks.yaml definition and waits for every change to settle.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := applyEnvDefaults(cmd, opts); err != nil {
				return err
			}
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(cmd.ErrOrStderr(), level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "Path to stacks.yaml configuration file")
	cmd.PersistentFlags().StringVar(&opts.Env, "env", "", "Environment name (e.g. dev, staging, prod)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.Region, "region", "", "AWS region override")
	cmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "AWS shared config profile override")
	cmd.PersistentFlags().StringVar(&opts.Vars, "vars", "", "Additional template variables in k=v,k2=v2 format")
	cmd.PersistentFlags().StringVar(&opts.VarFile, "var-file", "", "Path to YAML/ENV file with additional template variables")

	cmd.AddCommand(
		newApplyCommand(opts),
		newDestroyCommand(opts),
		newStatusCommand(opts),
		newValidateCommand(opts),
		newEventsCommand(opts),
		newRenderCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, logging.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, logging.LevelInfo)
}
