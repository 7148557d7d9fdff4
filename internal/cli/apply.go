package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/env"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// newApplyCommand creates the "apply" subcommand that creates or updates stacks and waits for them.
func newApplyCommand(opts *Options) *cobra.Command {
	var (
		all    bool
		wait   waitFlags
		params []string
	)

	cmd := &cobra.Command{
		Use:   "apply [stack...]",
		Short: "Create or update stacks and wait until they settle",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			overrides, err := env.ParseParamFlags(params)
			if err != nil {
				return err
			}

			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			stacks, err := p.selectStacks(logger, args, all)
			if err != nil {
				return err
			}

			client, err := p.client(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}

			limit := resolveConcurrency(opts, wait, p.cfg)
			logger.Info("applying stacks", "env", opts.Env, "count", len(stacks), "concurrency", limit)

			results := runStacks(cmd.Context(), stacks, limit, func(ctx context.Context, s config.Stack) (stack.Outcome, error) {
				tmpl, err := p.engine.Load(s, p.tmpl)
				if err != nil {
					return stack.Unknown, err
				}
				stackParams, err := p.engine.Parameters(s, p.tmpl, overrides)
				if err != nil {
					return stack.Unknown, err
				}
				r, err := newReconciler(p, opts, wait, s, client, logger)
				if err != nil {
					return stack.Unknown, err
				}
				return r.Apply(ctx, tmpl, stackParams)
			})

			publishStepOutputs(cmd.Context(), client, results, logger)
			return summarize(cmd.OutOrStdout(), "apply", results)
		},
	}

	addSelectionFlags(cmd, &all, "Apply")
	addWaitFlags(cmd, &wait)
	cmd.Flags().StringArrayVar(&params, "param", nil, "Stack parameter override in K=V format (repeatable)")

	return cmd
}
