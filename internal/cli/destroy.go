package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// newDestroyCommand creates the "delete" subcommand that removes stacks and waits for them.
func newDestroyCommand(opts *Options) *cobra.Command {
	var (
		all  bool
		yes  bool
		wait waitFlags
	)

	cmd := &cobra.Command{
		Use:     "delete [stack...]",
		Aliases: []string{"destroy"},
		Short:   "Delete stacks and wait until they are gone",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			stacks, err := p.selectStacks(logger, args, all)
			if err != nil {
				return err
			}
			if len(stacks) > 1 && !yes {
				return fmt.Errorf("refusing to delete %d stacks without --yes", len(stacks))
			}

			client, err := p.client(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}

			// Later stacks usually consume outputs of earlier ones.
			slices.Reverse(stacks)

			limit := resolveConcurrency(opts, wait, p.cfg)
			logger.Info("deleting stacks", "env", opts.Env, "count", len(stacks), "concurrency", limit)

			results := runStacks(cmd.Context(), stacks, limit, func(ctx context.Context, s config.Stack) (stack.Outcome, error) {
				r, err := newReconciler(p, opts, wait, s, client, logger)
				if err != nil {
					return stack.Unknown, err
				}
				return r.Delete(ctx)
			})

			return summarize(cmd.OutOrStdout(), "delete", results)
		},
	}

	addSelectionFlags(cmd, &all, "Delete")
	addWaitFlags(cmd, &wait)
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion of more than one stack")

	return cmd
}
