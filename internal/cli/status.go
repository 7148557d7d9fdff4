package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/stack"
)

// newStatusCommand creates the "status" subcommand that shows the remote state of stacks.
func newStatusCommand(opts *Options) *cobra.Command {
	var showOutputs bool

	cmd := &cobra.Command{
		Use:   "status [stack...]",
		Short: "Show the current status of stacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			stacks, err := p.selectStacks(logger, args, len(args) == 0)
			if err != nil {
				return err
			}
			client, err := p.client(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}

			snaps := make([]stack.Snapshot, len(stacks))
			for i, s := range stacks {
				snap, err := client.Describe(cmd.Context(), s.Name)
				if err != nil {
					return fmt.Errorf("describe stack %q: %w", s.Name, err)
				}
				snaps[i] = snap
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STACK\tDEPLOYED\tSTATUS\tUPDATED\tREASON")
			for i, s := range stacks {
				snap := snaps[i]
				status, updated := "-", "-"
				if snap.Exists {
					status = snap.Status.String()
					if !snap.LastUpdated.IsZero() {
						updated = snap.LastUpdated.UTC().Format(time.RFC3339)
					}
				}
				_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.Name, snap.Exists, status, updated, snap.StatusReason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !showOutputs {
				return nil
			}
			for i, s := range stacks {
				if len(snaps[i].Outputs) == 0 {
					continue
				}
				_, _ = fmt.Fprintf(out, "\n%s outputs:\n", s.Name)
				keys := make([]string, 0, len(snaps[i].Outputs))
				for k := range snaps[i].Outputs {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					_, _ = fmt.Fprintf(out, "  %s = %s\n", k, snaps[i].Outputs[k])
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showOutputs, "outputs", false, "Print stack outputs")

	return cmd
}
