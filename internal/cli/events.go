package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newEventsCommand creates the "events" subcommand that prints recent stack events.
func newEventsCommand(opts *Options) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "events <stack>",
		Short: "Print recent events of a stack, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := LoggerFromContext(cmd.Context())

			p, err := loadProject(opts)
			if err != nil {
				return err
			}
			if _, err := p.cfg.Stack(args[0]); err != nil {
				return err
			}
			client, err := p.client(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			events, err := client.ListEvents(cmd.Context(), args[0], from)
			if err != nil {
				return fmt.Errorf("list events for stack %q: %w", args[0], err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tSTATUS\tRESOURCE\tTYPE\tREASON")
			for _, ev := range events {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					ev.Timestamp.UTC().Format(time.RFC3339), ev.Status, ev.LogicalID, ev.ResourceType, ev.Reason)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVar(&since, "since", time.Hour, "Only show events newer than this (0 shows all)")

	return cmd
}
