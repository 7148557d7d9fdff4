package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newValidateCommand creates the "validate" subcommand that checks templates remotely.
func newValidateCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [stack...]",
		Short: "Validate stack templates without submitting them",
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

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "STACK\tVALID\tCAPABILITIES\tMESSAGE")
			var invalid []string
			for _, s := range stacks {
				tmpl, err := p.engine.Load(s, p.tmpl)
				if err != nil {
					_, _ = fmt.Fprintf(tw, "%s\tfalse\t-\t%s\n", s.Name, err)
					invalid = append(invalid, s.Name)
					continue
				}
				v, err := client.ValidateTemplate(cmd.Context(), tmpl)
				if err != nil {
					_ = tw.Flush()
					return fmt.Errorf("validate stack %q: %w", s.Name, err)
				}
				caps := "-"
				if len(v.Capabilities) > 0 {
					caps = strings.Join(v.Capabilities, ",")
				}
				_, _ = fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", s.Name, v.Valid, caps, v.Message)
				if !v.Valid {
					invalid = append(invalid, s.Name)
				}
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if len(invalid) > 0 {
				return fmt.Errorf("invalid templates: %s", strings.Join(invalid, ", "))
			}
			return nil
		},
	}

	return cmd
}
