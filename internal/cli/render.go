package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/env"
)

// newRenderCommand creates the "render" subcommand that prints templates and parameters as
// they would be submitted.
func newRenderCommand(opts *Options) *cobra.Command {
	var (
		outputDir  string
		showParams bool
		params     []string
	)

	cmd := &cobra.Command{
		Use:   "render <stack>",
		Short: "Render a stack template locally without contacting AWS",
		Args:  cobra.ExactArgs(1),
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
			s, err := p.cfg.Stack(args[0])
			if err != nil {
				return err
			}

			tmpl, err := p.engine.Load(s, p.tmpl)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputDir == "" {
				if _, err := fmt.Fprint(out, tmpl.Body); err != nil {
					return err
				}
			} else {
				if err := os.MkdirAll(outputDir, 0o755); err != nil {
					return fmt.Errorf("create output directory %q: %w", outputDir, err)
				}
				outPath := filepath.Join(outputDir, s.Name+".template")
				if err := os.WriteFile(outPath, []byte(tmpl.Body), 0o644); err != nil {
					return fmt.Errorf("write rendered template to %q: %w", outPath, err)
				}
				logger.Info("rendered template", "stack", s.Name, "path", outPath)
			}

			if !showParams {
				return nil
			}
			merged, err := p.engine.Parameters(s, p.tmpl, overrides)
			if err != nil {
				return err
			}
			vars := env.Vars(merged)
			_, _ = fmt.Fprintln(out, "\n# parameters")
			for _, k := range vars.Keys() {
				_, _ = fmt.Fprintf(out, "%s=%s\n", k, vars[k])
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory for the rendered template (if empty, prints to stdout)")
	cmd.Flags().BoolVar(&showParams, "params", false, "Also print the merged stack parameters")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Stack parameter override in K=V format (repeatable)")

	return cmd
}
