package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/engine"
	"github.com/codex-k8s/stackctl/internal/env"
)

// project bundles the loaded stacks.yaml with everything derived from it.
type project struct {
	cfg    *config.StackConfig
	tmpl   config.TemplateContext
	env    config.Environment
	engine *engine.Engine
}

func parseInlineVarsAndFiles(opts *Options) (env.Vars, []string, error) {
	inlineVars, err := env.ParseInlineVars(opts.Vars)
	if err != nil {
		return nil, nil, err
	}

	var varFiles []string
	if opts.VarFile != "" {
		varFiles = append(varFiles, opts.VarFile)
	}
	return inlineVars, varFiles, nil
}

func loadProject(opts *Options) (*project, error) {
	inlineVars, varFiles, err := parseInlineVarsAndFiles(opts)
	if err != nil {
		return nil, err
	}

	stackCfg, ctxData, err := config.LoadStackConfig(opts.ConfigPath, config.LoadOptions{
		Env:      opts.Env,
		UserVars: inlineVars,
		VarFiles: varFiles,
	})
	if err != nil {
		return nil, err
	}

	envCfg, err := config.ResolveEnvironment(stackCfg, opts.Env)
	if err != nil {
		return nil, err
	}
	if opts.Region != "" {
		envCfg.Region = opts.Region
		ctxData.Region = opts.Region
	}

	return &project{cfg: stackCfg, tmpl: ctxData, env: envCfg, engine: engine.NewEngine()}, nil
}

// selectStacks resolves positional stack names. With no names, all is required.
func (p *project) selectStacks(logger *slog.Logger, names []string, all bool) ([]config.Stack, error) {
	if len(names) == 0 && !all {
		return nil, fmt.Errorf("name at least one stack or pass --all")
	}
	if len(names) > 0 && all {
		return nil, fmt.Errorf("stack names and --all are mutually exclusive")
	}

	sel, err := p.engine.Select(p.cfg, p.tmpl, names)
	if err != nil {
		return nil, err
	}
	for _, name := range sel.Skipped {
		logger.Info("stack disabled by when expression", "stack", name, "env", p.tmpl.Env)
	}
	if len(sel.Stacks) == 0 {
		return nil, fmt.Errorf("no enabled stacks selected")
	}
	return sel.Stacks, nil
}

func addSelectionFlags(cmd *cobra.Command, all *bool, action string) {
	cmd.Flags().BoolVar(all, "all", false, fmt.Sprintf("%s every enabled stack in stacks.yaml", action))
}
