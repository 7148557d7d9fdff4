// Package config contains the loader and strongly typed model for stacks.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/stackctl/internal/env"
)

var (
	// ErrStackNotFound is returned when a requested stack is not declared in stacks.yaml.
	ErrStackNotFound = errors.New("stack not found")
	// ErrEnvironmentNotFound is returned when a requested environment is not declared.
	ErrEnvironmentNotFound = errors.New("environment not found")
)

// StackConfig represents the set of CloudFormation stacks managed together.
// It mirrors the structure of stacks.yaml after template rendering.
type StackConfig struct {
	// Project is the short project name available to templates.
	Project string `yaml:"project"`
	// EnvFiles lists .env files to load before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Region is the default AWS region.
	Region string `yaml:"region,omitempty"`
	// TemplateBucket configures S3 staging for templates above the inline size limit.
	TemplateBucket *BucketConfig `yaml:"templateBucket,omitempty"`
	// Defaults apply to every stack unless overridden.
	Defaults Defaults `yaml:"defaults,omitempty"`
	// Environments contains AWS account settings per environment.
	Environments map[string]Environment `yaml:"environments,omitempty"`
	// Stacks lists the stacks in declaration order.
	Stacks []Stack `yaml:"stacks,omitempty"`
	// Versions provides named version strings available in templates.
	Versions map[string]string `yaml:"versions,omitempty"`
}

// BucketConfig names the S3 location used for template staging.
type BucketConfig struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Defaults holds project-wide stack settings.
type Defaults struct {
	// PollInterval is a duration string between status checks (e.g. "5s").
	PollInterval string `yaml:"pollInterval,omitempty"`
	// Timeout is a duration string bounding a single apply or delete (e.g. "30m").
	Timeout string `yaml:"timeout,omitempty"`
	// Capabilities are acknowledged for every stack.
	Capabilities []string `yaml:"capabilities,omitempty"`
	// Tags are applied to every stack.
	Tags map[string]string `yaml:"tags,omitempty"`
	// Concurrency limits how many stacks are reconciled at once.
	Concurrency int `yaml:"concurrency,omitempty"`
}

// Environment describes the AWS account and region targeted by an environment.
type Environment struct {
	// Region overrides the top-level region.
	Region string `yaml:"region,omitempty"`
	// Profile selects a shared config profile.
	Profile string `yaml:"profile,omitempty"`
	// RoleARN is assumed on top of the base credentials.
	RoleARN string `yaml:"roleArn,omitempty"`
	// Tags are merged over defaults.tags.
	Tags map[string]string `yaml:"tags,omitempty"`
	// From references another environment to inherit from.
	From string `yaml:"from,omitempty"`
}

// Stack describes a single CloudFormation stack.
type Stack struct {
	// Name is the CloudFormation stack name.
	Name string `yaml:"name"`
	// Template is the template path relative to the project root.
	Template string `yaml:"template"`
	// Render runs the template through the stacks.yaml template context before submission.
	Render bool `yaml:"render,omitempty"`
	// Parameters are inline stack parameters.
	Parameters map[string]string `yaml:"parameters,omitempty"`
	// ParameterFiles are loaded before Parameters, later files winning.
	ParameterFiles []string `yaml:"parameterFiles,omitempty"`
	// Capabilities are acknowledged in addition to defaults.capabilities.
	Capabilities []string `yaml:"capabilities,omitempty"`
	// Tags are merged over environment and default tags.
	Tags map[string]string `yaml:"tags,omitempty"`
	// DisableRollback keeps failed resources for inspection.
	DisableRollback bool `yaml:"disableRollback,omitempty"`
	// Timeout overrides defaults.timeout.
	Timeout string `yaml:"timeout,omitempty"`
	// PollInterval overrides defaults.pollInterval.
	PollInterval string `yaml:"pollInterval,omitempty"`
	// When is a template expression that enables this stack.
	When string `yaml:"when,omitempty"`
}

// LoadOptions describes parameters that influence template rendering of stacks.yaml.
type LoadOptions struct {
	// Env is the target environment name.
	Env string
	// UserVars are inline variables for template rendering.
	UserVars env.Vars
	// VarFiles lists additional var-files to load.
	VarFiles []string
}

// TemplateContext represents the data exposed to Go-templates when rendering stacks.yaml
// and stack templates marked with render: true.
type TemplateContext struct {
	// Env is the selected environment name.
	Env string
	// Project is the project identifier.
	Project string
	// ProjectRoot is the directory holding stacks.yaml.
	ProjectRoot string
	// Region is the resolved AWS region. It is empty while stacks.yaml itself is rendered.
	Region string
	// Now is the timestamp captured for template rendering.
	Now time.Time
	// UserVars contains inline user variables.
	UserVars env.Vars
	// EnvMap merges OS env, envFiles, var-files and user variables.
	EnvMap env.Vars
	// Versions contains version strings from stacks.yaml.
	Versions map[string]string
}

// rawHeader is a minimal struct used to extract top-level fields before templating.
type rawHeader struct {
	Project  string            `yaml:"project"`
	EnvFiles []string          `yaml:"envFiles"`
	Versions map[string]string `yaml:"versions"`
}

// LoadAndRender reads stacks.yaml, loads envFiles and user vars, and returns rendered YAML bytes
// together with the template context that was used.
func LoadAndRender(path string, opts LoadOptions) ([]byte, TemplateContext, error) {
	var zeroCtx TemplateContext

	if path == "" {
		return nil, zeroCtx, fmt.Errorf("config path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("resolve config path: %w", err)
	}

	rawBytes, err := os.ReadFile(absPath)
	if err != nil {
		return nil, zeroCtx, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var header rawHeader
	if err := yaml.Unmarshal(rawBytes, &header); err != nil {
		return nil, zeroCtx, fmt.Errorf("parse top-level config fields: %w", err)
	}

	baseDir := filepath.Dir(absPath)

	envFileVars, err := env.LoadEnvFiles(baseDir, header.EnvFiles)
	if err != nil {
		return nil, zeroCtx, err
	}

	varFileVars := make(env.Vars)
	for _, vf := range opts.VarFiles {
		if strings.TrimSpace(vf) == "" {
			continue
		}
		vp, err := env.LoadVarFile(vf)
		if err != nil {
			return nil, zeroCtx, fmt.Errorf("load var-file %q: %w", vf, err)
		}
		varFileVars = env.Merge(varFileVars, vp)
	}

	ctx := TemplateContext{
		Env:         opts.Env,
		Project:     header.Project,
		ProjectRoot: baseDir,
		Now:         time.Now().UTC(),
		UserVars:    opts.UserVars,
		EnvMap:      env.Merge(env.FromOS(), envFileVars, varFileVars, opts.UserVars),
		Versions:    header.Versions,
	}

	rendered, err := RenderTemplate(filepath.Base(absPath), rawBytes, ctx)
	if err != nil {
		return nil, zeroCtx, err
	}

	return rendered, ctx, nil
}

// LoadStackConfig loads, templates and parses stacks.yaml into StackConfig and TemplateContext.
// The context's Region is resolved from the selected environment.
func LoadStackConfig(path string, opts LoadOptions) (*StackConfig, TemplateContext, error) {
	rendered, ctx, err := LoadAndRender(path, opts)
	if err != nil {
		return nil, TemplateContext{}, err
	}

	var cfg StackConfig
	if err := yaml.Unmarshal(rendered, &cfg); err != nil {
		return nil, TemplateContext{}, fmt.Errorf("parse rendered stacks.yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, TemplateContext{}, err
	}

	envCfg, err := ResolveEnvironment(&cfg, opts.Env)
	if err != nil {
		return nil, TemplateContext{}, err
	}

	ctx.Region = envCfg.Region
	ctx.Versions = cfg.Versions

	return &cfg, ctx, nil
}

// Validate checks structural constraints that the YAML decoder cannot express.
func (c *StackConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Stacks))
	for i, s := range c.Stacks {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stacks[%d]: name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("stacks[%d]: duplicate stack name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if strings.TrimSpace(s.Template) == "" {
			return fmt.Errorf("stack %q: template is required", s.Name)
		}
		for _, d := range []struct{ field, value string }{
			{"timeout", s.Timeout},
			{"pollInterval", s.PollInterval},
		} {
			if _, err := ParseDuration(d.value); err != nil {
				return fmt.Errorf("stack %q: %s: %w", s.Name, d.field, err)
			}
		}
	}
	if _, err := ParseDuration(c.Defaults.Timeout); err != nil {
		return fmt.Errorf("defaults.timeout: %w", err)
	}
	if _, err := ParseDuration(c.Defaults.PollInterval); err != nil {
		return fmt.Errorf("defaults.pollInterval: %w", err)
	}
	if c.Defaults.Concurrency < 0 {
		return fmt.Errorf("defaults.concurrency must not be negative")
	}
	if c.TemplateBucket != nil && strings.TrimSpace(c.TemplateBucket.Name) == "" {
		return fmt.Errorf("templateBucket.name is required when templateBucket is set")
	}
	return nil
}

// Stack returns the stack declared under name.
func (c *StackConfig) Stack(name string) (Stack, error) {
	for _, s := range c.Stacks {
		if s.Name == name {
			return s, nil
		}
	}
	return Stack{}, fmt.Errorf("%w: %q", ErrStackNotFound, name)
}

// StackTags merges default, environment and stack tags, later sources winning.
func (c *StackConfig) StackTags(envCfg Environment, s Stack) map[string]string {
	out := make(map[string]string)
	maps.Copy(out, c.Defaults.Tags)
	maps.Copy(out, envCfg.Tags)
	maps.Copy(out, s.Tags)
	return out
}

// StackCapabilities returns defaults.capabilities followed by the stack's own, deduplicated.
func (c *StackConfig) StackCapabilities(s Stack) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range [][]string{c.Defaults.Capabilities, s.Capabilities} {
		for _, capability := range set {
			if _, ok := seen[capability]; ok || capability == "" {
				continue
			}
			seen[capability] = struct{}{}
			out = append(out, capability)
		}
	}
	return out
}

// ParseDuration parses a duration string. An empty value yields zero.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", value)
	}
	return d, nil
}

// RenderTemplate renders arbitrary YAML or text content using the template context and helpers.
func RenderTemplate(name string, raw []byte, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(buildFuncMap(ctx)).Option("missingkey=zero").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the common set of template functions available in stacks.yaml and templates.
func buildFuncMap(ctx TemplateContext) template.FuncMap {
	return template.FuncMap{
		"default":    funcDef,
		"toLower":    strings.ToLower,
		"toUpper":    strings.ToUpper,
		"slug":       funcSlug,
		"envOr":      funcEnvOr(ctx.EnvMap),
		"ternary":    funcTernary,
		"now":        func() time.Time { return ctx.Now },
		"join":       funcJoin,
		"trimPrefix": strings.TrimPrefix,
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcSlug normalizes a value into a lower-case dash-separated slug usable in stack names.
func funcSlug(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = strings.ReplaceAll(v, " ", "-")
	v = strings.ReplaceAll(v, "_", "-")
	v = strings.ReplaceAll(v, ".", "-")
	return v
}

func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

func funcTernary(cond bool, a, b any) any {
	if cond {
		return a
	}
	return b
}

func funcJoin(values []string, sep string) string {
	return strings.Join(values, sep)
}

// ResolveEnvironment returns the effective environment configuration for the given name,
// following optional "from" links and applying overrides. An empty name resolves to the
// top-level settings. The returned Region falls back to the top-level region.
func ResolveEnvironment(cfg *StackConfig, name string) (Environment, error) {
	if cfg == nil {
		return Environment{}, fmt.Errorf("stack config is nil")
	}
	if name == "" {
		return Environment{Region: cfg.Region}, nil
	}

	visited := make(map[string]struct{})
	var resolve func(current string) (Environment, error)

	resolve = func(current string) (Environment, error) {
		if _, seen := visited[current]; seen {
			return Environment{}, fmt.Errorf("environment inheritance cycle detected at %q", current)
		}
		visited[current] = struct{}{}

		envCfg, ok := cfg.Environments[current]
		if !ok {
			return Environment{}, fmt.Errorf("%w: %q is not defined in stacks.yaml", ErrEnvironmentNotFound, current)
		}

		if envCfg.From == "" {
			return envCfg, nil
		}

		base, err := resolve(envCfg.From)
		if err != nil {
			return Environment{}, err
		}

		merged := base
		merged.From = envCfg.From
		if envCfg.Region != "" {
			merged.Region = envCfg.Region
		}
		if envCfg.Profile != "" {
			merged.Profile = envCfg.Profile
		}
		if envCfg.RoleARN != "" {
			merged.RoleARN = envCfg.RoleARN
		}
		if len(envCfg.Tags) > 0 {
			tags := make(map[string]string, len(base.Tags)+len(envCfg.Tags))
			maps.Copy(tags, base.Tags)
			maps.Copy(tags, envCfg.Tags)
			merged.Tags = tags
		}
		return merged, nil
	}

	resolved, err := resolve(name)
	if err != nil {
		return Environment{}, err
	}
	if resolved.Region == "" {
		resolved.Region = cfg.Region
	}
	return resolved, nil
}
