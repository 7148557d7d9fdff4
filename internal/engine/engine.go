// Package engine turns stacks.yaml entries into the templates and parameters submitted to
// CloudFormation.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/env"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// Engine loads templates and parameters for configured stacks.
type Engine struct {
	readFile func(string) ([]byte, error)
}

// NewEngine constructs a new Engine instance reading from the local filesystem.
func NewEngine() *Engine {
	return &Engine{readFile: os.ReadFile}
}

// Selection is the outcome of filtering stacks by name and `when` expressions.
type Selection struct {
	// Stacks are the enabled stacks in declaration order.
	Stacks []config.Stack
	// Skipped names stacks whose `when` expression evaluated to false.
	Skipped []string
}

// Select returns the stacks matching names, or every stack when names is empty.
// Unknown names yield config.ErrStackNotFound.
func (e *Engine) Select(cfg *config.StackConfig, ctx config.TemplateContext, names []string) (Selection, error) {
	only := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := cfg.Stack(name); err != nil {
			return Selection{}, err
		}
		only[name] = struct{}{}
	}

	var sel Selection
	for _, s := range cfg.Stacks {
		if len(only) > 0 {
			if _, ok := only[s.Name]; !ok {
				continue
			}
		}
		ok, err := evaluateWhen(s.When, ctx)
		if err != nil {
			return Selection{}, fmt.Errorf("evaluate when for stack %q: %w", s.Name, err)
		}
		if !ok {
			sel.Skipped = append(sel.Skipped, s.Name)
			continue
		}
		sel.Stacks = append(sel.Stacks, s)
	}
	return sel, nil
}

// Load reads the template of s relative to the project root, renders it when s.Render is set
// and checks that it is a well-formed CloudFormation document.
func (e *Engine) Load(s config.Stack, ctx config.TemplateContext) (stack.Template, error) {
	if strings.TrimSpace(s.Template) == "" {
		return stack.Template{}, fmt.Errorf("stack %q: template path is empty", s.Name)
	}
	path := env.Resolve(ctx.ProjectRoot, s.Template)

	raw, err := e.readFile(path)
	if err != nil {
		return stack.Template{}, fmt.Errorf("read template %q: %w", path, err)
	}

	if s.Render {
		raw, err = config.RenderTemplate(path, raw, ctx)
		if err != nil {
			return stack.Template{}, err
		}
	}

	if err := checkTemplate(raw); err != nil {
		return stack.Template{}, fmt.Errorf("template %q: %w", path, err)
	}

	return stack.Template{Source: path, Body: string(raw)}, nil
}

// Parameters merges parameter files, inline parameters and overrides, later sources winning.
func (e *Engine) Parameters(s config.Stack, ctx config.TemplateContext, overrides env.Vars) (stack.Parameters, error) {
	fromFiles, err := env.LoadParameterFiles(ctx.ProjectRoot, s.ParameterFiles)
	if err != nil {
		return nil, fmt.Errorf("stack %q: %w", s.Name, err)
	}
	merged := env.Merge(fromFiles, s.Parameters, overrides)
	return stack.Parameters(merged), nil
}

// checkTemplate verifies raw holds a single YAML or JSON mapping with a Resources section.
// Short-form intrinsic function tags such as !Ref are accepted as-is.
func checkTemplate(raw []byte) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("template is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("not well-formed: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		if err != nil {
			return fmt.Errorf("not well-formed: %w", err)
		}
		return fmt.Errorf("template must contain a single document")
	}

	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("template must be a mapping")
	}
	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "Resources" {
			if root.Content[i+1].Kind != yaml.MappingNode || len(root.Content[i+1].Content) == 0 {
				return fmt.Errorf("template Resources section must declare at least one resource")
			}
			return nil
		}
	}
	return fmt.Errorf("missing Resources section")
}

func evaluateWhen(expr string, ctx config.TemplateContext) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}
	rendered, err := config.RenderTemplate("stack-when", []byte(expr), ctx)
	if err != nil {
		return false, err
	}
	s := strings.TrimSpace(string(rendered))
	if s == "" {
		return true, nil
	}
	ls := strings.ToLower(s)
	if ls == "false" || ls == "0" || ls == "no" {
		return false, nil
	}
	return true, nil
}
