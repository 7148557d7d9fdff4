package env

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// cfnParameter is one entry of a CloudFormation CLI parameter file.
type cfnParameter struct {
	ParameterKey   string `yaml:"ParameterKey"`
	ParameterValue string `yaml:"ParameterValue"`
}

// LoadParameterFile reads stack parameters from path. Three shapes are accepted:
//
//   - the CloudFormation CLI list: [{"ParameterKey": "K", "ParameterValue": "V"}]
//   - a flat JSON or YAML object: {"K": "V"}
//   - plain `K=V` or `K: V` lines
//
// List values in an object are joined with commas to match CommaDelimitedList parameters.
func LoadParameterFile(path string) (Vars, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter file %q: %w", path, err)
	}
	vars, err := ParseParameters(data)
	if err != nil {
		return nil, fmt.Errorf("parameter file %q: %w", path, err)
	}
	return vars, nil
}

// LoadParameterFiles loads every file relative to baseDir and merges them in order.
func LoadParameterFiles(baseDir string, files []string) (Vars, error) {
	result := make(Vars)
	for _, name := range files {
		if name == "" {
			continue
		}
		vars, err := LoadParameterFile(Resolve(baseDir, name))
		if err != nil {
			return nil, err
		}
		result = Merge(result, vars)
	}
	return result, nil
}

// ParseParameters decodes parameter file content. See LoadParameterFile for the accepted shapes.
func ParseParameters(data []byte) (Vars, error) {
	if strings.TrimSpace(string(data)) == "" {
		return Vars{}, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		// `K=V` lines with special characters are not valid YAML.
		return parseLines(string(data))
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return parseLines(string(data))
	}

	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []cfnParameter
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("decode parameter list: %w", err)
		}
		out := make(Vars, len(list))
		for i, p := range list {
			if p.ParameterKey == "" {
				return nil, fmt.Errorf("entry %d: missing ParameterKey", i)
			}
			out[p.ParameterKey] = p.ParameterValue
		}
		return out, nil
	case yaml.MappingNode:
		var raw map[string]yaml.Node
		if err := root.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode parameter map: %w", err)
		}
		out := make(Vars, len(raw))
		for k, node := range raw {
			s, err := scalarString(&node)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", k, err)
			}
			out[k] = s
		}
		return out, nil
	default:
		return parseLines(string(data))
	}
}

// ParseParamFlags parses repeated `--param K=V` values.
func ParseParamFlags(values []string) (Vars, error) {
	out := make(Vars, len(values))
	for _, v := range values {
		key, value, err := splitPair(v, "=")
		if err != nil {
			return nil, fmt.Errorf("--param: %w", err)
		}
		out[key] = value
	}
	return out, nil
}

// Keys returns the sorted keys of v.
func (v Vars) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// scalarString returns the literal text of a scalar node, or the comma-joined items of a
// sequence of scalars.
func scalarString(node *yaml.Node) (string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return "", nil
		}
		return node.Value, nil
	case yaml.SequenceNode:
		parts := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("line %d: nested values are not supported", item.Line)
			}
			parts = append(parts, item.Value)
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("line %d: nested values are not supported", node.Line)
	}
}
