// Package ghoutput publishes stack results as GitHub Actions step outputs.
package ghoutput

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// EnvVar names the file GitHub Actions reads step outputs from.
const EnvVar = "GITHUB_OUTPUT"

// Path returns the step output file, or "" outside GitHub Actions.
func Path() string {
	return strings.TrimSpace(os.Getenv(EnvVar))
}

// StackValues flattens a stack result into output keys: <stack>_outcome and
// <stack>_<OutputKey> for every stack output.
func StackValues(stackName, outcome string, outputs map[string]string) map[string]string {
	prefix := Key(stackName)
	values := map[string]string{prefix + "_outcome": outcome}
	for k, v := range outputs {
		values[prefix+"_"+Key(k)] = v
	}
	return values
}

// Key normalizes name into a GitHub output identifier.
func Key(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Append adds values to the output file at path. Multi-line values use the heredoc form.
func Append(path string, values map[string]string) error {
	if path == "" || len(values) == 0 {
		return nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open %s: %w", EnvVar, err)
	}
	defer func() { _ = f.Close() }()

	return Encode(f, values)
}

// Encode writes values in the GitHub output file format, sorted by key.
func Encode(w io.Writer, values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := values[key]
		var err error
		if strings.ContainsAny(value, "\r\n") {
			delim := "EOF_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			_, err = fmt.Fprintf(w, "%s<<%s\n%s\n%s\n", key, delim, value, delim)
		} else {
			_, err = fmt.Fprintf(w, "%s=%s\n", key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
