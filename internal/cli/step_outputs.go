package cli

import (
	"context"
	"log/slog"

	"github.com/codex-k8s/stackctl/internal/ghoutput"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// publishStepOutputs appends outcomes and stack outputs to $GITHUB_OUTPUT when running in
// GitHub Actions. Failures are logged and never change the command result.
func publishStepOutputs(ctx context.Context, client stack.Client, results []result, logger *slog.Logger) {
	path := ghoutput.Path()
	if path == "" {
		return
	}

	// Outputs of settled stacks are still published after an interrupt.
	ctx = context.WithoutCancel(ctx)
	values := make(map[string]string)
	for _, r := range results {
		if r.err != nil {
			continue
		}
		var outputs map[string]string
		if r.outcome == stack.Succeeded || r.outcome == stack.NoUpdates {
			snap, err := client.Describe(ctx, r.stack)
			if err != nil {
				logger.Warn("describe stack for step outputs failed", "stack", r.stack, "error", err)
			} else {
				outputs = snap.Outputs
			}
		}
		for k, v := range ghoutput.StackValues(r.stack, r.outcome.String(), outputs) {
			values[k] = v
		}
	}

	if err := ghoutput.Append(path, values); err != nil {
		logger.Warn("write step outputs failed", "path", path, "error", err)
		return
	}
	logger.Debug("step outputs written", "path", path, "count", len(values))
}
