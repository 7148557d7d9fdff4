package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"

	"golang.org/x/sync/errgroup"

	"github.com/codex-k8s/stackctl/internal/config"
	"github.com/codex-k8s/stackctl/internal/logging"
	"github.com/codex-k8s/stackctl/internal/stack"
)

// OutcomeError reports stacks that did not reach the requested state.
type OutcomeError struct {
	Op       string
	Outcomes map[string]stack.Outcome
}

func (e *OutcomeError) Error() string {
	parts := make([]string, 0, len(e.Outcomes))
	for name, outcome := range e.Outcomes {
		parts = append(parts, fmt.Sprintf("%s=%s", name, outcome))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s: %d stack(s) not settled: %s", e.Op, len(parts), strings.Join(parts, ", "))
}

// result is the per-stack record printed after an operation.
type result struct {
	stack   string
	outcome stack.Outcome
	err     error
}

// runStacks calls fn for every stack with at most limit running at once. A fatal error for one
// stack does not cancel the others. Stacks not started before ctx is done report Cancelled.
func runStacks(ctx context.Context, stacks []config.Stack, limit int, fn func(context.Context, config.Stack) (stack.Outcome, error)) []result {
	results := make([]result, len(stacks))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, s := range stacks {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = result{stack: s.Name, outcome: stack.Cancelled}
				return nil
			}
			outcome, err := fn(ctx, s)
			results[i] = result{stack: s.Name, outcome: outcome, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// summarize prints one line per stack and converts failures into an error.
func summarize(w io.Writer, op string, results []result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STACK\tOUTCOME")
	var errs []error
	failed := make(map[string]stack.Outcome)
	for _, r := range results {
		switch {
		case r.err != nil:
			_, _ = fmt.Fprintf(tw, "%s\terror\n", r.stack)
			errs = append(errs, r.err)
		default:
			_, _ = fmt.Fprintf(tw, "%s\t%s\n", r.stack, r.outcome)
			if !r.outcome.OK() {
				failed[r.stack] = r.outcome
			}
		}
	}
	_ = tw.Flush()

	if len(failed) > 0 {
		errs = append(errs, &OutcomeError{Op: op, Outcomes: failed})
	}
	return errors.Join(errs...)
}

// newReconciler wires a reconciler for s with the resolved wait settings.
func newReconciler(p *project, opts *Options, w waitFlags, s config.Stack, client stack.Client, logger *slog.Logger) (*stack.Reconciler, error) {
	timeout, err := resolveTimeout(opts, w, p.cfg, s)
	if err != nil {
		return nil, fmt.Errorf("stack %q: %w", s.Name, err)
	}
	interval, err := resolvePollInterval(opts, w, p.cfg, s)
	if err != nil {
		return nil, fmt.Errorf("stack %q: %w", s.Name, err)
	}

	poller := stack.NewPoller(client,
		stack.WithInterval(interval),
		stack.WithTimeout(timeout),
		stack.WithObserver(logging.NewEventSink(logger)),
		stack.WithPollLogger(logger),
	)

	return stack.New(s.Name, client,
		stack.WithPoller(poller),
		stack.WithLogger(logger),
		stack.WithCapabilities(p.cfg.StackCapabilities(s)...),
		stack.WithTags(p.cfg.StackTags(p.env, s)),
		stack.WithDisableRollback(s.DisableRollback),
	), nil
}
