package stack

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
)

// tokenPrefix keeps request tokens valid for the remote service, which requires a leading letter.
const tokenPrefix = "stackctl-"

// EventClockSkew is subtracted from the local submission time before it is compared with
// server-side event timestamps. Events of other operations are filtered out by request token.
const EventClockSkew = time.Minute

// Reconciler converts a desired template into a single classified Outcome for one named stack.
// Instances share no mutable state; run one per stack to reconcile stacks in parallel.
// Do not call Apply or Delete concurrently on Reconcilers for the same stack name.
type Reconciler struct {
	name   string
	client Client
	poller *Poller
	clock  clock.Clock
	logger *slog.Logger

	capabilities    []string
	tags            map[string]string
	disableRollback bool
	newToken        func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPoller replaces the default poller.
func WithPoller(p *Poller) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.poller = p
		}
	}
}

// WithLogger sets the logger; the stack name is attached to every record.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCapabilities acknowledges capabilities on every create and update.
func WithCapabilities(caps ...string) Option {
	return func(r *Reconciler) { r.capabilities = append(r.capabilities, caps...) }
}

// WithTags applies tags on every create and update.
func WithTags(tags map[string]string) Option {
	return func(r *Reconciler) { r.tags = maps.Clone(tags) }
}

// WithDisableRollback keeps failed creates and updates in place for inspection.
func WithDisableRollback(disable bool) Option {
	return func(r *Reconciler) { r.disableRollback = disable }
}

// WithTokenFunc overrides how client request tokens are generated.
func WithTokenFunc(fn func() string) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.newToken = fn
		}
	}
}

// WithReconcilerClock replaces the clock used to timestamp submissions.
func WithReconcilerClock(c clock.Clock) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.clock = c
		}
	}
}

// New constructs a Reconciler for the stack called name.
func New(name string, client Client, opts ...Option) *Reconciler {
	r := &Reconciler{
		name:     name,
		client:   client,
		clock:    clock.NewClock(),
		logger:   slog.New(slog.DiscardHandler),
		newToken: func() string { return tokenPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.poller == nil {
		r.poller = NewPoller(client, WithPollLogger(r.logger))
	}
	r.logger = r.logger.With("stack", name)
	return r
}

// Name returns the stack identity.
func (r *Reconciler) Name() string { return r.name }

// Deployed reports whether the stack exists. Absence is not an error.
func (r *Reconciler) Deployed(ctx context.Context) (bool, error) {
	exists, err := r.client.Exists(ctx, r.name)
	if err != nil {
		return false, r.fatal("describe", err)
	}
	return exists, nil
}

// Apply creates the stack when it is absent and updates it otherwise, then waits for the
// remote operation to settle. The returned error is non-nil only for failures that say nothing
// about the stack itself; it is always a *FatalError.
func (r *Reconciler) Apply(ctx context.Context, tmpl Template, params Parameters) (Outcome, error) {
	deployed, err := r.Deployed(ctx)
	if err != nil {
		return Unknown, err
	}

	validation, err := r.client.ValidateTemplate(ctx, tmpl)
	if err != nil {
		return r.rejected("validate", err)
	}
	if !validation.Valid {
		r.logger.Warn("template rejected", "template", tmpl.Source, "reason", validation.Message)
		return Failed, nil
	}

	op, submit := OpCreate, r.client.Create
	if deployed {
		op, submit = OpUpdate, r.client.Update
	}

	in := ChangeInput{
		Template:        tmpl,
		Parameters:      params,
		Capabilities:    mergeCapabilities(r.capabilities, validation.Capabilities),
		Tags:            r.tags,
		DisableRollback: r.disableRollback,
		Token:           r.newToken(),
	}

	r.logger.Debug("submitting stack change", "operation", op.String(), "template", tmpl.Source, "token", in.Token)
	since := r.eventsSince()
	if err := submit(ctx, r.name, in); err != nil {
		return r.rejected(op.String(), err)
	}

	return r.wait(ctx, op, since, in.Token)
}

// Delete removes the stack and waits for the deletion to settle. A stack that does not exist
// yields Absent without any mutating call.
func (r *Reconciler) Delete(ctx context.Context) (Outcome, error) {
	deployed, err := r.Deployed(ctx)
	if err != nil {
		return Unknown, err
	}
	if !deployed {
		r.logger.Info("stack not deployed, nothing to delete")
		return Absent, nil
	}

	token := r.newToken()
	since := r.eventsSince()
	if err := r.client.Delete(ctx, r.name, token); err != nil {
		return r.rejected(OpDelete.String(), err)
	}

	return r.wait(ctx, OpDelete, since, token)
}

func (r *Reconciler) eventsSince() time.Time {
	return r.clock.Now().Add(-EventClockSkew)
}

func (r *Reconciler) wait(ctx context.Context, op Operation, since time.Time, token string) (Outcome, error) {
	snap, err := r.poller.Wait(ctx, r.name, op, since, token)
	switch {
	case err == nil:
	case errors.Is(err, ErrTimedOut), errors.Is(err, context.DeadlineExceeded):
		r.logger.Warn("stopped waiting for stack, operation continues remotely", "operation", op.String(), "last_status", snap.Status.String())
		return TimedOut, nil
	case errors.Is(err, context.Canceled):
		r.logger.Warn("wait cancelled, operation continues remotely", "operation", op.String(), "last_status", snap.Status.String())
		return Cancelled, nil
	default:
		return Unknown, r.fatal("wait", err)
	}

	outcome := op.outcome(snap)
	attrs := []any{"operation", op.String(), "outcome", outcome.String(), "status", snap.Status.String()}
	if outcome == Failed {
		r.logger.Warn("stack operation failed", append(attrs, "reason", snap.StatusReason)...)
	} else {
		r.logger.Info("stack operation finished", attrs...)
	}
	return outcome, nil
}

// rejected turns a client error into an outcome, or into a *FatalError when it is not a rejection.
func (r *Reconciler) rejected(op string, err error) (Outcome, error) {
	switch Classify(err) {
	case ClassNoOp:
		r.logger.Info("no updates to perform", "operation", op)
		return NoUpdates, nil
	case ClassValidation:
		r.logger.Warn("stack change rejected", "operation", op, "error", err)
		return Failed, nil
	default:
		return Unknown, r.fatal(op, err)
	}
}

func (r *Reconciler) fatal(op string, err error) error {
	return &FatalError{Op: op, Stack: r.name, Err: err}
}

func mergeCapabilities(sets ...[]string) []string {
	var out []string
	for _, set := range sets {
		for _, c := range set {
			if c != "" && !slices.Contains(out, c) {
				out = append(out, c)
			}
		}
	}
	return out
}
