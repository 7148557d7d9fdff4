package stack

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"code.cloudfoundry.org/clock"
)

const (
	// DefaultPollInterval is the delay between two status checks.
	DefaultPollInterval = 5 * time.Second
	// DefaultTimeout bounds a single wait.
	DefaultTimeout = 30 * time.Minute
)

// Operation identifies the kind of change being waited on.
type Operation int

const (
	OpCreate Operation = iota
	OpUpdate
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

// settled reports whether snap is final for op. A stack that disappears while being created
// or updated has been rolled back and deleted by the service, which is final as well.
func (op Operation) settled(snap Snapshot) bool {
	if !snap.Exists {
		return true
	}
	return snap.Status.Terminal()
}

// outcome maps a settled snapshot to Succeeded, Deleted or Failed.
func (op Operation) outcome(snap Snapshot) Outcome {
	if op == OpDelete {
		if !snap.Exists || snap.Status == StatusDeleteComplete {
			return Deleted
		}
		return Failed
	}
	if !snap.Exists {
		return Failed
	}
	switch snap.Status {
	case StatusCreateComplete, StatusUpdateComplete, StatusImportComplete:
		return Succeeded
	default:
		return Failed
	}
}

// Observer receives stack events as the poller discovers them.
type Observer interface {
	StackEvent(name string, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(name string, ev Event)

func (f ObserverFunc) StackEvent(name string, ev Event) { f(name, ev) }

// Poller waits for a stack operation to settle.
type Poller struct {
	client   Client
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	observer Observer
	logger   *slog.Logger
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the delay between status checks. Non-positive values keep the default.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout bounds every wait. Zero disables the bound; cancellation still applies.
func WithTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithObserver forwards newly observed events to o.
func WithObserver(o Observer) PollerOption {
	return func(p *Poller) { p.observer = o }
}

// WithClock replaces the wall clock used for delays and timeouts.
func WithClock(c clock.Clock) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithPollLogger sets the logger used for diagnostics.
func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller constructs a Poller for client.
func NewPoller(client Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		clock:    clock.NewClock(),
		interval: DefaultPollInterval,
		timeout:  DefaultTimeout,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait blocks until the stack reaches a settled state for op and returns the final snapshot.
// Events recorded since the given time are forwarded to the observer; when token is set, events
// carrying a different request token are skipped.
//
// Wait returns ErrTimedOut when the timeout elapses and ctx.Err() when ctx is done. In both
// cases the remote operation keeps running.
func (p *Poller) Wait(ctx context.Context, name string, op Operation, since time.Time, token string) (Snapshot, error) {
	start := p.clock.Now()
	seen := make(map[string]struct{})
	var last Snapshot

	for attempt := 1; ; attempt++ {
		delay := p.interval
		if p.timeout > 0 {
			remaining := p.timeout - p.clock.Since(start)
			if remaining <= 0 {
				return last, ErrTimedOut
			}
			if remaining < delay {
				delay = remaining
			}
		}
		if err := p.sleep(ctx, delay); err != nil {
			return last, err
		}

		snap, err := p.client.Describe(ctx, name)
		if err != nil {
			return last, fmt.Errorf("describe stack: %w", err)
		}
		last = snap
		p.forwardEvents(ctx, name, since, token, seen)

		p.logger.Debug("polled stack",
			"stack", name,
			"operation", op.String(),
			"attempt", attempt,
			"exists", snap.Exists,
			"status", snap.Status.String(),
		)

		if op.settled(snap) {
			return snap, nil
		}
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

// forwardEvents is best effort: event listing failures never affect the wait.
func (p *Poller) forwardEvents(ctx context.Context, name string, since time.Time, token string, seen map[string]struct{}) {
	if p.observer == nil {
		return
	}
	events, err := p.client.ListEvents(ctx, name, since)
	if err != nil {
		p.logger.Debug("list stack events failed", "stack", name, "error", err)
		return
	}
	for _, ev := range events {
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		if token != "" && ev.Token != "" && ev.Token != token {
			continue
		}
		p.observer.StackEvent(name, ev)
	}
}
