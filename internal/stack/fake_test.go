package stack_test

import (
	"context"
	"sync"
	"time"

	"github.com/codex-k8s/stackctl/internal/stack"
)

// fakeClient is an in-memory stack.Client. Describe walks through snapshots and keeps
// returning the last one once the script is exhausted.
type fakeClient struct {
	mu sync.Mutex

	exists    bool
	existsErr error

	snapshots   []stack.Snapshot
	describeErr error
	onDescribe  func(call int)

	validation  stack.Validation
	validateErr error

	createErr error
	updateErr error
	deleteErr error

	events    []stack.Event
	eventsErr error
	lastSince time.Time

	existsCalls   int
	describeCalls int
	createCalls   int
	updateCalls   int
	deleteCalls   int
	lastInput     stack.ChangeInput
	lastToken     string
}

var _ stack.Client = (*fakeClient)(nil)

func newFakeClient(exists bool, statuses ...stack.Status) *fakeClient {
	c := &fakeClient{
		exists:     exists,
		validation: stack.Validation{Valid: true},
	}
	for _, s := range statuses {
		c.snapshots = append(c.snapshots, stack.Snapshot{Exists: true, Status: s})
	}
	return c
}

func (c *fakeClient) Exists(_ context.Context, _ string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.existsCalls++
	return c.exists, c.existsErr
}

func (c *fakeClient) Describe(_ context.Context, _ string) (stack.Snapshot, error) {
	c.mu.Lock()
	c.describeCalls++
	call := c.describeCalls
	hook := c.onDescribe
	var snap stack.Snapshot
	if len(c.snapshots) > 0 {
		idx := min(call-1, len(c.snapshots)-1)
		snap = c.snapshots[idx]
	}
	err := c.describeErr
	c.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return snap, err
}

// ListEvents drops events stamped before since, as the remote service does.
func (c *fakeClient) ListEvents(_ context.Context, _ string, since time.Time) ([]stack.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSince = since
	var out []stack.Event
	for _, ev := range c.events {
		if !ev.Timestamp.IsZero() && ev.Timestamp.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	return out, c.eventsErr
}

func (c *fakeClient) ValidateTemplate(_ context.Context, _ stack.Template) (stack.Validation, error) {
	return c.validation, c.validateErr
}

func (c *fakeClient) Create(_ context.Context, _ string, in stack.ChangeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	c.lastInput = in
	return c.createErr
}

func (c *fakeClient) Update(_ context.Context, _ string, in stack.ChangeInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateCalls++
	c.lastInput = in
	return c.updateErr
}

func (c *fakeClient) Delete(_ context.Context, _ string, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteCalls++
	c.lastToken = token
	return c.deleteErr
}

func fastPoller(c stack.Client, opts ...stack.PollerOption) *stack.Poller {
	return stack.NewPoller(c, append([]stack.PollerOption{stack.WithInterval(time.Millisecond)}, opts...)...)
}
