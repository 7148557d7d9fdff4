package logging

import (
	"log/slog"

	"github.com/codex-k8s/stackctl/internal/stack"
)

// EventSink forwards stack events to a logger. Failed resources are logged at warn level.
type EventSink struct {
	logger *slog.Logger
}

var _ stack.Observer = (*EventSink)(nil)

// NewEventSink constructs an EventSink bound to the provided logger.
func NewEventSink(logger *slog.Logger) *EventSink {
	return &EventSink{logger: logger}
}

// StackEvent logs a single event.
func (s *EventSink) StackEvent(name string, ev stack.Event) {
	if s.logger == nil {
		return
	}
	attrs := []any{
		"stack", name,
		"resource", ev.LogicalID,
		"type", ev.ResourceType,
		"status", ev.Status,
	}
	if ev.Reason != "" {
		attrs = append(attrs, "reason", ev.Reason)
	}
	if ev.Status.Failed() {
		s.logger.Warn("stack event", attrs...)
		return
	}
	s.logger.Info("stack event", attrs...)
}
