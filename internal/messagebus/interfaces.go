package messagebus

import (
	"context"
	"time"
)

// RunEvent is the lifecycle notification published for each run phase.
// External consumers (dashboards, audit pipelines) key off Subject status.
type RunEvent struct {
	RunID     string    `json:"run_id"`
	SubjectID int       `json:"subject_id"`
	Rule      string    `json:"rule"`
	Action    string    `json:"action"`
	Status    string    `json:"status"` // started, succeeded, failed, timed_out, terminated, permission_rejected
	Answer    string    `json:"answer,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunEventPublisher abstracts lifecycle publishing for testability.
type RunEventPublisher interface {
	PublishRunEvent(ctx context.Context, ev *RunEvent) error
}

// RunEventSubscriber abstracts lifecycle subscription for testability.
type RunEventSubscriber interface {
	SubscribeRunEvents(status string, handler func(*RunEvent)) error
}

// NoopBus discards all events. Used when NATS is not configured.
type NoopBus struct{}

func (NoopBus) PublishRunEvent(context.Context, *RunEvent) error { return nil }
func (NoopBus) SubscribeRunEvents(string, func(*RunEvent)) error { return nil }
func (NoopBus) Close() error                                     { return nil }

// Verify implementations at compile time.
var (
	_ RunEventPublisher  = (*NatsMessageBus)(nil)
	_ RunEventSubscriber = (*NatsMessageBus)(nil)
	_ RunEventPublisher  = NoopBus{}
	_ RunEventSubscriber = NoopBus{}
)
