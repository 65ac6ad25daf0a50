package engine

import (
	"context"
	"time"
)

// EventType identifies what happened during a run.
type EventType string

const (
	EventTypeRunStarted         EventType = "run.started"
	EventTypeRunCompleted       EventType = "run.completed"
	EventTypeRunFailed          EventType = "run.failed"
	EventTypeOperationStarted   EventType = "operation.started"
	EventTypeOperationRetrying  EventType = "operation.retrying"
	EventTypeOperationSucceeded EventType = "operation.succeeded"
	EventTypeOperationFailed    EventType = "operation.failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Event describes a state transition of a run or one of its operations.
type Event struct {
	ID        string    `json:"id,omitempty"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`

	RunID    string   `json:"run_id,omitempty"`
	Platform Platform `json:"platform,omitempty"`

	OperationID   string `json:"operation_id,omitempty"`
	OperationName string `json:"operation_name,omitempty"`
	Kind          Kind   `json:"kind,omitempty"`
	// ParentID is set for the children of a parallel step.
	ParentID string `json:"parent_id,omitempty"`
	Command  string `json:"command,omitempty"`

	// Attempt is 1-based and counts the attempt that just started or failed.
	Attempt    int           `json:"attempt,omitempty"`
	MaxRetries int           `json:"max_retries,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`

	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
}

// EventPublisher receives engine events. Implementations must be safe for
// concurrent use because parallel children publish from their own goroutines.
// Publishing is observational: returned errors never affect execution.
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event *Event) error

// Publish calls f.
func (f EventPublisherFunc) Publish(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, *Event) error { return nil }

type runIDKey struct{}
type parentIDKey struct{}
type platformKey struct{}

func withRunScope(ctx context.Context, runID string, platform Platform) context.Context {
	ctx = context.WithValue(ctx, runIDKey{}, runID)
	return context.WithValue(ctx, platformKey{}, platform)
}

func withParent(ctx context.Context, parentID string) context.Context {
	return context.WithValue(ctx, parentIDKey{}, parentID)
}

// RunIDFromContext returns the run ID the engine attached to ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func parentFromContext(ctx context.Context) string {
	id, _ := ctx.Value(parentIDKey{}).(string)
	return id
}

func platformFromContext(ctx context.Context) Platform {
	p, _ := ctx.Value(platformKey{}).(Platform)
	return p
}
