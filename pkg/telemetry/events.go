package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ruivieira/cheshire/pkg/engine"
)

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher stopped")

// Subscriber handles engine events. Errors are logged and otherwise ignored.
type Subscriber interface {
	HandleEvent(ctx context.Context, event *engine.Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, event *engine.Event) error

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event *engine.Event) error {
	return f(ctx, event)
}

// EventFilter reports whether an event should be delivered.
type EventFilter func(event *engine.Event) bool

// EventPublisher fans engine events out to subscribers. It implements
// engine.EventPublisher. Subscribers see events one at a time in the order
// they were published, in both sync and async mode.
type EventPublisher struct {
	config EventsConfig
	logger *Logger

	subMu       sync.RWMutex
	subscribers []subscriberEntry
	filters     []EventFilter

	// deliverMu serializes synchronous delivery.
	deliverMu sync.Mutex

	// stateMu guards closed and sends on buffer.
	stateMu sync.RWMutex
	closed  bool
	buffer  chan queuedEvent
	done    chan struct{}
}

type subscriberEntry struct {
	subscriber Subscriber
	filter     EventFilter
}

type queuedEvent struct {
	ctx   context.Context
	event engine.Event
	// flushed marks a Flush barrier instead of an event.
	flushed chan struct{}
}

// NewEventPublisher creates a publisher. In async mode a single goroutine
// delivers queued events until Shutdown.
func NewEventPublisher(cfg EventsConfig, logger *Logger) *EventPublisher {
	if logger == nil {
		logger = NopLogger()
	}
	ep := &EventPublisher{
		config: cfg,
		logger: logger,
	}
	if cfg.EnableAsync {
		size := cfg.BufferSize
		if size <= 0 {
			size = 1
		}
		ep.buffer = make(chan queuedEvent, size)
		ep.done = make(chan struct{})
		go ep.processEvents()
	}
	return ep
}

// Publish delivers event to matching subscribers. In async mode it queues a
// copy and blocks only while the queue is full.
func (ep *EventPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if event == nil {
		return nil
	}
	if !ep.passes(event) {
		return nil
	}

	if !ep.config.EnableAsync {
		ep.stateMu.RLock()
		closed := ep.closed
		ep.stateMu.RUnlock()
		if closed {
			return ErrPublisherClosed
		}
		ep.deliverMu.Lock()
		defer ep.deliverMu.Unlock()
		ep.deliver(ctx, event)
		return nil
	}

	ep.stateMu.RLock()
	defer ep.stateMu.RUnlock()
	if ep.closed {
		return ErrPublisherClosed
	}
	select {
	case ep.buffer <- queuedEvent{ctx: context.WithoutCancel(ctx), event: *event}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber Subscriber, filter EventFilter) {
	ep.subMu.Lock()
	defer ep.subMu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a filter applied before any subscriber sees an event.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.subMu.Lock()
	defer ep.subMu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) passes(event *engine.Event) bool {
	ep.subMu.RLock()
	defer ep.subMu.RUnlock()
	for _, filter := range ep.filters {
		if !filter(event) {
			return false
		}
	}
	return true
}

func (ep *EventPublisher) processEvents() {
	defer close(ep.done)
	for q := range ep.buffer {
		if q.flushed != nil {
			close(q.flushed)
			continue
		}
		ep.deliver(q.ctx, &q.event)
	}
}

func (ep *EventPublisher) deliver(ctx context.Context, event *engine.Event) {
	ep.subMu.RLock()
	entries := ep.subscribers
	ep.subMu.RUnlock()

	for _, entry := range entries {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		if err := entry.subscriber.HandleEvent(ctx, event); err != nil {
			ep.logger.WithError(err).
				WithField("event", string(event.Type)).
				Warn("Event subscriber failed")
		}
	}
}

// Flush waits until every event published before the call has been
// delivered. In sync mode delivery already happened, so it returns at once.
func (ep *EventPublisher) Flush(ctx context.Context) error {
	if !ep.config.EnableAsync {
		return nil
	}

	flushed := make(chan struct{})
	ep.stateMu.RLock()
	if ep.closed {
		ep.stateMu.RUnlock()
		return ErrPublisherClosed
	}
	select {
	case ep.buffer <- queuedEvent{flushed: flushed}:
		ep.stateMu.RUnlock()
	case <-ctx.Done():
		ep.stateMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting events and, in async mode, waits for the queue
// to drain or ctx to expire.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.stateMu.Lock()
	if ep.closed {
		ep.stateMu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.buffer != nil {
		close(ep.buffer)
	}
	ep.stateMu.Unlock()

	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var levelRank = map[string]int{
	engine.EventLevelInfo:    0,
	engine.EventLevelWarning: 1,
	engine.EventLevelError:   2,
}

// FilterByLevel accepts events at or above minLevel.
func FilterByLevel(minLevel string) EventFilter {
	minRank := levelRank[minLevel]
	return func(event *engine.Event) bool {
		return levelRank[event.Level] >= minRank
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...engine.EventType) EventFilter {
	allowed := make(map[engine.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(event *engine.Event) bool {
		_, ok := allowed[event.Type]
		return ok
	}
}

// FilterByRunID accepts events of a single run.
func FilterByRunID(runID string) EventFilter {
	return func(event *engine.Event) bool {
		return event.RunID == runID
	}
}

// FilterByKind accepts operation events of the given kind.
func FilterByKind(kind engine.Kind) EventFilter {
	return func(event *engine.Event) bool {
		return event.Kind == kind
	}
}

// EventLogger writes every event it receives as a structured log line.
type EventLogger struct {
	logger *Logger
}

// NewEventLogger returns a subscriber logging through logger.
func NewEventLogger(logger *Logger) *EventLogger {
	return &EventLogger{logger: logger}
}

// HandleEvent logs event at a level matching its severity. Events published
// inside a sampled span carry its trace_id.
func (l *EventLogger) HandleEvent(ctx context.Context, event *engine.Event) error {
	logger := l.logger.WithRunID(event.RunID)
	if event.OperationID != "" {
		logger = logger.WithOperationID(event.OperationID)
	}
	zlog := logger.Zerolog()

	var e *zerolog.Event
	switch event.Level {
	case engine.EventLevelError:
		e = zlog.Error()
	case engine.EventLevelWarning:
		e = zlog.Warn()
	default:
		e = zlog.Debug()
	}

	e = e.Str("event", string(event.Type))
	if event.Kind != "" {
		e = e.Str("kind", string(event.Kind))
	}
	if id := TraceID(ctx); id != "" {
		e = e.Str("trace_id", id)
	}
	if event.ParentID != "" {
		e = e.Str("parent_id", event.ParentID)
	}
	if event.Attempt > 0 {
		e = e.Int("attempt", event.Attempt)
	}
	if event.Delay > 0 {
		e = e.Dur("delay", event.Delay)
	}
	if event.Duration > 0 {
		e = e.Dur("duration", event.Duration)
	}
	if event.Error != "" {
		e = e.Str("error", event.Error)
	}
	e.Msg(event.OperationName)
	return nil
}
