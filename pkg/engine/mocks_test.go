package engine

import (
	"context"
	"strings"
	"sync"
	"time"
)

// mockRunner fails commands containing "fail", sleeps for commands
// starting with "sleep:<duration>" and records every invocation.
type mockRunner struct {
	mu    sync.Mutex
	calls []string
	// outcomes holds scripted results per command, consumed in order.
	outcomes map[string][]CommandResult
}

func newMockRunner() *mockRunner {
	return &mockRunner{outcomes: make(map[string][]CommandResult)}
}

func (m *mockRunner) script(command string, results ...CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[command] = append(m.outcomes[command], results...)
}

func (m *mockRunner) Run(ctx context.Context, command string, timeout time.Duration) CommandResult {
	m.mu.Lock()
	m.calls = append(m.calls, command)
	if queue := m.outcomes[command]; len(queue) > 0 {
		res := queue[0]
		m.outcomes[command] = queue[1:]
		m.mu.Unlock()
		return res
	}
	m.mu.Unlock()

	if rest, ok := strings.CutPrefix(command, "sleep:"); ok {
		d, _ := time.ParseDuration(rest)
		select {
		case <-time.After(d):
			return CommandResult{Success: true, Output: "slept " + rest}
		case <-ctx.Done():
			return CommandResult{Error: ctx.Err().Error(), TimedOut: true}
		}
	}
	if strings.Contains(command, "fail") {
		return CommandResult{Error: "exit status 1"}
	}
	return CommandResult{Success: true, Output: "ran: " + command}
}

func (m *mockRunner) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.calls...)
}

func (m *mockRunner) count(command string) int {
	n := 0
	for _, c := range m.getCalls() {
		if c == command {
			n++
		}
	}
	return n
}

type mockEventPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *mockEventPublisher) Publish(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventPublisher) getEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event{}, m.events...)
}

func (m *mockEventPublisher) types(operationID string) []EventType {
	var types []EventType
	for _, ev := range m.getEvents() {
		if ev.OperationID == operationID {
			types = append(types, ev.Type)
		}
	}
	return types
}

// noBackoff keeps retry tests fast.
func noBackoff(int) time.Duration { return 0 }
