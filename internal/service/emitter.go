package service

import (
	"context"
	"log"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter — decouples the service from its notification sink
// ─────────────────────────────────────────────────────────────

// EventEmitter receives job lifecycle events. The dashboard layer
// implements this to push updates; the CLI uses LogEmitter. Services
// receive this interface so they stay independently testable.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes events to the process log.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	log.Printf("event %s: %v", event, data)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}
