// Package events carries sync lifecycle notifications to the (external)
// notification and real-time layers. Emission is fire-and-forget: a failing
// sink never fails a sync run.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Event types emitted by the sync engine.
const (
	TransactionAdded   = "transaction_added"
	TransactionUpdated = "transaction_updated"
	AccountSynced      = "account_synced"
)

// Sink consumes sync engine events.
type Sink interface {
	Emit(ctx context.Context, eventType string, payload map[string]interface{})
}

// LogSink writes every event to the structured log. Used when no downstream
// consumer is wired.
type LogSink struct {
	Log zerolog.Logger
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	s.Log.Info().Str("event_type", eventType).Fields(payload).Msg("event emitted")
}

// Memory captures events for assertions in tests.
type Memory struct {
	mu     sync.Mutex
	events []Captured
}

// Captured is one recorded event.
type Captured struct {
	Type    string
	Payload map[string]interface{}
}

// Emit implements Sink.
func (m *Memory) Emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Captured{Type: eventType, Payload: payload})
}

// Events returns a copy of everything captured so far.
func (m *Memory) Events() []Captured {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Captured(nil), m.events...)
}

// Multi fans out to several sinks in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	for _, s := range m {
		s.Emit(ctx, eventType, payload)
	}
}
