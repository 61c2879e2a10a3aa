package events

import (
	"context"
	"testing"
)

func TestMemoryCapturesEvents(t *testing.T) {
	m := &Memory{}
	m.Emit(context.Background(), TransactionAdded, map[string]interface{}{"account_id": "acc-1"})
	m.Emit(context.Background(), AccountSynced, nil)

	evs := m.Events()
	if len(evs) != 2 {
		t.Fatalf("events = %d, want 2", len(evs))
	}
	if evs[0].Type != TransactionAdded || evs[0].Payload["account_id"] != "acc-1" {
		t.Errorf("first event = %+v", evs[0])
	}
}

func TestMultiFansOut(t *testing.T) {
	a := &Memory{}
	b := &Memory{}
	Multi{a, b}.Emit(context.Background(), TransactionUpdated, nil)

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Errorf("fan-out = %d/%d, want 1/1", len(a.Events()), len(b.Events()))
	}
}
