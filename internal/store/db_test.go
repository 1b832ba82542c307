package store

import (
	"testing"
)

func TestOpenMemoryMigrates(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	version, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRecordAndListTurns(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	first, err := db.RecordTurn("user", "my name is Zoe", 0.4)
	if err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}
	if first.TurnID == "" {
		t.Error("expected a generated turn id")
	}
	if _, err := db.RecordTurn("assistant", "nice to meet you Zoe", 0.6); err != nil {
		t.Fatalf("RecordTurn: %v", err)
	}

	turns, err := db.RecentTurns(10)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("got %d turns, want 2", len(turns))
	}
	if turns[0].Role != "assistant" {
		t.Errorf("newest turn role = %q, want assistant", turns[0].Role)
	}

	n, err := db.TurnCount()
	if err != nil {
		t.Fatalf("TurnCount: %v", err)
	}
	if n != 2 {
		t.Errorf("TurnCount = %d, want 2", n)
	}
}

func TestRecordTurnRejectsBadRole(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	if _, err := db.RecordTurn("system", "nope", 0); err == nil {
		t.Error("expected CHECK constraint failure for bad role")
	}
}

func TestGuardEvents(t *testing.T) {
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	ev := GuardEvent{
		NodeID:        42,
		Label:         "user_car",
		StoredValue:   "a Tesla",
		OutputExcerpt: "toyota",
		Kind:          "substitution",
		Overridden:    true,
		CreatedAt:     1700000000000,
	}
	if err := db.RecordGuardEvent(ev); err != nil {
		t.Fatalf("RecordGuardEvent: %v", err)
	}

	events, err := db.RecentGuardEvents(5)
	if err != nil {
		t.Fatalf("RecentGuardEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.NodeID != 42 || got.StoredValue != "a Tesla" || !got.Overridden {
		t.Errorf("unexpected event: %+v", got)
	}
}
